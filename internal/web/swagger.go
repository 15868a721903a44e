package web

// swaggerDoc is the OpenAPI 2.0 document describing the five HTTP
// endpoints, served at /swagger/doc.json and rendered by the swagger UI
// mounted at /swagger/*.
const swaggerDoc = `{
  "swagger": "2.0",
  "info": {
    "title": "CSV Export Service",
    "description": "Asynchronous, memory-bounded CSV export over the users table.",
    "version": "1.0"
  },
  "basePath": "/",
  "produces": ["application/json", "text/csv"],
  "paths": {
    "/health": {
      "get": {
        "summary": "Liveness check",
        "responses": {
          "200": {"description": "ok"}
        }
      }
    },
    "/exports/csv": {
      "post": {
        "summary": "Initiate an export",
        "parameters": [
          {"name": "country_code", "in": "query", "type": "string"},
          {"name": "subscription_tier", "in": "query", "type": "string"},
          {"name": "min_ltv", "in": "query", "type": "number"},
          {"name": "columns", "in": "query", "type": "string"},
          {"name": "delimiter", "in": "query", "type": "string"},
          {"name": "quoteChar", "in": "query", "type": "string"}
        ],
        "responses": {
          "202": {"description": "export accepted, pending"},
          "400": {"description": "validation error"}
        }
      }
    },
    "/exports/{id}/status": {
      "get": {
        "summary": "Poll export status",
        "parameters": [
          {"name": "id", "in": "path", "required": true, "type": "string"}
        ],
        "responses": {
          "200": {"description": "job snapshot"},
          "404": {"description": "unknown export id"}
        }
      }
    },
    "/exports/{id}/download": {
      "get": {
        "summary": "Download a completed export's artifact",
        "produces": ["text/csv"],
        "parameters": [
          {"name": "id", "in": "path", "required": true, "type": "string"},
          {"name": "Range", "in": "header", "type": "string"},
          {"name": "Accept-Encoding", "in": "header", "type": "string"}
        ],
        "responses": {
          "200": {"description": "full artifact"},
          "206": {"description": "partial artifact (range request)"},
          "404": {"description": "unknown export id or missing artifact"},
          "416": {"description": "unsatisfiable range"},
          "425": {"description": "export not yet completed"}
        }
      }
    },
    "/exports/{id}": {
      "delete": {
        "summary": "Cancel an export",
        "parameters": [
          {"name": "id", "in": "path", "required": true, "type": "string"}
        ],
        "responses": {
          "204": {"description": "cancelled"},
          "400": {"description": "job is already in a terminal state"},
          "404": {"description": "unknown export id"}
        }
      }
    }
  }
}`
