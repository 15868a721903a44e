// Package web provides the HTTP server and handlers for the CSV export service.
package web

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/JonMunkholm/TUI/internal/core"
	"github.com/JonMunkholm/TUI/internal/pipeline"
	webmw "github.com/JonMunkholm/TUI/internal/web/middleware"
)

// Dispatcher is the subset of *pipeline.Dispatcher the HTTP surface needs:
// submitting a newly created job for eventual admission.
type Dispatcher interface {
	Submit(spec core.JobSpec)
	Status() core.LimiterStatus
}

// Server is the HTTP server for the export service.
type Server struct {
	registry    *core.Registry
	dispatcher  Dispatcher
	router      *chi.Mux
	server      *http.Server
	trustedCIDRs []string
	enableSwagger bool
}

// Options configures a Server beyond its required collaborators.
type Options struct {
	TrustedProxyCIDRs  []string
	EnableSwagger      bool
	RateLimitPerMinute int // 0 disables rate limiting
}

// NewServer creates a new Server instance.
func NewServer(registry *core.Registry, dispatcher *pipeline.Dispatcher, opts Options) *Server {
	s := &Server{
		registry:      registry,
		dispatcher:    dispatcher,
		router:        chi.NewRouter(),
		trustedCIDRs:  opts.TrustedProxyCIDRs,
		enableSwagger: opts.EnableSwagger,
	}
	s.setupMiddleware(opts.RateLimitPerMinute)
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware(rateLimitPerMinute int) {
	s.router.Use(middleware.RequestID)
	if len(s.trustedCIDRs) > 0 {
		s.router.Use(webmw.TrustedRealIP(s.trustedCIDRs))
	} else {
		s.router.Use(middleware.RealIP)
	}
	s.router.Use(webmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(securityHeaders)

	if rateLimitPerMinute > 0 {
		limiter := newRateLimiter(rateLimitPerMinute, time.Minute)
		s.router.Use(limiter.middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/exports", func(r chi.Router) {
		r.Post("/csv", s.handleInitiate)
		r.Get("/{id}/status", s.handleStatus)
		r.Get("/{id}/download", s.handleDownload)
		r.Delete("/{id}", s.handleCancel)
	})

	if s.enableSwagger {
		s.router.Get("/swagger/doc.json", s.handleSwaggerDoc)
		s.router.Get("/swagger/*", httpSwagger.WrapHandler)
	}
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // disabled: range/gzip responses stream indefinitely
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("starting server on %s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// rateLimiter implements a simple token bucket rate limiter per IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	window   time.Duration
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}
	go rl.cleanup()
	return rl
}

func (rl *rateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastReset) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: time.Now()}
		return true
	}

	if time.Since(v.lastReset) > rl.window {
		v.tokens = rl.rate - 1
		v.lastReset = time.Now()
		return true
	}

	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			ip = realIP
		}

		if !rl.allow(ip) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
