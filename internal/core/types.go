// Package core holds the domain types and business rules for the export
// service. It has no database-driver dependency (net/http is used only for
// status code constants), so it can be tested without a live Postgres
// connection.
package core

import "time"

// Status is a job's position in the export state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is one of the state machine's terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Tier is a subscription_tier filter value.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// ValidTier reports whether t is a recognized subscription tier.
func ValidTier(t string) bool {
	switch Tier(t) {
	case TierFree, TierBasic, TierPremium, TierEnterprise:
		return true
	default:
		return false
	}
}

// Columns is the fixed, order-meaningful allow-list of exportable columns.
// Requests may select any non-empty, duplicate-free subset; the order given
// governs the CSV column order.
var Columns = []string{
	"id", "name", "email", "signup_date", "country_code", "subscription_tier", "lifetime_value",
}

// ValidColumn reports whether name is a member of Columns.
func ValidColumn(name string) bool {
	for _, c := range Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Filters is the normalized set of predicates applied to the users table.
// A zero-value field means "absent" and contributes no SQL clause.
type Filters struct {
	CountryCode      string // two uppercase ASCII letters, or ""
	SubscriptionTier string // one of the Tier constants, or ""
	MinLTV           *float64
}

// Progress is a snapshot of a job's row counters.
type Progress struct {
	TotalRows     int64 `json:"totalRows"`
	ProcessedRows int64 `json:"processedRows"`
	Percentage    int   `json:"percentage"`
}

func computePercentage(processed, total int64) int {
	if total <= 0 {
		return 0
	}
	return int((processed*100 + total/2) / total)
}

// Job is one export request and its associated state. All fields besides
// the ones explicitly mutated by the registry operations in
// internal/core/registry.go are immutable after creation.
type Job struct {
	ID        string
	Status    Status
	Filters   Filters
	Columns   []string
	Delimiter rune
	QuoteChar rune

	Progress Progress

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Error    string
	FilePath string
}

// Snapshot is the read-only view of a Job returned by the registry and
// rendered as the status HTTP response. It is a value type: callers may
// not mutate a live Job through it.
type Snapshot struct {
	ID          string    `json:"exportId"`
	Status      Status    `json:"status"`
	Progress    Progress  `json:"progress"`
	Error       *string   `json:"error"`
	CreatedAt   time.Time `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt"`
}

func (j *Job) snapshot() Snapshot {
	s := Snapshot{
		ID:          j.ID,
		Status:      j.Status,
		Progress:    j.Progress,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.Error != "" {
		e := j.Error
		s.Error = &e
	}
	return s
}
