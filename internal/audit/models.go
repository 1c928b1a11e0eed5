package audit

import (
	"context"
	"time"
)

// Record is an immutable, append-only audit log entry.
//
// Invariants:
// - Records are never updated or deleted.
// - ActorID is nil when the caller's identity is unknown (failed authentication).
// - Details carries the machine-readable reason for denials ("reason" key).
//
// Storage (Postgres): table audit_logs with an INSERT-only grant for the API role.
type Record struct {
	ID           string         `json:"id"`
	ActorID      *int64         `json:"actor_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   *int64         `json:"resource_id,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Reason returns the "reason" detail, if any.
func (r Record) Reason() string {
	s, _ := r.Details["reason"].(string)
	return s
}

// Repository is the persistence contract for audit records.
//
// It MUST be append-only; no Update/Delete methods exist.
type Repository interface {
	Append(ctx context.Context, r Record) error
}

// Reader lists recent records for the admin audit view.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Record, error)
}

// Int64 returns a pointer to v, for the optional id fields.
func Int64(v int64) *int64 { return &v }
