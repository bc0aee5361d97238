// Package ticket defines the change-record entity tracked by the ITSM store.
package ticket

import "time"

// Change is a single change ticket. Upserting a change that does not exist
// creates it in the requested state.
type Change struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	TaskID    string    `json:"task_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// AuditRecord captures one guard decision for later review.
type AuditRecord struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id,omitempty"`
	Kind      string    `json:"kind"` // "action" or "plan"
	Input     string    `json:"input"`
	Verdict   string    `json:"verdict"`
	Score     float64   `json:"score"`
	Reasons   []string  `json:"reasons,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
