// Package ticketstore defines the ports for change tickets and the guard
// decision audit log.
package ticketstore

import (
	"context"

	"github.com/cordonlabs/sentra/internal/domain/ticket"
)

// ChangeStore persists ITSM change records. Upsert creates the change when
// it does not exist yet.
type ChangeStore interface {
	ListChanges(ctx context.Context) ([]ticket.Change, error)
	UpsertChange(ctx context.Context, c ticket.Change) (ticket.Change, error)
}

// AuditStore persists guard decisions for later review.
type AuditStore interface {
	RecordDecision(ctx context.Context, rec ticket.AuditRecord) error
	ListDecisions(ctx context.Context, taskID string, limit int) ([]ticket.AuditRecord, error)
}
