package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cordonlabs/sentra/internal/domain"
	"github.com/cordonlabs/sentra/internal/domain/event"
	"github.com/cordonlabs/sentra/internal/domain/ticket"
	"github.com/cordonlabs/sentra/internal/port/ticketstore"
)

// TicketService fronts the change-record store and emits a telemetry event
// per state transition.
type TicketService struct {
	store     ticketstore.ChangeStore
	telemetry *TelemetryService
	log       *slog.Logger
	now       func() time.Time
}

// NewTicketService creates the change-record service. telemetry may be nil.
func NewTicketService(store ticketstore.ChangeStore, telemetry *TelemetryService, log *slog.Logger) *TicketService {
	if log == nil {
		log = slog.Default()
	}
	return &TicketService{
		store:     store,
		telemetry: telemetry,
		log:       log.With("component", "tickets"),
		now:       time.Now,
	}
}

// List returns all change records.
func (s *TicketService) List(ctx context.Context) ([]ticket.Change, error) {
	return s.store.ListChanges(ctx)
}

// Upsert creates or updates a change record. An existing ID moves to the new
// state; an unknown ID is created in it.
func (s *TicketService) Upsert(ctx context.Context, c ticket.Change) (ticket.Change, error) {
	c.ID = strings.TrimSpace(c.ID)
	c.State = strings.TrimSpace(c.State)
	if c.ID == "" || c.State == "" {
		return ticket.Change{}, fmt.Errorf("%w: change id and state are required", domain.ErrValidation)
	}
	c.UpdatedAt = s.now()

	stored, err := s.store.UpsertChange(ctx, c)
	if err != nil {
		return ticket.Change{}, fmt.Errorf("upsert change %s: %w", c.ID, err)
	}

	s.log.Info("change updated", "change_id", stored.ID, "state", stored.State, "task_id", stored.TaskID)
	if s.telemetry != nil {
		_, _ = s.telemetry.Ingest(ctx, event.LogEvent{
			Service: "tickets",
			TaskID:  stored.TaskID,
			Level:   event.LevelInfo,
			Message: fmt.Sprintf("change %s -> %s", stored.ID, stored.State),
		})
	}
	return stored, nil
}
