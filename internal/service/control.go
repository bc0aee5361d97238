package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cordonlabs/sentra/internal/domain"
	"github.com/cordonlabs/sentra/internal/domain/event"
	"github.com/cordonlabs/sentra/internal/port/messagequeue"
)

// Control actions accepted by Apply.
const (
	ControlActionHalt   = "HALT"
	ControlActionResume = "RESUME"
)

// ControlService owns the global kill switch. While halted, the orchestrator
// rejects new tasks at their pre-planning check.
type ControlService struct {
	mu    sync.RWMutex
	state event.ControlState

	telemetry *TelemetryService
	queue     messagequeue.Queue
	log       *slog.Logger
	now       func() time.Time
}

// NewControlService creates a control service in the running (not halted)
// state. telemetry and queue may be nil.
func NewControlService(telemetry *TelemetryService, queue messagequeue.Queue, log *slog.Logger) *ControlService {
	if log == nil {
		log = slog.Default()
	}
	return &ControlService{
		telemetry: telemetry,
		queue:     queue,
		log:       log.With("component", "control"),
		now:       time.Now,
	}
}

// Apply engages or releases the kill switch. action must be HALT or RESUME
// (case-insensitive); anything else returns domain.ErrValidation.
func (s *ControlService) Apply(ctx context.Context, action, note string) (event.ControlState, error) {
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case ControlActionHalt:
		s.mu.Lock()
		s.state = event.ControlState{Halted: true, Reason: note, HaltedAt: s.now()}
		st := s.state
		s.mu.Unlock()
		s.log.Warn("kill switch engaged", "note", note)
		s.announce(ctx, st, note)
		return st, nil
	case ControlActionResume:
		s.mu.Lock()
		s.state = event.ControlState{}
		st := s.state
		s.mu.Unlock()
		s.log.Info("kill switch released", "note", note)
		s.announce(ctx, st, note)
		return st, nil
	default:
		return event.ControlState{}, fmt.Errorf("%w: action must be HALT or RESUME", domain.ErrValidation)
	}
}

// State returns the current kill-switch state.
func (s *ControlService) State() event.ControlState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Halted implements the halt-checker port for the in-process wiring.
func (s *ControlService) Halted(ctx context.Context) (bool, string, error) {
	st := s.State()
	return st.Halted, st.Reason, nil
}

func (s *ControlService) announce(ctx context.Context, st event.ControlState, note string) {
	if s.telemetry != nil {
		msg := "system resumed"
		level := event.LevelInfo
		if st.Halted {
			msg = "system halted"
			level = event.LevelError
		}
		_, _ = s.telemetry.Ingest(ctx, event.LogEvent{
			Service: "control",
			Level:   level,
			Message: msg,
			Details: map[string]any{"note": note},
		})
	}
	if s.queue != nil {
		payload := messagequeue.ControlHaltPayload{Halted: st.Halted, Reason: st.Reason}
		if data, err := json.Marshal(payload); err == nil {
			if err := s.queue.Publish(ctx, messagequeue.SubjectControlHalt, data); err != nil {
				s.log.Warn("control publish failed", "error", err)
			}
		}
	}
}
