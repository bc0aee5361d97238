package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cordonlabs/sentra/internal/config"
	"github.com/cordonlabs/sentra/internal/domain"
	"github.com/cordonlabs/sentra/internal/domain/event"
	"github.com/cordonlabs/sentra/internal/port/broadcast"
	"github.com/cordonlabs/sentra/internal/port/messagequeue"
)

const defaultRingSize = 10000

// TelemetryService holds recent log events in a bounded ring and fans each
// ingested event out to live subscribers and the message queue. Fan-out is
// best-effort: a dead queue or hub never fails an ingest.
type TelemetryService struct {
	mu    sync.RWMutex
	ring  []event.LogEvent
	next  int
	count int

	hub   broadcast.Broadcaster
	queue messagequeue.Queue
	log   *slog.Logger
	now   func() time.Time
}

// NewTelemetryService creates a telemetry store with the configured ring
// capacity. hub and queue may be nil.
func NewTelemetryService(cfg config.Telemetry, hub broadcast.Broadcaster, queue messagequeue.Queue, log *slog.Logger) *TelemetryService {
	size := cfg.RingSize
	if size <= 0 {
		size = defaultRingSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &TelemetryService{
		ring:  make([]event.LogEvent, size),
		hub:   hub,
		queue: queue,
		log:   log.With("component", "telemetry"),
		now:   time.Now,
	}
}

// Ingest validates and stores one log event, then broadcasts it. Returns the
// stored event with defaults (event ID, level, timestamp) filled in.
func (s *TelemetryService) Ingest(ctx context.Context, ev event.LogEvent) (event.LogEvent, error) {
	if strings.TrimSpace(ev.Service) == "" || strings.TrimSpace(ev.Message) == "" {
		return event.LogEvent{}, domain.ErrValidation
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Level == "" {
		ev.Level = event.LevelInfo
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}

	s.mu.Lock()
	s.ring[s.next] = ev
	s.next = (s.next + 1) % len(s.ring)
	if s.count < len(s.ring) {
		s.count++
	}
	s.mu.Unlock()

	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, "log.event", ev)
	}
	if s.queue != nil {
		if data, err := json.Marshal(ev); err == nil {
			if err := s.queue.Publish(ctx, messagequeue.SubjectLogEvent, data); err != nil {
				s.log.Warn("log event publish failed", "error", err)
			}
		}
	}
	return ev, nil
}

// Query returns stored events newest-first, optionally filtered by service
// and task ID. limit caps the result; a non-positive limit defaults to 200.
func (s *TelemetryService) Query(ctx context.Context, service, taskID string, limit int) []event.LogEvent {
	if limit <= 0 {
		limit = 200
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]event.LogEvent, 0, min(limit, s.count))
	for i := 0; i < s.count && len(out) < limit; i++ {
		// walk backwards from the most recently written slot
		idx := (s.next - 1 - i + len(s.ring)) % len(s.ring)
		ev := s.ring[idx]
		if service != "" && ev.Service != service {
			continue
		}
		if taskID != "" && ev.TaskID != taskID {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Len reports how many events are currently stored.
func (s *TelemetryService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
