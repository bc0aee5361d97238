package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cordonlabs/sentra/internal/config"
	"github.com/cordonlabs/sentra/internal/domain"
	"github.com/cordonlabs/sentra/internal/port/memory"
)

// failureKeyPrefix marks short-term entries that count toward the guard's
// recent-failure signal.
const failureKeyPrefix = "failure"

type memoryEntry struct {
	value     any
	expiresAt time.Time
}

// MemoryService implements the short-term store as a per-task TTL map and
// fronts the long-term vector store for save/recall. The guard reads failure
// counters from it; workers write scratch state into it.
type MemoryService struct {
	mu    sync.RWMutex
	tasks map[string]map[string]memoryEntry

	long memory.LongTerm
	ttl  time.Duration
	log  *slog.Logger
	now  func() time.Time
}

// NewMemoryService creates the short-term store. long may be nil when no
// vector backend is configured; Remember and Recall then degrade to no-ops.
func NewMemoryService(cfg config.Memory, long memory.LongTerm, log *slog.Logger) *MemoryService {
	ttl := cfg.ShortTermTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &MemoryService{
		tasks: make(map[string]map[string]memoryEntry),
		long:  long,
		ttl:   ttl,
		log:   log.With("component", "memory"),
		now:   time.Now,
	}
}

// Put stores a task-scoped value. Each write refreshes that key's TTL.
func (s *MemoryService) Put(ctx context.Context, taskID, key string, value any) error {
	if taskID == "" || key == "" {
		return domain.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.tasks[taskID]
	if !ok {
		entries = make(map[string]memoryEntry)
		s.tasks[taskID] = entries
	}
	entries[key] = memoryEntry{value: value, expiresAt: s.now().Add(s.ttl)}
	return nil
}

// Get returns a task-scoped value. Expired entries read as absent.
func (s *MemoryService) Get(ctx context.Context, taskID, key string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.tasks[taskID]
	if !ok {
		return nil, false, nil
	}
	e, ok := entries[key]
	if !ok || !e.expiresAt.After(s.now()) {
		return nil, false, nil
	}
	return e.value, true, nil
}

// RecentFailures counts unexpired entries whose key carries the failure
// prefix ("failure", "failure:step-2", ...).
func (s *MemoryService) RecentFailures(ctx context.Context, taskID string) (int, error) {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for key, e := range s.tasks[taskID] {
		if strings.HasPrefix(key, failureKeyPrefix) && e.expiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

// Entries returns a snapshot of a task's unexpired short-term memory.
func (s *MemoryService) Entries(ctx context.Context, taskID string) ([]memory.Entry, error) {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.tasks[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make([]memory.Entry, 0, len(entries))
	for key, e := range entries {
		if e.expiresAt.After(now) {
			out = append(out, memory.Entry{Key: key, Value: e.value})
		}
	}
	return out, nil
}

// Remember writes documents into the long-term store. Long-term failures are
// logged and swallowed; memory is advisory.
func (s *MemoryService) Remember(ctx context.Context, docs []memory.Document) {
	if s.long == nil || len(docs) == 0 {
		return
	}
	if err := s.long.Add(ctx, docs); err != nil {
		s.log.Warn("long-term store failed", "error", err, "docs", len(docs))
	}
}

// Recall queries the long-term store. Any failure returns an empty slice.
func (s *MemoryService) Recall(ctx context.Context, text string, limit int) []memory.Document {
	if s.long == nil {
		return nil
	}
	docs, err := s.long.Query(ctx, text, limit)
	if err != nil {
		s.log.Warn("long-term query failed", "error", err)
		return nil
	}
	return docs
}

// Run evicts expired short-term entries until ctx is cancelled.
func (s *MemoryService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evict()
		}
	}
}

func (s *MemoryService) evict() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for taskID, entries := range s.tasks {
		for key, e := range entries {
			if !e.expiresAt.After(now) {
				delete(entries, key)
			}
		}
		if len(entries) == 0 {
			delete(s.tasks, taskID)
		}
	}
}
