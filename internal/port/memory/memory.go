// Package memory defines the ports for short-term task memory and the
// long-term vector store.
package memory

import "context"

// Entry is one short-term memory record scoped to a task.
type Entry struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// ShortTerm is keyed task-scoped storage with TTL eviction. The guard
// reads failure counters from it; workers write scratch state into it.
type ShortTerm interface {
	Put(ctx context.Context, taskID, key string, value any) error
	Get(ctx context.Context, taskID, key string) (any, bool, error)
	RecentFailures(ctx context.Context, taskID string) (int, error)
}

// Document is one long-term memory item with its similarity score on query
// results.
type Document struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float32 `json:"score,omitempty"`
}

// LongTerm is the semantic store for incident notes and task outcomes.
type LongTerm interface {
	Add(ctx context.Context, docs []Document) error
	Query(ctx context.Context, text string, limit int) ([]Document, error)
}

// Recaller is best-effort semantic recall over past incidents. Failures
// surface as an empty result.
type Recaller interface {
	Recall(ctx context.Context, text string, limit int) []Document
}

// TaskMemory is the slice of the memory service task outcomes are written
// through: failure markers into the short-term store, outcome documents
// into long-term recall.
type TaskMemory interface {
	Put(ctx context.Context, taskID, key string, value any) error
	Remember(ctx context.Context, docs []Document)
}
