package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cordonlabs/sentra/internal/domain/ticket"
)

// Store implements the change and audit stores on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ListChanges returns all change records, most recently updated first.
func (s *Store) ListChanges(ctx context.Context) ([]ticket.Change, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, state, COALESCE(task_id, ''), updated_at
		 FROM changes ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	var changes []ticket.Change
	for rows.Next() {
		var c ticket.Change
		if err := rows.Scan(&c.ID, &c.State, &c.TaskID, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// UpsertChange creates the change when its id is unknown, or moves an
// existing one to the new state.
func (s *Store) UpsertChange(ctx context.Context, c ticket.Change) (ticket.Change, error) {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO changes (id, state, task_id, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4)
		 ON CONFLICT (id) DO UPDATE
		 SET state = EXCLUDED.state,
		     task_id = COALESCE(EXCLUDED.task_id, changes.task_id),
		     updated_at = EXCLUDED.updated_at`,
		c.ID, c.State, c.TaskID, c.UpdatedAt)
	if err != nil {
		return ticket.Change{}, fmt.Errorf("upsert change %s: %w", c.ID, err)
	}
	return c, nil
}

// RecordDecision appends one guard decision to the audit log.
func (s *Store) RecordDecision(ctx context.Context, rec ticket.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	reasons, err := json.Marshal(rec.Reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO guard_decisions (id, task_id, kind, input, verdict, score, reasons, created_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.TaskID, rec.Kind, rec.Input, rec.Verdict, rec.Score, reasons, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

// ListDecisions returns audit records, newest first, optionally scoped to
// one task.
func (s *Store) ListDecisions(ctx context.Context, taskID string, limit int) ([]ticket.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, COALESCE(task_id, ''), kind, input, verdict, score, COALESCE(reasons, 'null'), created_at
		 FROM guard_decisions
		 WHERE ($1 = '' OR task_id = $1)
		 ORDER BY created_at DESC LIMIT $2`,
		taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var recs []ticket.AuditRecord
	for rows.Next() {
		var (
			rec     ticket.AuditRecord
			reasons []byte
		)
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.Kind, &rec.Input, &rec.Verdict, &rec.Score, &reasons, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if err := json.Unmarshal(reasons, &rec.Reasons); err != nil {
			return nil, fmt.Errorf("unmarshal reasons: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
