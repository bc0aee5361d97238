package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cordonlabs/sentra/internal/adapter/postgres"
	"github.com/cordonlabs/sentra/internal/domain/ticket"
)

// setupStore creates a pgxpool connection, runs all migrations, and returns
// a ready-to-use Store. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)
	return postgres.NewStore(pool)
}

func TestChangeUpsertAndList(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	id := "CHG-" + uuid.NewString()[:8]
	created, err := store.UpsertChange(ctx, ticket.Change{ID: id, State: "open", TaskID: "t1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.State != "open" {
		t.Fatalf("state = %q", created.State)
	}

	if _, err := store.UpsertChange(ctx, ticket.Change{ID: id, State: "closed"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	changes, err := store.ListChanges(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	found := false
	for _, c := range changes {
		if c.ID == id {
			found = true
			if c.State != "closed" {
				t.Errorf("state = %q, want closed", c.State)
			}
			if c.TaskID != "t1" {
				t.Errorf("task_id lost on update: %q", c.TaskID)
			}
		}
	}
	if !found {
		t.Fatalf("change %s not listed", id)
	}
}

func TestDecisionRecordAndList(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	taskID := "task-" + uuid.NewString()[:8]
	rec := ticket.AuditRecord{
		TaskID:    taskID,
		Kind:      "action",
		Input:     `{"tool": "restart_service"}`,
		Verdict:   "Deny",
		Score:     0.99,
		Reasons:   []string{"hard_deny_pattern"},
		CreatedAt: time.Now(),
	}
	if err := store.RecordDecision(ctx, rec); err != nil {
		t.Fatalf("record: %v", err)
	}

	recs, err := store.ListDecisions(ctx, taskID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	got := recs[0]
	if got.Verdict != "Deny" || got.Score != 0.99 || len(got.Reasons) != 1 {
		t.Fatalf("record = %+v", got)
	}
}
