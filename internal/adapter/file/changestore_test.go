package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cordonlabs/sentra/internal/domain/ticket"
)

func newTestStore(t *testing.T) *ChangeStore {
	t.Helper()
	return NewChangeStore(filepath.Join(t.TempDir(), "data", "changes.json"))
}

func TestChangeStoreCreatesFileOnFirstUse(t *testing.T) {
	s := newTestStore(t)
	changes, err := s.ListChanges(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("changes = %v", changes)
	}
}

func TestChangeStoreUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertChange(ctx, ticket.Change{ID: "CHG-1", State: "open", TaskID: "t1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.UpsertChange(ctx, ticket.Change{ID: "CHG-2", State: "open"}); err != nil {
		t.Fatalf("create second: %v", err)
	}
	updated, err := s.UpsertChange(ctx, ticket.Change{ID: "CHG-1", State: "closed"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.State != "closed" || updated.TaskID != "t1" {
		t.Fatalf("updated = %+v", updated)
	}

	changes, err := s.ListChanges(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("got %d changes", len(changes))
	}
}

func TestChangeStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changes.json")
	ctx := context.Background()

	first := NewChangeStore(path)
	if _, err := first.UpsertChange(ctx, ticket.Change{ID: "CHG-1", State: "open"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	second := NewChangeStore(path)
	changes, err := second.ListChanges(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(changes) != 1 || changes[0].ID != "CHG-1" {
		t.Fatalf("changes = %+v", changes)
	}
}

func TestChangeStoreResetsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changes.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := NewChangeStore(path)
	changes, err := s.ListChanges(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("changes = %v", changes)
	}
}
