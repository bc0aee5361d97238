// Package file implements the change store on a plain JSON file. It is the
// development backend; production deployments use Postgres.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cordonlabs/sentra/internal/domain/ticket"
)

// ChangeStore persists change records as a JSON array on disk. The whole
// file is rewritten on every upsert; fine for the mock-ITSM scale it
// serves.
type ChangeStore struct {
	mu   sync.Mutex
	path string
}

// NewChangeStore creates a store at path. The file and its directory are
// created on first use; an unreadable or corrupt file is reset to empty.
func NewChangeStore(path string) *ChangeStore {
	return &ChangeStore{path: path}
}

// ListChanges returns every stored change record.
func (s *ChangeStore) ListChanges(ctx context.Context) ([]ticket.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// UpsertChange updates the record with the same id, or appends a new one.
func (s *ChangeStore) UpsertChange(ctx context.Context, c ticket.Change) (ticket.Change, error) {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changes, err := s.load()
	if err != nil {
		return ticket.Change{}, err
	}

	found := false
	for i := range changes {
		if changes[i].ID == c.ID {
			changes[i].State = c.State
			changes[i].UpdatedAt = c.UpdatedAt
			if c.TaskID != "" {
				changes[i].TaskID = c.TaskID
			}
			c = changes[i]
			found = true
			break
		}
	}
	if !found {
		changes = append(changes, c)
	}

	if err := s.save(changes); err != nil {
		return ticket.Change{}, err
	}
	return c, nil
}

// load reads the file, creating or resetting it when missing or corrupt.
func (s *ChangeStore) load() ([]ticket.Change, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := s.save(nil); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return nil, fmt.Errorf("read changes file: %w", err)
	}

	var changes []ticket.Change
	if err := json.Unmarshal(data, &changes); err != nil {
		// corrupt file: start over rather than wedge the service
		if err := s.save(nil); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return changes, nil
}

func (s *ChangeStore) save(changes []ticket.Change) error {
	if changes == nil {
		changes = []ticket.Change{}
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create changes dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(changes, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write changes file: %w", err)
	}
	return nil
}
