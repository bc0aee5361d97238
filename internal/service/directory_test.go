package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cordonlabs/sentra/internal/config"
	"github.com/cordonlabs/sentra/internal/domain"
)

func newTestDirectory(t *testing.T) (*DirectoryService, *time.Time) {
	t.Helper()
	base := time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC)
	now := &base
	svc := NewDirectoryService(config.Directory{
		DefaultTTL:      30 * time.Second,
		CleanupInterval: 10 * time.Second,
	}, testLogger())
	svc.now = func() time.Time { return *now }
	return svc, now
}

func TestDirectoryRegisterAndResolve(t *testing.T) {
	svc, _ := newTestDirectory(t)
	ctx := context.Background()

	info, err := svc.Register(ctx, "guardian", "http://guardian:8001/", 0)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if info.URL != "http://guardian:8001" {
		t.Fatalf("trailing slash not trimmed: %q", info.URL)
	}
	if info.TTLSeconds != 30 {
		t.Fatalf("default ttl not applied: %d", info.TTLSeconds)
	}

	got, err := svc.Resolve(ctx, "guardian")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.URL != info.URL {
		t.Fatalf("resolve url = %q, want %q", got.URL, info.URL)
	}
}

func TestDirectoryResolveVariants(t *testing.T) {
	svc, _ := newTestDirectory(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "memory-service", "http://memory:8002", time.Minute); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "task-orchestrator", "http://orch:8003", time.Minute); err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, name := range []string{"memory", "memory-service", "memory_service"} {
		if _, err := svc.Resolve(ctx, name); err != nil {
			t.Errorf("Resolve(%q): %v", name, err)
		}
	}
	if _, err := svc.Resolve(ctx, "task_orchestrator"); err != nil {
		t.Errorf("underscore variant: %v", err)
	}
	if _, err := svc.Resolve(ctx, "planner"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown service: err = %v, want ErrNotFound", err)
	}
}

func TestDirectoryExpiry(t *testing.T) {
	svc, now := newTestDirectory(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "worker", "http://worker:8004", 20*time.Second); err != nil {
		t.Fatalf("register: %v", err)
	}

	*now = now.Add(21 * time.Second)
	if _, err := svc.Resolve(ctx, "worker"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expired entry resolved: %v", err)
	}

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expired entry listed: %v", list)
	}

	removed := svc.sweep()
	if len(removed) != 1 || removed[0] != "worker" {
		t.Fatalf("sweep removed %v, want [worker]", removed)
	}
}

func TestDirectoryRegisterRefreshesTTL(t *testing.T) {
	svc, now := newTestDirectory(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "planner", "http://planner:8005", 10*time.Second); err != nil {
		t.Fatalf("register: %v", err)
	}
	*now = now.Add(8 * time.Second)
	if _, err := svc.Register(ctx, "planner", "http://planner:8005", 10*time.Second); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	*now = now.Add(5 * time.Second)

	if _, err := svc.Resolve(ctx, "planner"); err != nil {
		t.Fatalf("refreshed entry expired: %v", err)
	}
}

func TestDirectoryDeregister(t *testing.T) {
	svc, _ := newTestDirectory(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "guardian", "http://guardian:8001", time.Minute); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.Deregister(ctx, "guardian"); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if err := svc.Deregister(ctx, "guardian"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("double deregister: err = %v, want ErrNotFound", err)
	}
}

func TestDirectoryRejectsEmptyName(t *testing.T) {
	svc, _ := newTestDirectory(t)
	if _, err := svc.Register(context.Background(), "  ", "http://x", time.Minute); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}
