package agenthttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cordonlabs/sentra/internal/domain"
	"github.com/cordonlabs/sentra/internal/domain/plan"
	"github.com/cordonlabs/sentra/internal/middleware"
	"github.com/cordonlabs/sentra/internal/port/worker"
)

func TestWorkerClientExecuteStep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/worker/execute" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get(middleware.HeaderSharedSecret); got != "s3cret" {
			t.Errorf("secret header = %q", got)
		}
		var req worker.StepRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.StepID != 2 || req.Goal != "report findings" {
			t.Errorf("request = %+v", req)
		}
		if req.ApprovedPlan == nil || req.ApprovedPlan.PlanID != "p1" || len(req.ApprovedPlan.Steps) != 2 {
			t.Errorf("approved plan = %+v", req.ApprovedPlan)
		}
		_ = json.NewEncoder(w).Encode(worker.StepResult{Status: worker.StatusStepCompleted, Output: "done"})
	}))
	defer srv.Close()

	wc := NewWorkerClient(NewClient(srv.URL, "s3cret", 5*time.Second))
	res, err := wc.ExecuteStep(context.Background(), worker.StepRequest{
		TaskID: "t1",
		StepID: 2,
		Goal:   "report findings",
		ApprovedPlan: &plan.Plan{PlanID: "p1", Steps: []plan.Step{
			{StepID: 1, Goal: "check disk space"},
			{StepID: 2, Goal: "report findings"},
		}},
	})
	if err != nil {
		t.Fatalf("ExecuteStep: %v", err)
	}
	if res.Status != worker.StatusStepCompleted || res.Output != "done" {
		t.Fatalf("result = %+v", res)
	}
}

func TestWorkerClientSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "worker busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	wc := NewWorkerClient(NewClient(srv.URL, "", 5*time.Second))
	_, err := wc.ExecuteStep(context.Background(), worker.StepRequest{TaskID: "t1", StepID: 1, Goal: "g"})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Fatalf("err = %v", err)
	}
}

func TestDirectoryClientResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/discover":
			if got := r.URL.Query().Get("service_name"); got != "guardian" {
				t.Errorf("service_name = %q", got)
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"service": "guardian", "url": "http://guardian:8001"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dc := NewDirectoryClient(NewClient(srv.URL, "", 5*time.Second), nil, 0)
	info, err := dc.Resolve(context.Background(), "guardian")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if info.URL != "http://guardian:8001" {
		t.Fatalf("info = %+v", info)
	}
}

func TestDirectoryClientResolveNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":true}`, http.StatusNotFound)
	}))
	defer srv.Close()

	dc := NewDirectoryClient(NewClient(srv.URL, "", 5*time.Second), nil, 0)
	if _, err := dc.Resolve(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

type mapCache struct {
	data map[string][]byte
	gets int
}

func (m *mapCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.gets++
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.data[key] = value
	return nil
}

func TestDirectoryClientCachesResolves(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_ = json.NewEncoder(w).Encode(map[string]string{"service": "worker", "url": "http://worker:8004"})
	}))
	defer srv.Close()

	cache := &mapCache{data: make(map[string][]byte)}
	dc := NewDirectoryClient(NewClient(srv.URL, "", 5*time.Second), cache, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := dc.Resolve(context.Background(), "worker"); err != nil {
			t.Fatalf("Resolve #%d: %v", i, err)
		}
	}
	if hits != 1 {
		t.Fatalf("directory hit %d times, want 1", hits)
	}
}

func TestDirectoryClientRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/register" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req registerRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.TTLSeconds != 30 {
			t.Errorf("ttl = %d", req.TTLSeconds)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"service": req.ServiceName, "url": req.ServiceURL, "expires_at": 1748862030.0})
	}))
	defer srv.Close()

	dc := NewDirectoryClient(NewClient(srv.URL, "", 5*time.Second), nil, 0)
	info, err := dc.Register(context.Background(), "sentra", "http://sentra:8080", 30*time.Second)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if info.Name != "sentra" || info.ExpiresAt.IsZero() {
		t.Fatalf("info = %+v", info)
	}
}

func TestControlClientHalted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/control/status" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"halted": true, "reason": "maintenance"})
	}))
	defer srv.Close()

	cc := NewControlClient(NewClient(srv.URL, "", 5*time.Second))
	halted, reason, err := cc.Halted(context.Background())
	if err != nil {
		t.Fatalf("Halted: %v", err)
	}
	if !halted || reason != "maintenance" {
		t.Fatalf("halted=%v reason=%q", halted, reason)
	}
}
