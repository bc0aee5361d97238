package litellm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cordonlabs/sentra/internal/config"
)

func chatReply(t *testing.T, content string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func newTestClient(url string) *Client {
	return NewClient(config.LiteLLM{URL: url, MasterKey: "test-key", Model: "gpt-4o-mini", MaxTokens: 1024})
}

func TestGeneratePlanParsesCleanJSON(t *testing.T) {
	srv := httptest.NewServer(chatReply(t, `{"plan_id":"p1","steps":[{"step_id":1,"goal":"check disk space"},{"step_id":2,"goal":"report findings"}]}`))
	defer srv.Close()

	p, err := newTestClient(srv.URL).GeneratePlan(context.Background(), "investigate disk alerts", nil)
	if err != nil {
		t.Fatalf("GeneratePlan: %v", err)
	}
	if p.PlanID != "p1" || len(p.Steps) != 2 {
		t.Fatalf("plan = %+v", p)
	}
}

func TestGeneratePlanStripsCodeFence(t *testing.T) {
	srv := httptest.NewServer(chatReply(t, "Here is the plan:\n```json\n{\"plan_id\":\"p2\",\"steps\":[{\"step_id\":1,\"goal\":\"restart nginx\"}]}\n```"))
	defer srv.Close()

	p, err := newTestClient(srv.URL).GeneratePlan(context.Background(), "restart web tier", nil)
	if err != nil {
		t.Fatalf("GeneratePlan: %v", err)
	}
	if len(p.Steps) != 1 || p.Steps[0].Goal != "restart nginx" {
		t.Fatalf("plan = %+v", p)
	}
}

func TestGeneratePlanRejectsBadReplies(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"prose only", "I cannot produce a plan for that."},
		{"missing steps", `{"plan_id":"p3"}`},
		{"step without goal", `{"plan_id":"p4","steps":[{"step_id":1}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(chatReply(t, tc.content))
			defer srv.Close()
			if _, err := newTestClient(srv.URL).GeneratePlan(context.Background(), "goal", nil); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestGeneratePlanSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).GeneratePlan(context.Background(), "goal", nil); err == nil {
		t.Fatal("expected error")
	}
}
