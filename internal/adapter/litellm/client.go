// Package litellm implements the planner port against an OpenAI-compatible
// LiteLLM proxy.
package litellm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cordonlabs/sentra/internal/config"
	"github.com/cordonlabs/sentra/internal/domain/plan"
	"github.com/cordonlabs/sentra/internal/resilience"
)

const systemPrompt = `You are a planning assistant for an operations automation system.
Break the user's goal into a short ordered plan. Respond with ONLY a single
JSON object of the form {"plan_id": "<string>", "steps": [{"step_id": 1, "goal": "<string>"}, ...]}.
Keep plans minimal: at most 10 steps, each goal one imperative sentence.`

// Client generates plans through a LiteLLM chat-completions endpoint.
type Client struct {
	baseURL    string
	masterKey  string
	model      string
	maxTokens  int
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a planner client from configuration.
func NewClient(cfg config.LiteLLM) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		masterKey: cfg.MasterKey,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// GeneratePlan asks the model for a plan and parses its JSON reply. The
// returned plan is structurally validated; callers substitute the fallback
// plan on any error.
func (c *Client) GeneratePlan(ctx context.Context, goal string, taskContext map[string]any) (*plan.Plan, error) {
	ctxJSON, err := json.Marshal(taskContext)
	if err != nil {
		ctxJSON = []byte("{}")
	}
	user := fmt.Sprintf("User Goal: %s\nContext: %s\nGenerate the plan.", goal, ctxJSON)

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	data, err := c.doRequest(ctx, "/chat/completions", body)
	if err != nil {
		return nil, fmt.Errorf("plan generation: %w", err)
	}

	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat response has no choices")
	}

	p, err := parsePlanJSON(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("generated plan invalid: %w", err)
	}
	return p, nil
}

// parsePlanJSON parses the model reply, tolerating code fences and prose
// around the JSON object.
func parsePlanJSON(text string) (*plan.Plan, error) {
	var p plan.Plan
	if err := json.Unmarshal([]byte(text), &p); err == nil {
		return &p, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model reply")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &p); err != nil {
		return nil, fmt.Errorf("parse plan JSON: %w", err)
	}
	return &p, nil
}

func (c *Client) doRequest(ctx context.Context, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.masterKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.masterKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("litellm API error %d: %s", resp.StatusCode, string(data))
		}
		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}
	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
