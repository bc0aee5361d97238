// Package sandbox implements the worker port with a deterministic in-process
// tool table. It stands in for the remote ReAct worker in local development
// and tests: no network, no model, same status contract.
package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/cordonlabs/sentra/internal/port/worker"
)

// tool is one entry in the sandbox tool table.
type tool struct {
	name string
	run  func(text string) string
}

// Worker executes steps by routing each goal to a canned NLP tool. A goal
// whose text reads as a failure report comes back as a deviation, which
// exercises the orchestrator's pause path end to end.
type Worker struct {
	tools []tool
}

// New creates the sandbox worker with its built-in tool table.
func New() *Worker {
	return &Worker{
		tools: []tool{
			{name: "keyword_extractor", run: keywordExtractor},
			{name: "sentiment_analyzer", run: sentimentAnalyzer},
			{name: "summarizer", run: summarize},
		},
	}
}

// ExecuteStep runs one step. Steps that have already been approved by an
// operator never deviate again; everything else follows the tool table.
func (w *Worker) ExecuteStep(ctx context.Context, req worker.StepRequest) (worker.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return worker.StepResult{}, err
	}
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		return worker.StepResult{
			Status: worker.StatusDeviationDetected,
			Reason: "step has no goal",
		}, nil
	}

	if negative(goal) && !req.Approved {
		return worker.StepResult{
			Status: worker.StatusDeviationDetected,
			Reason: "tool reported failure",
			Details: map[string]any{
				"goal":      goal,
				"sentiment": "negative",
			},
		}, nil
	}

	t := w.pick(goal)
	return worker.StepResult{
		Status: worker.StatusStepCompleted,
		Output: fmt.Sprintf("[%s] %s", t.name, t.run(goal)),
		Details: map[string]any{
			"tool":    t.name,
			"step_id": req.StepID,
		},
	}, nil
}

// pick routes a goal to the first tool whose name stem appears in it,
// defaulting to the summarizer.
func (w *Worker) pick(goal string) tool {
	lower := strings.ToLower(goal)
	for _, t := range w.tools {
		stem := strings.SplitN(t.name, "_", 2)[0]
		if strings.Contains(lower, stem) {
			return t
		}
	}
	return w.tools[len(w.tools)-1]
}

func summarize(text string) string {
	if len(text) > 300 {
		return text[:300] + "..."
	}
	return text
}

func keywordExtractor(text string) string {
	seen := make(map[string]bool)
	var keywords []string
	for _, word := range strings.Fields(text) {
		word = strings.ToLower(strings.Trim(word, ".,()[]"))
		if len(word) <= 3 || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
		if len(keywords) == 10 {
			break
		}
	}
	return strings.Join(keywords, ", ")
}

func sentimentAnalyzer(text string) string {
	lower := strings.ToLower(text)
	switch {
	case negative(lower):
		return "sentiment: negative"
	case containsAny(lower, "good", "ok", "success", "complete"):
		return "sentiment: positive"
	default:
		return "sentiment: neutral"
	}
}

func negative(text string) bool {
	return containsAny(strings.ToLower(text), "fail", "error", "panic", "fatal")
}

func containsAny(text string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(text, sub) {
			return true
		}
	}
	return false
}
