package agenthttp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cordonlabs/sentra/internal/port/worker"
)

// WorkerClient implements the worker port against a remote agent exposing
// POST /worker/execute.
type WorkerClient struct {
	client *Client
}

// NewWorkerClient wraps a shared client as a worker.
func NewWorkerClient(client *Client) *WorkerClient {
	return &WorkerClient{client: client}
}

// ExecuteStep sends one step to the remote worker and returns its report.
// The call blocks for the worker's full inner loop; the caller bounds it
// with the step timeout on ctx.
func (w *WorkerClient) ExecuteStep(ctx context.Context, req worker.StepRequest) (worker.StepResult, error) {
	var res worker.StepResult
	if err := w.client.doJSON(ctx, http.MethodPost, "/worker/execute", req, &res); err != nil {
		return worker.StepResult{}, fmt.Errorf("worker execute step %d: %w", req.StepID, err)
	}
	return res, nil
}
