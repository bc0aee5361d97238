package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cordonlabs/sentra/internal/adapter/ws"
	"github.com/cordonlabs/sentra/internal/domain/event"
	"github.com/cordonlabs/sentra/internal/domain/guard"
	"github.com/cordonlabs/sentra/internal/domain/ticket"
	"github.com/cordonlabs/sentra/internal/port/memory"
	"github.com/cordonlabs/sentra/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Guardian     *service.GuardianService
	Orchestrator *service.OrchestratorService
	Directory    *service.DirectoryService
	Telemetry    *service.TelemetryService
	Control      *service.ControlService
	Memory       *service.MemoryService
	Tickets      *service.TicketService
	Hub          *ws.Hub
}

// ---------------------------------------------------------------------------
// Guardian
// ---------------------------------------------------------------------------

// decisionStatus maps a verdict to its HTTP status: Deny is 403 so callers
// that only check the status code still fail closed.
func decisionStatus(d guard.Decision) int {
	if d.Verdict == guard.VerdictDeny {
		return http.StatusForbidden
	}
	return http.StatusOK
}

// ValidateAction evaluates one proposed action. The guard never returns a
// bare error: an unreadable body becomes a Deny decision, not a 400.
func (h *Handlers) ValidateAction(w http.ResponseWriter, r *http.Request) {
	var req service.ValidateActionRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		d := guard.Finalize(guard.VerdictDeny,
			[]string{"malformed_request: " + err.Error()},
			[]float64{guard.ComponentParseFailure}, nil)
		writeJSON(w, http.StatusForbidden, d)
		return
	}

	d := h.Guardian.EvaluateAction(r.Context(), req)
	writeJSON(w, decisionStatus(d), d)
}

// ValidatePlan evaluates a whole plan before execution.
func (h *Handlers) ValidatePlan(w http.ResponseWriter, r *http.Request) {
	var req service.ValidatePlanRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		d := guard.Finalize(guard.VerdictDeny,
			[]string{"malformed_request: " + err.Error()},
			[]float64{guard.ComponentParseFailure}, nil)
		writeJSON(w, http.StatusForbidden, d)
		return
	}

	d := h.Guardian.EvaluatePlan(r.Context(), req)
	writeJSON(w, decisionStatus(d), d)
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

type invokeRequest struct {
	Goal    string         `json:"goal"`
	Context map[string]any `json:"context,omitempty"`
}

// InvokeTask accepts a goal and starts a task asynchronously.
func (h *Handlers) InvokeTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[invokeRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Goal, "goal") {
		return
	}

	t, err := h.Orchestrator.Invoke(r.Context(), req.Goal, req.Context)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id":    t.TaskID,
		"status":     t.Status,
		"status_url": "/api/v1/tasks/" + t.TaskID,
	})
}

// ListTasks returns all tasks.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Orchestrator.List(r.Context()))
}

// GetTask returns one task snapshot.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Orchestrator.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ApproveTask resumes a paused, rejected or failed task at its saved step.
func (h *Handlers) ApproveTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Orchestrator.Approve(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id": t.TaskID,
		"status":  t.Status,
	})
}

// ReplanTask restarts a settled task with a fresh goal and plan.
func (h *Handlers) ReplanTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[invokeRequest](w, r)
	if !ok {
		return
	}

	t, err := h.Orchestrator.Replan(r.Context(), urlParam(r, "id"), req.Goal, req.Context)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id": t.TaskID,
		"status":  t.Status,
	})
}

// ---------------------------------------------------------------------------
// Telemetry and control
// ---------------------------------------------------------------------------

// IngestLogEvent stores and broadcasts one structured log event.
func (h *Handlers) IngestLogEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := readJSON[event.LogEvent](w, r)
	if !ok {
		return
	}
	stored, err := h.Telemetry.Ingest(r.Context(), ev)
	if err != nil {
		writeDomainError(w, err, "log event rejected")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"event_id": stored.EventID,
	})
}

// QueryLogs returns recent log events, newest first.
func (h *Handlers) QueryLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	logs := h.Telemetry.Query(r.Context(),
		r.URL.Query().Get("service"),
		r.URL.Query().Get("task_id"),
		limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(logs),
		"logs":  logs,
	})
}

type controlRequest struct {
	Action string `json:"action"`
	Note   string `json:"note,omitempty"`
}

// ControlKill engages or releases the global kill switch.
func (h *Handlers) ControlKill(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[controlRequest](w, r)
	if !ok {
		return
	}
	st, err := h.Control.Apply(r.Context(), req.Action, req.Note)
	if err != nil {
		writeDomainError(w, err, "control action rejected")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ControlStatus reports the current kill-switch state.
func (h *Handlers) ControlStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Control.State())
}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

// SaveMemory stores one short-term entry under a task.
func (h *Handlers) SaveMemory(w http.ResponseWriter, r *http.Request) {
	entry, ok := readJSON[memory.Entry](w, r)
	if !ok {
		return
	}
	if !requireField(w, entry.Key, "key") {
		return
	}
	if err := h.Memory.Put(r.Context(), urlParam(r, "task_id"), entry.Key, entry.Value); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "stored"})
}

// GetMemory returns a task's short-term memory entries.
func (h *Handlers) GetMemory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Memory.Entries(r.Context(), urlParam(r, "task_id"))
	if err != nil {
		writeDomainError(w, err, "no memory for task")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ---------------------------------------------------------------------------
// Changes (mock ITSM)
// ---------------------------------------------------------------------------

// ListChanges returns all change records.
func (h *Handlers) ListChanges(w http.ResponseWriter, r *http.Request) {
	changes, err := h.Tickets.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if changes == nil {
		changes = []ticket.Change{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "OK",
		"changes": changes,
	})
}

// UpsertChange creates or updates one change record.
func (h *Handlers) UpsertChange(w http.ResponseWriter, r *http.Request) {
	c, ok := readJSON[ticket.Change](w, r)
	if !ok {
		return
	}
	stored, err := h.Tickets.Upsert(r.Context(), c)
	if err != nil {
		writeDomainError(w, err, "change not found")
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

// ---------------------------------------------------------------------------
// Directory
// ---------------------------------------------------------------------------

type registerRequest struct {
	ServiceName string `json:"service_name"`
	ServiceURL  string `json:"service_url"`
	TTLSeconds  int    `json:"ttl_seconds,omitempty"`
}

// RegisterService adds or refreshes a directory entry.
func (h *Handlers) RegisterService(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[registerRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.ServiceName, "service_name") {
		return
	}
	info, err := h.Directory.Register(r.Context(), req.ServiceName, req.ServiceURL,
		time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		writeDomainError(w, err, "service not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// DeregisterService removes a directory entry.
func (h *Handlers) DeregisterService(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[registerRequest](w, r)
	if !ok {
		return
	}
	if err := h.Directory.Deregister(r.Context(), req.ServiceName); err != nil {
		writeDomainError(w, err, "service not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service": req.ServiceName,
		"status":  "deregistered",
	})
}

// DiscoverService resolves a service name, tolerating naming variants.
func (h *Handlers) DiscoverService(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("service_name")
	if !requireField(w, name, "service_name") {
		return
	}
	info, err := h.Directory.Resolve(r.Context(), name)
	if err != nil {
		writeDomainError(w, err, "service not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service": info.Name,
		"url":     info.URL,
	})
}

// ListServices returns all live directory entries.
func (h *Handlers) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.Directory.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

// Health is the liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready is the readiness probe.
func (h *Handlers) Ready(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
