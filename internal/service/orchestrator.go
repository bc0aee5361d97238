package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cordonlabs/sentra/internal/adapter/otel"
	"github.com/cordonlabs/sentra/internal/config"
	"github.com/cordonlabs/sentra/internal/domain"
	"github.com/cordonlabs/sentra/internal/domain/plan"
	"github.com/cordonlabs/sentra/internal/domain/task"
	"github.com/cordonlabs/sentra/internal/port/broadcast"
	"github.com/cordonlabs/sentra/internal/port/control"
	memport "github.com/cordonlabs/sentra/internal/port/memory"
	"github.com/cordonlabs/sentra/internal/port/messagequeue"
	"github.com/cordonlabs/sentra/internal/port/planner"
	"github.com/cordonlabs/sentra/internal/port/worker"
)

const plannerTimeout = 90 * time.Second

// OrchestratorService owns the task store and drives each task through its
// lifecycle on a dedicated goroutine. Tasks are never deleted; the store
// doubles as the audit trail for the process lifetime.
type OrchestratorService struct {
	mu    sync.RWMutex
	tasks map[string]*task.Task

	planner  planner.Planner
	worker   worker.Worker
	guardian *GuardianService
	halt     control.HaltChecker
	hub      broadcast.Broadcaster
	queue    messagequeue.Queue
	mem      memport.TaskMemory
	log      *slog.Logger
	cfg      config.Worker

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewOrchestratorService creates an OrchestratorService. halt, hub and
// queue may be nil.
func NewOrchestratorService(
	cfg config.Worker,
	log *slog.Logger,
	pl planner.Planner,
	w worker.Worker,
	guardian *GuardianService,
	halt control.HaltChecker,
	hub broadcast.Broadcaster,
	queue messagequeue.Queue,
) *OrchestratorService {
	maxParallel := cfg.MaxParallel
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &OrchestratorService{
		tasks:    make(map[string]*task.Task),
		planner:  pl,
		worker:   w,
		guardian: guardian,
		halt:     halt,
		hub:      hub,
		queue:    queue,
		log:      log,
		cfg:      cfg,
		sem:      make(chan struct{}, maxParallel),
	}
}

// SetMemory attaches the task-memory writer. Settled outcomes are then
// mirrored into short-term failure markers and long-term recall.
func (s *OrchestratorService) SetMemory(mem memport.TaskMemory) {
	s.mem = mem
}

// Invoke accepts a goal, allocates a task and schedules it for background
// execution. It returns immediately; callers poll the task status.
func (s *OrchestratorService) Invoke(ctx context.Context, goal string, taskCtx map[string]any) (task.Task, error) {
	if goal == "" {
		return task.Task{}, fmt.Errorf("%w: goal is required", domain.ErrValidation)
	}
	otel.RecordTaskStarted(ctx)

	now := time.Now().UTC()
	t := &task.Task{
		TaskID:    uuid.NewString(),
		Goal:      goal,
		Context:   taskCtx,
		Status:    task.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.tasks[t.TaskID] = t
	s.mu.Unlock()

	s.publishStatus(t.TaskID, task.StatusPending, "")
	s.spawn(t.TaskID, false)
	return *t, nil
}

// Get returns a snapshot of the task.
func (s *OrchestratorService) Get(_ context.Context, id string) (task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return *t, nil
}

// List returns snapshots of all tasks, oldest first.
func (s *OrchestratorService) List(_ context.Context) []task.Task {
	s.mu.RLock()
	out := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Approve resumes a task paused for deviation or review, or retries a
// rejected/failed one. Execution re-enters at the saved step index;
// completed steps are never replayed. Tasks in any other state return
// ErrConflict.
func (s *OrchestratorService) Approve(_ context.Context, id string) (task.Task, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return task.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if !t.Status.Resumable() {
		status := t.Status
		s.mu.Unlock()
		return task.Task{}, fmt.Errorf("%w: cannot approve task in state %s", domain.ErrConflict, status)
	}
	t.Status = task.StatusResuming
	t.Reason = ""
	t.UpdatedAt = time.Now().UTC()
	snapshot := *t
	s.mu.Unlock()

	s.publishStatus(id, task.StatusResuming, "")
	s.spawn(id, true)
	return snapshot, nil
}

// Replan discards the task's plan and restarts the full pipeline with a
// new goal and context. Only settled tasks may be replanned.
func (s *OrchestratorService) Replan(_ context.Context, id, goal string, taskCtx map[string]any) (task.Task, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return task.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if !t.Status.IsTerminal() {
		status := t.Status
		s.mu.Unlock()
		return task.Task{}, fmt.Errorf("%w: cannot replan task in state %s", domain.ErrConflict, status)
	}
	if goal != "" {
		t.Goal = goal
	}
	if taskCtx != nil {
		t.Context = taskCtx
	}
	t.Plan = nil
	t.CurrentStepIndex = 0
	t.Reason = ""
	t.DeviationDetails = nil
	t.Result = ""
	t.Status = task.StatusReplanning
	t.UpdatedAt = time.Now().UTC()
	snapshot := *t
	s.mu.Unlock()

	s.publishStatus(id, task.StatusReplanning, "")
	s.spawn(id, false)
	return snapshot, nil
}

// Wait blocks until all in-flight task goroutines finish. Used by tests
// and graceful shutdown.
func (s *OrchestratorService) Wait() {
	s.wg.Wait()
}

func (s *OrchestratorService) spawn(id string, resume bool) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sem <- struct{}{}
		defer func() { <-s.sem }()
		s.run(id, resume)
	}()
}

// run drives one task to a settled state. Every failure mode, including a
// panic in a collaborator, lands in a terminal status instead of crashing
// the process.
func (s *OrchestratorService) run(id string, resume bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task run panicked", "task_id", id, "panic", r)
			s.settle(id, task.StatusFailed, fmt.Sprintf("internal error: %v", r), nil)
		}
	}()

	ctx := context.Background()

	s.mu.RLock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.RUnlock()
		return
	}
	goal, taskCtx, p, startIdx := t.Goal, t.Context, t.Plan, t.CurrentStepIndex
	s.mu.RUnlock()

	ctx, span := otel.StartTaskSpan(ctx, id, goal)
	defer span.End()

	// A resumed task re-enters execution where it stopped. If it failed
	// before a plan existed there is nothing to re-enter; run the full
	// pipeline instead.
	if resume && p != nil {
		s.executeSteps(ctx, id, taskCtx, p, startIdx)
		return
	}

	s.setStatus(id, task.StatusStarting)

	s.setStatus(id, task.StatusCheckingHalt)
	if s.halt != nil {
		halted, reason, err := s.halt.Halted(ctx)
		if err != nil {
			s.log.Warn("halt check failed, continuing", "task_id", id, "error", err)
		} else if halted {
			if reason == "" {
				reason = "system halted"
			}
			s.settle(id, task.StatusRejected, reason, nil)
			return
		}
	}

	s.setStatus(id, task.StatusPlanning)
	p = s.generatePlan(ctx, goal, taskCtx)
	s.mu.Lock()
	if t, ok := s.tasks[id]; ok {
		t.Plan = p
		t.CurrentStepIndex = 0
		t.UpdatedAt = time.Now().UTC()
	}
	s.mu.Unlock()

	s.setStatus(id, task.StatusValidatingPlan)
	d := s.guardian.EvaluatePlan(ctx, ValidatePlanRequest{TaskID: id, Plan: p, Context: taskCtx})
	switch {
	case d.Approved:
		// continue
	case d.RequiresReview():
		s.settle(id, task.StatusPausedReview, d.OneLiner, nil)
		return
	default:
		s.settle(id, task.StatusRejected, d.OneLiner, nil)
		return
	}

	if len(p.Steps) == 0 {
		s.settle(id, task.StatusCompleted, "", nil)
		return
	}

	s.executeSteps(ctx, id, taskCtx, p, 0)
}

// generatePlan asks the planner and falls back to a deterministic
// single-step plan on any failure, so validation always has a well-formed
// object.
func (s *OrchestratorService) generatePlan(ctx context.Context, goal string, taskCtx map[string]any) *plan.Plan {
	pctx, cancel := context.WithTimeout(ctx, plannerTimeout)
	defer cancel()

	p, err := s.planner.GeneratePlan(pctx, goal, taskCtx)
	if err != nil {
		s.log.Warn("plan generation failed, using fallback", "goal", goal, "error", err)
		return plan.Fallback(goal)
	}
	if err := p.Validate(); err != nil {
		s.log.Warn("planner returned invalid plan, using fallback", "goal", goal, "error", err)
		return plan.Fallback(goal)
	}
	return p
}

// executeSteps runs plan steps in order starting at startIdx. The index is
// persisted before each step so a pause resumes at the same step.
func (s *OrchestratorService) executeSteps(ctx context.Context, id string, taskCtx map[string]any, p *plan.Plan, startIdx int) {
	resumed := startIdx > 0

	for i := startIdx; i < len(p.Steps); i++ {
		step := p.Steps[i]

		s.mu.Lock()
		if t, ok := s.tasks[id]; ok {
			t.Status = task.StatusExecutingStep
			t.CurrentStepIndex = i
			t.UpdatedAt = time.Now().UTC()
		}
		s.mu.Unlock()
		s.publishStatus(id, task.StatusExecutingStep, step.Goal)

		res, err := s.executeStep(ctx, worker.StepRequest{
			TaskID:       id,
			StepID:       step.StepID,
			Goal:         step.Goal,
			ApprovedPlan: p,
			Context:      taskCtx,
			Resumed:      resumed && i == startIdx,
			Approved:     resumed && i == startIdx,
		})
		if err != nil {
			s.settle(id, task.StatusFailed, fmt.Sprintf("step %d: %v", step.StepID, err), nil)
			return
		}

		switch res.Status {
		case worker.StatusStepCompleted:
			s.mu.Lock()
			if t, ok := s.tasks[id]; ok {
				t.CurrentStepIndex = i + 1
				if res.Output != "" {
					t.Result = res.Output
				}
				t.UpdatedAt = time.Now().UTC()
			}
			s.mu.Unlock()
		case worker.StatusDeviationDetected:
			// Index stays on this step so approve retries it.
			s.settle(id, task.StatusPausedDeviation, res.Reason, res.Details)
			return
		case worker.StatusActionRejected:
			s.settle(id, task.StatusRejected, res.Reason, res.Details)
			return
		default:
			s.settle(id, task.StatusFailed,
				fmt.Sprintf("step %d: unexpected worker status %q", step.StepID, res.Status), res.Details)
			return
		}
	}

	s.settle(id, task.StatusCompleted, "", nil)
}

func (s *OrchestratorService) executeStep(ctx context.Context, req worker.StepRequest) (worker.StepResult, error) {
	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wctx, span := otel.StartStepSpan(wctx, req.TaskID, req.StepID)
	defer span.End()

	start := time.Now()
	res, err := s.worker.ExecuteStep(wctx, req)
	otel.RecordStepDuration(wctx, time.Since(start))
	return res, err
}

// setStatus updates a transient (non-terminal) status.
func (s *OrchestratorService) setStatus(id string, status task.Status) {
	s.mu.Lock()
	if t, ok := s.tasks[id]; ok {
		t.Status = status
		t.UpdatedAt = time.Now().UTC()
	}
	s.mu.Unlock()
	s.publishStatus(id, status, "")
}

// settle moves a task into a terminal status with its reason and details.
func (s *OrchestratorService) settle(id string, status task.Status, reason string, details map[string]any) {
	var goal string
	s.mu.Lock()
	if t, ok := s.tasks[id]; ok {
		t.Status = status
		t.Reason = reason
		if details != nil {
			t.DeviationDetails = details
		}
		t.UpdatedAt = time.Now().UTC()
		goal = t.Goal
	}
	s.mu.Unlock()

	otel.RecordTaskSettled(context.Background(), string(status))
	s.log.Info("task settled", "task_id", id, "status", string(status), "reason", reason)
	s.recordOutcome(id, goal, status, reason)
	s.publishStatus(id, status, reason)
}

// recordOutcome writes the settled state into task memory: failure markers
// feed the guard's recent-failure signal, the outcome document feeds
// long-term recall.
func (s *OrchestratorService) recordOutcome(id, goal string, status task.Status, reason string) {
	if s.mem == nil {
		return
	}
	ctx := context.Background()
	switch status {
	case task.StatusFailed, task.StatusPausedDeviation, task.StatusRejected:
		if err := s.mem.Put(ctx, id, "failure:"+string(status), reason); err != nil {
			s.log.Warn("failure marker write failed", "task_id", id, "error", err)
		}
	}
	s.mem.Remember(ctx, []memport.Document{{
		ID:      id + ":" + string(status),
		Content: fmt.Sprintf("task %s settled %s: goal %q reason %q", id, status, goal, reason),
	}})
}

// publishStatus fans the transition out to the live hub and the queue,
// best-effort.
func (s *OrchestratorService) publishStatus(id string, status task.Status, reason string) {
	payload := messagequeue.TaskStatusPayload{TaskID: id, Status: string(status), Reason: reason}

	if s.hub != nil {
		s.hub.BroadcastEvent(context.Background(), "task.status", payload)
	}
	if s.queue != nil && s.queue.IsConnected() {
		if raw, err := json.Marshal(payload); err == nil {
			if err := s.queue.Publish(context.Background(), messagequeue.SubjectTaskStatus, raw); err != nil {
				s.log.Warn("status publish failed", "task_id", id, "error", err)
			}
		}
	}
}
