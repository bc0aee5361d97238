package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cordonlabs/sentra/internal/adapter/otel"
	"github.com/cordonlabs/sentra/internal/config"
	"github.com/cordonlabs/sentra/internal/domain/guard"
	"github.com/cordonlabs/sentra/internal/domain/plan"
	"github.com/cordonlabs/sentra/internal/domain/ticket"
	"github.com/cordonlabs/sentra/internal/port/cache"
	memport "github.com/cordonlabs/sentra/internal/port/memory"
	"github.com/cordonlabs/sentra/internal/port/messagequeue"
	"github.com/cordonlabs/sentra/internal/port/policysource"
	"github.com/cordonlabs/sentra/internal/port/ticketstore"
)

const (
	policyCacheKey = "guardian:policies"
	recallLimit    = 3
)

// failureKeywords mark a recalled document as a past failure.
var failureKeywords = []string{"error", "deviation", "failed"}

func countFailureDocs(docs []memport.Document) int {
	n := 0
	for _, d := range docs {
		lower := strings.ToLower(d.Content)
		for _, k := range failureKeywords {
			if strings.Contains(lower, k) {
				n++
				break
			}
		}
	}
	return n
}

// ValidateActionRequest is the payload for single-action evaluation.
type ValidateActionRequest struct {
	TaskID         string         `json:"task_id,omitempty"`
	ProposedAction string         `json:"proposed_action"`
	Context        map[string]any `json:"context,omitempty"`
	Plan           *plan.Plan     `json:"approved_plan,omitempty"`
	Policies       []string       `json:"policies,omitempty"`
}

// ValidatePlanRequest is the payload for whole-plan evaluation.
type ValidatePlanRequest struct {
	TaskID   string         `json:"task_id,omitempty"`
	Plan     *plan.Plan     `json:"plan"`
	Context  map[string]any `json:"context,omitempty"`
	Policies []string       `json:"policies,omitempty"`
}

// GuardianService evaluates proposed actions and plans against the rule
// set, operator policies and deployment configuration. It never returns an
// error: every input, including malformed ones, produces a structured
// Decision (malformed input fails closed).
type GuardianService struct {
	cfg      config.Guardian
	log      *slog.Logger
	policies policysource.Source
	cache    cache.Cache
	mem      memport.ShortTerm
	recall   memport.Recaller
	audit    ticketstore.AuditStore
	queue    messagequeue.Queue
	now      func() time.Time
}

// NewGuardianService creates a GuardianService. policies, cache, mem,
// audit and queue may be nil; the corresponding signals are then skipped.
func NewGuardianService(
	cfg config.Guardian,
	log *slog.Logger,
	policies policysource.Source,
	c cache.Cache,
	mem memport.ShortTerm,
	audit ticketstore.AuditStore,
	queue messagequeue.Queue,
) *GuardianService {
	return &GuardianService{
		cfg:      cfg,
		log:      log,
		policies: policies,
		cache:    c,
		mem:      mem,
		audit:    audit,
		queue:    queue,
		now:      time.Now,
	}
}

// SetRecaller attaches long-term incident recall. Recalled documents that
// read like past failures add a review-leaning risk component.
func (s *GuardianService) SetRecaller(r memport.Recaller) {
	s.recall = r
}

// EvaluateAction runs the full action pipeline. Terminal signals (parse
// failure, hard deny, injection, literal policy hit) short-circuit; the
// remaining signals accumulate risk components that feed the noisy-OR
// score.
func (s *GuardianService) EvaluateAction(ctx context.Context, req ValidateActionRequest) guard.Decision {
	ctx, span := otel.StartGuardSpan(ctx, "action")
	defer span.End()

	d := s.evaluateAction(ctx, req)
	s.record(ctx, "action", req.TaskID, req.ProposedAction, d)
	return d
}

func (s *GuardianService) evaluateAction(ctx context.Context, req ValidateActionRequest) guard.Decision {
	bucket := guard.NormalizePolicies(s.resolvePolicies(ctx, req.Policies))
	raw := req.ProposedAction

	// 1. Parse. Unparseable actions fail closed.
	parsed, err := guard.ParseAction(raw)
	if err != nil {
		return guard.Finalize(guard.VerdictDeny,
			[]string{"parse_failure: " + err.Error()},
			[]float64{guard.ComponentParseFailure}, nil)
	}
	actionText := parsed.Text()

	// 2. Hard deny on the raw input, before any normalization games.
	if hit, hits := guard.HardDenyMatch(raw); hit {
		return guard.Finalize(guard.VerdictDeny,
			append([]string{"hard_deny_pattern"}, hits...),
			[]float64{guard.ComponentHardDeny},
			map[string]any{"matched": hits})
	}

	// 3. Graded injection detection. Verdicts gate on the numeric bands;
	// the Suspected flag is advisory (raw JSON syntax alone trips the
	// punctuation heuristic).
	inj := guard.DetectInjection(raw)
	if inj.Score >= guard.DenyThreshold {
		return guard.Finalize(guard.VerdictDeny,
			append([]string{"suspected_injection"}, inj.Hits...),
			[]float64{inj.Score},
			map[string]any{"injection_hits": inj.Hits})
	}
	if inj.Score >= guard.ReviewThreshold {
		return guard.Finalize(guard.VerdictAmbiguous,
			append([]string{"suspected_injection"}, inj.Hits...),
			[]float64{inj.Score},
			map[string]any{"injection_hits": inj.Hits})
	}

	// 4. Literal policy phrase.
	if hit, hits := guard.PolicySubstringMatch(actionText, bucket); hit {
		return guard.Finalize(guard.VerdictDeny,
			append([]string{"policy_violation"}, hits...),
			[]float64{guard.ComponentPolicySubstring},
			map[string]any{"policy_hits": hits})
	}

	// 5. Semantic policy similarity.
	semantic := guard.SemanticPolicyScore(actionText, bucket)
	if semantic >= guard.DenyThreshold {
		return guard.Finalize(guard.VerdictDeny,
			[]string{fmt.Sprintf("policy_similarity:%.2f", semantic)},
			[]float64{semantic}, nil)
	}

	if semantic >= guard.ReviewThreshold {
		return guard.Finalize(guard.VerdictAmbiguous,
			[]string{fmt.Sprintf("policy_similarity:%.2f", semantic)},
			[]float64{semantic, guard.ComponentSemanticBias},
			map[string]any{"action": parsed.Action})
	}

	verdict := guard.VerdictAllow
	var reasons []string
	var components []float64
	details := map[string]any{"action": parsed.Action}

	// 6. Context boosts; these never short-circuit.
	if p, _ := req.Context["priority"].(string); strings.EqualFold(p, "high") {
		reasons = append(reasons, "priority_high")
		components = append(components, guard.ComponentPriorityHigh)
	}
	if s.cfg.OffHours(s.now()) {
		reasons = append(reasons, "off_hours")
		components = append(components, guard.ComponentOffHours)
	}

	// 7. Plan conformance: the action must resemble some approved step. A
	// mismatch is terminal and routes to review with the risk gathered so
	// far.
	if req.Plan != nil && len(req.Plan.Steps) > 0 {
		best, stepID := req.Plan.BestMatch(actionText)
		components = append(components, (1-best)*guard.ComponentPlanMismatchMax)
		details["plan_best_match"] = map[string]any{"score": best, "step_id": stepID}
		if best < guard.PlanMatchThreshold {
			reasons = append(reasons, fmt.Sprintf("plan_mismatch:%.2f", best))
			return guard.Finalize(guard.VerdictAmbiguous, reasons, components, details)
		}
	}

	// 8. Best-effort memory signals: recent short-term failures for this
	// task, and long-term recall of similar past incidents.
	if s.mem != nil {
		if n, err := s.mem.RecentFailures(ctx, req.TaskID); err == nil && n >= s.cfg.MemoryFailureMin {
			reasons = append(reasons, fmt.Sprintf("recent_failures:%d", n))
			components = append(components, guard.ComponentMemoryFailures)
		}
	}
	if s.recall != nil {
		if n := countFailureDocs(s.recall.Recall(ctx, actionText, recallLimit)); n > 0 {
			reasons = append(reasons, fmt.Sprintf("similar_past_incidents:%d", n))
			components = append(components, guard.ComponentMemoryFailures)
		}
	}

	// 9. Tool allowlist and per-tool parameter bounds.
	rule, known := s.cfg.ToolRuleFor(parsed.Action)
	switch {
	case !known:
		verdict = guard.VerdictAmbiguous
		reasons = append(reasons, "unknown_tool:"+parsed.Action)
		components = append(components, guard.ComponentUnknownTool)
	default:
		if v, bad := pathViolation(parsed, rule); bad {
			verdict = guard.VerdictAmbiguous
			reasons = append(reasons, "path_outside_safe_prefix:"+v)
			components = append(components, guard.ComponentPathViolation)
		}
		if v, bad := hostViolation(parsed, rule); bad {
			verdict = guard.VerdictAmbiguous
			reasons = append(reasons, "host_not_allowed:"+v)
			components = append(components, guard.ComponentHostViolation)
		}
	}

	if verdict == guard.VerdictAllow && len(reasons) == 0 {
		reasons = []string{"no_policy_or_injection_signal"}
	}
	return guard.Finalize(verdict, reasons, components, details)
}

// EvaluatePlan runs the plan pipeline. A hard-deny hit inside a step goal
// yields Ambiguous rather than Deny: a plan is a statement of intent, not
// an execution request, so it is routed to a human instead of being
// silently discarded.
func (s *GuardianService) EvaluatePlan(ctx context.Context, req ValidatePlanRequest) guard.Decision {
	ctx, span := otel.StartGuardSpan(ctx, "plan")
	defer span.End()

	d := s.evaluatePlan(ctx, req)
	input := ""
	if req.Plan != nil {
		input = req.Plan.PlanID
	}
	s.record(ctx, "plan", req.TaskID, input, d)
	return d
}

func (s *GuardianService) evaluatePlan(ctx context.Context, req ValidatePlanRequest) guard.Decision {
	if req.Plan == nil || req.Plan.Steps == nil {
		return guard.Finalize(guard.VerdictDeny,
			[]string{"malformed_plan"},
			[]float64{guard.ComponentParseFailure}, nil)
	}
	if err := req.Plan.Validate(); err != nil {
		return guard.Finalize(guard.VerdictDeny,
			[]string{"malformed_plan: " + err.Error()},
			[]float64{guard.ComponentParseFailure}, nil)
	}
	if req.Plan.TooComplex() {
		return guard.Finalize(guard.VerdictDeny,
			[]string{fmt.Sprintf("plan_too_complex:%d_steps", len(req.Plan.Steps))},
			[]float64{guard.ComponentHardDeny}, nil)
	}

	bucket := guard.NormalizePolicies(s.resolvePolicies(ctx, req.Policies))

	maxSemantic := 0.0
	for _, step := range req.Plan.Steps {
		if hit, hits := guard.HardDenyMatch(step.Goal); hit {
			return guard.Finalize(guard.VerdictAmbiguous,
				append([]string{fmt.Sprintf("hard_deny_in_step:%d", step.StepID)}, hits...),
				[]float64{guard.ComponentPlanHardDeny},
				map[string]any{"step_id": step.StepID, "matched": hits})
		}
		inj := guard.DetectInjection(step.Goal)
		if inj.Score >= guard.DenyThreshold {
			return guard.Finalize(guard.VerdictDeny,
				append([]string{fmt.Sprintf("injection_in_step:%d", step.StepID)}, inj.Hits...),
				[]float64{guard.ComponentPlanInjection},
				map[string]any{"step_id": step.StepID})
		}
		if inj.Score >= guard.ReviewThreshold {
			return guard.Finalize(guard.VerdictAmbiguous,
				append([]string{fmt.Sprintf("injection_in_step:%d", step.StepID)}, inj.Hits...),
				[]float64{inj.Score},
				map[string]any{"step_id": step.StepID})
		}
		if sem := guard.SemanticPolicyScore(step.Goal, bucket); sem > maxSemantic {
			maxSemantic = sem
		}
	}

	if maxSemantic >= guard.DenyThreshold {
		return guard.Finalize(guard.VerdictAmbiguous,
			[]string{fmt.Sprintf("policy_similarity_in_plan:%.2f", maxSemantic)},
			[]float64{maxSemantic}, nil)
	}

	var reasons []string
	var components []float64
	if s.cfg.OffHours(s.now()) {
		reasons = append(reasons, "off_hours")
		components = append(components, guard.ComponentOffHours)
	}
	if len(reasons) == 0 {
		reasons = []string{"plan_within_policy"}
	}
	return guard.Finalize(guard.VerdictAllow, reasons, components, nil)
}

// resolvePolicies returns request-scoped policies when provided, otherwise
// the cached operator policies. Fetch failures degrade to "no policies".
func (s *GuardianService) resolvePolicies(ctx context.Context, override []string) []string {
	if len(override) > 0 {
		return override
	}
	if s.policies == nil {
		return nil
	}

	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, policyCacheKey); err == nil && ok {
			var cached []string
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached
			}
		}
	}

	lines, err := s.policies.Policies(ctx)
	if err != nil {
		s.log.Warn("policy fetch failed, evaluating without policies", "error", err)
		return nil
	}
	if s.cache != nil {
		if raw, err := json.Marshal(lines); err == nil {
			_ = s.cache.Set(ctx, policyCacheKey, raw, s.cfg.PolicyCacheTTL)
		}
	}
	return lines
}

// record persists and publishes the decision, best-effort.
func (s *GuardianService) record(ctx context.Context, kind, taskID, input string, d guard.Decision) {
	otel.RecordGuardDecision(ctx, kind, string(d.Verdict))
	s.log.Info("guard decision",
		"kind", kind,
		"task_id", taskID,
		"decision", string(d.Verdict),
		"score", d.Score,
		"one_liner", d.OneLiner)

	if s.audit != nil {
		rec := ticket.AuditRecord{
			ID:        uuid.NewString(),
			TaskID:    taskID,
			Kind:      kind,
			Input:     input,
			Verdict:   string(d.Verdict),
			Score:     d.Score,
			Reasons:   d.Reasons,
			CreatedAt: s.now().UTC(),
		}
		if err := s.audit.RecordDecision(ctx, rec); err != nil {
			s.log.Warn("audit record failed", "error", err)
		}
	}

	if s.queue != nil && s.queue.IsConnected() {
		payload, err := json.Marshal(messagequeue.GuardVerdictPayload{
			TaskID:   taskID,
			Kind:     kind,
			Decision: string(d.Verdict),
			Score:    d.Score,
			Reasons:  d.Reasons,
		})
		if err == nil {
			if err := s.queue.Publish(ctx, messagequeue.SubjectGuardVerdict, payload); err != nil {
				s.log.Warn("verdict publish failed", "error", err)
			}
		}
	}
}

// pathViolation checks file-path parameters against the rule's safe
// prefixes.
func pathViolation(a guard.ParsedAction, rule config.ToolRule) (string, bool) {
	if len(rule.PathPrefixes) == 0 {
		return "", false
	}
	for _, key := range []string{"path", "file", "script_path"} {
		p := a.StringInput(key)
		if p == "" {
			continue
		}
		ok := false
		for _, prefix := range rule.PathPrefixes {
			if strings.HasPrefix(p, prefix) {
				ok = true
				break
			}
		}
		if !ok {
			return p, true
		}
	}
	return "", false
}

// hostViolation checks URL parameters against the rule's host allowlist.
func hostViolation(a guard.ParsedAction, rule config.ToolRule) (string, bool) {
	if len(rule.AllowedHosts) == 0 {
		return "", false
	}
	for _, key := range []string{"url", "endpoint"} {
		raw := a.StringInput(key)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			return raw, true
		}
		ok := false
		for _, h := range rule.AllowedHosts {
			if strings.EqualFold(u.Hostname(), h) {
				ok = true
				break
			}
		}
		if !ok {
			return u.Hostname(), true
		}
	}
	return "", false
}
