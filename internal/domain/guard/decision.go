// Package guard defines the domain model for Sentra's safety layer: the
// Decision type returned by every evaluation, plus the deterministic rule
// primitives (action parsing, destructive-pattern matching, injection
// scoring, policy buckets, lexical similarity) the evaluator is built from.
package guard

import "fmt"

// Verdict is the outcome class of an evaluation.
type Verdict string

const (
	VerdictAllow     Verdict = "Allow"
	VerdictDeny      Verdict = "Deny"
	VerdictAmbiguous Verdict = "Ambiguous"
)

// Thresholds used across action and plan evaluation. Review and Deny bound
// the injection/semantic bands; AllowDowngrade caps the residual risk an
// Allow verdict may carry before it is demoted to Ambiguous.
const (
	ReviewThreshold       = 0.70
	DenyThreshold         = 0.90
	PlanMatchThreshold    = 0.50
	AllowDowngradeCeiling = 0.8
	oneLinerMaxLen        = 200
)

// Decision is the structured result of evaluating an action or a plan.
// Approved is true iff Verdict == Allow.
type Decision struct {
	Verdict  Verdict        `json:"decision"`
	Approved bool           `json:"approved"`
	Score    float64        `json:"score"`
	Reasons  []string       `json:"reasons"`
	OneLiner string         `json:"one_liner"`
	Details  map[string]any `json:"details,omitempty"`
}

// RequiresReview reports whether the decision should pause execution for a
// human operator.
func (d Decision) RequiresReview() bool {
	return d.Verdict == VerdictAmbiguous
}

// CombineComponents folds independent risk components into a single score
// using a noisy-OR: 1 - prod(1 - c). Each component is clamped to [0,1]
// before combination and the result is clamped again.
func CombineComponents(components []float64) float64 {
	if len(components) == 0 {
		return 0
	}
	safe := 1.0
	for _, c := range components {
		safe *= 1 - clamp01(c)
	}
	return clamp01(1 - safe)
}

// Finalize builds a Decision from a tentative verdict, its reason tags and
// risk components. An Allow whose combined score exceeds the downgrade
// ceiling is demoted to Ambiguous: a "safe" path must never carry
// unexplained high residual risk.
func Finalize(verdict Verdict, reasons []string, components []float64, details map[string]any) Decision {
	score := CombineComponents(components)
	approved := false
	if verdict == VerdictAllow {
		if score > AllowDowngradeCeiling {
			verdict = VerdictAmbiguous
			reasons = append([]string{fmt.Sprintf("high_risk_score:%.2f", score)}, reasons...)
		} else {
			approved = true
		}
	}
	return Decision{
		Verdict:  verdict,
		Approved: approved,
		Score:    score,
		Reasons:  reasons,
		OneLiner: oneLiner(verdict, reasons),
		Details:  details,
	}
}

func oneLiner(verdict Verdict, reasons []string) string {
	s := string(verdict) + " — no explicit reason"
	if len(reasons) > 0 {
		s = string(verdict) + " — " + reasons[0]
	}
	if len(s) > oneLinerMaxLen {
		s = s[:oneLinerMaxLen]
	}
	return s
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
