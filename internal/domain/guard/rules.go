package guard

import (
	"regexp"
	"strings"
)

// Severity components attached to deterministic findings. These feed the
// noisy-OR combination and are tuned so that any single terminal finding
// lands the combined score in the intended band.
const (
	ComponentParseFailure    = 0.95
	ComponentHardDeny        = 0.99
	ComponentPolicySubstring = 0.99
	ComponentSemanticBias    = 0.1
	ComponentPriorityHigh    = 0.15
	ComponentOffHours        = 0.05
	ComponentMemoryFailures  = 0.2
	ComponentUnknownTool     = 0.6
	ComponentPathViolation   = 0.4
	ComponentHostViolation   = 0.45
	ComponentPlanMismatchMax = 0.35

	// Plan-path findings are statements of intent, not execution requests,
	// so destructive matches inside a step carry a softer weight than the
	// single-action path.
	ComponentPlanHardDeny  = 0.9
	ComponentPlanInjection = 0.95
)

// hardDenyPatterns are high-confidence destructive-intent matches. Any hit
// denies regardless of other signals.
var hardDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+-rf\b`),
	regexp.MustCompile(`(?i)\bshutdown\b`),
	regexp.MustCompile(`(?i)\bformat\s+disk\b`),
	regexp.MustCompile(`(?i):/dev/sda\b`),
}

// HardDenyMatch reports whether text contains a high-severity destructive
// pattern, together with the matching pattern sources.
func HardDenyMatch(text string) (bool, []string) {
	if text == "" {
		return false, nil
	}
	var hits []string
	for _, rx := range hardDenyPatterns {
		if rx.MatchString(text) {
			hits = append(hits, rx.String())
		}
	}
	return len(hits) > 0, hits
}

// PolicyBucket groups disallowed phrases by bucket name. Only the
// "disallow" bucket is currently populated.
type PolicyBucket map[string][]string

// Disallowed returns the lowercase disallow phrases in stable order.
func (b PolicyBucket) Disallowed() []string {
	return b["disallow"]
}

// NormalizePolicies converts operator-supplied "Disallow: <phrase>" lines
// into a PolicyBucket. The key is matched case-insensitively; unrecognized
// lines are dropped.
func NormalizePolicies(policies []string) PolicyBucket {
	bucket := PolicyBucket{"disallow": nil}
	for _, p := range policies {
		key, val, found := strings.Cut(p, ":")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		if key == "disallow" && val != "" {
			bucket["disallow"] = append(bucket["disallow"], strings.ToLower(val))
		}
	}
	return bucket
}

// PolicySubstringMatch reports disallow phrases literally contained in the
// lowercased text.
func PolicySubstringMatch(text string, bucket PolicyBucket) (bool, []string) {
	if text == "" {
		return false, nil
	}
	lowered := strings.ToLower(text)
	var hits []string
	for _, needle := range bucket.Disallowed() {
		if strings.Contains(lowered, needle) {
			hits = append(hits, needle)
		}
	}
	return len(hits) > 0, hits
}

// synonyms is a small canonicalization table applied in order, so the
// substitution result does not depend on map iteration.
var synonyms = []struct{ from, to string }{
	{"wipe", "delete"},
	{"purge", "delete"},
	{"bring down", "shutdown"},
	{"bring-up", "start"},
	{"reboot", "restart"},
	{"remove", "delete"},
	{"erase", "delete"},
	{"drop", "delete"},
}

var (
	whitespaceRx = regexp.MustCompile(`\s+`)
	nonWordRx    = regexp.MustCompile(`[^\w\s]`)
)

// CanonicalizeText lowercases, substitutes synonyms and collapses
// whitespace, deterministically.
func CanonicalizeText(text string) string {
	if text == "" {
		return ""
	}
	t := strings.ToLower(text)
	for _, s := range synonyms {
		t = strings.ReplaceAll(t, s.from, s.to)
	}
	return strings.TrimSpace(whitespaceRx.ReplaceAllString(t, " "))
}

// TokenOverlapScore returns the Jaccard similarity of the canonicalized
// token sets of a and b. Symmetric; 0 when either set is empty.
func TokenOverlapScore(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	intersection := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	return float64(intersection) / float64(union)
}

// SemanticPolicyScore is the maximum token-overlap score between text and
// any disallow phrase.
func SemanticPolicyScore(text string, bucket PolicyBucket) float64 {
	best := 0.0
	for _, phrase := range bucket.Disallowed() {
		if s := TokenOverlapScore(text, phrase); s > best {
			best = s
		}
	}
	return best
}

func tokenSet(s string) map[string]struct{} {
	if s == "" {
		return nil
	}
	cleaned := nonWordRx.ReplaceAllString(CanonicalizeText(s), " ")
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(cleaned) {
		set[tok] = struct{}{}
	}
	return set
}
