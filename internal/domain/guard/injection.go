package guard

import (
	"regexp"
	"strings"
	"unicode"
)

// InjectionResult carries the graded outcome of prompt-injection analysis.
// Suspected is true when the score reaches the review band or when an
// immediate-injection combination (explicit override phrasing, role claims,
// long code fences) is present.
type InjectionResult struct {
	Suspected bool
	Hits      []string
	Score     float64
}

var injectionRx = regexp.MustCompile(`(?i)` + strings.Join([]string{
	`ignore (previous|earlier) instructions`,
	`forget (previous|earlier) instructions`,
	`role\s*:\s*system`,
	`you are now`,
	`do anything now`,
	"`{3}\\s*system",
	`<script`,
}, "|"))

var imperativeVerbs = map[string]struct{}{
	"execute": {}, "run": {}, "delete": {}, "remove": {}, "shutdown": {},
	"restart": {}, "format": {}, "wipe": {}, "purge": {}, "drop": {},
	"erase": {}, "kill": {},
}

var zeroWidth = strings.NewReplacer(
	"\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "",
)

// leet maps common digit/symbol substitutions back to letters before
// pattern matching, so "1gn0re" collapses to "ignore".
var leet = strings.NewReplacer(
	"0", "o", "1", "i", "2", "r", "3", "e", "4", "a",
	"5", "s", "6", "g", "7", "t", "@", "a", "$", "s", "+", "t",
)

var (
	wordRunsRx   = regexp.MustCompile(`[\W_]+`)
	longFenceRx  = regexp.MustCompile("(?s)```(.{40,})")
	roleSystemRx = regexp.MustCompile(`(?i)\brole\s*[:=]?\s*system\b`)
	relaxedRmRx  = regexp.MustCompile(`(?i)r\s*m\W*\s*-?\s*r\W*\s*-?\s*f`)
	rmCollapseRx = regexp.MustCompile(`(?i)rmrf`)
	ignoreTokRx  = regexp.MustCompile(`(?i)\b(ignore|ign0re|1gn0re)\b\s*(previous|earlier)?\s*(instructions)?`)
	ignoreColRx  = regexp.MustCompile(`(?i)(ignorepreviousinstructions|ignoreprevious|forgetpreviousinstructions|forgetprevious)`)
)

// DetectInjection scores text for prompt-injection phrasings. Robust to
// zero-width masking, leet/digit obfuscation and spacing/punctuation
// obfuscation: the text is normalized into several variants and every
// pattern is checked against all of them.
//
// A hard-deny pattern anywhere in the text short-circuits to score 1.0.
// Scoring is additive over hit categories and clamped to [0,1]. Explicit
// override phrasing, role claims, long code fences, and the combination of
// high imperative-verb density with heavy punctuation mark the result as
// Suspected regardless of the numeric score.
func DetectInjection(text string) InjectionResult {
	if text == "" {
		return InjectionResult{}
	}

	stripped := stripControl(zeroWidth.Replace(text))
	deob := deobfuscate(stripped)
	collapsed := wordRunsRx.ReplaceAllString(deob, "")

	var hits []string
	addHit := func(tag string) {
		hits = append(hits, tag)
	}

	if m := firstMatch(injectionRx, deob, stripped, text); m != "" {
		addHit("injection_pattern:" + strings.TrimSpace(m))
	}

	hardDeny := false
	for _, rx := range hardDenyPatterns {
		if rx.MatchString(deob) || rx.MatchString(stripped) || rx.MatchString(text) {
			addHit("hard_deny_pattern:" + rx.String())
			hardDeny = true
		}
	}
	// Relaxed rm -rf detection catches spaced and collapsed obfuscations.
	if !hardDeny && (relaxedRmRx.MatchString(deob) || rmCollapseRx.MatchString(collapsed)) {
		addHit("hard_deny_pattern:rm-rf-relaxed")
		hardDeny = true
	}
	if hardDeny {
		return InjectionResult{Suspected: true, Hits: hits, Score: 1.0}
	}

	codeFence := strings.Contains(text, "```") || strings.Contains(strings.ToLower(text), "<script")
	if codeFence {
		addHit("code_fence_or_html")
	}
	longFence := longFenceRx.MatchString(text)
	if longFence {
		addHit("long_code_fence")
	}

	roleSystem := roleSystemRx.MatchString(deob) || strings.Contains(collapsed, "youarenowrole")
	if roleSystem {
		addHit("role:system")
	}

	ignorePrev := ignoreTokRx.MatchString(deob) || ignoreColRx.MatchString(collapsed)
	if ignorePrev {
		addHit("ignore_previous_instructions")
	}

	density := imperativeDensity(deob)
	if density > 0.08 {
		addHit("imperative_density")
	}

	punct := punctuationRatio(text)
	if punct > 0.10 {
		addHit("high_punctuation")
	}

	score := 0.0
	if codeFence || longFence {
		score += 0.40
	}
	if roleSystem {
		score += 0.35
	}
	if density > 0.08 {
		score += min(0.35, density*4.0)
	}
	if punct > 0.10 {
		score += 0.10
	}
	if injectionRx.MatchString(deob) || injectionRx.MatchString(collapsed) || injectionRx.MatchString(text) {
		score += 0.35
	}
	if ignorePrev {
		score += 0.35
	}
	score = clamp01(score)

	immediate := longFence || ignorePrev || roleSystem || (density > 0.08 && punct > 0.10)

	return InjectionResult{
		Suspected: immediate || score >= ReviewThreshold,
		Hits:      hits,
		Score:     score,
	}
}

// deobfuscate lowercases, maps leet substitutions and collapses non-word
// runs into single spaces.
func deobfuscate(s string) string {
	if s == "" {
		return ""
	}
	out := leet.Replace(strings.ToLower(s))
	return strings.TrimSpace(wordRunsRx.ReplaceAllString(out, " "))
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func imperativeDensity(s string) float64 {
	toks := strings.Fields(s)
	if len(toks) == 0 {
		return 0
	}
	hits := 0
	for _, t := range toks {
		if _, ok := imperativeVerbs[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(toks))
}

func punctuationRatio(s string) float64 {
	if s == "" {
		return 0
	}
	count := 0
	total := 0
	for _, r := range s {
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			count++
		}
	}
	return float64(count) / float64(total)
}

func firstMatch(rx *regexp.Regexp, variants ...string) string {
	for _, v := range variants {
		if m := rx.FindString(v); m != "" {
			return m
		}
	}
	return ""
}
