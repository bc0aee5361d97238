package guard

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ParsedAction is the structured form of a proposed action. Immutable once
// created; malformed input never produces one.
type ParsedAction struct {
	Action      string         `json:"action"`
	ActionInput map[string]any `json:"action_input"`
}

// ParseError reports why a proposed action could not be parsed.
type ParseError struct {
	Msg string
}

func (e *ParseError) Error() string { return "parse action: " + e.Msg }

// ParseAction turns a free-form proposed-action string into a ParsedAction.
//
// Accepted forms:
//   - a JSON object with "action"+"action_input" keys ("tool" is accepted
//     as an alias for "action")
//   - "tool_name: {...json object...}"
//
// Anything else fails with a ParseError; parsing never partially succeeds.
func ParseAction(raw string) (ParsedAction, error) {
	snippet := strings.TrimSpace(raw)
	if snippet == "" {
		return ParsedAction{}, &ParseError{Msg: "proposed action must be a non-empty string"}
	}

	if strings.HasPrefix(snippet, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(snippet), &obj); err != nil {
			return ParsedAction{}, &ParseError{Msg: fmt.Sprintf("failed to parse object: %v", err)}
		}
		input, ok := asObject(obj["action_input"])
		if !ok {
			return ParsedAction{}, &ParseError{Msg: "object must contain action and action_input"}
		}
		if name, ok := obj["action"].(string); ok {
			return ParsedAction{Action: name, ActionInput: input}, nil
		}
		if name, ok := obj["tool"].(string); ok {
			return ParsedAction{Action: name, ActionInput: input}, nil
		}
		return ParsedAction{}, &ParseError{Msg: "object must contain action and action_input"}
	}

	name, remainder, found := strings.Cut(snippet, ":")
	if !found {
		return ParsedAction{}, &ParseError{Msg: "expected format 'tool: {...}' or a JSON object"}
	}

	var input map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(remainder)), &input); err != nil {
		return ParsedAction{}, &ParseError{Msg: fmt.Sprintf("failed to parse action_input: %v", err)}
	}
	return ParsedAction{Action: strings.TrimSpace(name), ActionInput: input}, nil
}

// Text renders the parsed action back to a single string for lexical
// comparison against plan step goals. Keys are sorted so the rendering is
// deterministic.
func (a ParsedAction) Text() string {
	keys := make([]string, 0, len(a.ActionInput))
	for k := range a.ActionInput {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := []string{a.Action}
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %v", k, a.ActionInput[k]))
	}
	return strings.Join(parts, " ")
}

// StringInput returns the named action_input parameter as a string, or ""
// when absent or not a string.
func (a ParsedAction) StringInput(key string) string {
	s, _ := a.ActionInput[key].(string)
	return s
}

func asObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}
