package llm

import (
	"encoding/json"
	"strings"
)

// Result is the outcome of one analysis call. A reply that parses as JSON
// fills Data; a reply that does not parse keeps the raw text alongside an
// error message instead of failing the call. Downstream stages persist both
// shapes the same way.
type Result struct {
	Data map[string]any `json:"data,omitempty"`
	Raw  string         `json:"raw_response,omitempty"`
	Err  string         `json:"error,omitempty"`
}

// OK reports whether the result carries parsed data.
func (r Result) OK() bool {
	return r.Err == "" && r.Data != nil
}

// ErrorResult builds a Result carrying only an error message.
func ErrorResult(msg string) Result {
	return Result{Err: msg}
}

// ExtractJSON parses a model reply into a Result. Replies wrapped in
// markdown code fences (```json ... ``` or ``` ... ```) are unwrapped
// first, so fenced and unfenced output decode identically.
func ExtractJSON(s string) Result {
	text := stripFences(s)

	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return Result{Err: "Failed to parse JSON", Raw: s}
	}
	return Result{Data: data}
}

func stripFences(s string) string {
	text := s
	if idx := strings.Index(text, "```json"); idx >= 0 {
		text = text[idx+len("```json"):]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+len("```"):]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	}
	return strings.TrimSpace(text)
}
