package orchestrator

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrMalformedTrace signals that the model's output could not be parsed as a
// structured trace. The caller degrades to a single final-answer step; the
// response is never dropped.
var ErrMalformedTrace = errors.New("malformed reasoning trace")

// traceStep is the wire shape the model is instructed to emit
type traceStep struct {
	Thought     string  `json:"thought"`
	Action      *Action `json:"action,omitempty"`
	FinalAnswer string  `json:"final_answer,omitempty"`
}

// ParseTrace parses a model response into ordered steps with 1-based
// ordinals. On parse failure it returns a single step carrying the raw text
// as the final answer, together with ErrMalformedTrace.
func ParseTrace(text string) ([]*Step, error) {
	raw := extractJSONArray(text)
	if raw == "" {
		return degradedTrace(text), ErrMalformedTrace
	}

	var parsed []traceStep
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return degradedTrace(text), ErrMalformedTrace
	}
	if len(parsed) == 0 {
		return degradedTrace(text), ErrMalformedTrace
	}

	steps := make([]*Step, 0, len(parsed))
	for i, ts := range parsed {
		steps = append(steps, &Step{
			Ordinal:     i + 1,
			Thought:     ts.Thought,
			Action:      ts.Action,
			FinalAnswer: ts.FinalAnswer,
		})
	}
	return steps, nil
}

func degradedTrace(text string) []*Step {
	return []*Step{{
		Ordinal:     1,
		Thought:     "unstructured response",
		FinalAnswer: strings.TrimSpace(text),
	}}
}

// extractJSONArray finds the JSON array in a response, tolerating code
// fences and surrounding prose.
func extractJSONArray(text string) string {
	cleaned := text
	if idx := strings.Index(cleaned, "```"); idx >= 0 {
		cleaned = cleaned[idx+3:]
		cleaned = strings.TrimPrefix(cleaned, "json")
		if end := strings.Index(cleaned, "```"); end >= 0 {
			cleaned = cleaned[:end]
		}
	}

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start < 0 || end <= start {
		return ""
	}
	return cleaned[start : end+1]
}
