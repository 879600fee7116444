package orchestrator

import (
	"errors"
	"testing"
)

func TestParseTraceStructured(t *testing.T) {
	text := `[
		{"thought": "look it up", "action": {"skill": "http_fetch", "args": {"url": "https://example.com"}}},
		{"thought": "done", "final_answer": "the answer"}
	]`

	steps, err := ParseTrace(text)
	if err != nil {
		t.Fatalf("ParseTrace failed: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	for i, step := range steps {
		if step.Ordinal != i+1 {
			t.Errorf("step %d: expected ordinal %d, got %d", i, i+1, step.Ordinal)
		}
	}
	if steps[0].Action == nil || steps[0].Action.Skill != "http_fetch" {
		t.Errorf("expected first step action http_fetch, got %+v", steps[0].Action)
	}
	if steps[0].Action.Args["url"] != "https://example.com" {
		t.Errorf("action args lost: %+v", steps[0].Action.Args)
	}
	if steps[1].FinalAnswer != "the answer" {
		t.Errorf("expected final answer, got %q", steps[1].FinalAnswer)
	}
}

func TestParseTraceCodeFenced(t *testing.T) {
	text := "Here is my plan:\n```json\n[{\"thought\": \"simple\", \"final_answer\": \"42\"}]\n```\nThanks!"

	steps, err := ParseTrace(text)
	if err != nil {
		t.Fatalf("ParseTrace failed on fenced response: %v", err)
	}
	if len(steps) != 1 || steps[0].FinalAnswer != "42" {
		t.Errorf("unexpected steps: %+v", steps)
	}
}

func TestParseTraceDegradesToFinalAnswer(t *testing.T) {
	for _, text := range []string{
		"I could not produce a structured plan, sorry.",
		"[not valid json}",
		"[]",
		"",
	} {
		steps, err := ParseTrace(text)
		if !errors.Is(err, ErrMalformedTrace) {
			t.Errorf("%q: expected ErrMalformedTrace, got %v", text, err)
		}
		if len(steps) != 1 {
			t.Fatalf("%q: expected one degraded step, got %d", text, len(steps))
		}
		if steps[0].Ordinal != 1 {
			t.Errorf("%q: degraded step must have ordinal 1, got %d", text, steps[0].Ordinal)
		}
	}

	// The raw text survives as the final answer
	steps, _ := ParseTrace("just prose")
	if steps[0].FinalAnswer != "just prose" {
		t.Errorf("raw text dropped: %+v", steps[0])
	}
}
