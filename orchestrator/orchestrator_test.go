package orchestrator

import (
	"context"
	"strings"
	"testing"

	"loom/db"
	"loom/policy"
	"loom/providers"
)

type orchTestEnv struct {
	orch        *Orchestrator
	client      *providers.MockClient
	plans       *db.PlanStore
	experiences *db.ExperienceStore
}

func newTestEnv(t *testing.T) *orchTestEnv {
	t.Helper()
	database, err := db.Open("")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	plans := db.NewPlanStore(database)
	executions := db.NewExecutionStore(database)
	experiences := db.NewExperienceStore(database)
	tenants := db.NewTenantStore(database)

	router := providers.NewRouter(providers.DefaultRegistry(), tenants, experiences)
	router.SetPlatformKeyLookup(func(string) string { return "test-key" })

	client := providers.NewMockClient()

	orch := New(Options{
		Plans:       plans,
		Executions:  executions,
		Experiences: experiences,
		Router:      router,
		Client:      client,
	})
	return &orchTestEnv{orch: orch, client: client, plans: plans, experiences: experiences}
}

func TestRunAgentCompletesStructuredTrace(t *testing.T) {
	env := newTestEnv(t)
	env.client.Queue(&providers.Response{Text: `[
		{"thought": "repeat it", "action": {"skill": "echo", "args": {"text": "hello"}}},
		{"thought": "wrap up", "final_answer": "done"}
	]`}, nil)

	result, err := env.orch.RunAgent(context.Background(), "tenant-1", "agent-1", "say hello", "")
	if err != nil {
		t.Fatalf("RunAgent failed: %v", err)
	}
	if result.Status != db.ExecutionCompleted {
		t.Errorf("expected completed, got %s", result.Status)
	}
	if result.Output != "done" {
		t.Errorf("expected final answer as output, got %q", result.Output)
	}

	if len(result.Steps) != 2 {
		t.Fatalf("expected 2 persisted steps, got %d", len(result.Steps))
	}
	for i, step := range result.Steps {
		if step.Ordinal != i+1 {
			t.Errorf("step %d: expected ordinal %d, got %d", i, i+1, step.Ordinal)
		}
	}
	if result.Steps[0].Observation != "hello" {
		t.Errorf("echo skill output lost: %q", result.Steps[0].Observation)
	}

	// The objective seeds the plan, and the pass settles its task
	plan, err := env.plans.GetActivePlan("agent-1", "tenant-1")
	if err != nil {
		t.Fatalf("no active plan after pass: %v", err)
	}
	if len(plan.Tasks) != 1 || plan.Tasks[0].Status != db.TaskCompleted {
		t.Errorf("expected one completed task, got %+v", plan.Tasks)
	}

	// The pass outcome is recorded as a success experience
	exps, err := env.experiences.RecentByTenant("tenant-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(exps) != 1 || exps[0].Type != db.ExperienceSuccess {
		t.Errorf("expected one success experience, got %+v", exps)
	}
	if exps[0].Model == "" {
		t.Error("experience must record the routed model")
	}
}

func TestRunAgentMidPassDenialContinues(t *testing.T) {
	env := newTestEnv(t)
	env.orch.gate = policy.DenyList{Actions: map[string]string{
		"http_fetch": "network egress disabled",
	}}

	env.client.Queue(&providers.Response{Text: `[
		{"thought": "fetch it", "action": {"skill": "http_fetch", "args": {"url": "https://example.com"}}},
		{"thought": "fall back", "action": {"skill": "echo", "args": {"text": "cached copy"}}},
		{"thought": "wrap up", "final_answer": "answered from cache"}
	]`}, nil)

	result, err := env.orch.RunAgent(context.Background(), "tenant-1", "agent-1", "research topic", "")
	if err != nil {
		t.Fatalf("RunAgent failed: %v", err)
	}

	// A mid-pass denial marks its own step but the pass continues and the
	// final step decides the outcome.
	if result.Status != db.ExecutionCompleted {
		t.Errorf("expected completed despite mid-pass denial, got %s", result.Status)
	}
	if len(result.Steps) != 3 {
		t.Fatalf("expected all 3 steps persisted, got %d", len(result.Steps))
	}
	denied := result.Steps[0]
	if denied.Status != "error" {
		t.Errorf("denied step must be recorded as error, got %s", denied.Status)
	}
	if !strings.Contains(denied.Observation, "network egress disabled") {
		t.Errorf("denial reason missing from observation: %q", denied.Observation)
	}
	if result.Steps[1].Observation != "cached copy" {
		t.Errorf("step after denial did not execute: %q", result.Steps[1].Observation)
	}
}

func TestRunAgentDenialOnLastStepFailsPass(t *testing.T) {
	env := newTestEnv(t)
	env.orch.gate = policy.DenyList{Actions: map[string]string{
		"echo": "silenced",
	}}

	env.client.Queue(&providers.Response{Text: `[
		{"thought": "speak", "action": {"skill": "echo", "args": {"text": "hi"}}}
	]`}, nil)

	result, err := env.orch.RunAgent(context.Background(), "tenant-1", "agent-1", "say something", "")
	if err != nil {
		t.Fatalf("RunAgent failed: %v", err)
	}
	if result.Status != db.ExecutionFailed {
		t.Errorf("expected failed when the last step errors, got %s", result.Status)
	}

	plan, err := env.plans.GetActivePlan("agent-1", "tenant-1")
	if err != nil {
		t.Fatal(err)
	}
	if plan.Tasks[0].Status != db.TaskFailed {
		t.Errorf("expected task failed, got %s", plan.Tasks[0].Status)
	}

	exps, _ := env.experiences.RecentByTenant("tenant-1", 10)
	if len(exps) != 1 || exps[0].Type != db.ExperienceFailure {
		t.Errorf("expected a failure experience, got %+v", exps)
	}
}

func TestRunAgentDegradesUnstructuredResponse(t *testing.T) {
	env := newTestEnv(t)
	env.client.Queue(&providers.Response{Text: "The capital of France is Paris."}, nil)

	result, err := env.orch.RunAgent(context.Background(), "tenant-1", "agent-1", "capital of France", "")
	if err != nil {
		t.Fatalf("RunAgent failed: %v", err)
	}
	if result.Status != db.ExecutionCompleted {
		t.Errorf("expected completed, got %s", result.Status)
	}
	if result.Output != "The capital of France is Paris." {
		t.Errorf("raw answer lost: %q", result.Output)
	}
	if len(result.Steps) != 1 || result.Steps[0].Ordinal != 1 {
		t.Errorf("expected one degraded step with ordinal 1, got %+v", result.Steps)
	}
}

func TestRunAgentUnknownSkillSimulated(t *testing.T) {
	env := newTestEnv(t)
	env.client.Queue(&providers.Response{Text: `[
		{"thought": "try it", "action": {"skill": "teleport", "args": {}}},
		{"final_answer": "ok"}
	]`}, nil)

	result, err := env.orch.RunAgent(context.Background(), "tenant-1", "agent-1", "go places", "")
	if err != nil {
		t.Fatalf("RunAgent failed: %v", err)
	}
	if result.Status != db.ExecutionCompleted {
		t.Errorf("expected completed, got %s", result.Status)
	}
	if !strings.Contains(result.Steps[0].Observation, "simulated") {
		t.Errorf("unknown skill should be simulated, got %q", result.Steps[0].Observation)
	}
}
