package experience

import (
	"context"
	"testing"
	"time"

	"loom/db"
)

func openTestStore(t *testing.T) *db.ExperienceStore {
	t.Helper()
	database, err := db.Open("")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return db.NewExperienceStore(database)
}

func insertExperiences(t *testing.T, store *db.ExperienceStore, tenantID, model string, expType db.ExperienceType, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		effectiveness := 0.0
		if expType == db.ExperienceSuccess {
			effectiveness = 1.0
		}
		id, err := store.Insert(&db.Experience{
			TenantID:   tenantID,
			Type:       expType,
			AgentID:    "agent-1",
			Conditions: "chat",
			Model:      model,
			Outcome:    db.ExperienceOutcome{Effectiveness: effectiveness},
		})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		ids = append(ids, id)
		time.Sleep(time.Millisecond) // distinct created_at for stable ordering
	}
	return ids
}

func TestCycleNudgesConfidenceUpOnSuccess(t *testing.T) {
	store := openTestStore(t)
	insertExperiences(t, store, "tenant-1", "model-a", db.ExperienceSuccess, 10)

	loop := NewLoop(store, nil, nil, time.Minute)
	loop.Cycle(context.Background())

	mc, err := store.Confidence("model-a")
	if err != nil {
		t.Fatal(err)
	}
	if mc == nil {
		t.Fatal("expected confidence state for model-a")
	}
	// New state starts at 0.5; a fully successful window adds 0.05
	if mc.Confidence < 0.549 || mc.Confidence > 0.551 {
		t.Errorf("expected confidence near 0.55, got %.3f", mc.Confidence)
	}
	// Accuracy moves toward the window ratio by the EMA weight
	if mc.Accuracy < 0.649 || mc.Accuracy > 0.651 {
		t.Errorf("expected accuracy near 0.65, got %.3f", mc.Accuracy)
	}
	if mc.Samples != 10 {
		t.Errorf("expected 10 samples, got %d", mc.Samples)
	}
}

func TestCycleNudgesConfidenceDownOnFailure(t *testing.T) {
	store := openTestStore(t)
	insertExperiences(t, store, "tenant-1", "model-a", db.ExperienceFailure, 10)

	loop := NewLoop(store, nil, nil, time.Minute)
	loop.Cycle(context.Background())

	mc, _ := store.Confidence("model-a")
	if mc == nil {
		t.Fatal("expected confidence state for model-a")
	}
	if mc.Confidence < 0.399 || mc.Confidence > 0.401 {
		t.Errorf("expected confidence near 0.40, got %.3f", mc.Confidence)
	}
}

func TestCycleClampsConfidenceFloor(t *testing.T) {
	store := openTestStore(t)
	if err := store.UpsertConfidence(&db.ModelConfidence{
		Model: "model-a", Confidence: 0.12, Accuracy: 0.5,
	}); err != nil {
		t.Fatal(err)
	}
	insertExperiences(t, store, "tenant-1", "model-a", db.ExperienceFailure, 5)

	loop := NewLoop(store, nil, nil, time.Minute)
	loop.Cycle(context.Background())

	mc, _ := store.Confidence("model-a")
	if mc.Confidence != 0.1 {
		t.Errorf("expected confidence clamped at 0.1, got %.3f", mc.Confidence)
	}
}

func TestCycleSynthesizesOneStrategyPerWindow(t *testing.T) {
	store := openTestStore(t)
	insertExperiences(t, store, "tenant-1", "model-a", db.ExperienceFailure, 3)

	loop := NewLoop(store, nil, nil, time.Minute)
	loop.Cycle(context.Background())

	strategies, err := store.Strategies("tenant-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(strategies) != 1 {
		t.Fatalf("expected exactly one strategy, got %d", len(strategies))
	}
	if strategies[0].Type != "evolutionary" {
		t.Errorf("expected evolutionary strategy, got %s", strategies[0].Type)
	}
	if strategies[0].Marker == "" {
		t.Error("strategy must carry a window marker")
	}

	// Re-running the cycle over the same window must not duplicate
	loop.Cycle(context.Background())
	loop.Cycle(context.Background())
	strategies, _ = store.Strategies("tenant-1")
	if len(strategies) != 1 {
		t.Errorf("expected still one strategy after repeat cycles, got %d", len(strategies))
	}

	// A fourth failure extends the same streak: the marker is keyed on the
	// streak's oldest failure, so the next cycle must not add a duplicate.
	insertExperiences(t, store, "tenant-1", "model-a", db.ExperienceFailure, 1)
	loop.Cycle(context.Background())
	loop.Cycle(context.Background())
	strategies, _ = store.Strategies("tenant-1")
	if len(strategies) != 1 {
		t.Errorf("expected still one strategy after a fourth failure, got %d", len(strategies))
	}

	// Once enough successes push the old failures out of the window, a fresh
	// failure streak carries a new marker and earns a second strategy.
	insertExperiences(t, store, "tenant-1", "model-a", db.ExperienceSuccess, 50)
	insertExperiences(t, store, "tenant-1", "model-a", db.ExperienceFailure, 3)
	loop.Cycle(context.Background())
	strategies, _ = store.Strategies("tenant-1")
	if len(strategies) != 2 {
		t.Errorf("expected a second strategy for the new window, got %d", len(strategies))
	}
}

func TestCycleBelowFailureThresholdNoStrategy(t *testing.T) {
	store := openTestStore(t)
	insertExperiences(t, store, "tenant-1", "model-a", db.ExperienceFailure, 2)

	loop := NewLoop(store, nil, nil, time.Minute)
	loop.Cycle(context.Background())

	strategies, _ := store.Strategies("tenant-1")
	if len(strategies) != 0 {
		t.Errorf("expected no strategy below the failure threshold, got %d", len(strategies))
	}
}

func TestRecorderFeedbackRoundTrip(t *testing.T) {
	store := openTestStore(t)
	recorder := NewRecorder(store, nil)

	id, err := recorder.Record(&db.Experience{
		TenantID: "tenant-1",
		Type:     db.ExperienceSuccess,
		AgentID:  "agent-1",
		Inputs:   "summarize the report",
		Actions:  []string{"echo"},
		Model:    "model-a",
		Outcome:  db.ExperienceOutcome{Effectiveness: 0.9, DurationMs: 120},
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	delayed := 0.8
	err = recorder.UpdateFeedback("tenant-1", id, db.ExperienceFeedback{
		Immediate:  0.9,
		Delayed:    &delayed,
		Source:     "user",
		Confidence: 0.75,
	}, "great summary")
	if err != nil {
		t.Fatalf("UpdateFeedback failed: %v", err)
	}

	got, err := store.Get("tenant-1", id)
	if err != nil {
		t.Fatal(err)
	}
	// Feedback lands without disturbing the original record
	if got.Feedback.Immediate != 0.9 || got.Feedback.Source != "user" {
		t.Errorf("feedback not applied: %+v", got.Feedback)
	}
	if got.Feedback.Delayed == nil || *got.Feedback.Delayed != 0.8 {
		t.Errorf("delayed feedback lost: %+v", got.Feedback.Delayed)
	}
	if got.Inputs != "summarize the report" || got.Outcome.Effectiveness != 0.9 {
		t.Errorf("original fields disturbed: %+v", got)
	}
	if len(got.Actions) != 1 || got.Actions[0] != "echo" {
		t.Errorf("actions disturbed: %+v", got.Actions)
	}
	// The comment becomes exactly one reflection
	if len(got.Reflections) != 1 || got.Reflections[0] != "great summary" {
		t.Errorf("expected one reflection, got %+v", got.Reflections)
	}
}
