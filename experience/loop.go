package experience

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rohanthewiz/logger"

	"loom/db"
	"loom/providers"
)

const (
	cycleWindow   = 50 // experiences examined per cycle
	successFloor  = 0.7
	failureCeil   = 0.3
	feedbackHigh  = 0.7
	feedbackLow   = 0.4
	confidenceMin = 0.1
	confidenceMax = 1.0
	accuracyAlpha = 0.3 // EMA weight toward the latest window's ratio

	// tenants with this many failures in one window get a synthesized
	// strategy
	failureThreshold = 3
)

// Loop periodically folds recent experiences into model confidence state
// and synthesizes adaptation strategies for tenants on a losing streak.
// Every error inside a cycle is logged and swallowed; adaptation never
// takes down the service.
type Loop struct {
	store    *db.ExperienceStore
	router   *providers.Router
	client   providers.ReasoningClient
	interval time.Duration
	kick     chan struct{}
}

// NewLoop creates the adaptation loop. router and client may be nil, in
// which case strategies are built from a template instead of a reasoning
// call.
func NewLoop(store *db.ExperienceStore, router *providers.Router, client providers.ReasoningClient, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Loop{
		store:    store,
		router:   router,
		client:   client,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Notify requests an out-of-band cycle, e.g. right after feedback lands.
// Non-blocking; a pending request is collapsed into one.
func (l *Loop) Notify() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// Run drives cycles until the context is cancelled
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Adaptation loop stopped")
			return
		case <-ticker.C:
			l.Cycle(ctx)
		case <-l.kick:
			l.Cycle(ctx)
		}
	}
}

// Cycle runs one adaptation pass over the most recent experiences
func (l *Loop) Cycle(ctx context.Context) {
	exps, err := l.store.Recent(cycleWindow)
	if err != nil {
		logger.LogErr(err, "adaptation cycle: failed to load experiences")
		return
	}
	if len(exps) == 0 {
		return
	}

	l.updateConfidence(exps)
	l.synthesizeStrategies(ctx, exps)
}

func isSuccess(exp *db.Experience) bool {
	return exp.Type == db.ExperienceSuccess || exp.Outcome.Effectiveness > 0.8
}

func isFailure(exp *db.Experience) bool {
	return exp.Type == db.ExperienceFailure
}

// updateConfidence nudges per-model confidence based on the window's
// overall success ratio and explicit feedback
func (l *Loop) updateConfidence(exps []*db.Experience) {
	var successes int
	var feedbackSum float64
	var feedbackN int
	perModel := map[string]int{}

	for _, exp := range exps {
		if isSuccess(exp) {
			successes++
		}
		if exp.Feedback.Source != "" || exp.Feedback.Immediate > 0 {
			feedbackSum += exp.Feedback.Immediate
			feedbackN++
		}
		if exp.Model != "" {
			perModel[exp.Model]++
		}
	}

	ratio := float64(successes) / float64(len(exps))
	var avgFeedback float64
	if feedbackN > 0 {
		avgFeedback = feedbackSum / float64(feedbackN)
	}

	for model, samples := range perModel {
		state, err := l.store.Confidence(model)
		if err != nil {
			logger.LogErr(err, "adaptation cycle: failed to load confidence", "model", model)
			continue
		}
		if state == nil {
			state = &db.ModelConfidence{Model: model, Confidence: 0.5, Accuracy: 0.5}
		}

		switch {
		case ratio >= successFloor:
			state.Confidence += 0.05
		case ratio <= failureCeil:
			state.Confidence -= 0.10
		}
		if feedbackN > 0 {
			switch {
			case avgFeedback >= feedbackHigh:
				state.Confidence += 0.05
			case avgFeedback <= feedbackLow:
				state.Confidence -= 0.05
			}
		}
		state.Confidence = clamp(state.Confidence, confidenceMin, confidenceMax)
		state.Accuracy = (1-accuracyAlpha)*state.Accuracy + accuracyAlpha*ratio
		state.Samples += samples

		if err := l.store.UpsertConfidence(state); err != nil {
			logger.LogErr(err, "adaptation cycle: failed to save confidence", "model", model)
		}
	}
}

// synthesizeStrategies creates at most one evolutionary strategy per tenant
// per failure window. The marker is the oldest failure id of the streak, which
// stays stable as later failures extend the window, so repeated cycles do not
// produce duplicates.
func (l *Loop) synthesizeStrategies(ctx context.Context, exps []*db.Experience) {
	type streak struct {
		failures []*db.Experience
	}
	byTenant := map[string]*streak{}
	for _, exp := range exps {
		if !isFailure(exp) {
			continue
		}
		st := byTenant[exp.TenantID]
		if st == nil {
			st = &streak{}
			byTenant[exp.TenantID] = st
		}
		st.failures = append(st.failures, exp)
	}

	for tenantID, st := range byTenant {
		if len(st.failures) < failureThreshold {
			continue
		}
		// Recent() returns newest first, so the streak's oldest failure is last
		marker := st.failures[len(st.failures)-1].ID

		seen, err := l.store.HasStrategyMarker(tenantID, marker)
		if err != nil {
			logger.LogErr(err, "adaptation cycle: failed to check strategy marker", "tenant", tenantID)
			continue
		}
		if seen {
			continue
		}

		strategy := l.buildStrategy(ctx, tenantID, st.failures)
		strategy.Marker = marker
		if err := l.store.InsertStrategy(strategy); err != nil {
			logger.LogErr(err, "adaptation cycle: failed to save strategy", "tenant", tenantID)
			continue
		}
		logger.Info("Synthesized adaptation strategy", "tenant", tenantID, "failures", len(st.failures))
	}
}

// buildStrategy asks a reasoning model to distill the failure streak into a
// condition/action rule. Falls back to a templated rule when no client is
// wired or the call fails.
func (l *Loop) buildStrategy(ctx context.Context, tenantID string, failures []*db.Experience) *db.AdaptationStrategy {
	fallback := &db.AdaptationStrategy{
		TenantID:  tenantID,
		Type:      "evolutionary",
		Condition: commonConditions(failures),
		Action:    "decompose the objective into smaller verifiable tasks before acting",
		Reason:    "repeated failures under similar conditions",
	}

	if l.router == nil || l.client == nil {
		return fallback
	}

	var b strings.Builder
	b.WriteString("These recent attempts failed:\n")
	for i, exp := range failures {
		if i >= 5 {
			break
		}
		b.WriteString("- conditions: ")
		b.WriteString(exp.Conditions)
		if len(exp.Actions) > 0 {
			b.WriteString("; actions: ")
			b.WriteString(strings.Join(exp.Actions, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\nReturn a JSON object {\"condition\": ..., \"action\": ..., \"reason\": ...} describing one rule that would avoid these failures.")

	req := providers.Request{
		Capability: "analysis",
		Messages: []providers.Message{
			{Role: "user", Content: b.String()},
		},
	}
	sel, err := l.router.Route(tenantID, req)
	if err != nil {
		logger.LogErr(err, "adaptation cycle: routing failed for strategy synthesis", "tenant", tenantID)
		return fallback
	}
	resp, err := l.client.Complete(ctx, sel, req)
	if err != nil {
		logger.LogErr(err, "adaptation cycle: strategy synthesis call failed", "tenant", tenantID)
		return fallback
	}

	var parsed struct {
		Condition string `json:"condition"`
		Action    string `json:"action"`
		Reason    string `json:"reason"`
	}
	text := strings.TrimSpace(resp.Text)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil || parsed.Action == "" {
		return fallback
	}

	return &db.AdaptationStrategy{
		TenantID:  tenantID,
		Type:      "evolutionary",
		Condition: parsed.Condition,
		Action:    parsed.Action,
		Reason:    parsed.Reason,
	}
}

// commonConditions picks the most frequent non-empty condition string among
// the failures, or a generic marker when none is recorded
func commonConditions(failures []*db.Experience) string {
	counts := map[string]int{}
	best := ""
	for _, exp := range failures {
		if exp.Conditions == "" {
			continue
		}
		counts[exp.Conditions]++
		if best == "" || counts[exp.Conditions] > counts[best] {
			best = exp.Conditions
		}
	}
	if best == "" {
		return "repeated task failures"
	}
	return best
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
