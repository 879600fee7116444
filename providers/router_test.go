package providers

import (
	"errors"
	"strings"
	"testing"

	"loom/db"
)

type fakeTenants struct {
	mode db.AICostMode
	keys map[string]string
}

func (f *fakeTenants) CostMode(string) (db.AICostMode, error) { return f.mode, nil }
func (f *fakeTenants) Credential(_, family string) (string, error) {
	return f.keys[family], nil
}

type fakeConfidence map[string]float64

func (f fakeConfidence) Confidence(model string) (*db.ModelConfidence, error) {
	if v, ok := f[model]; ok {
		return &db.ModelConfidence{Model: model, Confidence: v}, nil
	}
	return nil, nil
}

func allPlatformKeys(string) string { return "platform-key" }

func TestRouteHighComplexityPrefersCapableTier(t *testing.T) {
	router := NewRouter(DefaultRegistry(), &fakeTenants{mode: db.CostModeManaged}, nil)
	router.SetPlatformKeyLookup(allPlatformKeys)

	// Long analysis payload marked important scores well above the high
	// complexity threshold.
	req := Request{
		Capability:     CapabilityAnalysis,
		Messages:       []Message{{Role: "user", Content: strings.Repeat("x", 5000)}},
		HighImportance: true,
	}
	sel, err := router.Route("tenant-1", req)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if sel.Provider.Tier == TierLow {
		t.Errorf("high complexity request routed to low tier: %+v", sel.Provider)
	}
	// Cheapest within the high/medium bucket, not the cheapest overall
	if sel.Provider.Model != "gpt-4o" {
		t.Errorf("expected gpt-4o, got %s", sel.Provider.Model)
	}
	if sel.Complexity <= 0.7 {
		t.Errorf("expected complexity above 0.7, got %.2f", sel.Complexity)
	}
}

func TestRouteLowComplexityPicksCheapest(t *testing.T) {
	router := NewRouter(DefaultRegistry(), &fakeTenants{mode: db.CostModeManaged}, nil)
	router.SetPlatformKeyLookup(allPlatformKeys)

	req := Request{
		Capability: CapabilityChat,
		Messages:   []Message{{Role: "user", Content: "hi"}},
	}
	sel, err := router.Route("tenant-1", req)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if sel.Provider.Model != "deepseek-chat" {
		t.Errorf("expected cheapest low-tier provider, got %s", sel.Provider.Model)
	}
	if !sel.PlatformBilled {
		t.Error("managed mode should bill the platform")
	}
	if sel.Credential != "platform-key" {
		t.Errorf("expected platform credential, got %q", sel.Credential)
	}
}

func TestRouteLowComplexityFallsBackToMedium(t *testing.T) {
	// A catalog with no low tier at all: a simple request must settle for
	// medium rather than fail or overpay for high.
	registry := NewRegistry(
		[]ProviderConfig{
			{Name: "big", Family: "openai", Model: "gpt-4o",
				Capabilities: []string{CapabilityChat}, Tier: TierHigh},
			{Name: "mid", Family: "anthropic", Model: "claude-sonnet-4-20250514",
				Capabilities: []string{CapabilityChat}, Tier: TierMedium},
		},
		map[string]CostRate{
			"openai":    {Input: 2.50, Output: 10.00},
			"anthropic": {Input: 3.00, Output: 15.00},
		},
	)
	router := NewRouter(registry, &fakeTenants{mode: db.CostModeManaged}, nil)
	router.SetPlatformKeyLookup(allPlatformKeys)

	sel, err := router.Route("tenant-1", Request{
		Capability: CapabilityChat,
		Messages:   []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if sel.Provider.Tier != TierMedium {
		t.Errorf("expected medium tier fallback, got %s (%s)", sel.Provider.Tier, sel.Provider.Model)
	}
}

func TestRouteBYOKWithoutKeyFailsTyped(t *testing.T) {
	router := NewRouter(DefaultRegistry(), &fakeTenants{mode: db.CostModeBYOK}, nil)
	router.SetPlatformKeyLookup(allPlatformKeys) // platform keys must not leak into byok

	_, err := router.Route("tenant-1", Request{
		Capability: CapabilityChat,
		Messages:   []Message{{Role: "user", Content: "hi"}},
	})
	var missing *MissingCredentialError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingCredentialError, got %v", err)
	}
	if missing.Family == "" {
		t.Error("expected the error to name the provider family")
	}
}

func TestRouteBYOKUsesTenantKey(t *testing.T) {
	tenants := &fakeTenants{
		mode: db.CostModeBYOK,
		keys: map[string]string{"deepseek": "tenant-secret"},
	}
	router := NewRouter(DefaultRegistry(), tenants, nil)
	router.SetPlatformKeyLookup(func(string) string { return "" })

	sel, err := router.Route("tenant-1", Request{
		Capability: CapabilityChat,
		Messages:   []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if sel.Provider.Family != "deepseek" {
		t.Errorf("expected the only keyed family, got %s", sel.Provider.Family)
	}
	if sel.Credential != "tenant-secret" {
		t.Errorf("expected tenant credential, got %q", sel.Credential)
	}
	if sel.PlatformBilled {
		t.Error("byok selection must not be platform billed")
	}
}

func TestRouteConfidenceBreaksCostTies(t *testing.T) {
	// Two low-tier models in the same family share a price point, so only
	// confidence separates them.
	registry := NewRegistry(
		[]ProviderConfig{
			{Name: "a", Family: "openai", Model: "model-a",
				Capabilities: []string{CapabilityChat}, Tier: TierLow},
			{Name: "b", Family: "openai", Model: "model-b",
				Capabilities: []string{CapabilityChat}, Tier: TierLow},
		},
		map[string]CostRate{"openai": {Input: 1, Output: 1}},
	)
	confidence := fakeConfidence{"model-a": 0.2, "model-b": 0.9}
	router := NewRouter(registry, &fakeTenants{mode: db.CostModeManaged}, confidence)
	router.SetPlatformKeyLookup(allPlatformKeys)

	sel, err := router.Route("tenant-1", Request{
		Capability: CapabilityChat,
		Messages:   []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if sel.Provider.Model != "model-b" {
		t.Errorf("expected the higher confidence model, got %s", sel.Provider.Model)
	}
}
