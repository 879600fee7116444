package providers

// CostTier buckets providers by unit price
type CostTier string

const (
	TierLow    CostTier = "low"
	TierMedium CostTier = "medium"
	TierHigh   CostTier = "high"
)

// Capability tags understood by the router
const (
	CapabilityChat     = "chat"
	CapabilityCode     = "code"
	CapabilityAnalysis = "analysis"
)

// ProviderConfig describes one upstream reasoning provider. Configs are
// immutable after registration.
type ProviderConfig struct {
	Name         string   `json:"name"`
	Family       string   `json:"family"`
	Capabilities []string `json:"capabilities"`
	Model        string   `json:"model"`
	Tier         CostTier `json:"tier"`
}

// Supports reports whether the config carries the capability tag
func (p ProviderConfig) Supports(capability string) bool {
	for _, c := range p.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// CostRate is the unit price for a provider family, per million tokens.
// Rates are keyed by family, not by individual config, so multiple configs
// share a price point.
type CostRate struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// Average of the input and output unit prices, used for cost sorting
func (r CostRate) Average() float64 {
	return (r.Input + r.Output) / 2
}

// Registry holds the provider catalog and family price table. It is
// read-only after construction, so concurrent readers need no locking.
type Registry struct {
	catalog []ProviderConfig
	rates   map[string]CostRate
}

// NewRegistry builds a registry from a catalog and family rate table
func NewRegistry(catalog []ProviderConfig, rates map[string]CostRate) *Registry {
	cat := make([]ProviderConfig, len(catalog))
	copy(cat, catalog)
	rt := make(map[string]CostRate, len(rates))
	for k, v := range rates {
		rt[k] = v
	}
	return &Registry{catalog: cat, rates: rt}
}

// DefaultRegistry returns the built-in provider catalog
func DefaultRegistry() *Registry {
	return NewRegistry(
		[]ProviderConfig{
			{Name: "openai-flagship", Family: "openai", Model: "gpt-4o",
				Capabilities: []string{CapabilityChat, CapabilityAnalysis}, Tier: TierHigh},
			{Name: "openai-mini", Family: "openai", Model: "gpt-4o-mini",
				Capabilities: []string{CapabilityChat, CapabilityCode}, Tier: TierLow},
			{Name: "anthropic-sonnet", Family: "anthropic", Model: "claude-sonnet-4-20250514",
				Capabilities: []string{CapabilityChat, CapabilityCode, CapabilityAnalysis}, Tier: TierMedium},
			{Name: "anthropic-haiku", Family: "anthropic", Model: "claude-3-5-haiku-20241022",
				Capabilities: []string{CapabilityChat}, Tier: TierLow},
			{Name: "deepseek-coder", Family: "deepseek", Model: "deepseek-chat",
				Capabilities: []string{CapabilityChat, CapabilityCode}, Tier: TierLow},
		},
		map[string]CostRate{
			"openai":    {Input: 2.50, Output: 10.00},
			"anthropic": {Input: 3.00, Output: 15.00},
			"deepseek":  {Input: 0.27, Output: 1.10},
		},
	)
}

// Catalog returns a copy of the provider catalog
func (r *Registry) Catalog() []ProviderConfig {
	out := make([]ProviderConfig, len(r.catalog))
	copy(out, r.catalog)
	return out
}

// ByCapability returns all catalog entries supporting the capability tag,
// in registration order.
func (r *Registry) ByCapability(capability string) []ProviderConfig {
	var out []ProviderConfig
	for _, p := range r.catalog {
		if p.Supports(capability) {
			out = append(out, p)
		}
	}
	return out
}

// Rate returns the price point for a provider family
func (r *Registry) Rate(family string) CostRate {
	return r.rates[family]
}

// Cost computes the price of a call for a family at the given token counts
func (r *Registry) Cost(family string, inputTokens, outputTokens int) float64 {
	rate := r.rates[family]
	return rate.Input*float64(inputTokens)/1e6 + rate.Output*float64(outputTokens)/1e6
}
