package providers

import (
	"fmt"
	"sort"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"loom/config"
	"loom/db"
)

// Message is one chat message in a reasoning request
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a routed reasoning request
type Request struct {
	Capability     string    `json:"capability"`
	Messages       []Message `json:"messages"`
	Temperature    *float64  `json:"temperature,omitempty"`
	Stream         bool      `json:"stream,omitempty"`
	HighImportance bool      `json:"high_importance,omitempty"`
}

// Selection is the router's answer: exactly one provider plus a resolved
// credential.
type Selection struct {
	TenantID       string
	Provider       ProviderConfig
	Credential     string
	PlatformBilled bool
	Complexity     float64
}

// MissingCredentialError is fatal to the calling request: no usable key
// exists for the selected provider family.
type MissingCredentialError struct {
	Family string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("no usable credential for provider family %q", e.Family)
}

// TenantConfigSource supplies per-tenant routing configuration
type TenantConfigSource interface {
	CostMode(tenantID string) (db.AICostMode, error)
	Credential(tenantID, family string) (string, error)
}

// ConfidenceSource supplies the adaptive per-model confidence score. The
// router only reads it; the adaptation loop owns it.
type ConfidenceSource interface {
	Confidence(model string) (*db.ModelConfidence, error)
}

// Router picks one provider per reasoning request under the tenant's
// cost/quality/ownership policy.
type Router struct {
	registry    *Registry
	tenants     TenantConfigSource
	confidence  ConfidenceSource
	platformKey func(family string) string
}

// NewRouter builds a router. confidence may be nil when no adaptation state
// is available yet.
func NewRouter(registry *Registry, tenants TenantConfigSource, confidence ConfidenceSource) *Router {
	return &Router{
		registry:    registry,
		tenants:     tenants,
		confidence:  confidence,
		platformKey: config.PlatformKey,
	}
}

// SetPlatformKeyLookup overrides the platform credential lookup (tests)
func (r *Router) SetPlatformKeyLookup(fn func(family string) string) {
	r.platformKey = fn
}

// Route returns exactly one provider plus a resolved credential for the
// request, or a typed error. The router never retries; retry policy belongs
// to the orchestrator.
func (r *Router) Route(tenantID string, req Request) (*Selection, error) {
	score := r.complexityScore(req)

	candidates := r.registry.ByCapability(req.Capability)
	if len(candidates) == 0 {
		return nil, serr.New("no provider supports capability: " + req.Capability)
	}

	mode, err := r.tenants.CostMode(tenantID)
	if err != nil {
		return nil, serr.Wrap(err, "failed to resolve tenant cost mode")
	}

	available, err := r.available(tenantID, mode, candidates)
	if err != nil {
		return nil, err
	}

	if len(available) == 0 {
		// Intentional: fall through with the first capability match so the
		// caller sees a clear missing-key error from credential resolution
		// instead of a generic "no provider".
		available = candidates[:1]
	}

	sort.SliceStable(available, func(i, j int) bool {
		ci := r.registry.Rate(available[i].Family).Average()
		cj := r.registry.Rate(available[j].Family).Average()
		if ci != cj {
			return ci < cj
		}
		return r.modelConfidence(available[i].Model) > r.modelConfidence(available[j].Model)
	})

	chosen := r.pickByComplexity(available, score)

	credential, platformBilled, err := r.resolveCredential(tenantID, mode, chosen.Family)
	if err != nil {
		return nil, err
	}

	logger.Debug("Routed reasoning request",
		"tenant", tenantID,
		"provider", chosen.Name,
		"model", chosen.Model,
		"complexity", fmt.Sprintf("%.2f", score),
		"platform_billed", platformBilled)

	return &Selection{
		TenantID:       tenantID,
		Provider:       chosen,
		Credential:     credential,
		PlatformBilled: platformBilled,
		Complexity:     score,
	}, nil
}

const (
	payloadLenCap   = 4000.0
	payloadWeight   = 0.5
	analysisBonus   = 0.25
	codeBonus       = 0.2
	importanceBonus = 0.25
	highComplexity  = 0.7
	lowComplexity   = 0.3
)

// complexityScore estimates request complexity in [0,1] from payload length,
// capability tag, and declared business importance.
func (r *Router) complexityScore(req Request) float64 {
	var payloadLen int
	for _, m := range req.Messages {
		payloadLen += len(m.Content)
	}

	lengthPart := float64(payloadLen) / payloadLenCap
	if lengthPart > 1 {
		lengthPart = 1
	}
	score := lengthPart * payloadWeight

	switch req.Capability {
	case CapabilityAnalysis:
		score += analysisBonus
	case CapabilityCode:
		score += codeBonus
	}
	if req.HighImportance {
		score += importanceBonus
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// available filters candidates by the tenant's AI-cost mode
func (r *Router) available(tenantID string, mode db.AICostMode, candidates []ProviderConfig) ([]ProviderConfig, error) {
	var out []ProviderConfig
	for _, p := range candidates {
		hasPlatform := r.platformKey(p.Family) != ""

		var hasTenant bool
		if mode == db.CostModeBYOK || mode == db.CostModeHybrid {
			key, err := r.tenants.Credential(tenantID, p.Family)
			if err != nil {
				return nil, serr.Wrap(err, "failed to look up tenant credential")
			}
			hasTenant = key != ""
		}

		switch mode {
		case db.CostModeManaged:
			if hasPlatform {
				out = append(out, p)
			}
		case db.CostModeBYOK:
			if hasTenant {
				out = append(out, p)
			}
		case db.CostModeHybrid:
			if hasPlatform || hasTenant {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// pickByComplexity buckets the cost-sorted candidates by tier preference and
// returns the cheapest within the preferred bucket.
func (r *Router) pickByComplexity(sorted []ProviderConfig, score float64) ProviderConfig {
	var preferences [][]CostTier
	switch {
	case score > highComplexity:
		preferences = [][]CostTier{{TierHigh, TierMedium}}
	case score < lowComplexity:
		preferences = [][]CostTier{{TierLow}, {TierMedium}}
	default:
		preferences = [][]CostTier{{TierLow, TierMedium}}
	}

	for _, tiers := range preferences {
		for _, p := range sorted {
			for _, tier := range tiers {
				if p.Tier == tier {
					return p
				}
			}
		}
	}

	// No candidate in any preferred bucket: fall back to cheapest overall
	return sorted[0]
}

// resolveCredential returns the key for the chosen family. managed and
// hybrid try the platform key first; byok (and hybrid without a platform
// key) use the tenant's stored <FAMILY>_API_KEY.
func (r *Router) resolveCredential(tenantID string, mode db.AICostMode, family string) (string, bool, error) {
	if mode == db.CostModeManaged || mode == db.CostModeHybrid {
		if key := r.platformKey(family); key != "" {
			return key, true, nil
		}
	}

	if mode == db.CostModeBYOK || mode == db.CostModeHybrid {
		key, err := r.tenants.Credential(tenantID, family)
		if err != nil {
			return "", false, serr.Wrap(err, "failed to look up tenant credential")
		}
		if key != "" {
			return key, false, nil
		}
	}

	return "", false, &MissingCredentialError{Family: family}
}

func (r *Router) modelConfidence(model string) float64 {
	if r.confidence == nil {
		return 0
	}
	mc, err := r.confidence.Confidence(model)
	if err != nil || mc == nil {
		return 0
	}
	return mc.Confidence
}
