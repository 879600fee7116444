// Package policy defines the gate consulted before any capability dispatch.
package policy

import (
	"context"

	"github.com/rohanthewiz/serr"

	"loom/db"
)

// Decision is the gate's answer for one (tenant, subject, action) triple
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Gate answers "may agent A perform action B for tenant T"
type Gate interface {
	CanPerformAction(ctx context.Context, tenantID, subject, action string) (Decision, error)
}

// AllowAll permits every action. Useful for tests and single-tenant setups.
type AllowAll struct{}

func (AllowAll) CanPerformAction(_ context.Context, _, _, _ string) (Decision, error) {
	return Decision{Allowed: true}, nil
}

// DenyList denies the listed actions and allows everything else
type DenyList struct {
	Actions map[string]string // action -> denial reason
}

func (d DenyList) CanPerformAction(_ context.Context, _, _, action string) (Decision, error) {
	if reason, ok := d.Actions[action]; ok {
		return Decision{Allowed: false, Reason: reason}, nil
	}
	return Decision{Allowed: true}, nil
}

// StoreGate answers from persisted action permissions. An explicit denied
// rule denies with its reason; anything else is allowed (rules are an
// administrative deny-list, not a capability whitelist).
type StoreGate struct {
	store *db.PermissionStore
}

// NewStoreGate creates a gate backed by the permission store
func NewStoreGate(store *db.PermissionStore) *StoreGate {
	return &StoreGate{store: store}
}

func (g *StoreGate) CanPerformAction(_ context.Context, tenantID, subject, action string) (Decision, error) {
	perm, err := g.store.Get(tenantID, subject, action)
	if err != nil {
		return Decision{}, serr.Wrap(err, "failed to evaluate action permission")
	}
	if perm != nil && perm.Permission == db.PermissionDenied {
		reason := perm.Reason
		if reason == "" {
			reason = "action denied by policy"
		}
		return Decision{Allowed: false, Reason: reason}, nil
	}
	return Decision{Allowed: true}, nil
}
