package handlers

import (
	"encoding/json"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"

	"loom/db"
)

func (h *Handlers) listProvidersHandler(c rweb.Context) error {
	return c.WriteJSON(h.providers.Catalog())
}

func (h *Handlers) usageHandler(c rweb.Context) error {
	tenantID := c.Request().QueryParam("tenant_id")
	if tenantID == "" {
		return c.WriteError(serr.New("tenant_id query param is required"), 400)
	}

	usage, err := h.billing.Usage(tenantID)
	if err != nil {
		return c.WriteError(serr.Wrap(err, "failed to load usage"), 500)
	}
	lines, err := h.billing.Lines(tenantID, 50)
	if err != nil {
		return c.WriteError(serr.Wrap(err, "failed to load billing lines"), 500)
	}
	return c.WriteJSON(map[string]interface{}{
		"usage": usage,
		"lines": lines,
	})
}

// policyRequest grants or denies an action for a tenant's agents
type policyRequest struct {
	TenantID      string `json:"tenant_id"`
	Subject       string `json:"subject"` // agent id, or "*" for all agents
	Action        string `json:"action"`
	Permission    string `json:"permission"` // allowed or denied
	Reason        string `json:"reason,omitempty"`
	ExpiresInSecs int64  `json:"expires_in_secs,omitempty"`
}

func (h *Handlers) setPolicyHandler(c rweb.Context) error {
	var req policyRequest
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "invalid request body"), 400)
	}
	if req.TenantID == "" || req.Action == "" {
		return c.WriteError(serr.New("tenant_id and action are required"), 400)
	}

	perm := db.PermissionType(req.Permission)
	if perm != db.PermissionAllowed && perm != db.PermissionDenied {
		return c.WriteError(serr.New("permission must be allowed or denied"), 400)
	}
	subject := req.Subject
	if subject == "" {
		subject = "*"
	}

	expiry := time.Duration(req.ExpiresInSecs) * time.Second
	if err := h.permissions.Set(req.TenantID, subject, req.Action, perm, req.Reason, expiry); err != nil {
		return c.WriteError(serr.Wrap(err, "failed to save permission"), 500)
	}

	logger.Info("Policy updated", "tenant", req.TenantID, "action", req.Action, "permission", req.Permission)
	return c.WriteJSON(map[string]bool{"success": true})
}

// costModeRequest switches a tenant between managed, byok, and hybrid billing
type costModeRequest struct {
	TenantID string `json:"tenant_id"`
	Mode     string `json:"mode"`
}

func (h *Handlers) setCostModeHandler(c rweb.Context) error {
	var req costModeRequest
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "invalid request body"), 400)
	}

	mode := db.AICostMode(req.Mode)
	switch mode {
	case db.CostModeManaged, db.CostModeBYOK, db.CostModeHybrid:
	default:
		return c.WriteError(serr.New("mode must be managed, byok, or hybrid"), 400)
	}

	if err := h.tenants.SetCostMode(req.TenantID, mode); err != nil {
		return c.WriteError(serr.Wrap(err, "failed to set cost mode"), 500)
	}
	return c.WriteJSON(map[string]bool{"success": true})
}
