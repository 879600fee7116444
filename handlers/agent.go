package handlers

import (
	"context"
	"encoding/json"

	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
)

// runTimeout bounds one agent pass so a stuck upstream call cannot pin the
// handler goroutine forever.
const runTimeout = 5 * time.Minute

// RunRequest asks for one agent pass against an objective
type RunRequest struct {
	TenantID  string `json:"tenant_id"`
	AgentID   string `json:"agent_id"`
	Objective string `json:"objective"`
	Input     string `json:"input,omitempty"`
}

func (h *Handlers) runAgentHandler(c rweb.Context) error {
	body := c.Request().Body()
	var req RunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return c.WriteError(serr.Wrap(err, "invalid request body"), 400)
	}
	if req.TenantID == "" || req.AgentID == "" || req.Objective == "" {
		return c.WriteError(serr.New("tenant_id, agent_id, and objective are required"), 400)
	}

	logger.Info("Running agent pass", "tenant", req.TenantID, "agent", req.AgentID)

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	result, err := h.orch.RunAgent(ctx, req.TenantID, req.AgentID, req.Objective, req.Input)
	if err != nil {
		return c.WriteError(serr.Wrap(err, "agent run failed"), 500)
	}
	return c.WriteJSON(result)
}
