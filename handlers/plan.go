package handlers

import (
	"encoding/json"
	"errors"

	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"

	"loom/db"
)

func (h *Handlers) activePlanHandler(c rweb.Context) error {
	tenantID := c.Request().QueryParam("tenant_id")
	agentID := c.Request().QueryParam("agent_id")
	if tenantID == "" || agentID == "" {
		return c.WriteError(serr.New("tenant_id and agent_id query params are required"), 400)
	}

	plan, err := h.plans.GetActivePlan(agentID, tenantID)
	if errors.Is(err, db.ErrPlanNotFound) {
		return c.WriteError(serr.New("no active plan"), 404)
	}
	if err != nil {
		return c.WriteError(serr.Wrap(err, "failed to load plan"), 500)
	}
	return c.WriteJSON(plan)
}

func (h *Handlers) planTasksHandler(c rweb.Context) error {
	planID := c.Request().Param("id")
	tasks, err := h.plans.PlanTasks(planID)
	if err != nil {
		return c.WriteError(serr.Wrap(err, "failed to load tasks"), 500)
	}
	return c.WriteJSON(tasks)
}

// taskStatusRequest moves a task through its lifecycle
type taskStatusRequest struct {
	Status   db.TaskStatus          `json:"status"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (h *Handlers) updateTaskStatusHandler(c rweb.Context) error {
	taskID := c.Request().Param("id")

	var req taskStatusRequest
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "invalid request body"), 400)
	}

	err := h.plans.UpdateTaskStatus(taskID, req.Status, req.Metadata)
	switch {
	case errors.Is(err, db.ErrTaskNotFound):
		return c.WriteError(serr.New("task not found"), 404)
	case errors.Is(err, db.ErrInvalidTransition):
		return c.WriteError(err, 409)
	case errors.Is(err, db.ErrDependencyUnsatisfied):
		return c.WriteError(err, 409)
	case err != nil:
		return c.WriteError(serr.Wrap(err, "failed to update task"), 500)
	}

	task, err := h.plans.GetTask(taskID)
	if err != nil {
		return c.WriteError(serr.Wrap(err, "failed to reload task"), 500)
	}
	return c.WriteJSON(task)
}
