package handlers

import (
	"encoding/json"

	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"

	"loom/db"
)

// feedbackRequest amends the feedback on an existing experience
type feedbackRequest struct {
	TenantID   string   `json:"tenant_id"`
	Immediate  float64  `json:"immediate"`
	Delayed    *float64 `json:"delayed,omitempty"`
	Source     string   `json:"source,omitempty"`
	Confidence float64  `json:"confidence"`
	Comment    string   `json:"comment,omitempty"`
}

func (h *Handlers) feedbackHandler(c rweb.Context) error {
	experienceID := c.Request().Param("id")

	var req feedbackRequest
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "invalid request body"), 400)
	}
	if req.TenantID == "" {
		return c.WriteError(serr.New("tenant_id is required"), 400)
	}

	feedback := db.ExperienceFeedback{
		Immediate:  req.Immediate,
		Delayed:    req.Delayed,
		Source:     req.Source,
		Confidence: req.Confidence,
	}
	if err := h.recorder.UpdateFeedback(req.TenantID, experienceID, feedback, req.Comment); err != nil {
		return c.WriteError(serr.Wrap(err, "failed to update feedback"), 500)
	}

	exp, err := h.experiences.Get(req.TenantID, experienceID)
	if err != nil {
		return c.WriteError(serr.Wrap(err, "failed to reload experience"), 500)
	}
	return c.WriteJSON(exp)
}
