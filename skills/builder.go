package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// BuildRequest asks for a new capability to be registered mid-execution
type BuildRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Kind        string `json:"kind"` // "http" is the only wired kind
	Endpoint    string `json:"endpoint,omitempty"`
}

// Builder creates a new capability descriptor plus its executor. The caller
// appends the result to an in-pass copy of the capability set; a builder
// never mutates a shared catalog.
type Builder interface {
	Build(ctx context.Context, tenantID, agentID string, req BuildRequest) (Skill, Executor, error)
}

// HTTPBuilder builds capabilities that POST their arguments as JSON to a
// fixed endpoint and return the response body.
type HTTPBuilder struct {
	client *http.Client
}

// NewHTTPBuilder creates a builder with a bounded HTTP client
func NewHTTPBuilder() *HTTPBuilder {
	return &HTTPBuilder{client: &http.Client{Timeout: 30 * time.Second}}
}

// Build validates the request and returns the new capability
func (b *HTTPBuilder) Build(_ context.Context, tenantID, agentID string, req BuildRequest) (Skill, Executor, error) {
	if req.Name == "" {
		return Skill{}, nil, serr.New("capability name is required")
	}
	if req.Kind != "http" {
		return Skill{}, nil, serr.New("unsupported capability kind: " + req.Kind)
	}
	if req.Endpoint == "" {
		return Skill{}, nil, serr.New("http capability requires an endpoint")
	}

	skill := Skill{
		Name:        req.Name,
		Description: req.Description,
		InputSchema: map[string]interface{}{"type": "object"},
	}

	endpoint := req.Endpoint
	executor := ExecutorFunc(func(ctx context.Context, args map[string]interface{}) (string, error) {
		body, err := json.Marshal(args)
		if err != nil {
			return "", serr.Wrap(err, "failed to marshal skill args")
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return "", serr.Wrap(err, "failed to create request")
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := b.client.Do(httpReq)
		if err != nil {
			return "", NewRetryableError(err, "http call failed")
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return "", NewRetryableError(err, "failed to read response")
		}
		if resp.StatusCode >= 400 {
			return "", NewPermanentError(serr.New(resp.Status+": "+string(respBody)), "http error status")
		}
		return string(respBody), nil
	})

	logger.Info("Built new capability",
		"tenant", tenantID, "agent", agentID, "skill", skill.Name, "endpoint", endpoint)

	return skill, executor, nil
}
