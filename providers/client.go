package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"loom/db"
)

// Usage holds token counts reported by the upstream provider
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the provider-neutral result of one reasoning call
type Response struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// ReasoningClient issues one reasoning call against a routed selection
type ReasoningClient interface {
	Complete(ctx context.Context, sel *Selection, req Request) (*Response, error)
}

// TransportError wraps a network or HTTP failure with the provider name
// attached. The client never retries; that belongs to the orchestrator.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("provider %s transport failure: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BillingRecorder receives accounting lines for platform-billed calls
type BillingRecorder interface {
	Record(line *db.BillingLine) error
}

// endpoint templates per provider family
var familyEndpoints = map[string]string{
	"openai":    "https://api.openai.com/v1/chat/completions",
	"anthropic": "https://api.anthropic.com/v1/messages",
	"deepseek":  "https://api.deepseek.com/v1/chat/completions",
}

const (
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 4096
	requestTimeout   = 120 * time.Second
)

// HTTPClient talks to upstream providers over their chat-completion APIs.
type HTTPClient struct {
	httpClient *http.Client
	registry   *Registry
	billing    BillingRecorder
	endpoints  map[string]string
}

// NewHTTPClient creates a client. billing may be nil to disable accounting.
func NewHTTPClient(registry *Registry, billing BillingRecorder) *HTTPClient {
	endpoints := make(map[string]string, len(familyEndpoints))
	for k, v := range familyEndpoints {
		endpoints[k] = v
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: requestTimeout},
		registry:   registry,
		billing:    billing,
		endpoints:  endpoints,
	}
}

// SetEndpoint overrides the endpoint for a provider family (tests, proxies)
func (c *HTTPClient) SetEndpoint(family, url string) {
	c.endpoints[family] = url
}

// chatRequest is the wire shape shared by the OpenAI-compatible families;
// Anthropic takes the same fields plus max_tokens as a required field.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type chatResponse struct {
	// OpenAI-compatible shape
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		InputTokens      int `json:"input_tokens"`
		OutputTokens     int `json:"output_tokens"`
	} `json:"usage"`
	// Anthropic shape
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Complete issues one reasoning call. Platform-billed calls record a billing
// line asynchronously; accounting never blocks the caller's result.
func (c *HTTPClient) Complete(ctx context.Context, sel *Selection, req Request) (*Response, error) {
	endpoint, ok := c.endpoints[sel.Provider.Family]
	if !ok {
		return nil, serr.New("no endpoint for provider family: " + sel.Provider.Family)
	}

	body, err := json.Marshal(chatRequest{
		Model:       sel.Provider.Model,
		Messages:    req.Messages,
		MaxTokens:   defaultMaxTokens,
		Temperature: req.Temperature,
		Stream:      false,
	})
	if err != nil {
		return nil, serr.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, serr.Wrap(err, "failed to create request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if sel.Provider.Family == "anthropic" {
		httpReq.Header.Set("x-api-key", sel.Credential)
		httpReq.Header.Set("anthropic-version", anthropicVersion)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+sel.Credential)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Provider: sel.Provider.Name, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Provider: sel.Provider.Name, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{
			Provider: sel.Provider.Name,
			Err:      fmt.Errorf("API error: %s - %s", resp.Status, string(respBody)),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, serr.Wrap(err, "failed to parse provider response")
	}

	out := &Response{}
	if len(parsed.Choices) > 0 {
		out.Text = parsed.Choices[0].Message.Content
		out.Usage = Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		}
	} else if len(parsed.Content) > 0 {
		for _, block := range parsed.Content {
			if block.Type == "text" {
				out.Text += block.Text
			}
		}
		out.Usage = Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		}
	}

	if sel.PlatformBilled && c.billing != nil {
		c.recordBilling(sel, out.Usage)
	}

	return out, nil
}

// recordBilling writes the accounting line in the background. Failures are
// logged and dropped; accounting is a side effect, not a dependency.
func (c *HTTPClient) recordBilling(sel *Selection, usage Usage) {
	line := &db.BillingLine{
		TenantID:     sel.TenantID,
		Provider:     sel.Provider.Name,
		Model:        sel.Provider.Model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Cost:         c.registry.Cost(sel.Provider.Family, usage.InputTokens, usage.OutputTokens),
	}
	go func() {
		if err := c.billing.Record(line); err != nil {
			logger.LogErr(err, "failed to record billing line")
		}
	}()
}
