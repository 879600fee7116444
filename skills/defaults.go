package skills

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rohanthewiz/serr"
)

// DefaultRegistry returns a registry with the built-in capabilities
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(Skill{
		Name:        "echo",
		Description: "Returns its text argument unchanged",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{"type": "string"},
			},
		},
	}, ExecutorFunc(echoExecutor))

	r.Register(Skill{
		Name:        "http_fetch",
		Description: "Fetches a URL and returns the response body",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url": map[string]interface{}{"type": "string"},
			},
			"required": []string{"url"},
		},
	}, ExecutorFunc(httpFetchExecutor))

	return r
}

func echoExecutor(_ context.Context, args map[string]interface{}) (string, error) {
	text, _ := GetString(args, "text")
	return text, nil
}

const maxFetchBytes = 1 << 20

func httpFetchExecutor(ctx context.Context, args map[string]interface{}) (string, error) {
	url, ok := GetString(args, "url")
	if !ok || url == "" {
		return "", NewPermanentError(serr.New("url argument is required"), "bad arguments")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", NewPermanentError(err, "bad url")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", NewRetryableError(err, "fetch failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", NewRetryableError(err, "failed to read body")
	}
	if resp.StatusCode >= 400 {
		return "", NewPermanentError(fmt.Errorf("status %s", resp.Status), "http error status")
	}

	return string(body), nil
}
