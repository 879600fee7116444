package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testSelection() *Selection {
	return &Selection{
		TenantID: "tenant-1",
		Provider: ProviderConfig{
			Name:   "test-openai",
			Family: "openai",
			Model:  "gpt-test",
		},
		Credential: "test-key",
	}
}

func TestCompleteAbortsWhenContextExpires(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server notices the client disconnect,
		// then hold the connection until the caller gives up
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := NewHTTPClient(DefaultRegistry(), nil)
	client.SetEndpoint("openai", srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Complete(ctx, testSelection(), Request{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	if err == nil {
		t.Fatal("expected an error once the deadline passed")
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected a transport error, got %T: %v", err, err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the deadline to surface through the error chain, got %v", err)
	}
}

func TestCompleteParsesOpenAIResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"done"}}],"usage":{"prompt_tokens":12,"completion_tokens":7}}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(DefaultRegistry(), nil)
	client.SetEndpoint("openai", srv.URL)

	resp, err := client.Complete(context.Background(), testSelection(), Request{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "done" {
		t.Errorf("expected text 'done', got %q", resp.Text)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 7 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}
