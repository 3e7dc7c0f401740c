package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func noSleep() OpenAIOption {
	return withSleep(func(ctx context.Context, d time.Duration) error {
		return nil
	})
}

func chatResponse(content string) chatCompletionResponse {
	var resp chatCompletionResponse
	resp.Choices = []struct {
		Message chatMessage `json:"message"`
	}{
		{Message: chatMessage{Role: "assistant", Content: content}},
	}
	resp.Usage.PromptTokens = 12
	resp.Usage.CompletionTokens = 345
	return resp
}

func TestOpenAIGeneratorGenerateSuccess(t *testing.T) {
	t.Parallel()

	var gotBody chatCompletionRequest
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse("generated article body"))
	}))
	defer server.Close()

	g, err := NewOpenAIGenerator(server.URL, "test-key", "test-model")
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}

	result, err := g.Generate(context.Background(), GenerationRequest{Title: "How Queues Work"})
	if err != nil {
		t.Fatalf("Generate() unexpected error: %v", err)
	}

	if result.Body != "generated article body" {
		t.Fatalf("Body = %q, want %q", result.Body, "generated article body")
	}
	if result.Model != "test-model" {
		t.Fatalf("Model = %q, want %q", result.Model, "test-model")
	}
	if result.PromptTokens != 12 || result.CompletionTokens != 345 {
		t.Fatalf("usage = (%d, %d), want (12, 345)", result.PromptTokens, result.CompletionTokens)
	}

	if gotAuth != "Bearer test-key" {
		t.Fatalf("Authorization = %q, want %q", gotAuth, "Bearer test-key")
	}
	if gotBody.Model != "test-model" {
		t.Fatalf("request.model = %q, want %q", gotBody.Model, "test-model")
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[1].Content != "How Queues Work" {
		t.Fatalf("request.messages = %+v, want system + title", gotBody.Messages)
	}
}

func TestOpenAIGeneratorRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var sleeps []time.Duration

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse("eventually fine"))
	}))
	defer server.Close()

	g, err := NewOpenAIGenerator(server.URL, "test-key", "test-model",
		WithRetryBaseDelay(100*time.Millisecond),
		withSleep(func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}

	result, err := g.Generate(context.Background(), GenerationRequest{Title: "retry me"})
	if err != nil {
		t.Fatalf("Generate() unexpected error: %v", err)
	}
	if result.Body != "eventually fine" {
		t.Fatalf("Body = %q, want %q", result.Body, "eventually fine")
	}

	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}

	wantSleeps := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(sleeps) != len(wantSleeps) {
		t.Fatalf("sleeps = %v, want %v", sleeps, wantSleeps)
	}
	for i := range wantSleeps {
		if sleeps[i] != wantSleeps[i] {
			t.Fatalf("sleeps[%d] = %v, want %v", i, sleeps[i], wantSleeps[i])
		}
	}
}

func TestOpenAIGeneratorStopsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	}))
	defer server.Close()

	g, err := NewOpenAIGenerator(server.URL, "test-key", "test-model", WithMaxAttempts(3), noSleep())
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}

	_, err = g.Generate(context.Background(), GenerationRequest{Title: "always throttled"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true for %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestOpenAIGeneratorPermanentFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad prompt"))
	}))
	defer server.Close()

	g, err := NewOpenAIGenerator(server.URL, "test-key", "test-model", noSleep())
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}

	_, err = g.Generate(context.Background(), GenerationRequest{Title: "reject me"})
	if err == nil {
		t.Fatal("expected error")
	}

	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected ProviderError, got %T", err)
	}
	if providerErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("StatusCode = %d, want %d", providerErr.StatusCode, http.StatusBadRequest)
	}
	if IsTransient(err) {
		t.Fatalf("IsTransient() = true, want false for %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestOpenAIGeneratorEmptyChoices(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	g, err := NewOpenAIGenerator(server.URL, "test-key", "test-model", noSleep())
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}

	_, err = g.Generate(context.Background(), GenerationRequest{Title: "nothing back"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Fatalf("IsTransient() = true, want false for %v", err)
	}
}

func TestNewOpenAIGeneratorValidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		baseURL string
		apiKey  string
		model   string
	}{
		{name: "missing base url", baseURL: "", apiKey: "k", model: "m"},
		{name: "invalid base url", baseURL: "::bad::", apiKey: "k", model: "m"},
		{name: "missing api key", baseURL: "http://localhost:11434/v1", apiKey: " ", model: "m"},
		{name: "missing model", baseURL: "http://localhost:11434/v1", apiKey: "k", model: ""},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if _, err := NewOpenAIGenerator(tc.baseURL, tc.apiKey, tc.model); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
