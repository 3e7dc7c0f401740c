package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultGenerationTimeout = 120 * time.Second
	defaultMaxAttempts       = 3
	defaultRetryBaseDelay    = 2 * time.Second

	systemPrompt = "You are a professional content writer. Write a complete, well-structured article for the given title. Respond with the article body only."
)

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// OpenAIGenerator generates article bodies via an OpenAI-compatible
// chat completions endpoint. Transient failures are retried with
// exponential backoff up to maxAttempts.
type OpenAIGenerator struct {
	client      *resty.Client
	baseURL     string
	apiKey      string
	model       string
	maxAttempts int
	baseDelay   time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

type OpenAIOption func(*OpenAIGenerator)

func WithTimeout(timeout time.Duration) OpenAIOption {
	return func(g *OpenAIGenerator) {
		if timeout > 0 {
			g.client.SetTimeout(timeout)
		}
	}
}

func WithMaxAttempts(maxAttempts int) OpenAIOption {
	return func(g *OpenAIGenerator) {
		if maxAttempts > 0 {
			g.maxAttempts = maxAttempts
		}
	}
}

func WithRetryBaseDelay(baseDelay time.Duration) OpenAIOption {
	return func(g *OpenAIGenerator) {
		if baseDelay > 0 {
			g.baseDelay = baseDelay
		}
	}
}

func withSleep(sleep func(ctx context.Context, d time.Duration) error) OpenAIOption {
	return func(g *OpenAIGenerator) {
		g.sleep = sleep
	}
}

func NewOpenAIGenerator(baseURL, apiKey, model string, opts ...OpenAIOption) (*OpenAIGenerator, error) {
	trimmedBaseURL := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedBaseURL == "" {
		return nil, fmt.Errorf("provider base url is required")
	}
	if _, err := url.ParseRequestURI(trimmedBaseURL); err != nil {
		return nil, fmt.Errorf("invalid provider base url: %w", err)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("provider api key is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("provider model is required")
	}

	client := resty.New()
	client.SetTimeout(defaultGenerationTimeout)
	client.SetRetryCount(0)

	generator := &OpenAIGenerator{
		client:      client,
		baseURL:     trimmedBaseURL,
		apiKey:      strings.TrimSpace(apiKey),
		model:       strings.TrimSpace(model),
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultRetryBaseDelay,
		sleep:       sleepWithContext,
	}

	for _, opt := range opts {
		opt(generator)
	}

	return generator, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, request GenerationRequest) (*GenerationResult, error) {
	if g == nil || g.client == nil {
		return nil, fmt.Errorf("generator is not initialized")
	}
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("invalid generation request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		result, err := g.generateOnce(ctx, request)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) || attempt == g.maxAttempts {
			break
		}

		delay := g.baseDelay << (attempt - 1)
		if sleepErr := g.sleep(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
	}

	return nil, lastErr
}

func (g *OpenAIGenerator) generateOnce(ctx context.Context, request GenerationRequest) (*GenerationResult, error) {
	reqBody := chatCompletionRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: request.Title},
		},
	}

	var result chatCompletionResponse

	response, err := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+g.apiKey).
		SetBody(reqBody).
		SetResult(&result).
		Post(g.baseURL + "/chat/completions")
	if err != nil {
		return nil, &ProviderError{
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &ProviderError{
			StatusCode: statusCode,
			Message:    providerErrorMessage(statusCode, strings.TrimSpace(response.String())),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	if len(result.Choices) == 0 {
		return nil, &ProviderError{
			StatusCode: statusCode,
			Message:    "provider returned no choices",
		}
	}

	body := strings.TrimSpace(result.Choices[0].Message.Content)
	if body == "" {
		return nil, &ProviderError{
			StatusCode: statusCode,
			Message:    "provider returned empty content",
		}
	}

	return &GenerationResult{
		Body:             body,
		Model:            g.model,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
	}, nil
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
