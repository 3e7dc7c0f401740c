package provider

import (
	"context"
	"fmt"
	"strings"
)

// GenerationRequest carries one title plus the opaque target context.
type GenerationRequest struct {
	Title      string
	PlatformID string
	CategoryID string
	SectionID  string
}

func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

// GenerationResult is the artifact content returned by the provider.
type GenerationResult struct {
	Body             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Generator is the outbound article-generation port. Implementations own
// their per-call timeout and bounded retry with exponential backoff; a
// returned error means the call failed after those retries.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}
