package queue

import (
	"fmt"
	"strings"
)

// GenerationMessage is the broker payload for one batch item.
type GenerationMessage struct {
	BatchID       string `json:"batchId"`
	ItemIndex     int    `json:"itemIndex"`
	Title         string `json:"title"`
	CorrelationID string `json:"correlationId,omitempty"`
	PlatformID    string `json:"platformId,omitempty"`
	CategoryID    string `json:"categoryId,omitempty"`
	SectionID     string `json:"sectionId,omitempty"`

	// Attempt is the 1-based delivery count, derived from broker headers by
	// the consumer. Never serialized.
	Attempt int `json:"-"`
}

func (m GenerationMessage) Validate() error {
	if strings.TrimSpace(m.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if m.ItemIndex < 0 {
		return fmt.Errorf("itemIndex must be non-negative")
	}
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}
