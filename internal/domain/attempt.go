package domain

import "time"

// GenerationAttempt records a single provider call for a batch item.
type GenerationAttempt struct {
	ID            string
	BatchID       string
	ItemIndex     int
	Title         string
	AttemptNumber int
	Model         string
	DurationMs    int64
	Error         *string
	CreatedAt     time.Time
}
