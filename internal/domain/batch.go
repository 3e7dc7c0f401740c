package domain

import (
	"fmt"
	"strings"
	"time"
)

// BatchStatus represents the lifecycle state of a generation batch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "PENDING"
	BatchStatusProcessing BatchStatus = "PROCESSING"
	BatchStatusCompleted  BatchStatus = "COMPLETED"
	BatchStatusFailed     BatchStatus = "FAILED"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusPending, BatchStatusProcessing, BatchStatusCompleted, BatchStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

func ParseBatchStatusFromString(s string) (BatchStatus, error) {
	st := BatchStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid batch status %q", ErrValidation, s)
	}
	return st, nil
}

// FailedItem records one title that could not be generated.
type FailedItem struct {
	Title string `json:"title"`
	Error string `json:"error"`
}

// GenerationTarget is opaque pass-through context forwarded to each item job.
type GenerationTarget struct {
	PlatformID string
	CategoryID string
	SectionID  string
}

// Batch is the persisted aggregate for one submission of N titles.
// CompletedCount and FailedCount are mutated only through atomic increments;
// ArtifactIDs and FailedItems grow under a row lock.
type Batch struct {
	ID                 string
	Label              string
	Items              []string
	TotalCount         int
	CompletedCount     int
	FailedCount        int
	Status             BatchStatus
	Progress           int
	HasError           bool
	ErrorMessage       *string
	ArtifactIDs        []string
	FailedItems        []FailedItem
	SubmissionTaskID   *string
	CreatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	LastProgressUpdate time.Time
	UpdatedAt          time.Time
}

func (b *Batch) Validate() error {
	if len(b.Items) == 0 {
		return fmt.Errorf("%w: batch must include at least one title", ErrValidation)
	}
	for i, title := range b.Items {
		if strings.TrimSpace(title) == "" {
			return fmt.Errorf("%w: title at index %d is empty", ErrValidation, i)
		}
	}
	if b.TotalCount != len(b.Items) {
		return fmt.Errorf("%w: total count %d does not match %d items", ErrValidation, b.TotalCount, len(b.Items))
	}
	if !b.Status.IsValid() {
		return fmt.Errorf("%w: invalid batch status %q", ErrValidation, b.Status)
	}
	return nil
}

// Processed returns completed+failed clamped to the total. Duplicate outcome
// reports under at-least-once delivery can briefly push the raw sum above the
// total; the clamp keeps the aggregate consistent.
func (b *Batch) Processed() int {
	processed := b.CompletedCount + b.FailedCount
	if processed > b.TotalCount {
		return b.TotalCount
	}
	return processed
}

// ComputeProgress derives the 0-100 progress value from the counters.
func ComputeProgress(completed, failed, total int) int {
	if total <= 0 {
		return 0
	}
	processed := completed + failed
	if processed > total {
		processed = total
	}
	return processed * 100 / total
}
