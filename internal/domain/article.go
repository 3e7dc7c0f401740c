package domain

import (
	"fmt"
	"time"
)

// Article is the generated artifact produced for one batch item.
type Article struct {
	ID         string
	BatchID    *string
	Title      string
	Body       string
	Model      string
	PlatformID string
	CategoryID string
	SectionID  string
	CreatedAt  time.Time
}

func (a *Article) Validate() error {
	if a.Title == "" {
		return fmt.Errorf("%w: article title is required", ErrValidation)
	}
	if a.Body == "" {
		return fmt.Errorf("%w: article body is required", ErrValidation)
	}
	return nil
}
