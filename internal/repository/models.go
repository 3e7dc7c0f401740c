package repository

import (
	"time"

	"github.com/scribeworks/generation-engine/internal/domain"
)

// BatchModel is the persistence model for the generation_batches table.
// Items, ArtifactIDs and FailedItems live in jsonb columns; the counters are
// plain integers so they can be bumped with conditionless atomic deltas.
type BatchModel struct {
	ID                 string              `gorm:"type:uuid;primaryKey"`
	Label              string              `gorm:"type:varchar(255)"`
	Items              []string            `gorm:"type:jsonb;serializer:json;not null"`
	TotalCount         int                 `gorm:"not null"`
	CompletedCount     int                 `gorm:"not null;default:0"`
	FailedCount        int                 `gorm:"not null;default:0"`
	Status             domain.BatchStatus  `gorm:"type:varchar(20);not null"`
	Progress           int                 `gorm:"not null;default:0"`
	HasError           bool                `gorm:"not null;default:false"`
	ErrorMessage       *string             `gorm:"type:text"`
	ArtifactIDs        []string            `gorm:"type:jsonb;serializer:json"`
	FailedItems        []domain.FailedItem `gorm:"type:jsonb;serializer:json"`
	SubmissionTaskID   *string             `gorm:"type:varchar(36)"`
	CreatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	LastProgressUpdate time.Time `gorm:"not null"`
	UpdatedAt          time.Time
}

func (BatchModel) TableName() string {
	return "generation_batches"
}

// ItemReportModel is the persistence model for batch_item_reports, the
// idempotency ledger for outcome reports. The composite unique index turns a
// re-delivered report into a detectable conflict.
type ItemReportModel struct {
	ID        string             `gorm:"type:uuid;primaryKey"`
	BatchID   string             `gorm:"type:uuid;not null;uniqueIndex:ux_item_reports_batch_item_kind"`
	ItemIndex int                `gorm:"not null;uniqueIndex:ux_item_reports_batch_item_kind"`
	Kind      domain.OutcomeKind `gorm:"type:varchar(10);not null;uniqueIndex:ux_item_reports_batch_item_kind"`
	CreatedAt time.Time
}

func (ItemReportModel) TableName() string {
	return "batch_item_reports"
}

// ArticleModel is the persistence model for generated articles.
type ArticleModel struct {
	ID         string  `gorm:"type:uuid;primaryKey"`
	BatchID    *string `gorm:"type:uuid"`
	Title      string  `gorm:"type:varchar(500);not null"`
	Body       string  `gorm:"type:text;not null"`
	Model      string  `gorm:"type:varchar(100)"`
	PlatformID string  `gorm:"type:varchar(36)"`
	CategoryID string  `gorm:"type:varchar(36)"`
	SectionID  string  `gorm:"type:varchar(36)"`
	CreatedAt  time.Time
}

func (ArticleModel) TableName() string {
	return "articles"
}

// GenerationAttemptModel is the persistence model for generation_attempts.
type GenerationAttemptModel struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	BatchID       string  `gorm:"type:uuid;not null"`
	ItemIndex     int     `gorm:"not null"`
	Title         string  `gorm:"type:varchar(500);not null"`
	AttemptNumber int     `gorm:"not null"`
	Model         string  `gorm:"type:varchar(100)"`
	DurationMs    int64   `gorm:"not null;default:0"`
	Error         *string `gorm:"type:text"`
	CreatedAt     time.Time
}

func (GenerationAttemptModel) TableName() string {
	return "generation_attempts"
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:                 b.ID,
		Label:              b.Label,
		Items:              b.Items,
		TotalCount:         b.TotalCount,
		CompletedCount:     b.CompletedCount,
		FailedCount:        b.FailedCount,
		Status:             b.Status,
		Progress:           b.Progress,
		HasError:           b.HasError,
		ErrorMessage:       b.ErrorMessage,
		ArtifactIDs:        b.ArtifactIDs,
		FailedItems:        b.FailedItems,
		SubmissionTaskID:   b.SubmissionTaskID,
		CreatedAt:          b.CreatedAt,
		StartedAt:          b.StartedAt,
		CompletedAt:        b.CompletedAt,
		LastProgressUpdate: b.LastProgressUpdate,
		UpdatedAt:          b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:                 m.ID,
		Label:              m.Label,
		Items:              m.Items,
		TotalCount:         m.TotalCount,
		CompletedCount:     m.CompletedCount,
		FailedCount:        m.FailedCount,
		Status:             m.Status,
		Progress:           m.Progress,
		HasError:           m.HasError,
		ErrorMessage:       m.ErrorMessage,
		ArtifactIDs:        m.ArtifactIDs,
		FailedItems:        m.FailedItems,
		SubmissionTaskID:   m.SubmissionTaskID,
		CreatedAt:          m.CreatedAt,
		StartedAt:          m.StartedAt,
		CompletedAt:        m.CompletedAt,
		LastProgressUpdate: m.LastProgressUpdate,
		UpdatedAt:          m.UpdatedAt,
	}
}

func articleModelFromDomain(a *domain.Article) *ArticleModel {
	if a == nil {
		return nil
	}

	return &ArticleModel{
		ID:         a.ID,
		BatchID:    a.BatchID,
		Title:      a.Title,
		Body:       a.Body,
		Model:      a.Model,
		PlatformID: a.PlatformID,
		CategoryID: a.CategoryID,
		SectionID:  a.SectionID,
		CreatedAt:  a.CreatedAt,
	}
}

func articleModelToDomain(m *ArticleModel) *domain.Article {
	if m == nil {
		return nil
	}

	return &domain.Article{
		ID:         m.ID,
		BatchID:    m.BatchID,
		Title:      m.Title,
		Body:       m.Body,
		Model:      m.Model,
		PlatformID: m.PlatformID,
		CategoryID: m.CategoryID,
		SectionID:  m.SectionID,
		CreatedAt:  m.CreatedAt,
	}
}

func attemptModelFromDomain(a *domain.GenerationAttempt) *GenerationAttemptModel {
	if a == nil {
		return nil
	}

	return &GenerationAttemptModel{
		ID:            a.ID,
		BatchID:       a.BatchID,
		ItemIndex:     a.ItemIndex,
		Title:         a.Title,
		AttemptNumber: a.AttemptNumber,
		Model:         a.Model,
		DurationMs:    a.DurationMs,
		Error:         a.Error,
		CreatedAt:     a.CreatedAt,
	}
}

func attemptModelToDomain(m *GenerationAttemptModel) *domain.GenerationAttempt {
	if m == nil {
		return nil
	}

	return &domain.GenerationAttempt{
		ID:            m.ID,
		BatchID:       m.BatchID,
		ItemIndex:     m.ItemIndex,
		Title:         m.Title,
		AttemptNumber: m.AttemptNumber,
		Model:         m.Model,
		DurationMs:    m.DurationMs,
		Error:         m.Error,
		CreatedAt:     m.CreatedAt,
	}
}
