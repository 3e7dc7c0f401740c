package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scribeworks/generation-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CounterField names a batch counter eligible for atomic increments.
type CounterField string

const (
	CounterCompleted CounterField = "completed_count"
	CounterFailed    CounterField = "failed_count"
)

// StaleField names a timestamp column the health monitor scans against.
type StaleField string

const (
	StaleFieldLastProgress StaleField = "last_progress_update"
	StaleFieldCreatedAt    StaleField = "created_at"
)

// BatchRepository is the durable-store contract for batch aggregates.
// IncrementCounter is a conditionless atomic delta so concurrent reporters
// never lose an update; the Append methods take a row-level lock because a
// jsonb list mutation requires read-modify-write.
type BatchRepository interface {
	Create(ctx context.Context, b *domain.Batch) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	IncrementCounter(ctx context.Context, id string, field CounterField, delta int) error
	AppendArtifactID(ctx context.Context, id string, artifactID string) error
	AppendFailedItem(ctx context.Context, id string, item domain.FailedItem) error
	UpdateProgress(ctx context.Context, id string, progress int, hasError bool) error
	ClampFailedCount(ctx context.Context, id string, failedCount int) error
	CompareAndSetStatus(ctx context.Context, id string, expected []domain.BatchStatus, next domain.BatchStatus) (bool, error)
	MarkProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error)
	FinalizeCompleted(ctx context.Context, id string, completedAt time.Time) (bool, error)
	FinalizeFailed(ctx context.Context, id string, errorMessage string, completedAt time.Time) (bool, error)
	FindStale(ctx context.Context, statuses []domain.BatchStatus, field StaleField, before time.Time, limit int) ([]domain.Batch, error)
	InsertItemReport(ctx context.Context, report *domain.ItemReport) error
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

func (r *GormBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	model := batchModelFromDomain(b)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if b != nil {
		*b = *batchModelToDomain(model)
	}
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func (r *GormBatchRepo) IncrementCounter(ctx context.Context, id string, field CounterField, delta int) error {
	column, err := counterColumn(field)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			column:                 gorm.Expr(column+" + ?", delta),
			"last_progress_update": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormBatchRepo) AppendArtifactID(ctx context.Context, id string, artifactID string) error {
	return r.lockAndAppend(ctx, id, func(model *BatchModel) {
		model.ArtifactIDs = append(model.ArtifactIDs, artifactID)
	}, "artifact_ids")
}

func (r *GormBatchRepo) AppendFailedItem(ctx context.Context, id string, item domain.FailedItem) error {
	return r.lockAndAppend(ctx, id, func(model *BatchModel) {
		model.FailedItems = append(model.FailedItems, item)
	}, "failed_items")
}

// lockAndAppend holds the row lock only for the list read-modify-write, not
// for any counter work.
func (r *GormBatchRepo) lockAndAppend(ctx context.Context, id string, mutate func(*BatchModel), column string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model BatchModel
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		mutate(&model)

		return tx.Model(&BatchModel{}).
			Where("id = ?", id).
			Select(column).
			Updates(&model).Error
	})
}

// UpdateProgress writes the derived progress and error flag. GREATEST and OR
// keep both values monotonic under concurrent reporters racing Step 3.
func (r *GormBatchRepo) UpdateProgress(ctx context.Context, id string, progress int, hasError bool) error {
	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"progress":  gorm.Expr("GREATEST(progress, ?)", progress),
			"has_error": gorm.Expr("has_error OR ?", hasError),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ClampFailedCount is the corrective write for duplicate-report overshoot.
// The guard keeps it from racing a legitimate concurrent increment downward.
func (r *GormBatchRepo) ClampFailedCount(ctx context.Context, id string, failedCount int) error {
	return r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ? AND failed_count > ?", id, failedCount).
		Update("failed_count", failedCount).Error
}

func (r *GormBatchRepo) CompareAndSetStatus(
	ctx context.Context,
	id string,
	expected []domain.BatchStatus,
	next domain.BatchStatus,
) (bool, error) {
	return r.casUpdate(ctx, id, expected, map[string]any{"status": next})
}

func (r *GormBatchRepo) MarkProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	return r.casUpdate(ctx, id, []domain.BatchStatus{domain.BatchStatusPending}, map[string]any{
		"status":     domain.BatchStatusProcessing,
		"started_at": startedAt,
	})
}

func (r *GormBatchRepo) FinalizeCompleted(ctx context.Context, id string, completedAt time.Time) (bool, error) {
	return r.casUpdate(ctx, id,
		[]domain.BatchStatus{domain.BatchStatusPending, domain.BatchStatusProcessing},
		map[string]any{
			"status":       domain.BatchStatusCompleted,
			"completed_at": completedAt,
		})
}

func (r *GormBatchRepo) FinalizeFailed(ctx context.Context, id string, errorMessage string, completedAt time.Time) (bool, error) {
	return r.casUpdate(ctx, id,
		[]domain.BatchStatus{domain.BatchStatusPending, domain.BatchStatusProcessing},
		map[string]any{
			"status":        domain.BatchStatusFailed,
			"has_error":     true,
			"error_message": errorMessage,
			"completed_at":  completedAt,
		})
}

// casUpdate applies updates only while the current status is in the expected
// set. A false return means another writer already moved the batch on; status
// transitions stay monotonic because terminal states are never expected.
func (r *GormBatchRepo) casUpdate(
	ctx context.Context,
	id string,
	expected []domain.BatchStatus,
	updates map[string]any,
) (bool, error) {
	if len(expected) == 0 {
		return false, fmt.Errorf("expected status set is required")
	}

	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ? AND status IN ?", id, expected).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormBatchRepo) FindStale(
	ctx context.Context,
	statuses []domain.BatchStatus,
	field StaleField,
	before time.Time,
	limit int,
) ([]domain.Batch, error) {
	column, err := staleColumn(field)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var models []BatchModel
	queryErr := r.db.WithContext(ctx).
		Where("status IN ? AND "+column+" < ?", statuses, before).
		Order(column + " ASC").
		Limit(limit).
		Find(&models).Error
	if queryErr != nil {
		return nil, queryErr
	}

	batches := make([]domain.Batch, 0, len(models))
	for i := range models {
		batches = append(batches, *batchModelToDomain(&models[i]))
	}

	return batches, nil
}

// InsertItemReport returns domain.ErrConflict when the same (batch, item,
// kind) outcome was already recorded, which is how re-delivered reports are
// detected.
func (r *GormBatchRepo) InsertItemReport(ctx context.Context, report *domain.ItemReport) error {
	if report == nil {
		return fmt.Errorf("item report is required")
	}

	model := &ItemReportModel{
		ID:        report.ID,
		BatchID:   report.BatchID,
		ItemIndex: report.ItemIndex,
		Kind:      report.Kind,
		CreatedAt: report.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolationError(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func counterColumn(field CounterField) (string, error) {
	switch field {
	case CounterCompleted, CounterFailed:
		return string(field), nil
	}
	return "", fmt.Errorf("unsupported counter field %q", field)
}

func staleColumn(field StaleField) (string, error) {
	switch field {
	case StaleFieldLastProgress, StaleFieldCreatedAt:
		return string(field), nil
	}
	return "", fmt.Errorf("unsupported stale field %q", field)
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
