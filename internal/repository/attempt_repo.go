package repository

import (
	"context"

	"github.com/scribeworks/generation-engine/internal/domain"
	"gorm.io/gorm"
)

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.GenerationAttempt) error
	GetByBatchItem(ctx context.Context, batchID string, itemIndex int) ([]domain.GenerationAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.GenerationAttempt) error {
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *attemptModelToDomain(model)
	}
	return nil
}

func (r *GormAttemptRepo) GetByBatchItem(ctx context.Context, batchID string, itemIndex int) ([]domain.GenerationAttempt, error) {
	var models []GenerationAttemptModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND item_index = ?", batchID, itemIndex).
		Order("attempt_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.GenerationAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}
