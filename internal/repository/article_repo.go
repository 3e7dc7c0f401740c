package repository

import (
	"context"
	"errors"

	"github.com/scribeworks/generation-engine/internal/domain"
	"gorm.io/gorm"
)

type ArticleRepository interface {
	Create(ctx context.Context, a *domain.Article) error
	GetByID(ctx context.Context, id string) (*domain.Article, error)
	ListByBatchID(ctx context.Context, batchID string) ([]domain.Article, error)
}

type GormArticleRepo struct {
	db *gorm.DB
}

func NewGormArticleRepo(db *gorm.DB) *GormArticleRepo {
	return &GormArticleRepo{db: db}
}

func (r *GormArticleRepo) Create(ctx context.Context, a *domain.Article) error {
	model := articleModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *articleModelToDomain(model)
	}
	return nil
}

func (r *GormArticleRepo) GetByID(ctx context.Context, id string) (*domain.Article, error) {
	var model ArticleModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return articleModelToDomain(&model), nil
}

func (r *GormArticleRepo) ListByBatchID(ctx context.Context, batchID string) ([]domain.Article, error) {
	var models []ArticleModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	articles := make([]domain.Article, 0, len(models))
	for i := range models {
		articles = append(articles, *articleModelToDomain(&models[i]))
	}

	return articles, nil
}
