package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/scribeworks/generation-engine/internal/domain"
	"github.com/scribeworks/generation-engine/internal/repository"
)

// ArticleService exposes read access to generated articles.
type ArticleService struct {
	articles repository.ArticleRepository
}

func NewArticleService(articles repository.ArticleRepository) (*ArticleService, error) {
	if articles == nil {
		return nil, fmt.Errorf("article repository is required")
	}
	return &ArticleService{articles: articles}, nil
}

func (s *ArticleService) GetArticle(ctx context.Context, id string) (*domain.Article, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: article id is required", domain.ErrValidation)
	}
	return s.articles.GetByID(ctx, strings.TrimSpace(id))
}

func (s *ArticleService) ListBatchArticles(ctx context.Context, batchID string) ([]domain.Article, error) {
	if strings.TrimSpace(batchID) == "" {
		return nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}
	return s.articles.ListByBatchID(ctx, strings.TrimSpace(batchID))
}
