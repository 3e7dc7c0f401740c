package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/scribeworks/generation-engine/internal/domain"
)

type GenerationService interface {
	Submit(ctx context.Context, label string, titles []string, target domain.GenerationTarget) (*domain.Batch, error)
	GetBatch(ctx context.Context, id string) (*domain.Batch, error)
	CurrentBatch(ctx context.Context) (*domain.Batch, error)
}

type ArticleReader interface {
	GetArticle(ctx context.Context, id string) (*domain.Article, error)
	ListBatchArticles(ctx context.Context, batchID string) ([]domain.Article, error)
}

type GenerationHandler struct {
	service  GenerationService
	articles ArticleReader
}

func NewGenerationHandler(service GenerationService, articles ArticleReader) (*GenerationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("generation service is required")
	}
	return &GenerationHandler{service: service, articles: articles}, nil
}

func RegisterGenerationRoutes(router fiber.Router, service GenerationService, articles ArticleReader) error {
	h, err := NewGenerationHandler(service, articles)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/generation/batches", h.SubmitBatch)
	// Registered before :id so "current" is not captured as a batch id.
	v1.Get("/generation/batches/current", h.GetCurrentBatch)
	v1.Get("/generation/batches/:id", h.GetBatch)
	v1.Get("/generation/batches/:id/articles", h.ListBatchArticles)
	v1.Get("/articles/:id", h.GetArticle)

	return nil
}

type submitBatchRequest struct {
	Label      string   `json:"label"`
	Titles     []string `json:"titles"`
	PlatformID string   `json:"platformId"`
	CategoryID string   `json:"categoryId"`
	SectionID  string   `json:"sectionId"`
}

type failedItemResponse struct {
	Title string `json:"title"`
	Error string `json:"error"`
}

type batchResponse struct {
	ID               string               `json:"id"`
	Label            string               `json:"label,omitempty"`
	Status           string               `json:"status"`
	TotalCount       int                  `json:"totalCount"`
	CompletedCount   int                  `json:"completedCount"`
	FailedCount      int                  `json:"failedCount"`
	Progress         int                  `json:"progress"`
	HasError         bool                 `json:"hasError"`
	ErrorMessage     *string              `json:"errorMessage,omitempty"`
	ArtifactIDs      []string             `json:"artifactIds,omitempty"`
	FailedItems      []failedItemResponse `json:"failedItems,omitempty"`
	SubmissionTaskID *string              `json:"submissionTaskId,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
	StartedAt        *time.Time           `json:"startedAt,omitempty"`
	CompletedAt      *time.Time           `json:"completedAt,omitempty"`
}

type articleResponse struct {
	ID         string    `json:"id"`
	BatchID    *string   `json:"batchId,omitempty"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Model      string    `json:"model"`
	PlatformID string    `json:"platformId,omitempty"`
	CategoryID string    `json:"categoryId,omitempty"`
	SectionID  string    `json:"sectionId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (h *GenerationHandler) SubmitBatch(c *fiber.Ctx) error {
	var req submitBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	target := domain.GenerationTarget{
		PlatformID: strings.TrimSpace(req.PlatformID),
		CategoryID: strings.TrimSpace(req.CategoryID),
		SectionID:  strings.TrimSpace(req.SectionID),
	}

	batch, err := h.service.Submit(c.Context(), req.Label, req.Titles, target)
	if err != nil {
		if errors.Is(err, domain.ErrSubmission) && batch != nil {
			// The batch row exists in failed state; surface it with the error.
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": err.Error(),
				"batch": toBatchResponse(batch),
			})
		}
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toBatchResponse(batch))
}

func (h *GenerationHandler) GetBatch(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	batch, err := h.service.GetBatch(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

func (h *GenerationHandler) GetCurrentBatch(c *fiber.Ctx) error {
	batch, err := h.service.CurrentBatch(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

func (h *GenerationHandler) GetArticle(c *fiber.Ctx) error {
	if h.articles == nil {
		return fiber.ErrNotFound
	}

	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return toHTTPError(fmt.Errorf("%w: article id is required", domain.ErrValidation))
	}

	article, err := h.articles.GetArticle(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toArticleResponse(article))
}

func (h *GenerationHandler) ListBatchArticles(c *fiber.Ctx) error {
	if h.articles == nil {
		return fiber.ErrNotFound
	}

	batchID := strings.TrimSpace(c.Params("id"))
	if batchID == "" {
		return toHTTPError(fmt.Errorf("%w: batch id is required", domain.ErrValidation))
	}

	articles, err := h.articles.ListBatchArticles(c.Context(), batchID)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]articleResponse, 0, len(articles))
	for i := range articles {
		responses = append(responses, toArticleResponse(&articles[i]))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"batchId": batchID,
		"data":    responses,
	})
}

func toBatchResponse(b *domain.Batch) batchResponse {
	if b == nil {
		return batchResponse{}
	}

	failedItems := make([]failedItemResponse, 0, len(b.FailedItems))
	for _, item := range b.FailedItems {
		failedItems = append(failedItems, failedItemResponse{Title: item.Title, Error: item.Error})
	}

	return batchResponse{
		ID:               b.ID,
		Label:            b.Label,
		Status:           b.Status.String(),
		TotalCount:       b.TotalCount,
		CompletedCount:   b.CompletedCount,
		FailedCount:      b.FailedCount,
		Progress:         b.Progress,
		HasError:         b.HasError,
		ErrorMessage:     b.ErrorMessage,
		ArtifactIDs:      b.ArtifactIDs,
		FailedItems:      failedItems,
		SubmissionTaskID: b.SubmissionTaskID,
		CreatedAt:        b.CreatedAt,
		StartedAt:        b.StartedAt,
		CompletedAt:      b.CompletedAt,
	}
}

func toArticleResponse(a *domain.Article) articleResponse {
	if a == nil {
		return articleResponse{}
	}

	return articleResponse{
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

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
