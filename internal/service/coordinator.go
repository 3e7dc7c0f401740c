package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/scribeworks/generation-engine/internal/domain"
	"github.com/scribeworks/generation-engine/internal/observability"
	"github.com/scribeworks/generation-engine/internal/queue"
	"github.com/scribeworks/generation-engine/internal/repository"
	"go.uber.org/zap"
)

const maxBatchSize = 1000

// CurrentBatchPointer tracks the most recently submitted batch id.
type CurrentBatchPointer interface {
	Set(ctx context.Context, batchID string) error
	Get(ctx context.Context) (string, error)
}

// OutcomeReporter is the ledger-facing port used when an item reaches a
// terminal result outside the worker path.
type OutcomeReporter interface {
	ReportOutcome(ctx context.Context, batchID string, itemIndex int, outcome domain.Outcome)
}

// BatchCoordinator accepts batch submissions: it persists the batch row,
// fans the items out onto the work queue, and resolves submissions where
// some or all enqueues fail.
type BatchCoordinator struct {
	batches   repository.BatchRepository
	publisher queue.Publisher
	ledger    OutcomeReporter
	current   CurrentBatchPointer
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewBatchCoordinator(
	batches repository.BatchRepository,
	publisher queue.Publisher,
	ledger OutcomeReporter,
	current CurrentBatchPointer,
	logger *zap.Logger,
) (*BatchCoordinator, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("outcome reporter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchCoordinator{
		batches:   batches,
		publisher: publisher,
		ledger:    ledger,
		current:   current,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (c *BatchCoordinator) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

// Submit creates the batch and enqueues one generation job per title. Items
// that cannot be enqueued are reported to the ledger as failures so the
// batch still converges; if every enqueue fails the batch is finalized as
// failed immediately.
func (c *BatchCoordinator) Submit(
	ctx context.Context,
	label string,
	titles []string,
	target domain.GenerationTarget,
) (*domain.Batch, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	items, err := normalizeTitles(titles)
	if err != nil {
		return nil, err
	}

	submissionID := uuid.NewString()
	now := c.now().UTC()

	batch := &domain.Batch{
		ID:                 uuid.NewString(),
		Label:              strings.TrimSpace(label),
		Items:              items,
		TotalCount:         len(items),
		Status:             domain.BatchStatusPending,
		SubmissionTaskID:   &submissionID,
		CreatedAt:          now,
		LastProgressUpdate: now,
		UpdatedAt:          now,
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}

	if err := c.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}
	c.metrics.IncBatchSubmitted()

	if c.current != nil {
		if err := c.current.Set(ctx, batch.ID); err != nil {
			c.logger.Warn("failed to track current batch",
				zap.String("batchId", batch.ID),
				zap.Error(err),
			)
		}
	}

	failedIndexes := make([]int, 0)
	for i, title := range items {
		msg := queue.GenerationMessage{
			BatchID:       batch.ID,
			ItemIndex:     i,
			Title:         title,
			CorrelationID: submissionID,
			PlatformID:    target.PlatformID,
			CategoryID:    target.CategoryID,
			SectionID:     target.SectionID,
		}

		if err := c.publisher.Publish(ctx, queue.WorkQueueName, msg); err != nil {
			c.logger.Error("failed to enqueue generation job",
				zap.String("batchId", batch.ID),
				zap.Int("itemIndex", i),
				zap.Error(err),
			)
			failedIndexes = append(failedIndexes, i)
		}
	}

	if len(failedIndexes) == len(items) {
		if _, err := c.batches.FinalizeFailed(ctx, batch.ID, "all submissions failed", c.now().UTC()); err != nil {
			c.logger.Error("failed to finalize batch after total enqueue failure",
				zap.String("batchId", batch.ID),
				zap.Error(err),
			)
		}
		batch.Status = domain.BatchStatusFailed
		return batch, fmt.Errorf("%w: all submissions failed", domain.ErrSubmission)
	}

	if len(failedIndexes) > 0 {
		// Report never-enqueued items as failures so the ledger can still
		// converge the batch without waiting on jobs that will never run.
		for _, i := range failedIndexes {
			c.ledger.ReportOutcome(ctx, batch.ID, i, domain.FailureOutcome(items[i], "failed to enqueue generation job"))
		}
		c.logger.Warn("batch submitted with partial enqueue failure",
			zap.String("batchId", batch.ID),
			zap.Int("failed", len(failedIndexes)),
			zap.Int("total", len(items)),
		)
	}

	return batch, nil
}

func (c *BatchCoordinator) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}
	return c.batches.GetByID(ctx, strings.TrimSpace(id))
}

// CurrentBatch resolves the most recently submitted batch.
func (c *BatchCoordinator) CurrentBatch(ctx context.Context) (*domain.Batch, error) {
	if c.current == nil {
		return nil, domain.ErrNotFound
	}

	batchID, err := c.current.Get(ctx)
	if err != nil {
		return nil, err
	}
	return c.batches.GetByID(ctx, batchID)
}

func normalizeTitles(titles []string) ([]string, error) {
	items := make([]string, 0, len(titles))
	for _, title := range titles {
		trimmed := strings.TrimSpace(title)
		if trimmed == "" {
			continue
		}
		items = append(items, trimmed)
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("%w: batch must include at least one title", domain.ErrValidation)
	}
	if len(items) > maxBatchSize {
		return nil, fmt.Errorf("%w: batch size exceeds %d", domain.ErrValidation, maxBatchSize)
	}

	return items, nil
}
