package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/scribeworks/generation-engine/internal/domain"
	"github.com/scribeworks/generation-engine/internal/observability"
	"github.com/scribeworks/generation-engine/internal/repository"
	"go.uber.org/zap"
)

// CompletionLedger aggregates per-item outcomes into the batch row. Reports
// arrive concurrently from many workers; counter updates are atomic deltas
// and list appends take a row lock, so no report loses an update. A repeated
// report for the same (batch, item, kind) is detected via the item-report
// unique index and dropped.
type CompletionLedger struct {
	batches repository.BatchRepository
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewCompletionLedger(batches repository.BatchRepository, logger *zap.Logger) (*CompletionLedger, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CompletionLedger{
		batches: batches,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (l *CompletionLedger) SetMetrics(metrics *observability.Metrics) {
	if l == nil {
		return
	}
	l.metrics = metrics
}

// ReportOutcome records one item's terminal result. It never propagates
// store errors to the caller: a failed ledger update must not fail the job
// that produced the outcome, so errors are logged and swallowed.
func (l *CompletionLedger) ReportOutcome(ctx context.Context, batchID string, itemIndex int, outcome domain.Outcome) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := l.apply(ctx, batchID, itemIndex, outcome); err != nil {
		l.logger.Error("ledger update failed; outcome not aggregated",
			zap.String("batchId", batchID),
			zap.Int("itemIndex", itemIndex),
			zap.String("kind", outcome.Kind.String()),
			zap.Error(err),
		)
	}
}

func (l *CompletionLedger) apply(ctx context.Context, batchID string, itemIndex int, outcome domain.Outcome) error {
	if !outcome.Kind.IsValid() {
		return fmt.Errorf("%w: invalid outcome kind %q", domain.ErrValidation, outcome.Kind)
	}

	report := &domain.ItemReport{
		ID:        uuid.NewString(),
		BatchID:   batchID,
		ItemIndex: itemIndex,
		Kind:      outcome.Kind,
		CreatedAt: l.now().UTC(),
	}
	if err := l.batches.InsertItemReport(ctx, report); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			l.logger.Debug("duplicate outcome report dropped",
				zap.String("batchId", batchID),
				zap.Int("itemIndex", itemIndex),
				zap.String("kind", outcome.Kind.String()),
			)
			return nil
		}
		return fmt.Errorf("failed to record item report: %w", err)
	}

	switch outcome.Kind {
	case domain.OutcomeSuccess:
		if err := l.batches.IncrementCounter(ctx, batchID, repository.CounterCompleted, 1); err != nil {
			return fmt.Errorf("failed to increment completed count: %w", err)
		}
		if err := l.batches.AppendArtifactID(ctx, batchID, outcome.ArtifactID); err != nil {
			return fmt.Errorf("failed to append artifact id: %w", err)
		}
	case domain.OutcomeFailure:
		if err := l.batches.IncrementCounter(ctx, batchID, repository.CounterFailed, 1); err != nil {
			return fmt.Errorf("failed to increment failed count: %w", err)
		}
		item := domain.FailedItem{Title: outcome.Title, Error: outcome.Reason}
		if err := l.batches.AppendFailedItem(ctx, batchID, item); err != nil {
			return fmt.Errorf("failed to append failed item: %w", err)
		}
	}

	return l.reconcile(ctx, batchID)
}

// reconcile re-reads the batch and folds the counters into the derived
// fields. Progress only moves forward and hasError only latches true at the
// store level, so concurrent reconciles cannot regress either.
func (l *CompletionLedger) reconcile(ctx context.Context, batchID string) error {
	batch, err := l.batches.GetByID(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to load batch for reconcile: %w", err)
	}

	completed := batch.CompletedCount
	failed := batch.FailedCount
	if batch.TotalCount > 0 && completed+failed > batch.TotalCount {
		clamped := batch.TotalCount - completed
		if clamped < 0 {
			clamped = 0
		}
		l.logger.Warn("counter overflow clamped",
			zap.String("batchId", batchID),
			zap.Int("completed", completed),
			zap.Int("failed", failed),
			zap.Int("total", batch.TotalCount),
		)
		if err := l.batches.ClampFailedCount(ctx, batchID, clamped); err != nil {
			return fmt.Errorf("failed to clamp failed count: %w", err)
		}
		failed = clamped
	}

	progress := domain.ComputeProgress(completed, failed, batch.TotalCount)
	hasError := failed > 0
	if err := l.batches.UpdateProgress(ctx, batchID, progress, hasError); err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}

	if completed+failed < batch.TotalCount {
		return nil
	}

	finalized, err := l.batches.FinalizeCompleted(ctx, batchID, l.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to finalize batch: %w", err)
	}
	if finalized {
		l.logger.Info("batch completed",
			zap.String("batchId", batchID),
			zap.Int("completed", completed),
			zap.Int("failed", failed),
			zap.Int("total", batch.TotalCount),
		)
		l.metrics.IncBatchCompleted()
	}

	return nil
}
