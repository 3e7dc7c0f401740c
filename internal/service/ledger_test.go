package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/scribeworks/generation-engine/internal/domain"
	"github.com/scribeworks/generation-engine/internal/repository"
	"go.uber.org/zap"
)

func seedBatch(t *testing.T, repo *memBatchRepo, total int) *domain.Batch {
	t.Helper()

	now := time.Now().UTC()
	items := make([]string, total)
	for i := range items {
		items[i] = fmt.Sprintf("title-%d", i)
	}

	batch := &domain.Batch{
		ID:                 "batch-1",
		Items:              items,
		TotalCount:         total,
		Status:             domain.BatchStatusProcessing,
		CreatedAt:          now,
		LastProgressUpdate: now,
	}
	repo.put(batch)
	return batch
}

func TestCompletionLedgerConcurrentReportsLoseNoUpdates(t *testing.T) {
	t.Parallel()

	const total = 60
	const failures = 15

	repo := newMemBatchRepo()
	seedBatch(t, repo, total)

	ledger, err := NewCompletionLedger(repo, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCompletionLedger() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(itemIndex int) {
			defer wg.Done()

			outcome := domain.SuccessOutcome(fmt.Sprintf("article-%d", itemIndex))
			if itemIndex < failures {
				outcome = domain.FailureOutcome(fmt.Sprintf("title-%d", itemIndex), "generation failed")
			}
			ledger.ReportOutcome(context.Background(), "batch-1", itemIndex, outcome)
		}(i)
	}
	wg.Wait()

	batch, err := repo.GetByID(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	if batch.CompletedCount != total-failures {
		t.Fatalf("completed count = %d, want %d", batch.CompletedCount, total-failures)
	}
	if batch.FailedCount != failures {
		t.Fatalf("failed count = %d, want %d", batch.FailedCount, failures)
	}
	if len(batch.ArtifactIDs) != total-failures {
		t.Fatalf("artifact ids = %d, want %d", len(batch.ArtifactIDs), total-failures)
	}
	if len(batch.FailedItems) != failures {
		t.Fatalf("failed items = %d, want %d", len(batch.FailedItems), failures)
	}
	if batch.Status != domain.BatchStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", batch.Status)
	}
	if batch.Progress != 100 {
		t.Fatalf("progress = %d, want 100", batch.Progress)
	}
	if !batch.HasError {
		t.Fatal("hasError should be true when any item failed")
	}
	if batch.CompletedAt == nil {
		t.Fatal("completedAt should be set after finalize")
	}
}

func TestCompletionLedgerDuplicateReportIsDropped(t *testing.T) {
	t.Parallel()

	repo := newMemBatchRepo()
	seedBatch(t, repo, 2)

	ledger, err := NewCompletionLedger(repo, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCompletionLedger() error = %v", err)
	}

	ledger.ReportOutcome(context.Background(), "batch-1", 0, domain.SuccessOutcome("article-0"))
	ledger.ReportOutcome(context.Background(), "batch-1", 0, domain.SuccessOutcome("article-0"))

	batch, err := repo.GetByID(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	if batch.CompletedCount != 1 {
		t.Fatalf("completed count = %d, want 1", batch.CompletedCount)
	}
	if len(batch.ArtifactIDs) != 1 {
		t.Fatalf("artifact ids = %d, want 1", len(batch.ArtifactIDs))
	}
	if batch.Status != domain.BatchStatusProcessing {
		t.Fatalf("status = %s, want PROCESSING", batch.Status)
	}
	if batch.Progress != 50 {
		t.Fatalf("progress = %d, want 50", batch.Progress)
	}
}

func TestCompletionLedgerSingleItemFailureCompletesBatch(t *testing.T) {
	t.Parallel()

	repo := newMemBatchRepo()
	seedBatch(t, repo, 1)

	ledger, err := NewCompletionLedger(repo, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCompletionLedger() error = %v", err)
	}

	ledger.ReportOutcome(context.Background(), "batch-1", 0, domain.FailureOutcome("title-0", "provider exploded"))

	batch, err := repo.GetByID(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	if batch.Status != domain.BatchStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", batch.Status)
	}
	if !batch.HasError {
		t.Fatal("hasError should be true")
	}
	if batch.Progress != 100 {
		t.Fatalf("progress = %d, want 100", batch.Progress)
	}
	if len(batch.FailedItems) != 1 || batch.FailedItems[0].Error != "provider exploded" {
		t.Fatalf("failed items = %+v, want one entry with reason", batch.FailedItems)
	}
}

func TestCompletionLedgerLateReportAfterFinalizeKeepsStatus(t *testing.T) {
	t.Parallel()

	repo := newMemBatchRepo()
	seedBatch(t, repo, 1)

	ledger, err := NewCompletionLedger(repo, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCompletionLedger() error = %v", err)
	}

	ledger.ReportOutcome(context.Background(), "batch-1", 0, domain.SuccessOutcome("article-0"))
	// A duplicate delivered after finalize must not flip status or counters.
	ledger.ReportOutcome(context.Background(), "batch-1", 0, domain.SuccessOutcome("article-0"))

	batch, err := repo.GetByID(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	if batch.Status != domain.BatchStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", batch.Status)
	}
	if batch.CompletedCount != 1 {
		t.Fatalf("completed count = %d, want 1", batch.CompletedCount)
	}
}

func TestCompletionLedgerSwallowsStoreErrors(t *testing.T) {
	t.Parallel()

	var finalizeCalled bool
	repo := &fakeBatchRepo{
		incrementCounterFn: func(ctx context.Context, id string, field repository.CounterField, delta int) error {
			return errors.New("store down")
		},
		finalizeCompletedFn: func(ctx context.Context, id string, completedAt time.Time) (bool, error) {
			finalizeCalled = true
			return true, nil
		},
	}

	ledger, err := NewCompletionLedger(repo, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCompletionLedger() error = %v", err)
	}

	// Must not panic or propagate; the job that produced the outcome already
	// finished.
	ledger.ReportOutcome(context.Background(), "batch-1", 0, domain.SuccessOutcome("article-0"))

	if finalizeCalled {
		t.Fatal("finalize should not run after a failed counter update")
	}
}

func TestCompletionLedgerClampsCounterOverflow(t *testing.T) {
	t.Parallel()

	var clampedTo *int
	repo := &fakeBatchRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Batch, error) {
			return &domain.Batch{
				ID:             id,
				TotalCount:     3,
				CompletedCount: 2,
				FailedCount:    2,
				Status:         domain.BatchStatusProcessing,
			}, nil
		},
		clampFailedCountFn: func(ctx context.Context, id string, failedCount int) error {
			clampedTo = &failedCount
			return nil
		},
	}

	ledger, err := NewCompletionLedger(repo, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCompletionLedger() error = %v", err)
	}

	ledger.ReportOutcome(context.Background(), "batch-1", 2, domain.FailureOutcome("title-2", "boom"))

	if clampedTo == nil {
		t.Fatal("expected failed count to be clamped")
	}
	if *clampedTo != 1 {
		t.Fatalf("clamped failed count = %d, want 1", *clampedTo)
	}
}

func TestCompletionLedgerRejectsInvalidOutcomeKind(t *testing.T) {
	t.Parallel()

	repo := &fakeBatchRepo{
		insertItemReportFn: func(ctx context.Context, report *domain.ItemReport) error {
			t.Fatal("no report should be recorded for an invalid outcome")
			return nil
		},
	}

	ledger, err := NewCompletionLedger(repo, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCompletionLedger() error = %v", err)
	}

	ledger.ReportOutcome(context.Background(), "batch-1", 0, domain.Outcome{Kind: "BANANA"})
}
