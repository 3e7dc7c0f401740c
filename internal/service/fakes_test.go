package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scribeworks/generation-engine/internal/domain"
	"github.com/scribeworks/generation-engine/internal/provider"
	"github.com/scribeworks/generation-engine/internal/queue"
	"github.com/scribeworks/generation-engine/internal/ratelimit"
	"github.com/scribeworks/generation-engine/internal/repository"
)

type fakeBatchRepo struct {
	createFn              func(ctx context.Context, b *domain.Batch) error
	getByIDFn             func(ctx context.Context, id string) (*domain.Batch, error)
	incrementCounterFn    func(ctx context.Context, id string, field repository.CounterField, delta int) error
	appendArtifactIDFn    func(ctx context.Context, id string, artifactID string) error
	appendFailedItemFn    func(ctx context.Context, id string, item domain.FailedItem) error
	updateProgressFn      func(ctx context.Context, id string, progress int, hasError bool) error
	clampFailedCountFn    func(ctx context.Context, id string, failedCount int) error
	compareAndSetStatusFn func(ctx context.Context, id string, expected []domain.BatchStatus, next domain.BatchStatus) (bool, error)
	markProcessingFn      func(ctx context.Context, id string, startedAt time.Time) (bool, error)
	finalizeCompletedFn   func(ctx context.Context, id string, completedAt time.Time) (bool, error)
	finalizeFailedFn      func(ctx context.Context, id string, errorMessage string, completedAt time.Time) (bool, error)
	findStaleFn           func(ctx context.Context, statuses []domain.BatchStatus, field repository.StaleField, before time.Time, limit int) ([]domain.Batch, error)
	insertItemReportFn    func(ctx context.Context, report *domain.ItemReport) error
}

func (f *fakeBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	if f.createFn != nil {
		return f.createFn(ctx, b)
	}
	return nil
}

func (f *fakeBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeBatchRepo) IncrementCounter(ctx context.Context, id string, field repository.CounterField, delta int) error {
	if f.incrementCounterFn != nil {
		return f.incrementCounterFn(ctx, id, field, delta)
	}
	return nil
}

func (f *fakeBatchRepo) AppendArtifactID(ctx context.Context, id string, artifactID string) error {
	if f.appendArtifactIDFn != nil {
		return f.appendArtifactIDFn(ctx, id, artifactID)
	}
	return nil
}

func (f *fakeBatchRepo) AppendFailedItem(ctx context.Context, id string, item domain.FailedItem) error {
	if f.appendFailedItemFn != nil {
		return f.appendFailedItemFn(ctx, id, item)
	}
	return nil
}

func (f *fakeBatchRepo) UpdateProgress(ctx context.Context, id string, progress int, hasError bool) error {
	if f.updateProgressFn != nil {
		return f.updateProgressFn(ctx, id, progress, hasError)
	}
	return nil
}

func (f *fakeBatchRepo) ClampFailedCount(ctx context.Context, id string, failedCount int) error {
	if f.clampFailedCountFn != nil {
		return f.clampFailedCountFn(ctx, id, failedCount)
	}
	return nil
}

func (f *fakeBatchRepo) CompareAndSetStatus(ctx context.Context, id string, expected []domain.BatchStatus, next domain.BatchStatus) (bool, error) {
	if f.compareAndSetStatusFn != nil {
		return f.compareAndSetStatusFn(ctx, id, expected, next)
	}
	return true, nil
}

func (f *fakeBatchRepo) MarkProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	if f.markProcessingFn != nil {
		return f.markProcessingFn(ctx, id, startedAt)
	}
	return true, nil
}

func (f *fakeBatchRepo) FinalizeCompleted(ctx context.Context, id string, completedAt time.Time) (bool, error) {
	if f.finalizeCompletedFn != nil {
		return f.finalizeCompletedFn(ctx, id, completedAt)
	}
	return true, nil
}

func (f *fakeBatchRepo) FinalizeFailed(ctx context.Context, id string, errorMessage string, completedAt time.Time) (bool, error) {
	if f.finalizeFailedFn != nil {
		return f.finalizeFailedFn(ctx, id, errorMessage, completedAt)
	}
	return true, nil
}

func (f *fakeBatchRepo) FindStale(ctx context.Context, statuses []domain.BatchStatus, field repository.StaleField, before time.Time, limit int) ([]domain.Batch, error) {
	if f.findStaleFn != nil {
		return f.findStaleFn(ctx, statuses, field, before, limit)
	}
	return nil, nil
}

func (f *fakeBatchRepo) InsertItemReport(ctx context.Context, report *domain.ItemReport) error {
	if f.insertItemReportFn != nil {
		return f.insertItemReportFn(ctx, report)
	}
	return nil
}

var _ repository.BatchRepository = (*fakeBatchRepo)(nil)

// memBatchRepo is a mutex-guarded in-memory store that mirrors the
// concurrency guarantees of the durable one: counter increments are applied
// under the lock and item reports are unique per (batch, item, kind).
type memBatchRepo struct {
	mu      sync.Mutex
	batches map[string]*domain.Batch
	reports map[string]struct{}
}

func newMemBatchRepo() *memBatchRepo {
	return &memBatchRepo{
		batches: make(map[string]*domain.Batch),
		reports: make(map[string]struct{}),
	}
}

func (r *memBatchRepo) put(b *domain.Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *b
	r.batches[b.ID] = &clone
}

func (r *memBatchRepo) get(id string) (*domain.Batch, error) {
	b, ok := r.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (r *memBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	r.put(b)
	return nil
}

func (r *memBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := r.get(id)
	if err != nil {
		return nil, err
	}
	clone := *b
	return &clone, nil
}

func (r *memBatchRepo) IncrementCounter(ctx context.Context, id string, field repository.CounterField, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := r.get(id)
	if err != nil {
		return err
	}
	switch field {
	case repository.CounterCompleted:
		b.CompletedCount += delta
	case repository.CounterFailed:
		b.FailedCount += delta
	}
	b.LastProgressUpdate = time.Now().UTC()
	return nil
}

func (r *memBatchRepo) AppendArtifactID(ctx context.Context, id string, artifactID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := r.get(id)
	if err != nil {
		return err
	}
	b.ArtifactIDs = append(b.ArtifactIDs, artifactID)
	return nil
}

func (r *memBatchRepo) AppendFailedItem(ctx context.Context, id string, item domain.FailedItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := r.get(id)
	if err != nil {
		return err
	}
	b.FailedItems = append(b.FailedItems, item)
	return nil
}

func (r *memBatchRepo) UpdateProgress(ctx context.Context, id string, progress int, hasError bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := r.get(id)
	if err != nil {
		return err
	}
	if progress > b.Progress {
		b.Progress = progress
	}
	b.HasError = b.HasError || hasError
	return nil
}

func (r *memBatchRepo) ClampFailedCount(ctx context.Context, id string, failedCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := r.get(id)
	if err != nil {
		return err
	}
	if b.FailedCount > failedCount {
		b.FailedCount = failedCount
	}
	return nil
}

func (r *memBatchRepo) CompareAndSetStatus(ctx context.Context, id string, expected []domain.BatchStatus, next domain.BatchStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.casLocked(id, expected, next)
}

func (r *memBatchRepo) casLocked(id string, expected []domain.BatchStatus, next domain.BatchStatus) (bool, error) {
	b, err := r.get(id)
	if err != nil {
		return false, err
	}
	for _, status := range expected {
		if b.Status == status {
			b.Status = next
			return true, nil
		}
	}
	return false, nil
}

func (r *memBatchRepo) MarkProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok, err := r.casLocked(id, []domain.BatchStatus{domain.BatchStatusPending}, domain.BatchStatusProcessing)
	if err != nil || !ok {
		return ok, err
	}
	b, _ := r.get(id)
	b.StartedAt = &startedAt
	return true, nil
}

func (r *memBatchRepo) FinalizeCompleted(ctx context.Context, id string, completedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := []domain.BatchStatus{domain.BatchStatusPending, domain.BatchStatusProcessing}
	ok, err := r.casLocked(id, live, domain.BatchStatusCompleted)
	if err != nil || !ok {
		return ok, err
	}
	b, _ := r.get(id)
	b.CompletedAt = &completedAt
	return true, nil
}

func (r *memBatchRepo) FinalizeFailed(ctx context.Context, id string, errorMessage string, completedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := []domain.BatchStatus{domain.BatchStatusPending, domain.BatchStatusProcessing}
	ok, err := r.casLocked(id, live, domain.BatchStatusFailed)
	if err != nil || !ok {
		return ok, err
	}
	b, _ := r.get(id)
	b.HasError = true
	b.ErrorMessage = &errorMessage
	b.CompletedAt = &completedAt
	return true, nil
}

func (r *memBatchRepo) FindStale(ctx context.Context, statuses []domain.BatchStatus, field repository.StaleField, before time.Time, limit int) ([]domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []domain.Batch
	for _, b := range r.batches {
		matched := false
		for _, status := range statuses {
			if b.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		ts := b.LastProgressUpdate
		if field == repository.StaleFieldCreatedAt {
			ts = b.CreatedAt
		}
		if ts.Before(before) {
			stale = append(stale, *b)
		}
		if len(stale) >= limit {
			break
		}
	}
	return stale, nil
}

func (r *memBatchRepo) InsertItemReport(ctx context.Context, report *domain.ItemReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fmt.Sprintf("%s/%d/%s", report.BatchID, report.ItemIndex, report.Kind)
	if _, ok := r.reports[key]; ok {
		return domain.ErrConflict
	}
	r.reports[key] = struct{}{}
	return nil
}

var _ repository.BatchRepository = (*memBatchRepo)(nil)

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.GenerationMessage) error
	closeFn   func() error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.GenerationMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

var _ queue.Publisher = (*fakePublisher)(nil)

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

var _ queue.Consumer = (*fakeConsumer)(nil)

type fakeGenerator struct {
	generateFn func(ctx context.Context, req provider.GenerationRequest) (*provider.GenerationResult, error)
}

func (f *fakeGenerator) Generate(ctx context.Context, req provider.GenerationRequest) (*provider.GenerationResult, error) {
	if f.generateFn != nil {
		return f.generateFn(ctx, req)
	}
	return &provider.GenerationResult{Body: "body", Model: "test-model"}, nil
}

var _ provider.Generator = (*fakeGenerator)(nil)

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, key string) (bool, error)
	waitFn  func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, key)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

type fakeArticleRepo struct {
	createFn        func(ctx context.Context, a *domain.Article) error
	getByIDFn       func(ctx context.Context, id string) (*domain.Article, error)
	listByBatchIDFn func(ctx context.Context, batchID string) ([]domain.Article, error)
}

func (f *fakeArticleRepo) Create(ctx context.Context, a *domain.Article) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	return nil
}

func (f *fakeArticleRepo) GetByID(ctx context.Context, id string) (*domain.Article, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeArticleRepo) ListByBatchID(ctx context.Context, batchID string) ([]domain.Article, error) {
	if f.listByBatchIDFn != nil {
		return f.listByBatchIDFn(ctx, batchID)
	}
	return nil, nil
}

var _ repository.ArticleRepository = (*fakeArticleRepo)(nil)

type fakeAttemptRepo struct {
	createFn         func(ctx context.Context, a *domain.GenerationAttempt) error
	getByBatchItemFn func(ctx context.Context, batchID string, itemIndex int) ([]domain.GenerationAttempt, error)
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.GenerationAttempt) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	return nil
}

func (f *fakeAttemptRepo) GetByBatchItem(ctx context.Context, batchID string, itemIndex int) ([]domain.GenerationAttempt, error) {
	if f.getByBatchItemFn != nil {
		return f.getByBatchItemFn(ctx, batchID, itemIndex)
	}
	return nil, nil
}

var _ repository.AttemptRepository = (*fakeAttemptRepo)(nil)

type fakeLedger struct {
	reportFn func(ctx context.Context, batchID string, itemIndex int, outcome domain.Outcome)
}

func (f *fakeLedger) ReportOutcome(ctx context.Context, batchID string, itemIndex int, outcome domain.Outcome) {
	if f.reportFn != nil {
		f.reportFn(ctx, batchID, itemIndex, outcome)
	}
}

var _ OutcomeReporter = (*fakeLedger)(nil)

type fakeCurrentBatch struct {
	setFn func(ctx context.Context, batchID string) error
	getFn func(ctx context.Context) (string, error)
}

func (f *fakeCurrentBatch) Set(ctx context.Context, batchID string) error {
	if f.setFn != nil {
		return f.setFn(ctx, batchID)
	}
	return nil
}

func (f *fakeCurrentBatch) Get(ctx context.Context) (string, error) {
	if f.getFn != nil {
		return f.getFn(ctx)
	}
	return "", domain.ErrNotFound
}

var _ CurrentBatchPointer = (*fakeCurrentBatch)(nil)
