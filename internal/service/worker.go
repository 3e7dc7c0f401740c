package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/scribeworks/generation-engine/internal/domain"
	"github.com/scribeworks/generation-engine/internal/observability"
	"github.com/scribeworks/generation-engine/internal/provider"
	"github.com/scribeworks/generation-engine/internal/queue"
	"github.com/scribeworks/generation-engine/internal/ratelimit"
	"github.com/scribeworks/generation-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1
	defaultJobMaxRetries = 3
	providerRateKey      = "provider"
)

// WorkerService consumes generation jobs, calls the provider once per
// delivery, and reports the item's result to the ledger. Returning an error
// from the handler hands the message to the queue-level retry; the provider
// adapter owns its own short backoff retries inside a single delivery.
type WorkerService struct {
	batches     repository.BatchRepository
	articles    repository.ArticleRepository
	attempts    repository.AttemptRepository
	ledger      OutcomeReporter
	consumer    queue.Consumer
	generator   provider.Generator
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	maxRetries  int
	now         func() time.Time
}

func NewWorkerService(
	batches repository.BatchRepository,
	articles repository.ArticleRepository,
	attempts repository.AttemptRepository,
	ledger OutcomeReporter,
	consumer queue.Consumer,
	generator provider.Generator,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	maxRetries int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if maxRetries <= 0 {
		maxRetries = defaultJobMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		batches:     batches,
		articles:    articles,
		attempts:    attempts,
		ledger:      ledger,
		consumer:    consumer,
		generator:   generator,
		rateLimiter: rateLimiter,
		logger:      logger,
		concurrency: concurrency,
		maxRetries:  maxRetries,
		now:         time.Now,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes the work queue until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started", zap.Int("workerId", workerID))

			err := s.consumer.Consume(groupCtx, queue.WorkQueueName, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.GenerationMessage) error {
	ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	ctx = observability.WithBatchID(ctx, msg.BatchID)
	logger := observability.WithContextLogger(s.logger, ctx).With(zap.Int("itemIndex", msg.ItemIndex))

	batch, err := s.batches.GetByID(ctx, msg.BatchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("batch not found for job, dropping")
			return nil
		}
		return fmt.Errorf("failed to load batch: %w", err)
	}

	// A terminal batch already has its final counters; late redeliveries
	// and post-recovery retries are dropped rather than reported.
	if batch.Status.IsTerminal() {
		logger.Info("batch already terminal, dropping job",
			zap.String("status", batch.Status.String()),
		)
		return nil
	}

	if batch.Status == domain.BatchStatusPending {
		if _, err := s.batches.MarkProcessing(ctx, msg.BatchID, s.now().UTC()); err != nil {
			return fmt.Errorf("failed to mark batch processing: %w", err)
		}
	}

	s.metrics.IncWorkerInFlight()
	defer s.metrics.DecWorkerInFlight()

	if err := s.rateLimiter.Wait(ctx, providerRateKey); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	request := provider.GenerationRequest{
		Title:      msg.Title,
		PlatformID: msg.PlatformID,
		CategoryID: msg.CategoryID,
		SectionID:  msg.SectionID,
	}

	generateStart := s.now()
	result, generateErr := s.generator.Generate(ctx, request)
	duration := s.now().Sub(generateStart)

	model := ""
	if result != nil {
		model = result.Model
	}
	s.metrics.ObserveGenerationDuration(model, duration)
	s.recordAttempt(ctx, logger, msg, model, duration, generateErr)

	if generateErr != nil {
		logger.Warn("generation failed",
			zap.Int("attempt", msg.Attempt),
			zap.Error(generateErr),
		)

		// The outcome only reaches the ledger once the delivery is on its
		// final attempt; earlier failures go back through the retry queue
		// and the item is still in flight.
		if msg.Attempt >= s.maxRetries {
			s.metrics.IncItemFailed(model)
			s.ledger.ReportOutcome(ctx, msg.BatchID, msg.ItemIndex, domain.FailureOutcome(msg.Title, generateErr.Error()))
		} else {
			s.metrics.IncJobRetry()
		}
		return fmt.Errorf("generation failed for item %d: %w", msg.ItemIndex, generateErr)
	}

	article := &domain.Article{
		ID:         uuid.NewString(),
		BatchID:    &msg.BatchID,
		Title:      msg.Title,
		Body:       result.Body,
		Model:      result.Model,
		PlatformID: msg.PlatformID,
		CategoryID: msg.CategoryID,
		SectionID:  msg.SectionID,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.articles.Create(ctx, article); err != nil {
		// The generated content is lost with the delivery; let the queue
		// retry the whole job.
		return fmt.Errorf("failed to persist article: %w", err)
	}

	s.metrics.IncItemGenerated(result.Model)
	s.ledger.ReportOutcome(ctx, msg.BatchID, msg.ItemIndex, domain.SuccessOutcome(article.ID))

	logger.Info("item generated",
		zap.String("articleId", article.ID),
		zap.String("model", result.Model),
		zap.Duration("duration", duration),
	)
	return nil
}

// recordAttempt persists the provider-call audit row. Best effort: an audit
// write failure must not change the job outcome.
func (s *WorkerService) recordAttempt(
	ctx context.Context,
	logger *zap.Logger,
	msg queue.GenerationMessage,
	model string,
	duration time.Duration,
	generateErr error,
) {
	if s.attempts == nil {
		return
	}

	var attemptErr *string
	if generateErr != nil {
		value := generateErr.Error()
		attemptErr = &value
	}

	attempt := &domain.GenerationAttempt{
		ID:            uuid.NewString(),
		BatchID:       msg.BatchID,
		ItemIndex:     msg.ItemIndex,
		Title:         msg.Title,
		AttemptNumber: msg.Attempt,
		Model:         model,
		DurationMs:    duration.Milliseconds(),
		Error:         attemptErr,
		CreatedAt:     s.now().UTC(),
	}

	if err := s.attempts.Create(ctx, attempt); err != nil {
		logger.Error("failed to record generation attempt", zap.Error(err))
	}
}
