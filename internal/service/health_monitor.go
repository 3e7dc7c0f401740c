package service

import (
	"context"
	"fmt"
	"time"

	"github.com/scribeworks/generation-engine/internal/domain"
	"github.com/scribeworks/generation-engine/internal/observability"
	"github.com/scribeworks/generation-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultMonitorInterval = time.Minute
	defaultStuckThreshold  = 10 * time.Minute
	defaultHardTimeout     = 30 * time.Minute
	defaultMonitorLimit    = 100

	recoveryReasonStuck   = "stuck"
	recoveryReasonTimeout = "timeout"
)

// HealthMonitor periodically sweeps live batches and force-fails the ones
// that stopped making progress or outlived the hard timeout. Recovery is a
// status CAS, so a batch that finishes between detection and recovery is
// left alone and repeated sweeps are no-ops.
type HealthMonitor struct {
	batches        repository.BatchRepository
	logger         *zap.Logger
	metrics        *observability.Metrics
	interval       time.Duration
	stuckThreshold time.Duration
	hardTimeout    time.Duration
	limit          int
	now            func() time.Time
}

func NewHealthMonitor(
	batches repository.BatchRepository,
	interval time.Duration,
	stuckThreshold time.Duration,
	hardTimeout time.Duration,
	logger *zap.Logger,
) (*HealthMonitor, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	if stuckThreshold <= 0 {
		stuckThreshold = defaultStuckThreshold
	}
	if hardTimeout <= 0 {
		hardTimeout = defaultHardTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HealthMonitor{
		batches:        batches,
		logger:         logger,
		interval:       interval,
		stuckThreshold: stuckThreshold,
		hardTimeout:    hardTimeout,
		limit:          defaultMonitorLimit,
		now:            time.Now,
	}, nil
}

func (m *HealthMonitor) SetMetrics(metrics *observability.Metrics) {
	if m == nil {
		return
	}
	m.metrics = metrics
}

func (m *HealthMonitor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Sweep immediately so batches orphaned by a crash do not wait for the
	// first ticker edge.
	if err := m.AutoRecover(ctx); err != nil && ctx.Err() == nil {
		m.logger.Error("health monitor initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.AutoRecover(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				m.logger.Error("health monitor sweep failed", zap.Error(err))
			}
		}
	}
}

// CheckStuck returns live batches with no progress update for the stuck
// threshold. Pending batches are included: a batch whose jobs never started
// has a stale last_progress_update from submission time.
func (m *HealthMonitor) CheckStuck(ctx context.Context) ([]domain.Batch, error) {
	before := m.now().UTC().Add(-m.stuckThreshold)
	return m.batches.FindStale(ctx, liveStatuses(), repository.StaleFieldLastProgress, before, m.limit)
}

// CheckTimeout returns live batches older than the hard timeout.
func (m *HealthMonitor) CheckTimeout(ctx context.Context) ([]domain.Batch, error) {
	before := m.now().UTC().Add(-m.hardTimeout)
	return m.batches.FindStale(ctx, liveStatuses(), repository.StaleFieldCreatedAt, before, m.limit)
}

// AutoRecover force-fails timed-out and stuck batches. Timeout takes
// precedence when a batch matches both.
func (m *HealthMonitor) AutoRecover(ctx context.Context) error {
	timedOut, err := m.CheckTimeout(ctx)
	if err != nil {
		return fmt.Errorf("failed to scan timed-out batches: %w", err)
	}

	stuck, err := m.CheckStuck(ctx)
	if err != nil {
		return fmt.Errorf("failed to scan stuck batches: %w", err)
	}

	seen := make(map[string]struct{}, len(timedOut)+len(stuck))

	for i := range timedOut {
		batch := timedOut[i]
		seen[batch.ID] = struct{}{}
		reason := fmt.Sprintf("batch exceeded hard timeout of %s", m.hardTimeout)
		m.recover(ctx, batch, recoveryReasonTimeout, reason)
	}

	for i := range stuck {
		batch := stuck[i]
		if _, ok := seen[batch.ID]; ok {
			continue
		}
		reason := fmt.Sprintf("batch made no progress for %s", m.stuckThreshold)
		m.recover(ctx, batch, recoveryReasonStuck, reason)
	}

	return nil
}

func (m *HealthMonitor) recover(ctx context.Context, batch domain.Batch, kind string, reason string) {
	recovered, err := m.batches.FinalizeFailed(ctx, batch.ID, reason, m.now().UTC())
	if err != nil {
		m.logger.Error("failed to recover batch",
			zap.String("batchId", batch.ID),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return
	}
	if !recovered {
		// Lost the race to a finalizer or another monitor instance.
		return
	}

	m.logger.Warn("batch force-failed by health monitor",
		zap.String("batchId", batch.ID),
		zap.String("kind", kind),
		zap.Int("completed", batch.CompletedCount),
		zap.Int("failed", batch.FailedCount),
		zap.Int("total", batch.TotalCount),
	)
	m.metrics.IncBatchRecovered(kind)
}

func liveStatuses() []domain.BatchStatus {
	return []domain.BatchStatus{domain.BatchStatusPending, domain.BatchStatusProcessing}
}
