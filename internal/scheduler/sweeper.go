package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/textube/backend/internal/ingest"
	"go.uber.org/zap"
)

const DefaultInterval = time.Minute

// BatchProcessor processes one batch of pending submissions.
type BatchProcessor interface {
	ProcessPendingSubmissions(ctx context.Context, limit int) (ingest.BatchResult, error)
}

// Sweeper periodically retries submissions left pending, covering dropped
// handoffs and restarts.
type Sweeper struct {
	processor BatchProcessor
	interval  time.Duration
	limit     int
	logger    *zap.Logger
}

// New creates a sweeper. A zero interval uses DefaultInterval and a zero limit
// defers to the processor's default batch size.
func New(processor BatchProcessor, interval time.Duration, limit int, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		processor: processor,
		interval:  interval,
		limit:     limit,
		logger:    logger,
	}
}

// Run sweeps once immediately and then on every tick. Blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper running", zap.Duration("interval", s.interval), zap.Int("limit", s.limit))
	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	result, err := s.processor.ProcessPendingSubmissions(ctx, s.limit)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error("sweep failed", zap.Error(err))
		return
	}
	for _, failure := range result.Failures {
		s.logger.Warn("pending submission failed",
			zap.String("submission_id", failure.SubmissionID),
			zap.Error(failure.Err))
	}
}
