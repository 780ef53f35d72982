package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-intelligence/internal/metrics"
)

// Retry sweep defaults.
const (
	DefaultMaxRetries = 3
	DefaultSweepBatch = 100
	maxSweepPages     = 20
)

// Sweeper requeues failed jobs that have retries left.
type Sweeper struct {
	queue      Queue
	maxRetries int
	batchSize  int
}

// NewSweeper creates a Sweeper. Non-positive values use the defaults.
func NewSweeper(queue Queue, maxRetries, batchSize int) *Sweeper {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if batchSize <= 0 {
		batchSize = DefaultSweepBatch
	}
	return &Sweeper{queue: queue, maxRetries: maxRetries, batchSize: batchSize}
}

// Run requeues eligible failed jobs page by page and returns the total moved.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	start := time.Now()
	total := 0
	for page := 0; page < maxSweepPages; page++ {
		n, err := s.queue.RequeueFailed(ctx, s.maxRetries, s.batchSize)
		total += n
		if err != nil {
			return total, fmt.Errorf("requeue failed jobs: %w", err)
		}
		if n < s.batchSize {
			break
		}
	}

	log.Info().
		Int("requeued", total).
		Int("maxRetries", s.maxRetries).
		Dur("duration", time.Since(start)).
		Msg("Retry sweep complete")
	metrics.New(metrics.Namespace).
		Dimension("Operation", "ai-sweep").
		Metric("JobsRequeued", float64(total), metrics.UnitCount).
		Flush()
	return total, nil
}
