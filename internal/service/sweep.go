package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gacha-ledger/internal/constants"
	"gacha-ledger/internal/domain"
	"gacha-ledger/internal/metrics"
)

// PercentilePublisher receives each successful category sweep.
type PercentilePublisher interface {
	PublishPercentiles(ctx context.Context, category domain.Category, results map[int64]domain.GlobalPercentile, sweptAt time.Time) error
}

// Sweeper runs the global percentile batch on a fixed interval. A failed or
// timed out category is logged and picked up again on the next tick.
type Sweeper struct {
	stats     *StatsService
	publisher PercentilePublisher
	metrics   *metrics.Manager
	interval  time.Duration
	timeout   time.Duration
	logger    zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(stats *StatsService, publisher PercentilePublisher, m *metrics.Manager, interval, timeout time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		stats:     stats,
		publisher: publisher,
		metrics:   m,
		interval:  interval,
		timeout:   timeout,
		logger:    logger.With().Str("component", "sweeper").Logger(),
	}
}

// RunOnce sweeps every ranked category, at most SweepConcurrency at a time.
// It returns the joined per-category failures.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	var (
		mu       sync.Mutex
		failures []error
	)

	g := new(errgroup.Group)
	g.SetLimit(constants.SweepConcurrency)
	for _, category := range domain.AllCategories() {
		if !category.Ranked() {
			continue
		}
		g.Go(func() error {
			if err := s.sweepCategory(ctx, category); err != nil {
				s.logger.Error().Err(err).Str("category", category.String()).Msg("percentile sweep failed")
				mu.Lock()
				failures = append(failures, fmt.Errorf("%s: %w", category, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(failures...)
}

func (s *Sweeper) sweepCategory(ctx context.Context, category domain.Category) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := s.stats.RecomputeGlobalPercentiles(ctx, category)
	s.metrics.SweepFinished(category, time.Since(start), len(result), err)
	if err != nil {
		return err
	}

	if s.publisher != nil {
		if err := s.publisher.PublishPercentiles(ctx, category, result, start.UTC()); err != nil {
			// the database batch is already committed; readers of the
			// snapshot see the previous sweep until the next tick
			s.logger.Warn().Err(err).Str("category", category.String()).Msg("failed to publish percentiles")
		}
	}
	return nil
}

func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info().Dur("interval", s.interval).Msg("percentile sweeper started")
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.RunOnce(ctx); err != nil {
					s.logger.Warn().Err(err).Msg("sweep finished with failures")
				}
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info().Msg("percentile sweeper stopped")
}
