// Package sweeper finds ledger records whose callbacks never arrived and
// reconciles them by polling the provider.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"palette/internal/domain"
	"palette/internal/reconcile"
)

// Syncer fetches a prediction and applies its provider status.
type Syncer interface {
	Sync(ctx context.Context, predictionID string) (reconcile.Outcome, error)
}

type Options struct {
	Interval   time.Duration
	StaleAfter time.Duration
	Batch      int
}

type Sweeper struct {
	repo   domain.GenerationRepository
	syncer Syncer
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// Report summarizes one sweep.
type Report struct {
	Scanned  int
	Outcomes map[reconcile.Outcome]int
	Errors   int
}

func New(repo domain.GenerationRepository, syncer Syncer, opts Options, logger zerolog.Logger) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 5 * time.Minute
	}
	if opts.Batch <= 0 {
		opts.Batch = 25
	}
	return &Sweeper{repo: repo, syncer: syncer, opts: opts, logger: logger, now: time.Now}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.opts.Interval).
		Dur("stale_after", s.opts.StaleAfter).
		Msg("sweeper: started")
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("sweeper: list stale generations failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce reconciles one batch of stale records. Per-record failures are
// logged and counted; only a failure to list the batch is returned.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	report := Report{Outcomes: map[reconcile.Outcome]int{}}
	cutoff := s.now().Add(-s.opts.StaleAfter)
	stale, err := s.repo.ListStale(ctx, cutoff, s.opts.Batch)
	if err != nil {
		return report, err
	}
	for _, gen := range stale {
		if ctx.Err() != nil {
			break
		}
		report.Scanned++
		outcome, err := s.syncer.Sync(ctx, gen.PredictionID)
		if err != nil {
			report.Errors++
			s.logger.Warn().Err(err).
				Str("prediction_id", gen.PredictionID).
				Str("generation_id", gen.ID).
				Msg("sweeper: sync failed")
			continue
		}
		report.Outcomes[outcome]++
	}
	if report.Scanned > 0 {
		s.logger.Info().
			Int("scanned", report.Scanned).
			Int("errors", report.Errors).
			Interface("outcomes", report.Outcomes).
			Msg("sweeper: batch done")
	}
	return report, nil
}
