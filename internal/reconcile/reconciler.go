// Package reconcile maps provider prediction events onto ledger records.
package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"palette/internal/domain"
	"palette/internal/materializer"
	"palette/internal/providers/replicate"
)

// DefaultLease bounds how long one reconciliation may hold the
// materialization claim before another delivery can take over.
const DefaultLease = 5 * time.Minute

const defaultFailureDetail = "Generation failed"

// Outcome reports what Apply did with an event.
type Outcome string

const (
	OutcomeIgnored    Outcome = "ignored"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeProcessing Outcome = "processing"
	OutcomeCompleted  Outcome = "completed"
	OutcomeFailed     Outcome = "failed"
	OutcomeCanceled   Outcome = "canceled"
)

// Event is one provider status report for a prediction.
type Event struct {
	PredictionID string
	Status       string
	Output       json.RawMessage
	Error        string
	Input        json.RawMessage
}

// EventFromPrediction converts the provider payload into an Event.
func EventFromPrediction(p *replicate.Prediction) Event {
	return Event{
		PredictionID: p.ID,
		Status:       strings.ToLower(strings.TrimSpace(p.Status)),
		Output:       p.Output,
		Error:        p.ErrorMessage(),
		Input:        p.Input,
	}
}

// AssetMaterializer persists a completed output and can take it back when
// no record ends up pointing at it.
type AssetMaterializer interface {
	Materialize(ctx context.Context, req materializer.Request) (materializer.Result, *materializer.Failure)
	Discard(ctx context.Context, asset domain.PersistedAsset) error
}

// Reconciler applies events to the ledger. Every terminal write is
// conditional, so the first terminal transition for a job wins and later
// events are logged and dropped.
type Reconciler struct {
	repo   domain.GenerationRepository
	assets AssetMaterializer
	logger zerolog.Logger
	now    func() time.Time
	lease  time.Duration
}

func NewReconciler(repo domain.GenerationRepository, assets AssetMaterializer, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		repo:   repo,
		assets: assets,
		logger: logger,
		now:    time.Now,
		lease:  DefaultLease,
	}
}

// Apply reconciles ev. The returned error is reserved for record store
// faults; per-job failures become ledger state instead.
func (r *Reconciler) Apply(ctx context.Context, ev Event) (Outcome, error) {
	log := r.logger.With().Str("prediction_id", ev.PredictionID).Str("event_status", ev.Status).Logger()

	gen, err := r.repo.GetByPredictionID(ctx, ev.PredictionID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Msg("reconcile: no ledger record for prediction")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}
	log = log.With().Str("generation_id", gen.ID).Str("from", string(gen.Status)).Logger()

	if gen.Status.IsTerminal() {
		log.Info().Msg("reconcile: record already terminal, event ignored")
		return OutcomeSkipped, nil
	}

	switch ev.Status {
	case replicate.StatusSucceeded:
		return r.complete(ctx, log, gen, ev)
	case replicate.StatusFailed:
		detail := strings.TrimSpace(ev.Error)
		if detail == "" {
			detail = defaultFailureDetail
		}
		return r.transition(ctx, log, ev.PredictionID, OutcomeFailed, domain.Transition{
			Status:      domain.StatusFailed,
			ErrorDetail: detail,
		})
	case replicate.StatusCanceled:
		return r.transition(ctx, log, ev.PredictionID, OutcomeCanceled, domain.Transition{
			Status: domain.StatusCanceled,
		})
	default:
		return r.transition(ctx, log, ev.PredictionID, OutcomeProcessing, domain.Transition{
			Status: domain.StatusProcessing,
		})
	}
}

func (r *Reconciler) complete(ctx context.Context, log zerolog.Logger, gen *domain.Generation, ev Event) (Outcome, error) {
	claimed, err := r.repo.ClaimMaterialization(ctx, ev.PredictionID, r.lease)
	switch {
	case errors.Is(err, domain.ErrAlreadyTerminal), errors.Is(err, domain.ErrClaimHeld):
		log.Info().Err(err).Msg("reconcile: materialization not claimed, event ignored")
		return OutcomeSkipped, nil
	case errors.Is(err, domain.ErrNotFound):
		log.Warn().Msg("reconcile: ledger record vanished before claim")
		return OutcomeIgnored, nil
	case err != nil:
		return "", err
	}

	res, failure := r.assets.Materialize(ctx, materializer.Request{
		OwnerID:    claimed.OwnerID,
		JobID:      claimed.PredictionID,
		Output:     ev.Output,
		FormatHint: formatHint(ev.Input, claimed.Input),
	})
	if failure != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// The caller went away, the asset did not fail. Leave the record
			// open for the next delivery.
			log.Warn().Err(failure.Err).Msg("reconcile: materialization interrupted")
			r.releaseClaim(ctx, log, ev.PredictionID)
			return "", ctxErr
		}
		log.Error().Err(failure.Err).Str("reason", string(failure.Reason)).Msg("reconcile: materialization failed")
		return r.settle(ctx, log, ev.PredictionID, OutcomeFailed, domain.Transition{
			Status:      domain.StatusFailed,
			ErrorDetail: failure.Error(),
			Metadata:    map[string]any{"failure_reason": string(failure.Reason)},
		})
	}

	at := r.now().UTC()
	asset := res.Asset
	outcome, err := r.settle(ctx, log, ev.PredictionID, OutcomeCompleted, domain.Transition{
		Status: domain.StatusCompleted,
		Asset:  &asset,
		Metadata: map[string]any{
			"source_url":   res.SourceURL,
			"completed_at": at.Format(time.RFC3339),
		},
		At: at,
	})
	if err == nil && (outcome == OutcomeSkipped || outcome == OutcomeIgnored) {
		r.discardSuperseded(ctx, log, ev.PredictionID, asset)
	}
	return outcome, err
}

// settle writes the claimant's terminal transition. When the write itself
// fails the claim is released so the next delivery can retry instead of
// waiting out the lease.
func (r *Reconciler) settle(ctx context.Context, log zerolog.Logger, predictionID string, outcome Outcome, t domain.Transition) (Outcome, error) {
	outcome, err := r.transition(ctx, log, predictionID, outcome, t)
	if err != nil {
		r.releaseClaim(ctx, log, predictionID)
	}
	return outcome, err
}

func (r *Reconciler) releaseClaim(ctx context.Context, log zerolog.Logger, predictionID string) {
	if err := r.repo.ReleaseClaim(context.WithoutCancel(ctx), predictionID); err != nil {
		log.Error().Err(err).Msg("reconcile: claim release failed")
		return
	}
	log.Info().Msg("reconcile: claim released")
}

// discardSuperseded drops the asset persisted for a completion that lost
// to a failed or canceled event, or whose record was deleted meanwhile. A
// completed winner shares the object key, so its object is kept.
func (r *Reconciler) discardSuperseded(ctx context.Context, log zerolog.Logger, predictionID string, asset domain.PersistedAsset) {
	ctx = context.WithoutCancel(ctx)
	gen, err := r.repo.GetByPredictionID(ctx, predictionID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Error().Err(err).Str("storage_path", asset.StoragePath).Msg("reconcile: cannot check winner, asset kept")
			return
		}
	} else if gen.Status == domain.StatusCompleted {
		return
	}
	if err := r.assets.Discard(ctx, asset); err != nil {
		log.Error().Err(err).Str("storage_path", asset.StoragePath).Msg("reconcile: orphaned asset not discarded")
		return
	}
	log.Info().Str("storage_path", asset.StoragePath).Msg("reconcile: orphaned asset discarded")
}

func (r *Reconciler) transition(ctx context.Context, log zerolog.Logger, predictionID string, outcome Outcome, t domain.Transition) (Outcome, error) {
	if t.At.IsZero() {
		t.At = r.now().UTC()
	}
	err := r.repo.Transition(ctx, predictionID, t)
	switch {
	case errors.Is(err, domain.ErrAlreadyTerminal):
		log.Info().Str("to", string(t.Status)).Msg("reconcile: lost race to another terminal transition")
		return OutcomeSkipped, nil
	case errors.Is(err, domain.ErrNotFound):
		log.Warn().Str("to", string(t.Status)).Msg("reconcile: ledger record vanished before transition")
		return OutcomeIgnored, nil
	case err != nil:
		log.Error().Err(err).Str("to", string(t.Status)).Msg("reconcile: transition failed")
		return "", err
	}
	log.Info().Str("to", string(t.Status)).Msg("reconcile: transition applied")
	return outcome, nil
}

// formatHint reads "output_format" from the first input snapshot that has it.
func formatHint(inputs ...json.RawMessage) string {
	for _, raw := range inputs {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		var fields struct {
			OutputFormat string `json:"output_format"`
		}
		if err := json.Unmarshal(raw, &fields); err == nil && fields.OutputFormat != "" {
			return fields.OutputFormat
		}
	}
	return ""
}
