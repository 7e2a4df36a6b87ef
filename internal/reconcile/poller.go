package reconcile

import (
	"context"

	"github.com/rs/zerolog"

	"palette/internal/providers/replicate"
)

// PredictionSource reads prediction state from the provider.
type PredictionSource interface {
	GetPrediction(ctx context.Context, id string) (*replicate.Prediction, error)
}

// Poller is the fallback path for callbacks that are slow or never arrive.
type Poller struct {
	provider   PredictionSource
	reconciler *Reconciler
	logger     zerolog.Logger
}

func NewPoller(provider PredictionSource, reconciler *Reconciler, logger zerolog.Logger) *Poller {
	return &Poller{provider: provider, reconciler: reconciler, logger: logger}
}

// GetStatus returns the provider's view of id. A succeeded prediction with
// output is reconciled on the way through; reconciliation errors are
// logged and never hide the provider status from the caller. A caller that
// hangs up does not abort a materialization already under way.
func (p *Poller) GetStatus(ctx context.Context, id string) (*replicate.Prediction, error) {
	pred, err := p.provider.GetPrediction(ctx, id)
	if err != nil {
		return nil, err
	}
	if pred.Status == replicate.StatusSucceeded && len(pred.Output) > 0 {
		if _, err := p.reconciler.Apply(context.WithoutCancel(ctx), EventFromPrediction(pred)); err != nil {
			p.logger.Error().Err(err).Str("prediction_id", id).Msg("poller: opportunistic reconcile failed")
		}
	}
	return pred, nil
}

// Sync fetches id and applies whatever status the provider reports,
// including failed and canceled.
func (p *Poller) Sync(ctx context.Context, id string) (Outcome, error) {
	pred, err := p.provider.GetPrediction(ctx, id)
	if err != nil {
		return "", err
	}
	return p.reconciler.Apply(ctx, EventFromPrediction(pred))
}
