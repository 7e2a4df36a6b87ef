package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"palette/internal/providers/replicate"
	"palette/internal/reconcile"
	"palette/internal/webhook"
)

const maxWebhookBody = 1 << 20

// ReplicateWebhook authenticates a provider callback and reconciles it.
// Once the signature checks out the provider always gets a 200, whatever
// reconciliation does with the event.
func (a *App) ReplicateWebhook(w http.ResponseWriter, r *http.Request) {
	log := a.requestLogger(r)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}

	if err := a.Verifier.Verify(r.Context(), r.Header, body); err != nil {
		switch {
		case errors.Is(err, webhook.ErrMissingHeaders):
			a.error(w, http.StatusBadRequest, "missing_headers", "missing webhook signature headers")
		case errors.Is(err, webhook.ErrStaleTimestamp):
			a.error(w, http.StatusBadRequest, "stale_timestamp", "webhook timestamp outside tolerance")
		case errors.Is(err, webhook.ErrSignatureMismatch):
			a.error(w, http.StatusUnauthorized, "invalid_signature", "webhook signature mismatch")
		default:
			log.Error().Err(err).Msg("webhook: verification could not run")
			a.error(w, http.StatusInternalServerError, "internal", "webhook verification unavailable")
		}
		return
	}

	var pred replicate.Prediction
	if err := json.Unmarshal(body, &pred); err != nil || pred.ID == "" {
		// Authentic but unusable: acknowledge so the provider stops redelivering it.
		log.Warn().Err(err).Int("bytes", len(body)).Msg("webhook: payload has no prediction id, dropped")
		a.json(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	// The provider hanging up must not abort a half-done materialization.
	ctx := context.WithoutCancel(r.Context())
	outcome, err := a.Reconciler.Apply(ctx, reconcile.EventFromPrediction(&pred))
	if err != nil {
		log.Error().Err(err).Str("prediction_id", pred.ID).Str("status", pred.Status).Msg("webhook: reconcile failed")
	} else {
		log.Debug().Str("prediction_id", pred.ID).Str("outcome", string(outcome)).Msg("webhook: reconciled")
	}
	a.json(w, http.StatusOK, map[string]bool{"received": true})
}
