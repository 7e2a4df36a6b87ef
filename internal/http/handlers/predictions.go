package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"palette/internal/domain"
	"palette/internal/providers/replicate"
)

type predictionView struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Output      json.RawMessage `json:"output"`
	Error       *string         `json:"error"`
	Metrics     map[string]any  `json:"metrics,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	CreatedAt   string          `json:"created_at,omitempty"`
	CompletedAt string          `json:"completed_at,omitempty"`
}

func toPredictionView(p *replicate.Prediction) predictionView {
	view := predictionView{
		ID:          p.ID,
		Status:      p.Status,
		Output:      p.Output,
		Metrics:     p.Metrics,
		Input:       p.Input,
		CreatedAt:   p.CreatedAt,
		CompletedAt: p.CompletedAt,
	}
	if len(view.Output) == 0 {
		view.Output = json.RawMessage("null")
	}
	if msg := p.ErrorMessage(); msg != "" {
		view.Error = &msg
	}
	return view
}

// GetPrediction is the polling fallback. Only predictions tracked for the
// caller are exposed.
func (a *App) GetPrediction(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	id := chi.URLParam(r, "id")
	gen, err := a.Repo.GetByPredictionID(r.Context(), id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.requestLogger(r).Error().Err(err).Msg("load generation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load generation")
		return
	}
	if gen == nil || gen.OwnerID != userID {
		a.error(w, http.StatusNotFound, "not_found", "prediction not found")
		return
	}

	pred, err := a.Poller.GetStatus(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, replicate.ErrPredictionNotFound):
			a.error(w, http.StatusNotFound, "not_found", "prediction not found upstream")
		case errors.Is(err, replicate.ErrGatewayUnavailable):
			a.error(w, http.StatusServiceUnavailable, "provider_unavailable", "generation provider is temporarily unavailable")
		default:
			a.requestLogger(r).Error().Err(err).Str("prediction_id", id).Msg("poll prediction failed")
			a.error(w, http.StatusBadGateway, "provider_error", "failed to fetch prediction status")
		}
		return
	}
	a.json(w, http.StatusOK, toPredictionView(pred))
}
