package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"palette/internal/domain"
	"palette/internal/storage"
	"palette/internal/submit"
)

type generationView struct {
	ID           string                 `json:"id"`
	PredictionID string                 `json:"prediction_id"`
	Kind         string                 `json:"kind"`
	Model        string                 `json:"model"`
	Status       string                 `json:"status"`
	Input        json.RawMessage        `json:"input,omitempty"`
	Metadata     map[string]any         `json:"metadata"`
	Asset        *domain.PersistedAsset `json:"asset,omitempty"`
	ErrorDetail  string                 `json:"error_detail,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

func toView(g *domain.Generation) generationView {
	return generationView{
		ID:           g.ID,
		PredictionID: g.PredictionID,
		Kind:         string(g.Kind),
		Model:        g.Model,
		Status:       string(g.Status),
		Input:        g.Input,
		Metadata:     g.Metadata,
		Asset:        g.Asset,
		ErrorDetail:  g.ErrorDetail,
		CreatedAt:    g.CreatedAt,
		StartedAt:    g.StartedAt,
		CompletedAt:  g.CompletedAt,
		UpdatedAt:    g.UpdatedAt,
	}
}

type createdResponse struct {
	Generation   generationView `json:"generation"`
	PredictionID string         `json:"prediction_id"`
}

func (a *App) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req submit.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.OwnerID = userID
	req.ClientIP = clientIP(r)

	gen, err := a.Submitter.Submit(r.Context(), req)
	if err != nil {
		a.submitError(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, createdResponse{Generation: toView(gen), PredictionID: gen.PredictionID})
}

func (a *App) RetryGeneration(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	gen, err := a.Submitter.Retry(r.Context(), userID, chi.URLParam(r, "id"), clientIP(r))
	if err != nil {
		a.submitError(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, createdResponse{Generation: toView(gen), PredictionID: gen.PredictionID})
}

func (a *App) submitError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *submit.ValidationError
	switch {
	case errors.As(err, &verr):
		a.json(w, http.StatusUnprocessableEntity, map[string]errorBody{"error": {
			Code:       "validation_failed",
			Message:    "request violates model constraints",
			Violations: verr.Violations,
		}})
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "generation not found")
	case errors.Is(err, submit.ErrNotRetryable):
		a.error(w, http.StatusConflict, "not_retryable", err.Error())
	case errors.Is(err, submit.ErrModelNotFound):
		a.error(w, http.StatusNotFound, "model_not_found", "model is not available; pick a different model")
	case errors.Is(err, submit.ErrGatewayUnavailable):
		a.error(w, http.StatusServiceUnavailable, "provider_unavailable", "generation provider is temporarily unavailable; retry shortly")
	case errors.Is(err, submit.ErrLedgerInconsistent):
		a.requestLogger(r).Error().Err(err).Msg("generation submitted without ledger record")
		a.error(w, http.StatusInternalServerError, "ledger_inconsistent", "job was submitted but could not be tracked")
	case errors.Is(err, submit.ErrProviderFailure):
		a.error(w, http.StatusBadGateway, "provider_error", "generation provider rejected the request")
	default:
		a.requestLogger(r).Error().Err(err).Msg("submit generation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to submit generation")
	}
}

func (a *App) ListGenerations(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	gens, err := a.Repo.ListByOwner(r.Context(), userID, limit)
	if err != nil {
		a.requestLogger(r).Error().Err(err).Msg("list generations failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list generations")
		return
	}
	items := make([]generationView, 0, len(gens))
	for i := range gens {
		items = append(items, toView(&gens[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) GetGeneration(w http.ResponseWriter, r *http.Request) {
	gen, ok := a.loadOwned(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, toView(gen))
}

// DeleteGeneration removes the stored object first so a failure never
// leaves an orphaned object behind a deleted record.
func (a *App) DeleteGeneration(w http.ResponseWriter, r *http.Request) {
	gen, ok := a.loadOwned(w, r)
	if !ok {
		return
	}
	if gen.Asset != nil && gen.Asset.StoragePath != "" {
		if err := a.Store.Delete(r.Context(), gen.Asset.StoragePath); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			a.requestLogger(r).Error().Err(err).Str("generation_id", gen.ID).Msg("delete stored object failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to delete stored asset")
			return
		}
	}
	if err := a.Repo.Delete(r.Context(), gen.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.requestLogger(r).Error().Err(err).Str("generation_id", gen.ID).Msg("delete generation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to delete generation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) loadOwned(w http.ResponseWriter, r *http.Request) (*domain.Generation, bool) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return nil, false
	}
	gen, err := a.Repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "generation not found")
			return nil, false
		}
		a.requestLogger(r).Error().Err(err).Msg("load generation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load generation")
		return nil, false
	}
	if gen.OwnerID != userID {
		a.error(w, http.StatusNotFound, "not_found", "generation not found")
		return nil, false
	}
	return gen, true
}

// clientIP expects chi's RealIP middleware to have rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
