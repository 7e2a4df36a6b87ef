package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"palette/internal/domain"
	"palette/internal/middleware"
	"palette/internal/providers/replicate"
	"palette/internal/reconcile"
	"palette/internal/storage"
	"palette/internal/submit"
)

// GenerationSubmitter creates new provider jobs.
type GenerationSubmitter interface {
	Submit(ctx context.Context, req submit.Request) (*domain.Generation, error)
	Retry(ctx context.Context, ownerID, generationID, clientIP string) (*domain.Generation, error)
}

// EventApplier reconciles provider callbacks.
type EventApplier interface {
	Apply(ctx context.Context, ev reconcile.Event) (reconcile.Outcome, error)
}

// StatusPoller answers synchronous status queries against the provider.
type StatusPoller interface {
	GetStatus(ctx context.Context, predictionID string) (*replicate.Prediction, error)
}

// WebhookVerifier authenticates provider callbacks.
type WebhookVerifier interface {
	Verify(ctx context.Context, header http.Header, body []byte) error
}

type App struct {
	Repo       domain.GenerationRepository
	Submitter  GenerationSubmitter
	Reconciler EventApplier
	Poller     StatusPoller
	Verifier   WebhookVerifier
	Store      storage.ObjectStore
	Logger     zerolog.Logger

	// Driver names reported by Health.
	LedgerDriver  string
	StorageDriver string
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Violations []string `json:"violations,omitempty"`
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]errorBody{"error": {Code: errCode, Message: message}})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func (a *App) requestLogger(r *http.Request) *zerolog.Logger {
	l := a.Logger.With().Str("request_id", middleware.RequestIDFromContext(r.Context())).Logger()
	return &l
}
