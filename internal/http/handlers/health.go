package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"palette/internal/domain"
)

const healthLookupTimeout = 2 * time.Second

// healthProbeID never names a real prediction; a clean ErrNotFound proves
// the ledger answered.
const healthProbeID = "healthz"

type healthResponse struct {
	Status  string `json:"status"`
	Ledger  string `json:"ledger,omitempty"`
	Storage string `json:"storage,omitempty"`
}

// Health reports liveness, the drivers this process runs on, and whether
// the ledger answers a lookup.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Ledger: a.LedgerDriver, Storage: a.StorageDriver}
	if a.Repo != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthLookupTimeout)
		defer cancel()
		if _, err := a.Repo.GetByPredictionID(ctx, healthProbeID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			a.requestLogger(r).Error().Err(err).Str("ledger", a.LedgerDriver).Msg("health: ledger unreachable")
			resp.Status = "ledger_unavailable"
			a.json(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	a.json(w, http.StatusOK, resp)
}
