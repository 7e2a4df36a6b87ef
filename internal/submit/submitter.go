// Package submit validates generation requests and submits them to the
// provider, recording one pending ledger entry per accepted job.
package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"palette/internal/catalog"
	"palette/internal/domain"
	"palette/internal/infra/geoip"
	"palette/internal/providers/replicate"
)

var (
	ErrModelNotFound      = errors.New("model not found")
	ErrGatewayUnavailable = errors.New("generation provider unavailable")
	ErrProviderFailure    = errors.New("generation provider error")
	// ErrLedgerInconsistent means the provider accepted the job but the
	// ledger record could not be written; the job runs untracked.
	ErrLedgerInconsistent = errors.New("ledger record not created for submitted job")
	ErrNotRetryable       = errors.New("only failed or canceled generations can be retried")
)

// ValidationError lists every model constraint the request violated.
type ValidationError struct {
	Model      string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request for %s: %s", e.Model, strings.Join(e.Violations, "; "))
}

// Request is a generation submission. It is also the input snapshot
// stored on the ledger record and replayed by Retry.
type Request struct {
	OwnerID         string                `json:"-"`
	ClientIP        string                `json:"-"`
	Model           string                `json:"model"`
	Kind            domain.GenerationKind `json:"kind,omitempty"`
	Prompt          string                `json:"prompt"`
	NegativePrompt  string                `json:"negative_prompt,omitempty"`
	ReferenceImages []string              `json:"reference_images,omitempty"`
	ReferenceTags   []string              `json:"reference_tags,omitempty"`
	Image           string                `json:"image,omitempty"`
	LastFrameImage  string                `json:"last_frame_image,omitempty"`
	Resolution      string                `json:"resolution,omitempty"`
	AspectRatio     string                `json:"aspect_ratio,omitempty"`
	OutputFormat    string                `json:"output_format,omitempty"`
	Duration        int                   `json:"duration,omitempty"`
	CameraFixed     bool                  `json:"camera_fixed,omitempty"`
	Seed            *int                  `json:"seed,omitempty"`
}

func (r Request) rules() catalog.Request {
	return catalog.Request{
		Kind:            r.Kind,
		Prompt:          r.Prompt,
		ReferenceImages: r.ReferenceImages,
		Image:           r.Image,
		LastFrameImage:  r.LastFrameImage,
		Resolution:      r.Resolution,
		AspectRatio:     r.AspectRatio,
		OutputFormat:    r.OutputFormat,
		Duration:        r.Duration,
	}
}

// Provider submits asynchronous predictions.
type Provider interface {
	CreatePrediction(ctx context.Context, req replicate.CreateRequest) (*replicate.Prediction, error)
}

// Options wires a Submitter.
type Options struct {
	Catalog    *catalog.Catalog
	Provider   Provider
	Repo       domain.GenerationRepository
	WebhookURL string
	Geo        geoip.CountryResolver
	Logger     zerolog.Logger
}

type Submitter struct {
	catalog    *catalog.Catalog
	provider   Provider
	repo       domain.GenerationRepository
	webhookURL string
	geo        geoip.CountryResolver
	logger     zerolog.Logger
	now        func() time.Time
	newID      func() string
}

func New(opts Options) *Submitter {
	return &Submitter{
		catalog:    opts.Catalog,
		provider:   opts.Provider,
		repo:       opts.Repo,
		webhookURL: opts.WebhookURL,
		geo:        opts.Geo,
		logger:     opts.Logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Submit validates req, submits it with the webhook callback registered
// and records the pending ledger entry.
func (s *Submitter) Submit(ctx context.Context, req Request) (*domain.Generation, error) {
	return s.submit(ctx, req, nil)
}

// Retry resubmits the stored input of a failed or canceled generation as
// a new job. The original record is left untouched.
func (s *Submitter) Retry(ctx context.Context, ownerID, generationID, clientIP string) (*domain.Generation, error) {
	prev, err := s.repo.GetByID(ctx, generationID)
	if err != nil {
		return nil, err
	}
	if prev.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	if prev.Status != domain.StatusFailed && prev.Status != domain.StatusCanceled {
		return nil, ErrNotRetryable
	}
	var req Request
	if err := json.Unmarshal(prev.Input, &req); err != nil {
		return nil, fmt.Errorf("decode stored input of %s: %w", prev.ID, err)
	}
	if req.Model == "" {
		req.Model = prev.Model
	}
	req.OwnerID = ownerID
	req.ClientIP = clientIP
	return s.submit(ctx, req, map[string]any{"retry_of": prev.ID})
}

func (s *Submitter) submit(ctx context.Context, req Request, extra map[string]any) (*domain.Generation, error) {
	req.Model = strings.TrimSpace(req.Model)
	req.Prompt = strings.TrimSpace(req.Prompt)

	model, ok := s.catalog.Lookup(req.Model)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrModelNotFound, req.Model)
	}
	if violations := model.Validate(req.rules()); len(violations) > 0 {
		return nil, &ValidationError{Model: model.ID, Violations: violations}
	}
	if req.Kind == "" {
		req.Kind = model.Kind
	}

	payload, err := BuildPayload(model, req)
	if err != nil {
		return nil, err
	}
	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode input snapshot: %w", err)
	}

	pred, err := s.provider.CreatePrediction(ctx, replicate.CreateRequest{
		Model:               model.Slug,
		Input:               payload,
		Webhook:             s.webhookURL,
		WebhookEventsFilter: []string{replicate.EventCompleted},
	})
	if err != nil {
		return nil, classifyProviderError(err)
	}

	now := s.now().UTC()
	gen := &domain.Generation{
		ID:           s.newID(),
		PredictionID: pred.ID,
		OwnerID:      req.OwnerID,
		Kind:         model.Kind,
		Model:        model.ID,
		Status:       domain.StatusPending,
		Input:        input,
		Metadata:     s.snapshot(model, req, now, extra),
		CreatedAt:    now,
	}
	if err := s.repo.Create(ctx, gen); err != nil {
		s.logger.Error().Err(err).
			Str("prediction_id", pred.ID).
			Str("owner_id", req.OwnerID).
			Str("model", model.ID).
			Msg("submit: provider accepted job but ledger write failed")
		return nil, fmt.Errorf("%w: prediction %s: %w", ErrLedgerInconsistent, pred.ID, err)
	}

	s.logger.Info().
		Str("prediction_id", pred.ID).
		Str("generation_id", gen.ID).
		Str("model", model.ID).
		Msg("submit: generation queued")
	return gen, nil
}

func (s *Submitter) snapshot(model catalog.Model, req Request, at time.Time, extra map[string]any) map[string]any {
	meta := map[string]any{
		"model":           model.ID,
		"provider_model":  model.Slug,
		"kind":            string(model.Kind),
		"prompt":          req.Prompt,
		"reference_count": len(req.ReferenceImages),
		"submitted_at":    at.Format(time.RFC3339),
	}
	if s.geo != nil && req.ClientIP != "" {
		country, err := s.geo.CountryCode(req.ClientIP)
		if err != nil {
			s.logger.Debug().Err(err).Str("ip", req.ClientIP).Msg("submit: country lookup failed")
		} else if country != "" {
			meta["country"] = country
		}
	}
	for k, v := range extra {
		meta[k] = v
	}
	return meta
}

func classifyProviderError(err error) error {
	switch {
	case errors.Is(err, replicate.ErrModelNotFound):
		return fmt.Errorf("%w: %w", ErrModelNotFound, err)
	case errors.Is(err, replicate.ErrGatewayUnavailable):
		return fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}
}
