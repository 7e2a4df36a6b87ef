package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"palette/internal/infra"
)

var (
	// ErrMissingAPIToken indicates that the client was configured without credentials.
	ErrMissingAPIToken = errors.New("replicate: api token is required")
	// ErrModelNotFound is returned when the provider does not know the model slug.
	ErrModelNotFound = errors.New("replicate: model not found")
	// ErrPredictionNotFound is returned when a prediction id is unknown upstream.
	ErrPredictionNotFound = errors.New("replicate: prediction not found")
	// ErrGatewayUnavailable covers transport failures and 502/503/504 responses.
	ErrGatewayUnavailable = errors.New("replicate: gateway unavailable")
	// ErrProviderFailure covers every other non-2xx response.
	ErrProviderFailure = errors.New("replicate: provider failure")
)

// Prediction lifecycle statuses reported by the provider.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// EventCompleted is the webhook event filter for terminal predictions.
const EventCompleted = "completed"

// Options configures the Replicate HTTP API client.
type Options struct {
	APIToken       string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the Replicate predictions API.
type Client struct {
	apiToken   string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// CreateRequest describes an asynchronous prediction submission.
type CreateRequest struct {
	// Model is the "owner/name" slug of an official model.
	Model               string
	Input               any
	Webhook             string
	WebhookEventsFilter []string
}

// Prediction is the provider's view of one job.
type Prediction struct {
	ID          string            `json:"id"`
	Model       string            `json:"model,omitempty"`
	Version     string            `json:"version,omitempty"`
	Status      string            `json:"status"`
	Input       json.RawMessage   `json:"input,omitempty"`
	Output      json.RawMessage   `json:"output,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	Logs        string            `json:"logs,omitempty"`
	Metrics     map[string]any    `json:"metrics,omitempty"`
	URLs        map[string]string `json:"urls,omitempty"`
	CreatedAt   string            `json:"created_at,omitempty"`
	StartedAt   string            `json:"started_at,omitempty"`
	CompletedAt string            `json:"completed_at,omitempty"`
}

// ErrorMessage renders the provider error field, which is usually a string
// but may be any JSON value or null.
func (p *Prediction) ErrorMessage() string {
	raw := bytes.TrimSpace(p.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	Op     string
	Status int
	Title  string
	Detail string
	kind   error
}

func (e *APIError) Error() string {
	detail := e.Detail
	if detail == "" {
		detail = e.Title
	}
	if detail == "" {
		detail = http.StatusText(e.Status)
	}
	return fmt.Sprintf("replicate: %s: status %d: %s", e.Op, e.Status, detail)
}

// Unwrap exposes the error category (ErrModelNotFound, ErrGatewayUnavailable, ...).
func (e *APIError) Unwrap() error {
	return e.kind
}

type createBody struct {
	Input               any      `json:"input"`
	Webhook             string   `json:"webhook,omitempty"`
	WebhookEventsFilter []string `json:"webhook_events_filter,omitempty"`
}

type errorBody struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

type secretBody struct {
	Key string `json:"key"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	token := strings.TrimSpace(opts.APIToken)
	if token == "" {
		return nil, ErrMissingAPIToken
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		l := zerolog.New(io.Discard)
		logger = &l
	}
	return &Client{
		apiToken:   token,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CreatePrediction submits an asynchronous prediction against an official
// model and returns the provider's initial view of it.
func (c *Client) CreatePrediction(ctx context.Context, req CreateRequest) (*Prediction, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(req.Model), "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("replicate: invalid model slug %q", req.Model)
	}
	body, err := json.Marshal(createBody{
		Input:               req.Input,
		Webhook:             req.Webhook,
		WebhookEventsFilter: req.WebhookEventsFilter,
	})
	if err != nil {
		return nil, fmt.Errorf("replicate: encode request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/models/%s/%s/predictions", c.baseURL, url.PathEscape(owner), url.PathEscape(name))

	var pred Prediction
	if err := c.do(ctx, "create prediction", http.MethodPost, endpoint, body, ErrModelNotFound, &pred); err != nil {
		return nil, err
	}
	if pred.ID == "" {
		return nil, fmt.Errorf("%w: create prediction: empty prediction id", ErrProviderFailure)
	}
	c.logger.Debug().
		Str("model", req.Model).
		Str("prediction_id", pred.ID).
		Str("status", pred.Status).
		Msg("replicate: prediction created")
	return &pred, nil
}

// GetPrediction fetches the current state of a prediction.
func (c *Client) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("replicate: prediction id is required")
	}
	var pred Prediction
	endpoint := c.baseURL + "/predictions/" + url.PathEscape(id)
	if err := c.do(ctx, "get prediction", http.MethodGet, endpoint, nil, ErrPredictionNotFound, &pred); err != nil {
		return nil, err
	}
	return &pred, nil
}

// WebhookSecret returns the account's default webhook signing secret, as
// issued by the provider (including its "whsec_" prefix).
func (c *Client) WebhookSecret(ctx context.Context) (string, error) {
	var secret secretBody
	if err := c.do(ctx, "get webhook secret", http.MethodGet, c.baseURL+"/webhooks/default/secret", nil, ErrProviderFailure, &secret); err != nil {
		return "", err
	}
	if strings.TrimSpace(secret.Key) == "" {
		return "", fmt.Errorf("%w: get webhook secret: empty key", ErrProviderFailure)
	}
	return secret.Key, nil
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body []byte, notFound error, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("replicate: build request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("replicate: read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Op: op, Status: resp.StatusCode, kind: classify(resp.StatusCode, notFound)}
		var detail errorBody
		if err := json.Unmarshal(raw, &detail); err == nil {
			apiErr.Title = detail.Title
			apiErr.Detail = detail.Detail
		} else {
			apiErr.Detail = strings.TrimSpace(string(raw))
		}
		c.logger.Warn().
			Str("op", op).
			Int("status", resp.StatusCode).
			Str("detail", apiErr.Detail).
			Msg("replicate: request rejected")
		return apiErr
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("replicate: decode response: %w", err)
	}
	return nil
}

func classify(status int, notFound error) error {
	switch status {
	case http.StatusNotFound:
		return notFound
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ErrGatewayUnavailable
	default:
		return ErrProviderFailure
	}
}
