// Package materializer copies expiring provider assets into owned storage.
package materializer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"palette/internal/domain"
	"palette/internal/storage"
)

// Reason classifies why materialization failed.
type Reason string

const (
	ReasonInvalidOutput  Reason = "invalid_output"
	ReasonDownloadFailed Reason = "download_failed"
	ReasonUploadFailed   Reason = "upload_failed"
)

const defaultMaxBytes = 256 << 20

// Failure is the unsuccessful result of Materialize. Its message is what
// ends up in the ledger record's error detail.
type Failure struct {
	Reason Reason
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Reason)
	}
	return f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

var errInvalidOutput = errors.New("Invalid output")

// Options configures a Materializer.
type Options struct {
	Store      storage.ObjectStore
	HTTPClient *http.Client
	Timeout    time.Duration
	MaxBytes   int64
	Logger     zerolog.Logger
}

// Materializer downloads completed outputs and persists them under a
// deterministic key so redelivery overwrites instead of duplicating.
type Materializer struct {
	store    storage.ObjectStore
	client   *http.Client
	maxBytes int64
	logger   zerolog.Logger
}

func New(opts Options) *Materializer {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Materializer{store: opts.Store, client: client, maxBytes: maxBytes, logger: opts.Logger}
}

// Request identifies the output to materialize.
type Request struct {
	OwnerID    string
	JobID      string
	Output     json.RawMessage
	FormatHint string
}

// Result is the successful outcome of Materialize.
type Result struct {
	Asset     domain.PersistedAsset
	SourceURL string
}

// Materialize runs download, MIME resolution and persist for one output.
// It never retries; the caller decides what a failure means for the record.
func (m *Materializer) Materialize(ctx context.Context, req Request) (Result, *Failure) {
	sourceURL, ok := OutputURL(req.Output)
	if !ok {
		return Result{}, &Failure{Reason: ReasonInvalidOutput, Err: errInvalidOutput}
	}
	data, _, err := m.Download(ctx, sourceURL)
	if err != nil {
		return Result{}, &Failure{Reason: ReasonDownloadFailed, Err: err}
	}
	ext, mimeType := ResolveMIME(sourceURL, req.FormatHint)
	asset, err := m.Persist(ctx, data, req.OwnerID, req.JobID, ext, mimeType)
	if err != nil {
		return Result{}, &Failure{Reason: ReasonUploadFailed, Err: err}
	}
	m.logger.Debug().
		Str("prediction_id", req.JobID).
		Str("storage_path", asset.StoragePath).
		Int64("byte_size", asset.ByteSize).
		Msg("materializer: asset persisted")
	return Result{Asset: asset, SourceURL: sourceURL}, nil
}

// Download fetches rawURL once and returns its body and reported content type.
func (m *Materializer) Download(ctx context.Context, rawURL string) ([]byte, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, "", fmt.Errorf("invalid asset url: %s", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download asset: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download asset: status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(resp.Body, m.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read asset: %w", err)
	}
	if n > m.maxBytes {
		return nil, "", fmt.Errorf("asset exceeds %d bytes", m.maxBytes)
	}
	return buf.Bytes(), resp.Header.Get("Content-Type"), nil
}

// Persist stores data at ObjectKey(ownerID, jobID, ext), replacing any
// previous copy.
func (m *Materializer) Persist(ctx context.Context, data []byte, ownerID, jobID, ext, mimeType string) (domain.PersistedAsset, error) {
	if m.store == nil {
		return domain.PersistedAsset{}, errors.New("no object store configured")
	}
	key := ObjectKey(ownerID, jobID, ext)
	saved, err := m.store.Put(ctx, key, data, mimeType)
	if err != nil {
		return domain.PersistedAsset{}, fmt.Errorf("upload asset: %w", err)
	}
	return domain.PersistedAsset{
		StoragePath: saved,
		PublicURL:   m.store.PublicURL(saved),
		ByteSize:    int64(len(data)),
		MIMEType:    mimeType,
	}, nil
}

// Discard removes an asset that Persist wrote but no record will point at.
// A missing object counts as discarded.
func (m *Materializer) Discard(ctx context.Context, asset domain.PersistedAsset) error {
	if m.store == nil || asset.StoragePath == "" {
		return nil
	}
	if err := m.store.Delete(ctx, asset.StoragePath); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return fmt.Errorf("discard asset: %w", err)
	}
	return nil
}

// ObjectKey is the storage path of a job's asset.
func ObjectKey(ownerID, jobID, ext string) string {
	return fmt.Sprintf("generations/%s/%s.%s", ownerID, jobID, strings.TrimPrefix(ext, "."))
}

// OutputURL extracts the asset reference from a prediction output, which
// is either a URL string or a list whose first element is one.
func OutputURL(output json.RawMessage) (string, bool) {
	raw := bytes.TrimSpace(output)
	if len(raw) == 0 {
		return "", false
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		single = strings.TrimSpace(single)
		return single, single != ""
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		var first string
		if err := json.Unmarshal(list[0], &first); err == nil {
			first = strings.TrimSpace(first)
			return first, first != ""
		}
	}
	return "", false
}

type format struct {
	ext  string
	mime string
}

var formats = map[string]format{
	"png":  {"png", "image/png"},
	"jpg":  {"jpg", "image/jpeg"},
	"jpeg": {"jpg", "image/jpeg"},
	"webp": {"webp", "image/webp"},
	"gif":  {"gif", "image/gif"},
	"mp4":  {"mp4", "video/mp4"},
	"webm": {"webm", "video/webm"},
	"mov":  {"mov", "video/quicktime"},
}

var defaultFormat = formats["jpg"]

// ResolveMIME derives the extension and MIME type from the URL suffix,
// then the format hint, then falls back to JPEG.
func ResolveMIME(rawURL, hint string) (string, string) {
	if parsed, err := url.Parse(strings.TrimSpace(rawURL)); err == nil {
		suffix := strings.ToLower(strings.TrimPrefix(path.Ext(parsed.Path), "."))
		if f, ok := formats[suffix]; ok {
			return f.ext, f.mime
		}
	}
	if f, ok := formats[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(hint), "."))]; ok {
		return f.ext, f.mime
	}
	return defaultFormat.ext, defaultFormat.mime
}
