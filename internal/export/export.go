// Package export bundles an owner's completed generations into a zip
// archive with a JSON manifest.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/rs/zerolog"

	"palette/internal/domain"
	"palette/pkg/zip"
)

const ManifestName = "manifest.json"

// Fetcher reads the stored bytes of an asset.
type Fetcher interface {
	Fetch(ctx context.Context, asset domain.PersistedAsset) ([]byte, error)
}

type FetcherFunc func(ctx context.Context, asset domain.PersistedAsset) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, asset domain.PersistedAsset) ([]byte, error) {
	return f(ctx, asset)
}

type ManifestEntry struct {
	GenerationID string         `json:"generation_id"`
	PredictionID string         `json:"prediction_id"`
	Model        string         `json:"model"`
	Kind         string         `json:"kind"`
	File         string         `json:"file,omitempty"`
	MIMEType     string         `json:"mime_type,omitempty"`
	Prompt       any            `json:"prompt,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Error        string         `json:"error,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type Manifest struct {
	OwnerID     string          `json:"owner_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	Items       []ManifestEntry `json:"items"`
}

type Exporter struct {
	repo   domain.GenerationRepository
	fetch  Fetcher
	logger zerolog.Logger
	now    func() time.Time
}

func New(repo domain.GenerationRepository, fetch Fetcher, logger zerolog.Logger) *Exporter {
	return &Exporter{repo: repo, fetch: fetch, logger: logger, now: time.Now}
}

// Write archives up to limit of ownerID's most recent completed
// generations; pending and failed records do not count against limit. An
// asset that can no longer be read is listed in the manifest with its
// error instead of aborting the export.
func (e *Exporter) Write(ctx context.Context, w io.Writer, ownerID string, limit int) (*Manifest, error) {
	gens, err := e.repo.ListCompletedByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	now := e.now().UTC()
	manifest := &Manifest{OwnerID: ownerID, GeneratedAt: now, Items: []ManifestEntry{}}
	var assets []zip.Asset
	for _, g := range gens {
		if g.Asset == nil {
			continue
		}
		entry := ManifestEntry{
			GenerationID: g.ID,
			PredictionID: g.PredictionID,
			Model:        g.Model,
			Kind:         string(g.Kind),
			MIMEType:     g.Asset.MIMEType,
			Prompt:       g.Metadata["prompt"],
			CompletedAt:  g.CompletedAt,
			Metadata:     g.Metadata,
		}
		data, err := e.fetch.Fetch(ctx, *g.Asset)
		if err != nil {
			e.logger.Warn().Err(err).Str("generation_id", g.ID).Msg("export: asset unavailable")
			entry.Error = err.Error()
			manifest.Items = append(manifest.Items, entry)
			continue
		}
		entry.File = g.ID + path.Ext(g.Asset.StoragePath)
		modified := now
		if g.CompletedAt != nil {
			modified = *g.CompletedAt
		}
		assets = append(assets, zip.Asset{Filename: entry.File, Modified: modified, Data: data})
		manifest.Items = append(manifest.Items, entry)
	}

	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	assets = append([]zip.Asset{{Filename: ManifestName, Modified: now, Data: raw}}, assets...)
	if err := zip.ArchiveAssets(w, assets); err != nil {
		return nil, err
	}
	return manifest, nil
}
