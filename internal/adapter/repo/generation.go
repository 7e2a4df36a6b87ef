package repo

import (
	"encoding/json"
	"fmt"
	"time"

	"palette/internal/domain"
)

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// generationRow holds the nullable columns of one ledger row before they are
// folded into a domain.Generation.
type generationRow struct {
	id, predictionID, ownerID, kind, model, status string
	input, metadata                                []byte
	storagePath, publicURL, mimeType, errorDetail  *string
	byteSize                                       *int64
}

func (r generationRow) toDomain(createdAt, updatedAt time.Time, startedAt, completedAt *time.Time) (*domain.Generation, error) {
	gen := &domain.Generation{
		ID:           r.id,
		PredictionID: r.predictionID,
		OwnerID:      r.ownerID,
		Kind:         domain.GenerationKind(r.kind),
		Model:        r.model,
		Status:       domain.GenerationStatus(r.status),
		Input:        append(json.RawMessage(nil), r.input...),
		CreatedAt:    createdAt,
		StartedAt:    startedAt,
		CompletedAt:  completedAt,
		UpdatedAt:    updatedAt,
	}
	if len(r.metadata) > 0 {
		if err := json.Unmarshal(r.metadata, &gen.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", r.id, err)
		}
	}
	if gen.Metadata == nil {
		gen.Metadata = map[string]any{}
	}
	if r.storagePath != nil && *r.storagePath != "" {
		asset := &domain.PersistedAsset{StoragePath: *r.storagePath}
		if r.publicURL != nil {
			asset.PublicURL = *r.publicURL
		}
		if r.byteSize != nil {
			asset.ByteSize = *r.byteSize
		}
		if r.mimeType != nil {
			asset.MIMEType = *r.mimeType
		}
		gen.Asset = asset
	}
	if r.errorDetail != nil {
		gen.ErrorDetail = *r.errorDetail
	}
	return gen, nil
}

// transitionArgs flattens the optional transition fields into nullable SQL
// parameters shared by both dialects.
type transitionArgs struct {
	storagePath, publicURL, mimeType, errorDetail *string
	byteSize                                      *int64
	metadata                                      []byte
}

func newTransitionArgs(t domain.Transition) (transitionArgs, error) {
	var args transitionArgs
	if t.Asset != nil {
		args.storagePath = &t.Asset.StoragePath
		args.publicURL = &t.Asset.PublicURL
		args.mimeType = &t.Asset.MIMEType
		args.byteSize = &t.Asset.ByteSize
	}
	if t.ErrorDetail != "" {
		args.errorDetail = &t.ErrorDetail
	}
	if len(t.Metadata) > 0 {
		raw, err := json.Marshal(t.Metadata)
		if err != nil {
			return args, fmt.Errorf("encode metadata: %w", err)
		}
		args.metadata = raw
	}
	return args, nil
}

// metadataParam returns the JSON patch as a string so both drivers bind it
// as text, or nil when there is nothing to merge.
func (a transitionArgs) metadataParam() any {
	if a.metadata == nil {
		return nil
	}
	return string(a.metadata)
}

func encodeCreate(gen *domain.Generation) (input, metadata string, err error) {
	input = "{}"
	if len(gen.Input) > 0 {
		input = string(gen.Input)
	}
	meta := gen.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", "", fmt.Errorf("encode metadata: %w", err)
	}
	return input, string(raw), nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 100
	}
	return limit
}
