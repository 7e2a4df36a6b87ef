package domain

import (
	"encoding/json"
	"time"
)

// GenerationKind enumerates the kinds of asset a job can produce.
type GenerationKind string

const (
	KindImage GenerationKind = "image"
	KindVideo GenerationKind = "video"
)

// Valid reports whether k is a known kind.
func (k GenerationKind) Valid() bool {
	return k == KindImage || k == KindVideo
}

// GenerationStatus enumerates ledger lifecycle states.
type GenerationStatus string

const (
	StatusPending    GenerationStatus = "pending"
	StatusProcessing GenerationStatus = "processing"
	StatusCompleted  GenerationStatus = "completed"
	StatusFailed     GenerationStatus = "failed"
	StatusCanceled   GenerationStatus = "canceled"
)

// IsTerminal reports whether no further transitions are permitted.
func (s GenerationStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// TerminalStatuses lists the states guarded against further writes.
var TerminalStatuses = []GenerationStatus{StatusCompleted, StatusFailed, StatusCanceled}

// PersistedAsset describes the owned copy of a generated asset.
type PersistedAsset struct {
	StoragePath string `json:"storage_path"`
	PublicURL   string `json:"public_url"`
	ByteSize    int64  `json:"byte_size"`
	MIMEType    string `json:"mime_type"`
}

// Generation is the ledger record tracking one provider prediction.
type Generation struct {
	ID           string
	PredictionID string
	OwnerID      string
	Kind         GenerationKind
	Model        string
	Status       GenerationStatus
	Input        json.RawMessage
	Metadata     map[string]any
	Asset        *PersistedAsset
	ErrorDetail  string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	UpdatedAt    time.Time
}

// MergeMetadata returns a copy of the record metadata with extra keys layered on top.
func (g *Generation) MergeMetadata(extra map[string]any) map[string]any {
	merged := make(map[string]any, len(g.Metadata)+len(extra))
	for k, v := range g.Metadata {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

// Transition carries the fields written alongside a status change. Only
// non-nil/non-empty fields are applied.
type Transition struct {
	Status      GenerationStatus
	Asset       *PersistedAsset
	ErrorDetail string
	Metadata    map[string]any
	At          time.Time
}
