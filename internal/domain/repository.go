package domain

import (
	"context"
	"time"
)

// GenerationRepository is the record store contract. Every status write is
// conditional on the stored record not being terminal.
type GenerationRepository interface {
	// Create inserts a pending record. A second record for the same
	// prediction id fails with ErrDuplicateJob.
	Create(ctx context.Context, gen *Generation) error
	GetByID(ctx context.Context, id string) (*Generation, error)
	GetByPredictionID(ctx context.Context, predictionID string) (*Generation, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]Generation, error)
	ListCompletedByOwner(ctx context.Context, ownerID string, limit int) ([]Generation, error)
	// ListStale returns non-terminal records last updated before the cutoff.
	ListStale(ctx context.Context, before time.Time, limit int) ([]Generation, error)
	// ClaimMaterialization takes a lease on a non-terminal record. It fails
	// with ErrAlreadyTerminal or ErrClaimHeld when another writer got there first.
	ClaimMaterialization(ctx context.Context, predictionID string, lease time.Duration) (*Generation, error)
	// ReleaseClaim drops a lease on a non-terminal record; terminal records
	// are left alone.
	ReleaseClaim(ctx context.Context, predictionID string) error
	// Transition applies t when the record is not terminal, otherwise it
	// returns ErrAlreadyTerminal.
	Transition(ctx context.Context, predictionID string, t Transition) error
	Delete(ctx context.Context, id string) error
}
