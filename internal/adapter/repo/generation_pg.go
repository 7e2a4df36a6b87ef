package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"palette/internal/domain"
	"palette/internal/infra"
	"palette/internal/sqlinline"
)

// GenerationRepositoryPG implements domain.GenerationRepository on PostgreSQL.
type GenerationRepositoryPG struct {
	sql infra.SQLExecutor
	now func() time.Time
}

// NewGenerationRepository creates a ledger repository backed by PostgreSQL.
func NewGenerationRepository(sql infra.SQLExecutor) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{sql: sql, now: time.Now}
}

// EnsureSchema creates the ledger table and indexes when missing.
func (r *GenerationRepositoryPG) EnsureSchema(ctx context.Context) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QEnsureGenerationsSchema); err != nil {
		return fmt.Errorf("ensure generations schema: %w", err)
	}
	return nil
}

func (r *GenerationRepositoryPG) Create(ctx context.Context, gen *domain.Generation) error {
	id, err := uuid.Parse(gen.ID)
	if err != nil {
		return fmt.Errorf("generation id: %w", err)
	}
	input, metadata, err := encodeCreate(gen)
	if err != nil {
		return err
	}
	if gen.CreatedAt.IsZero() {
		gen.CreatedAt = r.now().UTC()
	}
	gen.UpdatedAt = gen.CreatedAt
	_, err = r.sql.Exec(ctx, sqlinline.QInsertGeneration,
		id,
		gen.PredictionID,
		gen.OwnerID,
		string(gen.Kind),
		gen.Model,
		string(gen.Status),
		input,
		metadata,
		gen.CreatedAt,
	)
	if err != nil {
		if infra.IsUniqueViolation(err) {
			return fmt.Errorf("prediction %s: %w", gen.PredictionID, domain.ErrDuplicateJob)
		}
		return err
	}
	return nil
}

func (r *GenerationRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Generation, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	return r.one(r.sql.QueryRow(ctx, sqlinline.QSelectGenerationByID, parsed))
}

func (r *GenerationRepositoryPG) GetByPredictionID(ctx context.Context, predictionID string) (*domain.Generation, error) {
	return r.one(r.sql.QueryRow(ctx, sqlinline.QSelectGenerationByPrediction, predictionID))
}

func (r *GenerationRepositoryPG) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Generation, error) {
	return r.many(ctx, sqlinline.QListGenerationsByOwner, ownerID, clampLimit(limit))
}

func (r *GenerationRepositoryPG) ListCompletedByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Generation, error) {
	return r.many(ctx, sqlinline.QListCompletedGenerationsByOwner, ownerID, clampLimit(limit))
}

func (r *GenerationRepositoryPG) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Generation, error) {
	return r.many(ctx, sqlinline.QListStaleGenerations, before, clampLimit(limit))
}

func (r *GenerationRepositoryPG) ClaimMaterialization(ctx context.Context, predictionID string, lease time.Duration) (*domain.Generation, error) {
	gen, err := r.one(r.sql.QueryRow(ctx, sqlinline.QClaimMaterialization, predictionID, lease.Seconds()))
	if err == nil {
		return gen, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return nil, r.explainMiss(ctx, predictionID, domain.ErrClaimHeld)
}

func (r *GenerationRepositoryPG) ReleaseClaim(ctx context.Context, predictionID string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QReleaseClaim, predictionID)
	return err
}

func (r *GenerationRepositoryPG) Transition(ctx context.Context, predictionID string, t domain.Transition) error {
	args, err := newTransitionArgs(t)
	if err != nil {
		return err
	}
	at := t.At
	if at.IsZero() {
		at = r.now().UTC()
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QTransitionGeneration,
		predictionID,
		string(t.Status),
		args.storagePath,
		args.publicURL,
		args.byteSize,
		args.mimeType,
		args.errorDetail,
		args.metadataParam(),
		at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return r.explainMiss(ctx, predictionID, domain.ErrAlreadyTerminal)
}

func (r *GenerationRepositoryPG) Delete(ctx context.Context, id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return domain.ErrNotFound
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QDeleteGeneration, parsed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// explainMiss turns a conditional write that matched no row into the reason
// it missed. live is returned when the record exists and is not terminal.
func (r *GenerationRepositoryPG) explainMiss(ctx context.Context, predictionID string, live error) error {
	var status string
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectGenerationStatus, predictionID).Scan(&status); err != nil {
		if infra.IsNoRows(err) {
			return domain.ErrNotFound
		}
		return err
	}
	if domain.GenerationStatus(status).IsTerminal() {
		return domain.ErrAlreadyTerminal
	}
	return live
}

func (r *GenerationRepositoryPG) one(row rowScanner) (*domain.Generation, error) {
	gen, err := scanPG(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return gen, nil
}

func (r *GenerationRepositoryPG) many(ctx context.Context, query string, args ...any) ([]domain.Generation, error) {
	rows, err := r.sql.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Generation
	for rows.Next() {
		gen, err := scanPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *gen)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanPG(row rowScanner) (*domain.Generation, error) {
	var (
		raw                    generationRow
		createdAt, updatedAt   time.Time
		startedAt, completedAt *time.Time
	)
	if err := row.Scan(
		&raw.id,
		&raw.predictionID,
		&raw.ownerID,
		&raw.kind,
		&raw.model,
		&raw.status,
		&raw.input,
		&raw.metadata,
		&raw.storagePath,
		&raw.publicURL,
		&raw.byteSize,
		&raw.mimeType,
		&raw.errorDetail,
		&createdAt,
		&startedAt,
		&completedAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	return raw.toDomain(createdAt, updatedAt, startedAt, completedAt)
}

var _ domain.GenerationRepository = (*GenerationRepositoryPG)(nil)
