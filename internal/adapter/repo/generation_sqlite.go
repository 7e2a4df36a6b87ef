package repo

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"palette/internal/domain"
	"palette/internal/infra"
	"palette/internal/sqlinline"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// GenerationRepositorySQLite implements domain.GenerationRepository on an
// embedded SQLite database. It backs local development and store tests.
type GenerationRepositorySQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and runs pending
// migrations. Pass ":memory:" for an in-memory database.
func OpenSQLite(path string) (*GenerationRepositorySQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection serializes writers, which is what makes the
	// conditional updates below race-free.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting journal mode: %w", err)
		}
	}

	r := &GenerationRepositorySQLite{db: db, now: time.Now}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return r, nil
}

// Close closes the underlying database connection.
func (r *GenerationRepositorySQLite) Close() error {
	return r.db.Close()
}

func (r *GenerationRepositorySQLite) migrate() error {
	if _, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := r.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := r.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("migration %s: missing version prefix", name)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, fmt.Errorf("migration %s: invalid version: %w", name, err)
	}
	return version, nil
}

func (r *GenerationRepositorySQLite) Create(ctx context.Context, gen *domain.Generation) error {
	input, metadata, err := encodeCreate(gen)
	if err != nil {
		return err
	}
	if gen.CreatedAt.IsZero() {
		gen.CreatedAt = r.now().UTC()
	}
	gen.UpdatedAt = gen.CreatedAt
	ts := gen.CreatedAt.UnixMilli()
	_, err = r.db.ExecContext(ctx, mustStrip(sqlinline.QSQLiteInsertGeneration),
		gen.ID,
		gen.PredictionID,
		gen.OwnerID,
		string(gen.Kind),
		gen.Model,
		string(gen.Status),
		input,
		metadata,
		ts,
		ts,
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return fmt.Errorf("prediction %s: %w", gen.PredictionID, domain.ErrDuplicateJob)
		}
		return err
	}
	return nil
}

func (r *GenerationRepositorySQLite) GetByID(ctx context.Context, id string) (*domain.Generation, error) {
	return r.one(r.db.QueryRowContext(ctx, mustStrip(sqlinline.QSQLiteSelectGenerationByID), id))
}

func (r *GenerationRepositorySQLite) GetByPredictionID(ctx context.Context, predictionID string) (*domain.Generation, error) {
	return r.one(r.db.QueryRowContext(ctx, mustStrip(sqlinline.QSQLiteSelectGenerationByPrediction), predictionID))
}

func (r *GenerationRepositorySQLite) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Generation, error) {
	return r.many(ctx, mustStrip(sqlinline.QSQLiteListGenerationsByOwner), ownerID, clampLimit(limit))
}

func (r *GenerationRepositorySQLite) ListCompletedByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Generation, error) {
	return r.many(ctx, mustStrip(sqlinline.QSQLiteListCompletedGenerationsByOwner), ownerID, clampLimit(limit))
}

func (r *GenerationRepositorySQLite) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Generation, error) {
	return r.many(ctx, mustStrip(sqlinline.QSQLiteListStaleGenerations), before.UnixMilli(), clampLimit(limit))
}

func (r *GenerationRepositorySQLite) ClaimMaterialization(ctx context.Context, predictionID string, lease time.Duration) (*domain.Generation, error) {
	now := r.now().UTC()
	res, err := r.db.ExecContext(ctx, mustStrip(sqlinline.QSQLiteClaimMaterialization),
		now.Add(lease).UnixMilli(),
		now.UnixMilli(),
		predictionID,
		now.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, r.explainMiss(ctx, predictionID, domain.ErrClaimHeld)
	}
	return r.GetByPredictionID(ctx, predictionID)
}

func (r *GenerationRepositorySQLite) ReleaseClaim(ctx context.Context, predictionID string) error {
	_, err := r.db.ExecContext(ctx, mustStrip(sqlinline.QSQLiteReleaseClaim), predictionID)
	return err
}

func (r *GenerationRepositorySQLite) Transition(ctx context.Context, predictionID string, t domain.Transition) error {
	args, err := newTransitionArgs(t)
	if err != nil {
		return err
	}
	at := t.At
	if at.IsZero() {
		at = r.now().UTC()
	}
	res, err := r.db.ExecContext(ctx, mustStrip(sqlinline.QSQLiteTransitionGeneration),
		string(t.Status),
		args.storagePath,
		args.publicURL,
		args.byteSize,
		args.mimeType,
		args.errorDetail,
		args.metadataParam(),
		at.UnixMilli(),
		predictionID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return r.explainMiss(ctx, predictionID, domain.ErrAlreadyTerminal)
}

func (r *GenerationRepositorySQLite) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, mustStrip(sqlinline.QSQLiteDeleteGeneration), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GenerationRepositorySQLite) explainMiss(ctx context.Context, predictionID string, live error) error {
	var status string
	err := r.db.QueryRowContext(ctx, mustStrip(sqlinline.QSQLiteSelectGenerationStatus), predictionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	if domain.GenerationStatus(status).IsTerminal() {
		return domain.ErrAlreadyTerminal
	}
	return live
}

func (r *GenerationRepositorySQLite) one(row rowScanner) (*domain.Generation, error) {
	gen, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return gen, err
}

func (r *GenerationRepositorySQLite) many(ctx context.Context, query string, args ...any) ([]domain.Generation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Generation
	for rows.Next() {
		gen, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *gen)
	}
	return out, rows.Err()
}

func scanSQLite(row rowScanner) (*domain.Generation, error) {
	var (
		raw                    generationRow
		input, metadata        string
		createdAt, updatedAt   int64
		startedAt, completedAt *int64
	)
	if err := row.Scan(
		&raw.id,
		&raw.predictionID,
		&raw.ownerID,
		&raw.kind,
		&raw.model,
		&raw.status,
		&input,
		&metadata,
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
	raw.input = []byte(input)
	raw.metadata = []byte(metadata)
	return raw.toDomain(fromMillis(createdAt), fromMillis(updatedAt), optionalMillis(startedAt), optionalMillis(completedAt))
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func optionalMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := fromMillis(*ms)
	return &t
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// mustStrip drops the audit marker; the constants are compile-time literals
// so a missing marker is a programming error.
func mustStrip(query string) string {
	body, err := infra.StripMarker(query)
	if err != nil {
		panic(err)
	}
	return body
}

var _ domain.GenerationRepository = (*GenerationRepositorySQLite)(nil)
