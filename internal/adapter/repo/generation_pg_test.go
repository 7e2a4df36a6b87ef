package repo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"palette/internal/domain"
	"palette/internal/sqlinline"
)

type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

// stubExecutor records statements and answers them from canned results.
type stubExecutor struct {
	execErr    error
	execTag    pgconn.CommandTag
	status     string
	queries    []string
	lastArgs   []any
	statusHits int
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.queries = append(s.queries, query)
	s.lastArgs = args
	return s.execTag, s.execErr
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.queries = append(s.queries, query)
	if query == sqlinline.QSelectGenerationStatus {
		s.statusHits++
		if s.status == "" {
			return stubRow{}
		}
		return stubRow{scan: func(dest ...any) error {
			*dest[0].(*string) = s.status
			return nil
		}}
	}
	return stubRow{}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func TestPGCreateMapsUniqueViolation(t *testing.T) {
	exec := &stubExecutor{execErr: &pgconn.PgError{Code: "23505"}}
	r := NewGenerationRepository(exec)

	err := r.Create(context.Background(), newPending("pred-1", "owner-1"))
	if !errors.Is(err, domain.ErrDuplicateJob) {
		t.Fatalf("err = %v, want ErrDuplicateJob", err)
	}
	if _, ok := exec.lastArgs[0].(uuid.UUID); !ok {
		t.Fatalf("id argument should bind as uuid.UUID, got %T", exec.lastArgs[0])
	}
}

func TestPGCreateRejectsNonUUID(t *testing.T) {
	r := NewGenerationRepository(&stubExecutor{})
	gen := newPending("pred-1", "owner-1")
	gen.ID = "not-a-uuid"
	if err := r.Create(context.Background(), gen); err == nil {
		t.Fatalf("expected error for non-uuid id")
	}
}

func TestPGTransitionExplainsMiss(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		wantErr error
	}{
		{name: "terminal", status: "completed", wantErr: domain.ErrAlreadyTerminal},
		{name: "missing", status: "", wantErr: domain.ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exec := &stubExecutor{execTag: pgconn.NewCommandTag("UPDATE 0"), status: tc.status}
			r := NewGenerationRepository(exec)
			err := r.Transition(context.Background(), "pred-1", domain.Transition{Status: domain.StatusFailed, ErrorDetail: "boom"})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if exec.statusHits != 1 {
				t.Fatalf("status lookups = %d, want 1", exec.statusHits)
			}
		})
	}
}

func TestPGTransitionApplied(t *testing.T) {
	exec := &stubExecutor{execTag: pgconn.NewCommandTag("UPDATE 1")}
	r := NewGenerationRepository(exec)
	err := r.Transition(context.Background(), "pred-1", domain.Transition{
		Status:   domain.StatusCompleted,
		Asset:    &domain.PersistedAsset{StoragePath: "generations/o/pred-1.png", PublicURL: "https://cdn/x.png", ByteSize: 3, MIMEType: "image/png"},
		Metadata: map[string]any{"sourceUrl": "https://provider/img.png"},
	})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if exec.statusHits != 0 {
		t.Fatalf("applied transition should not look up status")
	}
	if got := exec.lastArgs[1]; got != "completed" {
		t.Fatalf("status arg = %v", got)
	}
	meta, ok := exec.lastArgs[7].(string)
	if !ok || !strings.Contains(meta, "sourceUrl") {
		t.Fatalf("metadata arg = %#v", exec.lastArgs[7])
	}
}

func TestPGClaimHeld(t *testing.T) {
	exec := &stubExecutor{status: "processing"}
	r := NewGenerationRepository(exec)
	_, err := r.ClaimMaterialization(context.Background(), "pred-1", 0)
	if !errors.Is(err, domain.ErrClaimHeld) {
		t.Fatalf("err = %v, want ErrClaimHeld", err)
	}
}

func TestPGGetByIDInvalidUUID(t *testing.T) {
	r := NewGenerationRepository(&stubExecutor{})
	if _, err := r.GetByID(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPGReleaseClaim(t *testing.T) {
	exec := &stubExecutor{execTag: pgconn.NewCommandTag("UPDATE 1")}
	r := NewGenerationRepository(exec)
	if err := r.ReleaseClaim(context.Background(), "pred-1"); err != nil {
		t.Fatalf("ReleaseClaim: %v", err)
	}
	if len(exec.queries) != 1 || exec.queries[0] != sqlinline.QReleaseClaim || exec.lastArgs[0] != "pred-1" {
		t.Fatalf("queries = %v args = %v", exec.queries, exec.lastArgs)
	}

	exec.execErr = errors.New("conn closed")
	if err := r.ReleaseClaim(context.Background(), "pred-1"); err == nil {
		t.Fatalf("expected exec error to surface")
	}
}
