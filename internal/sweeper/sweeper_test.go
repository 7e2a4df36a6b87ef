package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"palette/internal/adapter/repo"
	"palette/internal/domain"
	"palette/internal/reconcile"
)

type fakeSyncer struct {
	seen     []string
	outcomes map[string]reconcile.Outcome
}

func (f *fakeSyncer) Sync(ctx context.Context, id string) (reconcile.Outcome, error) {
	f.seen = append(f.seen, id)
	if out, ok := f.outcomes[id]; ok {
		return out, nil
	}
	return "", errors.New("provider unavailable")
}

func TestRunOnceSyncsOnlyStaleOpenRecords(t *testing.T) {
	ctx := context.Background()
	ledger, err := repo.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer ledger.Close()

	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	create := func(pred string, at time.Time) {
		t.Helper()
		if err := ledger.Create(ctx, &domain.Generation{
			ID:           uuid.NewString(),
			PredictionID: pred,
			OwnerID:      "owner-1",
			Kind:         domain.KindVideo,
			Model:        "seedance-lite",
			Status:       domain.StatusPending,
			CreatedAt:    at,
		}); err != nil {
			t.Fatalf("Create %s: %v", pred, err)
		}
	}
	create("old-1", now.Add(-20*time.Minute))
	create("old-2", now.Add(-10*time.Minute))
	create("fresh", now.Add(-time.Minute))
	create("done", now.Add(-30*time.Minute))
	if err := ledger.Transition(ctx, "done", domain.Transition{Status: domain.StatusCanceled, At: now.Add(-30 * time.Minute)}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	syncer := &fakeSyncer{outcomes: map[string]reconcile.Outcome{"old-1": reconcile.OutcomeCompleted}}
	s := New(ledger, syncer, Options{StaleAfter: 5 * time.Minute, Batch: 10}, zerolog.Nop())
	s.now = func() time.Time { return now }

	report, err := s.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.Scanned != 2 || report.Errors != 1 || report.Outcomes[reconcile.OutcomeCompleted] != 1 {
		t.Fatalf("report = %+v", report)
	}
	if len(syncer.seen) != 2 || syncer.seen[0] != "old-1" || syncer.seen[1] != "old-2" {
		t.Fatalf("synced = %v, want oldest first", syncer.seen)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ledger, err := repo.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer ledger.Close()

	s := New(ledger, &fakeSyncer{}, Options{Interval: 10 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run err = %v, want deadline exceeded", err)
	}
}
