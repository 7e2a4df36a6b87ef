package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"palette/internal/adapter/repo"
	"palette/internal/domain"
)

func TestWriteArchivesCompletedGenerations(t *testing.T) {
	ctx := context.Background()
	ledger, err := repo.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer ledger.Close()

	seed := func(id, pred string) {
		t.Helper()
		err := ledger.Create(ctx, &domain.Generation{
			ID: id, PredictionID: pred, OwnerID: "user-1", Kind: domain.KindImage, Model: "nano-banana",
			Status: domain.StatusPending, Input: json.RawMessage(`{}`), Metadata: map[string]any{"prompt": "p-" + id},
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	complete := func(pred, key string) {
		t.Helper()
		err := ledger.Transition(ctx, pred, domain.Transition{
			Status: domain.StatusCompleted,
			Asset:  &domain.PersistedAsset{StoragePath: key, PublicURL: "http://x/" + key, ByteSize: 3, MIMEType: "image/png"},
			At:     time.Now(),
		})
		if err != nil {
			t.Fatalf("Transition: %v", err)
		}
	}
	seed("g1", "p1")
	seed("g2", "p2")
	seed("g3", "p3")
	complete("p1", "generations/user-1/p1.png")
	complete("p2", "generations/user-1/p2.png")

	fetch := FetcherFunc(func(ctx context.Context, asset domain.PersistedAsset) ([]byte, error) {
		if asset.StoragePath == "generations/user-1/p2.png" {
			return nil, errors.New("object gone")
		}
		return []byte("png"), nil
	})

	var buf bytes.Buffer
	manifest, err := New(ledger, fetch, zerolog.Nop()).Write(ctx, &buf, "user-1", 100)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(manifest.Items) != 2 {
		t.Fatalf("manifest items = %d, want 2 (pending record excluded)", len(manifest.Items))
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	names := map[string]*zip.File{}
	for _, f := range zr.File {
		names[f.Name] = f
	}
	if _, ok := names[ManifestName]; !ok {
		t.Fatalf("manifest missing from archive")
	}
	f, ok := names["g1.png"]
	if !ok || len(names) != 2 {
		t.Fatalf("archive entries = %v", names)
	}
	rc, _ := f.Open()
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "png" {
		t.Fatalf("g1.png = %q", data)
	}
	for _, item := range manifest.Items {
		if item.GenerationID == "g2" && item.Error != "object gone" {
			t.Fatalf("g2 error = %q", item.Error)
		}
	}
}

func TestWriteLimitCountsCompletedOnly(t *testing.T) {
	ctx := context.Background()
	ledger, err := repo.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer ledger.Close()

	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	for i, pred := range []string{"p1", "p2", "p3", "p4"} {
		err := ledger.Create(ctx, &domain.Generation{
			ID: "g" + pred[1:], PredictionID: pred, OwnerID: "user-1", Kind: domain.KindImage, Model: "nano-banana",
			Status: domain.StatusPending, Input: json.RawMessage(`{}`), CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	for _, pred := range []string{"p1", "p2"} {
		key := "generations/user-1/" + pred + ".png"
		err := ledger.Transition(ctx, pred, domain.Transition{
			Status: domain.StatusCompleted,
			Asset:  &domain.PersistedAsset{StoragePath: key, PublicURL: "http://x/" + key, ByteSize: 3, MIMEType: "image/png"},
		})
		if err != nil {
			t.Fatalf("Transition: %v", err)
		}
	}
	if err := ledger.Transition(ctx, "p3", domain.Transition{Status: domain.StatusFailed, ErrorDetail: "boom"}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	fetch := FetcherFunc(func(ctx context.Context, asset domain.PersistedAsset) ([]byte, error) {
		return []byte("png"), nil
	})
	var buf bytes.Buffer
	manifest, err := New(ledger, fetch, zerolog.Nop()).Write(ctx, &buf, "user-1", 2)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(manifest.Items) != 2 || manifest.Items[0].GenerationID != "g2" || manifest.Items[1].GenerationID != "g1" {
		t.Fatalf("manifest items = %+v, want g2 then g1", manifest.Items)
	}
}
