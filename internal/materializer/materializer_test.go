package materializer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"palette/internal/storage"
)

func TestResolveMIME(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		hint     string
		wantExt  string
		wantMIME string
	}{
		{name: "no extension no hint", url: "https://replicate.delivery/xezq/abc123", wantExt: "jpg", wantMIME: "image/jpeg"},
		{name: "hint webp", url: "https://replicate.delivery/xezq/abc123", hint: "webp", wantExt: "webp", wantMIME: "image/webp"},
		{name: "mp4 with token", url: "https://replicate.delivery/out.mp4?token=abc.def", wantExt: "mp4", wantMIME: "video/mp4"},
		{name: "suffix beats hint", url: "https://cdn.example.com/out.png", hint: "webp", wantExt: "png", wantMIME: "image/png"},
		{name: "upper case jpeg", url: "https://cdn.example.com/SHOT.JPEG", wantExt: "jpg", wantMIME: "image/jpeg"},
		{name: "unknown suffix uses hint", url: "https://cdn.example.com/out.bin", hint: ".png", wantExt: "png", wantMIME: "image/png"},
		{name: "unknown hint", url: "", hint: "tiff", wantExt: "jpg", wantMIME: "image/jpeg"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ext, mime := ResolveMIME(tc.url, tc.hint)
			if ext != tc.wantExt || mime != tc.wantMIME {
				t.Fatalf("ResolveMIME(%q, %q) = (%q, %q), want (%q, %q)", tc.url, tc.hint, ext, mime, tc.wantExt, tc.wantMIME)
			}
		})
	}
}

func TestOutputURL(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{raw: `"https://replicate.delivery/a.png"`, want: "https://replicate.delivery/a.png", wantOK: true},
		{raw: `["https://replicate.delivery/a.png","https://replicate.delivery/b.png"]`, want: "https://replicate.delivery/a.png", wantOK: true},
		{raw: `[]`},
		{raw: `null`},
		{raw: ``},
		{raw: `""`},
		{raw: `{"url":"https://x"}`},
		{raw: `[42]`},
	}
	for _, tc := range tests {
		got, ok := OutputURL(json.RawMessage(tc.raw))
		if got != tc.want || ok != tc.wantOK {
			t.Fatalf("OutputURL(%s) = (%q, %v), want (%q, %v)", tc.raw, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestMaterializePersistsDeterministically(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
	defer srv.Close()

	root := t.TempDir()
	store, err := storage.NewFileStore(root, "https://cdn.palette.test/static")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	m := New(Options{Store: store, HTTPClient: srv.Client(), Logger: zerolog.Nop()})

	output, _ := json.Marshal(srv.URL + "/img.png")
	req := Request{OwnerID: "owner-1", JobID: "pred-1", Output: output}
	for i := 0; i < 2; i++ {
		res, failure := m.Materialize(context.Background(), req)
		if failure != nil {
			t.Fatalf("Materialize: %v", failure)
		}
		if res.Asset.StoragePath != "generations/owner-1/pred-1.png" {
			t.Fatalf("storage path = %q", res.Asset.StoragePath)
		}
		if res.Asset.PublicURL != "https://cdn.palette.test/static/generations/owner-1/pred-1.png" {
			t.Fatalf("public url = %q", res.Asset.PublicURL)
		}
		if res.Asset.ByteSize != int64(len(payload)) || res.Asset.MIMEType != "image/png" {
			t.Fatalf("asset = %+v", res.Asset)
		}
		if res.SourceURL != srv.URL+"/img.png" {
			t.Fatalf("source url = %q", res.SourceURL)
		}
	}

	entries, err := os.ReadDir(filepath.Join(root, "generations", "owner-1"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("objects = %d, want 1", len(entries))
	}
	stored, _ := os.ReadFile(filepath.Join(root, "generations", "owner-1", "pred-1.png"))
	if !bytes.Equal(stored, payload) {
		t.Fatalf("stored bytes mismatch")
	}
}

func TestDiscardRemovesPersistedAsset(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewFileStore(root, "https://cdn.palette.test/static")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	m := New(Options{Store: store, Logger: zerolog.Nop()})
	ctx := context.Background()

	asset, err := m.Persist(ctx, []byte("png"), "owner-1", "pred-1", "png", "image/png")
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := m.Discard(ctx, asset); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "generations", "owner-1", "pred-1.png")); !os.IsNotExist(err) {
		t.Fatalf("object still present: %v", err)
	}
	if err := m.Discard(ctx, asset); err != nil {
		t.Fatalf("second Discard: %v", err)
	}
}

func TestMaterializeInvalidOutput(t *testing.T) {
	store := &recordingStore{}
	m := New(Options{Store: store, Logger: zerolog.Nop()})
	_, failure := m.Materialize(context.Background(), Request{OwnerID: "o", JobID: "j", Output: json.RawMessage(`{"nope":true}`)})
	if failure == nil || failure.Reason != ReasonInvalidOutput {
		t.Fatalf("failure = %+v, want invalid_output", failure)
	}
	if failure.Error() != "Invalid output" {
		t.Fatalf("message = %q", failure.Error())
	}
	if store.puts != 0 {
		t.Fatalf("store written on invalid output")
	}
}

func TestMaterializeDownloadFailureReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusForbidden)
	}))
	defer srv.Close()

	store := &recordingStore{}
	m := New(Options{Store: store, HTTPClient: srv.Client(), Logger: zerolog.Nop()})
	output, _ := json.Marshal([]string{srv.URL + "/gone.mp4"})
	_, failure := m.Materialize(context.Background(), Request{OwnerID: "o", JobID: "j", Output: output})
	if failure == nil || failure.Reason != ReasonDownloadFailed {
		t.Fatalf("failure = %+v, want download_failed", failure)
	}
	if !bytes.Contains([]byte(failure.Error()), []byte("403")) {
		t.Fatalf("message %q should carry the upstream status", failure.Error())
	}
	if store.puts != 0 {
		t.Fatalf("store written after failed download")
	}
}

func TestMaterializeUploadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("video"))
	}))
	defer srv.Close()

	m := New(Options{Store: &recordingStore{err: errors.New("bucket full")}, HTTPClient: srv.Client(), Logger: zerolog.Nop()})
	output, _ := json.Marshal(srv.URL + "/clip.mp4")
	_, failure := m.Materialize(context.Background(), Request{OwnerID: "o", JobID: "j", Output: output})
	if failure == nil || failure.Reason != ReasonUploadFailed {
		t.Fatalf("failure = %+v, want upload_failed", failure)
	}
}

func TestDownloadRejectsOversizedAssets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), 64))
	}))
	defer srv.Close()

	m := New(Options{HTTPClient: srv.Client(), MaxBytes: 16})
	if _, _, err := m.Download(context.Background(), srv.URL+"/big.png"); err == nil {
		t.Fatalf("expected size error")
	}
}

func TestDownloadRejectsNonHTTPURL(t *testing.T) {
	m := New(Options{})
	if _, _, err := m.Download(context.Background(), "file:///etc/passwd"); err == nil {
		t.Fatalf("expected invalid url error")
	}
}

type recordingStore struct {
	puts int
	err  error
}

func (s *recordingStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.puts++
	return key, nil
}

func (s *recordingStore) Delete(ctx context.Context, key string) error { return nil }

func (s *recordingStore) PublicURL(key string) string { return "https://cdn.test/" + key }
