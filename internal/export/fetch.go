package export

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"palette/internal/domain"
)

// FileFetcher reads assets written by the filesystem store under root.
func FileFetcher(root string) Fetcher {
	return FetcherFunc(func(ctx context.Context, asset domain.PersistedAsset) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel := filepath.FromSlash(strings.TrimPrefix(asset.StoragePath, "/"))
		if strings.HasPrefix(filepath.Clean(rel), "..") {
			return nil, fmt.Errorf("export: storage path %q escapes root", asset.StoragePath)
		}
		return os.ReadFile(filepath.Join(root, rel))
	})
}

// HTTPFetcher downloads assets from their public URL.
func HTTPFetcher(client *http.Client) Fetcher {
	return FetcherFunc(func(ctx context.Context, asset domain.PersistedAsset) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.PublicURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("export: fetch %s: status %d", asset.PublicURL, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
}
