// Package zip writes in-memory assets into a zip archive.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"time"
)

type Asset struct {
	Filename string
	Modified time.Time
	Data     []byte
}

// ArchiveAssets streams assets into w in order. Already compressed formats
// are stored rather than deflated.
func ArchiveAssets(w io.Writer, assets []Asset) error {
	zw := zip.NewWriter(w)
	for _, asset := range assets {
		method := zip.Deflate
		if precompressed(asset.Filename) {
			method = zip.Store
		}
		hdr := &zip.FileHeader{Name: asset.Filename, Method: method, Modified: asset.Modified}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			zw.Close()
			return fmt.Errorf("zip: create %s: %w", asset.Filename, err)
		}
		if _, err := fw.Write(asset.Data); err != nil {
			zw.Close()
			return fmt.Errorf("zip: write %s: %w", asset.Filename, err)
		}
	}
	return zw.Close()
}

func precompressed(name string) bool {
	for _, ext := range []string{".png", ".jpg", ".webp", ".gif", ".mp4", ".webm", ".mov"} {
		if len(name) >= len(ext) && name[len(name)-len(ext):] == ext {
			return true
		}
	}
	return false
}
