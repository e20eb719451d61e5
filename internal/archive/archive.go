// Package archive bundles finished segments into a zip for download.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// WriteZip writes the given files into a zip archive at dst. The archive is
// written to a temporary file and renamed into place, so readers never see
// a half-written zip. Entries are stored under their base names.
func WriteZip(dst string, files []string) error {
	if len(files) == 0 {
		return fmt.Errorf("no files to archive")
	}

	pf, err := renameio.NewPendingFile(dst)
	if err != nil {
		return fmt.Errorf("create pending archive: %w", err)
	}
	defer func() { _ = pf.Cleanup() }() // no-op after successful replace

	zw := zip.NewWriter(pf)
	for _, path := range files {
		if err := addFile(zw, path); err != nil {
			_ = zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}

	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace archive: %w", err)
	}
	return nil
}

// addFile copies one file into the archive under its base name.
func addFile(zw *zip.Writer, path string) error {
	f, err := os.Open(path) // #nosec G304 -- paths come from the session's own output dir
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return fmt.Errorf("add %s: %w", path, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
