package workspace

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	caserrors "github.com/veetil/claude-agent-system/internal/errors"
)

// ExportWorkspace archives a tracked workspace as a gzipped tarball at
// outputPath and returns the archive path.
func (m *Manager) ExportWorkspace(id, outputPath string) (string, error) {
	root, ok := m.GetWorkspace(id)
	if !ok {
		return "", caserrors.NewWorkspace(id, caserrors.WorkspaceNotTracked, nil)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("archive workspace %s: %w", id, err)
	}

	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("finalize archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("finalize archive: %w", err)
	}
	return outputPath, nil
}
