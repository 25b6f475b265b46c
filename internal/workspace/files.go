package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	caserrors "github.com/veetil/claude-agent-system/internal/errors"
)

// copyFileMapping copies a single file into the workspace, creating the
// destination directory as needed. The destination is verified after the
// copy.
func copyFileMapping(wsID, workspaceRoot string, m FileMapping) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}

	destDir, err := ResolveDestPath(workspaceRoot, m.DestPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", caserrors.NewWorkspace(wsID, caserrors.WorkspaceCopyFailed,
			fmt.Errorf("create dest dir: %w", err))
	}

	destFile := filepath.Join(destDir, m.Name)
	if err := CopyFile(m.SrcPath, destFile); err != nil {
		return "", caserrors.NewWorkspace(wsID, caserrors.WorkspaceCopyFailed,
			fmt.Errorf("copy %s: %w", m.SrcPath, err))
	}

	if _, err := os.Stat(destFile); err != nil {
		return "", caserrors.NewWorkspace(wsID, caserrors.WorkspaceCopyFailed,
			fmt.Errorf("destination missing after copy: %s", destFile))
	}
	return destFile, nil
}

// copyFolderMapping copies a directory tree into the workspace. An existing
// destination folder of the same name is removed first: folder staging is a
// full replace, not a merge.
func copyFolderMapping(wsID, workspaceRoot string, m FolderMapping) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}

	destParent, err := ResolveDestPath(workspaceRoot, m.DestPath)
	if err != nil {
		return "", err
	}
	destFolder := filepath.Join(destParent, m.Name)

	if _, err := os.Stat(destFolder); err == nil {
		if err := os.RemoveAll(destFolder); err != nil {
			return "", caserrors.NewWorkspace(wsID, caserrors.WorkspaceCopyFailed,
				fmt.Errorf("remove existing folder: %w", err))
		}
	}

	if err := CopyTree(m.SrcPath, destFolder); err != nil {
		return "", caserrors.NewWorkspace(wsID, caserrors.WorkspaceCopyFailed,
			fmt.Errorf("copy folder %s: %w", m.SrcPath, err))
	}

	if _, err := os.Stat(destFolder); err != nil {
		return "", caserrors.NewWorkspace(wsID, caserrors.WorkspaceCopyFailed,
			fmt.Errorf("destination missing after copy: %s", destFolder))
	}
	return destFolder, nil
}

// CopyFile copies src to dst preserving the file mode.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// CopyTree recursively copies the directory at src to dst.
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return CopyFile(path, target)
	})
}
