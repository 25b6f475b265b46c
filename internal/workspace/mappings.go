package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	caserrors "github.com/veetil/claude-agent-system/internal/errors"
)

// FileMapping stages a single file into a workspace.
type FileMapping struct {
	Name     string `json:"name"`
	SrcPath  string `json:"src_path"`
	DestPath string `json:"dest_path"`
}

// FolderMapping stages a directory tree into a workspace.
type FolderMapping struct {
	Name     string `json:"name"`
	SrcPath  string `json:"src_path"`
	DestPath string `json:"dest_path"`
}

// GitRepoMapping stages a cloned repository into a workspace. Clones are
// shallow (depth 1) unless NoShallow is set, so the zero value keeps the
// default on every surface, JSON included.
type GitRepoMapping struct {
	RemoteURL string `json:"remote_url"`
	DestPath  string `json:"dest_path"`
	Branch    string `json:"branch,omitempty"`
	NoShallow bool   `json:"no_shallow,omitempty"`
}

// hostedRepoRe matches scheme + host + org/repo URL shapes, e.g.
// https://github.com/owner/repo or https://gitlab.com/group/project.
var hostedRepoRe = regexp.MustCompile(`^https?://[\w.\-]+/[\w.\-]+/[\w.\-]+`)

// Validate checks the file mapping: non-empty name, existing regular file
// source, and a contained destination path.
func (m FileMapping) Validate() error {
	if m.Name == "" {
		return caserrors.NewValidation("name", "file name cannot be empty")
	}
	info, err := os.Stat(m.SrcPath)
	if err != nil {
		return caserrors.NewValidation("src_path", "source file not found: %s", m.SrcPath)
	}
	if !info.Mode().IsRegular() {
		return caserrors.NewValidation("src_path", "source is not a file: %s", m.SrcPath)
	}
	return validateRelDest(m.DestPath)
}

// Validate checks the folder mapping: non-empty name, existing directory
// source, and a contained destination path.
func (m FolderMapping) Validate() error {
	if m.Name == "" {
		return caserrors.NewValidation("name", "folder name cannot be empty")
	}
	info, err := os.Stat(m.SrcPath)
	if err != nil {
		return caserrors.NewValidation("src_path", "source folder not found: %s", m.SrcPath)
	}
	if !info.IsDir() {
		return caserrors.NewValidation("src_path", "source is not a folder: %s", m.SrcPath)
	}
	return validateRelDest(m.DestPath)
}

// Validate checks the repository mapping: a recognized hosting-URL shape
// and a contained destination path.
func (m GitRepoMapping) Validate() error {
	if m.RemoteURL == "" {
		return caserrors.NewValidation("remote_url", "repository URL cannot be empty")
	}
	if !hostedRepoRe.MatchString(m.RemoteURL) {
		return caserrors.NewValidation("remote_url", "invalid repository URL: %s", m.RemoteURL)
	}
	return validateRelDest(m.DestPath)
}

// validateRelDest rejects destination paths that are absolute or contain
// parent-traversal segments. An empty dest (workspace root) is allowed.
func validateRelDest(dest string) error {
	if dest == "" || dest == "." {
		return nil
	}
	if filepath.IsAbs(dest) {
		return caserrors.NewValidation("dest_path", "destination must be relative: %s", dest)
	}
	clean := filepath.Clean(dest)
	for _, seg := range strings.Split(clean, string(filepath.Separator)) {
		if seg == ".." {
			return caserrors.NewValidation("dest_path", "destination escapes workspace: %s", dest)
		}
	}
	return nil
}

// ResolveDestPath safely resolves a relative destination inside the
// workspace root. The destination is validated before resolution and its
// ancestry re-checked afterwards, so symlink or normalization tricks cannot
// place it outside the root. Violations are validation errors, never
// silently clamped.
func ResolveDestPath(workspaceRoot, dest string) (string, error) {
	if err := validateRelDest(dest); err != nil {
		return "", err
	}

	rootAbs, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	full := filepath.Join(rootAbs, filepath.Clean(dest))

	// Defense in depth: the joined path must still be rooted at the
	// workspace after cleaning.
	if !containedIn(rootAbs, full) {
		return "", caserrors.NewValidation("dest_path", "path escapes workspace: %s", dest)
	}

	// A lexical check alone can be routed around through a symlink inside
	// the workspace, so re-verify against the resolved filesystem paths.
	rootReal, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	fullReal, err := resolveExistingAncestor(full)
	if err != nil {
		return "", fmt.Errorf("resolve destination: %w", err)
	}
	if !containedIn(rootReal, fullReal) {
		return "", caserrors.NewValidation("dest_path", "path escapes workspace: %s", dest)
	}

	return full, nil
}

// containedIn reports whether path is root itself or a descendant of it.
func containedIn(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolveExistingAncestor resolves symlinks on the deepest existing
// ancestor of path, reattaching the not-yet-created suffix lexically.
func resolveExistingAncestor(path string) (string, error) {
	suffix := ""
	for p := path; ; p = filepath.Dir(p) {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		if filepath.Dir(p) == p {
			return "", err
		}
		suffix = filepath.Join(filepath.Base(p), suffix)
	}
}
