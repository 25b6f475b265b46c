package workspace

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	caserrors "github.com/veetil/claude-agent-system/internal/errors"
)

// GitAvailable reports whether the git binary is on PATH and runnable.
func GitAvailable() bool {
	err := exec.Command("git", "--version").Run()
	return err == nil
}

// gitCmd runs git with the given args in dir and returns trimmed stdout.
func gitCmd(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// moveEntries moves every top-level entry of src into dst. Entries are
// renamed where possible; rename failure on any entry aborts the move.
func moveEntries(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.Rename(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// cloneRepo clones the mapped repository into the workspace. When the
// destination is empty or "." the clone lands directly in the workspace
// root. After cloning, the target must exist and contain the .git marker;
// a clone that "succeeded" without producing one is treated as failed.
func cloneRepo(wsID, workspaceRoot string, m GitRepoMapping) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}

	cloneToRoot := m.DestPath == "" || m.DestPath == "."

	var target string
	if cloneToRoot {
		// git refuses to clone into a non-empty directory (the root
		// already holds the metadata sidecar), so clone into a staging
		// dir and move the entries over.
		tmp, err := os.MkdirTemp(filepath.Dir(workspaceRoot), filepath.Base(workspaceRoot)+"_clone_")
		if err != nil {
			return "", fmt.Errorf("create clone staging dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		target = filepath.Join(tmp, "repo")
	} else {
		resolved, err := ResolveDestPath(workspaceRoot, m.DestPath)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
			return "", fmt.Errorf("create clone parent dir: %w", err)
		}
		target = resolved
	}

	args := []string{"clone"}
	if !m.NoShallow {
		args = append(args, "--depth", "1")
	}
	if m.Branch != "" {
		args = append(args, "--branch", m.Branch)
	}
	args = append(args, m.RemoteURL, target)

	if _, err := gitCmd(workspaceRoot, args...); err != nil {
		return "", caserrors.NewWorkspace(wsID, caserrors.WorkspaceCloneFailed,
			fmt.Errorf("clone %s: %w", m.RemoteURL, err))
	}

	if cloneToRoot {
		if err := moveEntries(target, workspaceRoot); err != nil {
			return "", caserrors.NewWorkspace(wsID, caserrors.WorkspaceCloneFailed,
				fmt.Errorf("move clone into workspace: %w", err))
		}
		target = workspaceRoot
	}

	// Verify the clone actually produced a repository.
	if _, err := os.Stat(target); err != nil {
		return "", caserrors.NewWorkspace(wsID, caserrors.WorkspaceCloneVerificationFailed,
			fmt.Errorf("clone target missing: %s", target))
	}
	if _, err := os.Stat(filepath.Join(target, ".git")); err != nil {
		return "", caserrors.NewWorkspace(wsID, caserrors.WorkspaceCloneVerificationFailed,
			fmt.Errorf("cloned directory is not a git repository: %s", target))
	}

	return target, nil
}
