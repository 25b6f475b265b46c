// Package runner composes workspace staging, agent invocation, and
// artifact harvesting into a single staged call.
package runner

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/veetil/claude-agent-system/internal/claude"
	"github.com/veetil/claude-agent-system/internal/output"
	"github.com/veetil/claude-agent-system/internal/workspace"
)

// Invoker is the subset of the claude executor the coordinator needs.
type Invoker interface {
	Invoke(ctx context.Context, inv claude.Invocation) (*claude.Result, error)
}

// OutputMapping declares an artifact to harvest from the workspace after
// the agent finishes. SrcPath is workspace-relative; DestPath is a host
// path (a directory receives the artifact under Name).
type OutputMapping struct {
	Name     string
	SrcPath  string
	DestPath string
}

// RunRequest describes one staged agent call.
type RunRequest struct {
	Prompt       string
	SystemPrompt string
	WorkspaceID  string

	InputFiles   []workspace.FileMapping
	InputFolders []workspace.FolderMapping
	InputRepos   []workspace.GitRepoMapping

	OutputFiles   []OutputMapping
	OutputFolders []OutputMapping

	ResumeToken string
	Timeout     time.Duration

	// Cleanup removes the workspace after the run (and best-effort on
	// failure). When false the workspace is created persistent and left
	// in place for inspection or session chaining.
	Cleanup bool
}

// Harvested records one artifact copied out of the workspace.
type Harvested struct {
	Name     string
	SrcPath  string // workspace-relative
	DestPath string // absolute host path
}

// RunResult is the bundle returned from RunWithIO.
type RunResult struct {
	Success   bool
	SessionID string
	Text      string
	CostUSD   float64

	FilesCopied    []Harvested
	FilesMissing   []string
	FoldersCopied  []Harvested
	FoldersMissing []string

	WorkspaceID   string
	WorkspacePath string
}

// Coordinator wires the workspace manager and session executor together.
type Coordinator struct {
	workspaces *workspace.Manager
	executor   Invoker
	ui         *output.UI
}

// NewCoordinator creates a run coordinator. ui may be nil for silent
// operation (e.g. under the MCP server).
func NewCoordinator(ws *workspace.Manager, exec Invoker, ui *output.UI) *Coordinator {
	if ui == nil {
		ui = output.Discard()
	}
	return &Coordinator{workspaces: ws, executor: exec, ui: ui}
}

// newRunID generates a workspace id for requests that did not supply one.
func newRunID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
	return "agent_" + strings.ToLower(id[len(id)-8:])
}

// RunWithIO stages inputs into a workspace, invokes the agent there,
// harvests declared outputs to the host, and optionally cleans up. A
// request naming an already-tracked workspace reuses it (the session
// chaining case: a kept workspace plus a resume token), staging any new
// inputs on top. Missing outputs are recorded in the result, never fatal.
// On failure before harvesting, cleanup (when requested) is still
// attempted best-effort and never masks the original error.
func (c *Coordinator) RunWithIO(ctx context.Context, req RunRequest) (*RunResult, error) {
	id := req.WorkspaceID
	if id == "" {
		id = newRunID()
	}
	res := &RunResult{WorkspaceID: id}

	root, tracked := c.workspaces.GetWorkspace(id)
	if tracked {
		c.ui.VerboseLog("Reusing workspace %s", id)
		if err := c.workspaces.StageResources(id, req.InputFiles, req.InputFolders, req.InputRepos); err != nil {
			return res, fmt.Errorf("stage workspace: %w", err)
		}
	} else {
		c.ui.VerboseLog("Creating workspace %s", id)
		created, err := c.workspaces.CreateWorkspace(id, req.InputFiles, req.InputFolders, req.InputRepos, !req.Cleanup)
		if err != nil {
			return res, fmt.Errorf("create workspace: %w", err)
		}
		root = created
	}
	res.WorkspacePath = root

	prompt := req.Prompt
	if req.SystemPrompt != "" {
		prompt = req.SystemPrompt + "\n\n" + req.Prompt
	}

	c.ui.VerboseLog("Invoking agent in %s", root)
	invRes, err := c.executor.Invoke(ctx, claude.Invocation{
		Prompt:      prompt,
		WorkingDir:  root,
		ResumeToken: req.ResumeToken,
		Timeout:     req.Timeout,
	})
	if err != nil {
		c.cleanupIfRequested(id, req.Cleanup)
		return res, err
	}

	res.SessionID = invRes.SessionID
	res.Text = invRes.Text
	res.CostUSD = invRes.CostUSD

	c.harvest(root, req, res)
	res.Success = true

	c.cleanupIfRequested(id, req.Cleanup)
	return res, nil
}

// harvest copies declared output files and folders from the workspace to
// their host destinations, recording what was copied and what was missing.
func (c *Coordinator) harvest(root string, req RunRequest, res *RunResult) {
	for _, m := range req.OutputFiles {
		src, err := workspace.ResolveDestPath(root, m.SrcPath)
		if err != nil {
			c.ui.Warning("Skipping output file %s: %v", m.Name, err)
			res.FilesMissing = append(res.FilesMissing, m.Name)
			continue
		}
		info, err := os.Stat(src)
		if err != nil || info.IsDir() {
			c.ui.Warning("Expected output file not found: %s", m.SrcPath)
			res.FilesMissing = append(res.FilesMissing, m.Name)
			continue
		}

		dest, err := resolveHostDest(m, false)
		if err != nil {
			c.ui.Warning("Cannot place output file %s: %v", m.Name, err)
			res.FilesMissing = append(res.FilesMissing, m.Name)
			continue
		}
		if err := workspace.CopyFile(src, dest); err != nil {
			c.ui.Warning("Copy failed for %s: %v", m.Name, err)
			res.FilesMissing = append(res.FilesMissing, m.Name)
			continue
		}
		rel, _ := filepath.Rel(root, src)
		res.FilesCopied = append(res.FilesCopied, Harvested{Name: m.Name, SrcPath: rel, DestPath: dest})
	}

	for _, m := range req.OutputFolders {
		src, err := workspace.ResolveDestPath(root, m.SrcPath)
		if err != nil {
			c.ui.Warning("Skipping output folder %s: %v", m.Name, err)
			res.FoldersMissing = append(res.FoldersMissing, m.Name)
			continue
		}
		info, err := os.Stat(src)
		if err != nil || !info.IsDir() {
			c.ui.Warning("Expected output folder not found: %s", m.SrcPath)
			res.FoldersMissing = append(res.FoldersMissing, m.Name)
			continue
		}

		dest, err := resolveHostDest(m, true)
		if err != nil {
			c.ui.Warning("Cannot place output folder %s: %v", m.Name, err)
			res.FoldersMissing = append(res.FoldersMissing, m.Name)
			continue
		}
		if err := os.RemoveAll(dest); err != nil {
			c.ui.Warning("Copy failed for %s: %v", m.Name, err)
			res.FoldersMissing = append(res.FoldersMissing, m.Name)
			continue
		}
		if err := workspace.CopyTree(src, dest); err != nil {
			c.ui.Warning("Copy failed for %s: %v", m.Name, err)
			res.FoldersMissing = append(res.FoldersMissing, m.Name)
			continue
		}
		rel, _ := filepath.Rel(root, src)
		res.FoldersCopied = append(res.FoldersCopied, Harvested{Name: m.Name, SrcPath: rel, DestPath: dest})
	}
}

// resolveHostDest decides the final host path for a harvested artifact:
// an existing directory receives it under the mapping name, anything else
// is taken as the full destination path.
func resolveHostDest(m OutputMapping, isFolder bool) (string, error) {
	dest := m.DestPath
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		dest = filepath.Join(dest, m.Name)
	} else if !isFolder {
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return "", fmt.Errorf("create destination dir: %w", err)
		}
	}
	abs, err := filepath.Abs(dest)
	if err != nil {
		return "", err
	}
	return abs, nil
}

// cleanupIfRequested tears down the workspace on the happy path and
// best-effort on the error path; a cleanup failure is logged, never
// returned, so it cannot mask the run's outcome.
func (c *Coordinator) cleanupIfRequested(id string, cleanup bool) {
	if !cleanup {
		return
	}
	if !c.workspaces.CleanupWorkspace(id, false) {
		c.ui.Warning("Could not clean up workspace %s", id)
	}
}
