package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	caserrors "github.com/veetil/claude-agent-system/internal/errors"
)

// MetadataFile is the per-workspace sidecar record. It is bookkeeping for
// the manager, not an agent-visible artifact.
const MetadataFile = ".workspace.json"

// Metadata is the sidecar record written into every workspace directory.
type Metadata struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Persistent bool      `json:"persistent"`
	Resources  Resources `json:"resources"`
}

// Resources is the manifest of mappings a workspace was created with.
type Resources struct {
	Files   []FileMapping    `json:"files"`
	Folders []FolderMapping  `json:"folders"`
	Repos   []GitRepoMapping `json:"repos"`
}

// Info describes a tracked workspace for listing.
type Info struct {
	Path       string
	Exists     bool
	Persistent bool
	CreatedAt  time.Time
	Resources  Resources
}

// Manager owns the registry of active workspaces and their directories.
// All registry mutations happen under a single mutex held for the full
// create/cleanup sequence, so concurrent create/cleanup on the same id
// cannot interleave.
type Manager struct {
	baseDir string

	mu     sync.Mutex
	active map[string]string // id -> root path
}

// NewManager creates a workspace manager rooted at baseDir. An empty
// baseDir defaults to <tmp>/claude_workspaces.
func NewManager(baseDir string) (*Manager, error) {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "claude_workspaces")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create workspace base dir: %w", err)
	}
	return &Manager{
		baseDir: baseDir,
		active:  make(map[string]string),
	}, nil
}

// BaseDir returns the directory under which workspaces are allocated.
func (m *Manager) BaseDir() string { return m.baseDir }

// CreateWorkspace allocates a directory for id, writes the metadata
// sidecar, stages the given resources in fixed order (files, folders,
// repos), registers the workspace, and returns its root path.
//
// On any staging failure an ephemeral workspace is deleted and not
// registered; a persistent workspace is left as-is (user-owned, never
// silently destroyed) and the error propagates.
func (m *Manager) CreateWorkspace(id string, files []FileMapping, folders []FolderMapping, repos []GitRepoMapping, persistent bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[id]; exists {
		return "", caserrors.NewWorkspace(id, caserrors.WorkspaceDuplicateID, nil)
	}

	var root string
	if persistent {
		root = filepath.Join(m.baseDir, "persistent_"+id)
		if err := os.MkdirAll(root, 0755); err != nil {
			return "", fmt.Errorf("create persistent workspace dir: %w", err)
		}
	} else {
		dir, err := os.MkdirTemp(m.baseDir, id+"_")
		if err != nil {
			return "", fmt.Errorf("create workspace dir: %w", err)
		}
		root = dir
	}

	if err := m.populate(id, root, files, folders, repos, persistent); err != nil {
		if !persistent {
			_ = os.RemoveAll(root)
		}
		return "", err
	}

	m.active[id] = root
	return root, nil
}

// populate writes the sidecar and stages resources into root.
func (m *Manager) populate(id, root string, files []FileMapping, folders []FolderMapping, repos []GitRepoMapping, persistent bool) error {
	meta := Metadata{
		ID:         id,
		CreatedAt:  time.Now().UTC(),
		Persistent: persistent,
		Resources: Resources{
			Files:   files,
			Folders: folders,
			Repos:   repos,
		},
	}
	if err := writeMetadata(root, meta); err != nil {
		return err
	}
	return stageAll(id, root, files, folders, repos)
}

// stageAll copies files, folders, and repos into root, in that order.
func stageAll(id, root string, files []FileMapping, folders []FolderMapping, repos []GitRepoMapping) error {
	for _, f := range files {
		if _, err := copyFileMapping(id, root, f); err != nil {
			return err
		}
	}
	for _, f := range folders {
		if _, err := copyFolderMapping(id, root, f); err != nil {
			return err
		}
	}
	if len(repos) > 0 {
		if !GitAvailable() {
			return caserrors.NewWorkspace(id, caserrors.WorkspaceGitUnavailable, nil)
		}
		for _, r := range repos {
			if _, err := cloneRepo(id, root, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// StageResources stages additional mappings into an already-tracked
// workspace, in the same fixed order as CreateWorkspace. The existing
// directory is user-owned: nothing is rolled back on failure.
func (m *Manager) StageResources(id string, files []FileMapping, folders []FolderMapping, repos []GitRepoMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	root, ok := m.active[id]
	if !ok {
		return caserrors.NewWorkspace(id, caserrors.WorkspaceNotTracked, nil)
	}
	return stageAll(id, root, files, folders, repos)
}

// Rescan walks the base directory and registers any workspace left on disk
// by a previous process, identified by its metadata sidecar. Already-tracked
// ids are untouched. Returns the number of workspaces discovered.
func (m *Manager) Rescan() int {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	found := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		root := filepath.Join(m.baseDir, entry.Name())
		meta, err := readMetadata(root)
		if err != nil || meta.ID == "" {
			continue
		}
		if _, tracked := m.active[meta.ID]; tracked {
			continue
		}
		m.active[meta.ID] = root
		found++
	}
	return found
}

// GetWorkspace returns the root path of a tracked workspace.
func (m *Manager) GetWorkspace(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	root, ok := m.active[id]
	return root, ok
}

// ListWorkspaces returns all tracked workspaces keyed by id, reading each
// sidecar back from disk.
func (m *Manager) ListWorkspaces() map[string]Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string]Info, len(m.active))
	for id, root := range m.active {
		info := Info{Path: root}
		if _, err := os.Stat(root); err == nil {
			info.Exists = true
		}
		if meta, err := readMetadata(root); err == nil {
			info.Persistent = meta.Persistent
			info.CreatedAt = meta.CreatedAt
			info.Resources = meta.Resources
		}
		result[id] = info
	}
	return result
}

// CleanupWorkspace removes a workspace directory and its registry entry.
// Untracked ids return false. Persistent workspaces are skipped unless
// force is set.
func (m *Manager) CleanupWorkspace(id string, force bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	root, ok := m.active[id]
	if !ok {
		return false
	}

	if meta, err := readMetadata(root); err == nil {
		if meta.Persistent && !force {
			return false
		}
	}

	if err := os.RemoveAll(root); err != nil {
		return false
	}
	delete(m.active, id)
	return true
}

// CleanupAll cleans every tracked workspace, skipping persistent ones
// unless force is set. Returns the number removed.
func (m *Manager) CleanupAll(force bool) int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	cleaned := 0
	for _, id := range ids {
		if m.CleanupWorkspace(id, force) {
			cleaned++
		}
	}
	return cleaned
}

// WriteFile writes content to a workspace-relative path, creating parent
// directories as needed.
func (m *Manager) WriteFile(id, relPath string, content []byte) (string, error) {
	root, ok := m.GetWorkspace(id)
	if !ok {
		return "", caserrors.NewWorkspace(id, caserrors.WorkspaceNotTracked, nil)
	}
	path, err := ResolveDestPath(root, relPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// ReadFile reads a workspace-relative path.
func (m *Manager) ReadFile(id, relPath string) ([]byte, error) {
	root, ok := m.GetWorkspace(id)
	if !ok {
		return nil, caserrors.NewWorkspace(id, caserrors.WorkspaceNotTracked, nil)
	}
	path, err := ResolveDestPath(root, relPath)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func writeMetadata(root string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal workspace metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, MetadataFile), data, 0644); err != nil {
		return fmt.Errorf("write workspace metadata: %w", err)
	}
	return nil
}

func readMetadata(root string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(filepath.Join(root, MetadataFile))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parse workspace metadata: %w", err)
	}
	return meta, nil
}
