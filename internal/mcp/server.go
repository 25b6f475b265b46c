// Package mcp exposes workspace management and agent runs as MCP tools
// over stdio, so other agents can drive this system programmatically.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/veetil/claude-agent-system/internal/models"
	"github.com/veetil/claude-agent-system/internal/runner"
	"github.com/veetil/claude-agent-system/internal/store"
	"github.com/veetil/claude-agent-system/internal/workspace"
)

// Server wraps the run coordinator and workspace manager and exposes them
// as MCP tools.
type Server struct {
	workspaces *workspace.Manager
	runner     *runner.Coordinator
	store      store.Store // optional; nil disables run recording
}

// NewServer creates the MCP server wrapper. st may be nil when run history
// is not configured.
func NewServer(ws *workspace.Manager, coord *runner.Coordinator, st store.Store) *Server {
	return &Server{
		workspaces: ws,
		runner:     coord,
		store:      st,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("cas", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.runAgentTool())
	srv.AddTool(s.createWorkspaceTool())
	srv.AddTool(s.listWorkspacesTool())
	srv.AddTool(s.cleanupWorkspaceTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// parseMappings unmarshals a JSON-array tool parameter into the given slice.
func parseMappings(raw string, out any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// cas_run_agent
func (s *Server) runAgentTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cas_run_agent",
		mcp.WithDescription("Run the Claude agent in an isolated workspace: stage inputs, execute the prompt, harvest declared outputs, and return the structured result. Mapping parameters are JSON arrays."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("The task prompt for the agent")),
		mcp.WithString("system_prompt", mcp.Description("Optional system prompt prepended to the task prompt")),
		mcp.WithString("workspace_id", mcp.Description("Workspace id to use; generated when omitted")),
		mcp.WithString("resume_token", mcp.Description("Session token to resume a previous conversation")),
		mcp.WithNumber("timeout_seconds", mcp.Description("Per-attempt timeout in seconds")),
		mcp.WithBoolean("keep_workspace", mcp.Description("Keep the workspace after the run instead of cleaning it up")),
		mcp.WithString("input_files", mcp.Description(`JSON array of {"name","src_path","dest_path"} file mappings staged into the workspace`)),
		mcp.WithString("input_folders", mcp.Description(`JSON array of {"name","src_path","dest_path"} folder mappings staged into the workspace`)),
		mcp.WithString("input_repos", mcp.Description(`JSON array of {"remote_url","dest_path","branch","no_shallow"} git repos cloned into the workspace (depth-1 clones unless no_shallow is true)`)),
		mcp.WithString("output_files", mcp.Description(`JSON array of {"name","src_path","dest_path"} files harvested from the workspace to the host`)),
		mcp.WithString("output_folders", mcp.Description(`JSON array of {"name","src_path","dest_path"} folders harvested from the workspace to the host`)),
	)
	return tool, s.handleRunAgent
}

func (s *Server) handleRunAgent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := request.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: prompt"), nil
	}

	req := runner.RunRequest{
		Prompt:       prompt,
		SystemPrompt: request.GetString("system_prompt", ""),
		WorkspaceID:  request.GetString("workspace_id", ""),
		ResumeToken:  request.GetString("resume_token", ""),
		Cleanup:      !request.GetBool("keep_workspace", false),
	}
	if secs := request.GetFloat("timeout_seconds", 0); secs > 0 {
		req.Timeout = time.Duration(secs * float64(time.Second))
	}

	if err := parseMappings(request.GetString("input_files", ""), &req.InputFiles); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid input_files: %v", err)), nil
	}
	if err := parseMappings(request.GetString("input_folders", ""), &req.InputFolders); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid input_folders: %v", err)), nil
	}
	if err := parseMappings(request.GetString("input_repos", ""), &req.InputRepos); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid input_repos: %v", err)), nil
	}

	var outFiles, outFolders []outputMappingIn
	if err := parseMappings(request.GetString("output_files", ""), &outFiles); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid output_files: %v", err)), nil
	}
	if err := parseMappings(request.GetString("output_folders", ""), &outFolders); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid output_folders: %v", err)), nil
	}
	for _, m := range outFiles {
		req.OutputFiles = append(req.OutputFiles, runner.OutputMapping{Name: m.Name, SrcPath: m.SrcPath, DestPath: m.DestPath})
	}
	for _, m := range outFolders {
		req.OutputFolders = append(req.OutputFolders, runner.OutputMapping{Name: m.Name, SrcPath: m.SrcPath, DestPath: m.DestPath})
	}

	started := time.Now().UTC()
	res, runErr := s.runner.RunWithIO(ctx, req)
	s.recordRun(ctx, req, res, runErr, started)

	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("agent run failed: %v", runErr)), nil
	}

	out := map[string]any{
		"success":         res.Success,
		"session_id":      res.SessionID,
		"result":          res.Text,
		"cost_usd":        res.CostUSD,
		"workspace_id":    res.WorkspaceID,
		"workspace_path":  res.WorkspacePath,
		"files_copied":    res.FilesCopied,
		"files_missing":   res.FilesMissing,
		"folders_copied":  res.FoldersCopied,
		"folders_missing": res.FoldersMissing,
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// outputMappingIn is the wire shape of output mapping parameters.
type outputMappingIn struct {
	Name     string `json:"name"`
	SrcPath  string `json:"src_path"`
	DestPath string `json:"dest_path"`
}

// recordRun persists the run outcome when a store is configured. Recording
// failures are swallowed; history must never break a run.
func (s *Server) recordRun(ctx context.Context, req runner.RunRequest, res *runner.RunResult, runErr error, started time.Time) {
	if s.store == nil {
		return
	}
	run := &models.AgentRun{
		WorkspaceID: res.WorkspaceID,
		SessionID:   res.SessionID,
		Prompt:      req.Prompt,
		ResultText:  res.Text,
		CostUSD:     res.CostUSD,
		Status:      models.RunStatusCompleted,
		StartedAt:   started,
		DurationMS:  time.Since(started).Milliseconds(),
	}
	if runErr != nil {
		run.Status = models.RunStatusFailed
		run.Error = runErr.Error()
	}
	_ = s.store.CreateRun(ctx, run)
}

// cas_create_workspace
func (s *Server) createWorkspaceTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cas_create_workspace",
		mcp.WithDescription("Create an isolated workspace directory and stage files, folders, and git repos into it. Mapping parameters are JSON arrays."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Unique workspace identifier")),
		mcp.WithBoolean("persistent", mcp.Description("Create a persistent workspace that survives cleanup without force")),
		mcp.WithString("files", mcp.Description(`JSON array of {"name","src_path","dest_path"} file mappings`)),
		mcp.WithString("folders", mcp.Description(`JSON array of {"name","src_path","dest_path"} folder mappings`)),
		mcp.WithString("repos", mcp.Description(`JSON array of {"remote_url","dest_path","branch","no_shallow"} git repo mappings (depth-1 clones unless no_shallow is true)`)),
	)
	return tool, s.handleCreateWorkspace
}

func (s *Server) handleCreateWorkspace(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}

	var files []workspace.FileMapping
	var folders []workspace.FolderMapping
	var repos []workspace.GitRepoMapping
	if err := parseMappings(request.GetString("files", ""), &files); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid files: %v", err)), nil
	}
	if err := parseMappings(request.GetString("folders", ""), &folders); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid folders: %v", err)), nil
	}
	if err := parseMappings(request.GetString("repos", ""), &repos); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid repos: %v", err)), nil
	}

	path, err := s.workspaces.CreateWorkspace(id, files, folders, repos, request.GetBool("persistent", false))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create workspace: %v", err)), nil
	}

	data, err := json.Marshal(map[string]any{"id": id, "path": path})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// cas_list_workspaces
func (s *Server) listWorkspacesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cas_list_workspaces",
		mcp.WithDescription("List active workspaces. Returns a JSON array with id, path, persistent flag, and creation time."),
	)
	return tool, s.handleListWorkspaces
}

func (s *Server) handleListWorkspaces(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos := s.workspaces.ListWorkspaces()

	type workspaceOut struct {
		ID         string `json:"id"`
		Path       string `json:"path"`
		Persistent bool   `json:"persistent"`
		CreatedAt  string `json:"created_at"`
	}

	out := make([]workspaceOut, 0, len(infos))
	for id, info := range infos {
		out = append(out, workspaceOut{
			ID:         id,
			Path:       info.Path,
			Persistent: info.Persistent,
			CreatedAt:  info.CreatedAt.Format(time.RFC3339),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal workspaces: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// cas_cleanup_workspace
func (s *Server) cleanupWorkspaceTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cas_cleanup_workspace",
		mcp.WithDescription("Remove a workspace directory. Persistent workspaces are only removed when force is true."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Workspace identifier")),
		mcp.WithBoolean("force", mcp.Description("Also remove persistent workspaces")),
	)
	return tool, s.handleCleanupWorkspace
}

func (s *Server) handleCleanupWorkspace(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}

	removed := s.workspaces.CleanupWorkspace(id, request.GetBool("force", false))
	data, err := json.Marshal(map[string]any{"id": id, "removed": removed})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
