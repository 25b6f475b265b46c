package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/veetil/claude-agent-system/internal/llm"
	"github.com/veetil/claude-agent-system/internal/models"
	"github.com/veetil/claude-agent-system/internal/output"
	"github.com/veetil/claude-agent-system/internal/runner"
	"github.com/veetil/claude-agent-system/internal/workspace"
)

var (
	runWorkspaceID  string
	runSystemPrompt string
	runResumeToken  string
	runTimeout      time.Duration
	runKeep         bool
	runSummarize    bool

	runInputFiles    []string
	runInputFolders  []string
	runInputRepos    []string
	runOutputFiles   []string
	runOutputFolders []string
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run the agent in an isolated workspace with staged I/O",
	Long: `Run the agent in a freshly created workspace: stage inputs, execute
the prompt there, harvest declared outputs back to the host, and clean
the workspace up (unless --keep is set).

Mappings use SRC[=DEST] form. For inputs DEST is a workspace-relative
directory (default: workspace root). For outputs SRC is workspace-relative
and DEST is a host path (default: current directory). Repos accept
URL[@BRANCH][=DEST].`,
	Example: `  cas run "summarize the attached report" --input-file ./report.pdf=inputs
  cas run "fix the failing tests" --input-repo https://github.com/org/app@main=. --output-file summary.md=./out
  cas run "continue where you left off" --resume <session-id> --workspace agent_x1 --keep`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRun(cmd.Context(), args[0])
	},
}

func init() {
	runCmd.Flags().StringVarP(&runWorkspaceID, "workspace", "w", "", "Workspace id (generated when omitted)")
	runCmd.Flags().StringVar(&runSystemPrompt, "system-prompt", "", "System prompt prepended to the task prompt")
	runCmd.Flags().StringVarP(&runResumeToken, "resume", "r", "", "Session token to resume a previous conversation")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Per-attempt timeout (default from config)")
	runCmd.Flags().BoolVar(&runKeep, "keep", false, "Keep the workspace after the run")
	runCmd.Flags().BoolVar(&runSummarize, "summarize", false, "Summarize the run with the Anthropic API for the history log")

	runCmd.Flags().StringArrayVar(&runInputFiles, "input-file", nil, "File to stage: SRC[=DEST] (repeatable)")
	runCmd.Flags().StringArrayVar(&runInputFolders, "input-folder", nil, "Folder to stage: SRC[=DEST] (repeatable)")
	runCmd.Flags().StringArrayVar(&runInputRepos, "input-repo", nil, "Git repo to clone: URL[@BRANCH][=DEST] (repeatable)")
	runCmd.Flags().StringArrayVar(&runOutputFiles, "output-file", nil, "File to harvest: SRC[=DEST] (repeatable)")
	runCmd.Flags().StringArrayVar(&runOutputFolders, "output-folder", nil, "Folder to harvest: SRC[=DEST] (repeatable)")

	rootCmd.AddCommand(runCmd)
}

// splitMapping splits a SRC[=DEST] flag value.
func splitMapping(raw, defaultDest string) (src, dest string) {
	if idx := strings.LastIndex(raw, "="); idx >= 0 {
		return raw[:idx], raw[idx+1:]
	}
	return raw, defaultDest
}

// parseRepoFlag splits a URL[@BRANCH][=DEST] flag value. The branch
// separator is only recognized after the scheme's host part, so https
// URLs with userinfo still parse.
func parseRepoFlag(raw string) workspace.GitRepoMapping {
	url, dest := splitMapping(raw, "")
	branch := ""
	schemeEnd := strings.Index(url, "://")
	if at := strings.LastIndex(url, "@"); at > schemeEnd+3 {
		branch = url[at+1:]
		url = url[:at]
	}
	return workspace.GitRepoMapping{RemoteURL: url, DestPath: dest, Branch: branch}
}

// buildRunRequest translates CLI flags into a run request.
func buildRunRequest(prompt string) runner.RunRequest {
	req := runner.RunRequest{
		Prompt:       prompt,
		SystemPrompt: runSystemPrompt,
		WorkspaceID:  runWorkspaceID,
		ResumeToken:  runResumeToken,
		Timeout:      runTimeout,
		Cleanup:      !runKeep,
	}
	if req.Timeout == 0 {
		req.Timeout = claudeTimeout()
	}

	for _, raw := range runInputFiles {
		src, dest := splitMapping(raw, "")
		req.InputFiles = append(req.InputFiles, workspace.FileMapping{
			Name: filepath.Base(src), SrcPath: src, DestPath: dest,
		})
	}
	for _, raw := range runInputFolders {
		src, dest := splitMapping(raw, "")
		req.InputFolders = append(req.InputFolders, workspace.FolderMapping{
			Name: filepath.Base(src), SrcPath: src, DestPath: dest,
		})
	}
	for _, raw := range runInputRepos {
		req.InputRepos = append(req.InputRepos, parseRepoFlag(raw))
	}
	for _, raw := range runOutputFiles {
		src, dest := splitMapping(raw, ".")
		req.OutputFiles = append(req.OutputFiles, runner.OutputMapping{
			Name: filepath.Base(src), SrcPath: src, DestPath: dest,
		})
	}
	for _, raw := range runOutputFolders {
		src, dest := splitMapping(raw, ".")
		req.OutputFolders = append(req.OutputFolders, runner.OutputMapping{
			Name: filepath.Base(src), SrcPath: src, DestPath: dest,
		})
	}
	return req
}

func runRun(ctx context.Context, prompt string) error {
	mgr, err := getManager()
	if err != nil {
		return err
	}

	coord := runner.NewCoordinator(mgr, newExecutor(), ui)
	req := buildRunRequest(prompt)

	started := time.Now().UTC()
	res, runErr := coord.RunWithIO(ctx, req)
	recordRun(ctx, req, res, runErr, started)

	if runErr != nil {
		return runErr
	}

	ui.Success("Agent run complete (session %s, $%.4f)", res.SessionID, res.CostUSD)
	fmt.Fprintln(ui.Out)
	fmt.Fprintln(ui.Out, res.Text)

	for _, h := range res.FilesCopied {
		ui.Info("Harvested file %s -> %s", h.SrcPath, h.DestPath)
	}
	for _, h := range res.FoldersCopied {
		ui.Info("Harvested folder %s -> %s", h.SrcPath, h.DestPath)
	}
	for _, name := range res.FilesMissing {
		ui.Warning("Missing output file: %s", name)
	}
	for _, name := range res.FoldersMissing {
		ui.Warning("Missing output folder: %s", name)
	}
	if runKeep {
		ui.Info("Workspace kept: %s (%s)", output.Cyan(res.WorkspaceID), res.WorkspacePath)
	}
	return nil
}

// recordRun persists the run outcome, summarizing first when requested.
// History failures are warnings, never run failures.
func recordRun(ctx context.Context, req runner.RunRequest, res *runner.RunResult, runErr error, started time.Time) {
	s, err := getStore()
	if err != nil {
		ui.Warning("Run not recorded: %v", err)
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

	if runSummarize && runErr == nil {
		apiKey := viper.GetString("anthropic.api_key")
		if apiKey == "" {
			ui.Warning("Cannot summarize: anthropic.api_key is not configured")
		} else {
			client := llm.NewClient(apiKey, viper.GetString("anthropic.model"))
			if summary, err := client.SummarizeRun(ctx, req.Prompt, res.Text); err != nil {
				ui.Warning("Summarization failed: %v", err)
			} else {
				run.Summary = summary
			}
		}
	}

	if err := s.CreateRun(ctx, run); err != nil {
		ui.Warning("Run not recorded: %v", err)
	}
}
