package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/veetil/claude-agent-system/internal/claude"
)

var (
	invokeDir     string
	invokeResume  string
	invokeTimeout time.Duration
	invokeJSON    bool
)

var invokeCmd = &cobra.Command{
	Use:   "invoke <prompt>",
	Short: "Invoke the agent directly in an existing directory",
	Long: `Invoke the agent once in the given directory, without workspace
staging or harvesting. Prints the agent's answer and the session token
for chaining with --resume.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return invokeRun(cmd, args[0])
	},
}

func init() {
	invokeCmd.Flags().StringVarP(&invokeDir, "dir", "d", "", "Working directory (default: current directory)")
	invokeCmd.Flags().StringVarP(&invokeResume, "resume", "r", "", "Session token to resume a previous conversation")
	invokeCmd.Flags().DurationVar(&invokeTimeout, "timeout", 0, "Per-attempt timeout (default from config)")
	invokeCmd.Flags().BoolVar(&invokeJSON, "json", false, "Print the raw result fields as JSON")

	rootCmd.AddCommand(invokeCmd)
}

func invokeRun(cmd *cobra.Command, prompt string) error {
	timeout := invokeTimeout
	if timeout == 0 {
		timeout = claudeTimeout()
	}

	executor := newExecutor()
	res, err := executor.Invoke(cmd.Context(), claude.Invocation{
		Prompt:      prompt,
		WorkingDir:  invokeDir,
		ResumeToken: invokeResume,
		Timeout:     timeout,
	})
	if err != nil {
		if claude.IsSessionError(err) {
			ui.Error("Session token rejected; start a fresh conversation without --resume")
		}
		return err
	}

	if invokeJSON {
		data, err := json.Marshal(map[string]any{
			"session_id": res.SessionID,
			"result":     res.Text,
			"cost_usd":   res.CostUSD,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(ui.Out, string(data))
		return nil
	}

	fmt.Fprintln(ui.Out, res.Text)
	fmt.Fprintln(ui.Out)
	ui.Info("Session: %s (resume with -r %s)", res.SessionID, res.SessionID)
	if res.CostUSD > 0 {
		ui.Info("Cost: $%.4f", res.CostUSD)
	}
	return nil
}
