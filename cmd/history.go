package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/veetil/claude-agent-system/internal/models"
	"github.com/veetil/claude-agent-system/internal/output"
	"github.com/veetil/claude-agent-system/internal/store"
)

var (
	historyLimit     int
	historyWorkspace string
	historyStatus    string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded agent runs",
	Long: `Show the run-history log: what prompts ran, where, what they cost,
and how they ended.

Running bare 'cas history' is the same as 'cas history list'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyListRun(cmd)
	},
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyListRun(cmd)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one recorded run in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyShowRun(cmd, args[0])
	},
}

func init() {
	historyCmd.PersistentFlags().IntVarP(&historyLimit, "limit", "l", 20, "Maximum runs to list")
	historyCmd.PersistentFlags().StringVarP(&historyWorkspace, "workspace", "w", "", "Filter by workspace id")
	historyCmd.PersistentFlags().StringVar(&historyStatus, "status", "", "Filter by status: completed, failed")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

func historyListRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	runs, err := s.ListRuns(cmd.Context(), store.RunListFilter{
		WorkspaceID: historyWorkspace,
		Status:      models.RunStatus(historyStatus),
		Limit:       historyLimit,
	})
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		ui.Info("No recorded runs.")
		return nil
	}

	table := ui.Table([]string{"ID", "Started", "Status", "Cost", "Duration", "Prompt"})
	for _, r := range runs {
		table.Append([]string{
			output.Cyan(r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			output.StatusColor(string(r.Status)),
			fmt.Sprintf("$%.4f", r.CostUSD),
			(time.Duration(r.DurationMS) * time.Millisecond).Round(time.Second).String(),
			truncate(r.Prompt, 60),
		})
	}
	table.Render()
	return nil
}

func historyShowRun(cmd *cobra.Command, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	r, err := s.GetRun(cmd.Context(), id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "Run:        %s\n", output.Cyan(r.ID))
	fmt.Fprintf(ui.Out, "Status:     %s\n", output.StatusColor(string(r.Status)))
	fmt.Fprintf(ui.Out, "Started:    %s\n", r.StartedAt.Local().Format(time.RFC1123))
	fmt.Fprintf(ui.Out, "Duration:   %s\n", (time.Duration(r.DurationMS) * time.Millisecond).Round(time.Millisecond))
	fmt.Fprintf(ui.Out, "Cost:       $%.4f\n", r.CostUSD)
	if r.WorkspaceID != "" {
		fmt.Fprintf(ui.Out, "Workspace:  %s\n", r.WorkspaceID)
	}
	if r.SessionID != "" {
		fmt.Fprintf(ui.Out, "Session:    %s\n", r.SessionID)
	}
	if r.Summary != "" {
		fmt.Fprintf(ui.Out, "Summary:    %s\n", r.Summary)
	}
	fmt.Fprintf(ui.Out, "\nPrompt:\n%s\n", r.Prompt)
	if r.ResultText != "" {
		fmt.Fprintf(ui.Out, "\nResult:\n%s\n", r.ResultText)
	}
	if r.Error != "" {
		fmt.Fprintf(ui.Out, "\nError:\n%s\n", output.Red(r.Error))
	}
	return nil
}

// truncate shortens s to max runes with an ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
