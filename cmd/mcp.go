package cmd

import (
	"github.com/spf13/cobra"

	"github.com/veetil/claude-agent-system/internal/mcp"
	"github.com/veetil/claude-agent-system/internal/runner"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets MCP clients such as Claude Code drive cas natively: creating
workspaces, running agents in them, and harvesting outputs. Configure
with:

  {
    "mcpServers": {
      "cas": { "command": "cas", "args": ["mcp"] }
    }
  }

Available tools: cas_run_agent, cas_create_workspace,
cas_list_workspaces, cas_cleanup_workspace`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getManager()
		if err != nil {
			return err
		}

		// Run history is optional for the MCP surface.
		s, err := getStore()
		if err != nil {
			ui.Warning("Run history disabled: %v", err)
			s = nil
		}

		// The stdio transport owns stdout; all workspace/run chatter is
		// suppressed by passing a nil UI.
		coord := runner.NewCoordinator(mgr, newExecutor(), nil)
		srv := mcp.NewServer(mgr, coord, s)
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
