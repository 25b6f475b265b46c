package cmd

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/veetil/claude-agent-system/internal/output"
	"github.com/veetil/claude-agent-system/internal/workspace"
)

var (
	wsCreatePersistent bool
	wsCreateFiles      []string
	wsCreateFolders    []string
	wsCreateRepos      []string

	wsCleanupForce bool
	wsExportOut    string
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Manage agent workspaces",
	Long: `Manage the isolated workspace directories agents run in.

Running bare 'cas workspace' is the same as 'cas workspace list'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return workspaceListRun()
	},
}

var workspaceCreateCmd = &cobra.Command{
	Use:   "create <id>",
	Short: "Create a workspace and stage resources into it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return workspaceCreateRun(args[0])
	},
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		return workspaceListRun()
	},
}

var workspaceCleanupCmd = &cobra.Command{
	Use:   "cleanup [id]",
	Short: "Remove a workspace, or all workspaces with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all {
			return workspaceCleanupAllRun()
		}
		if len(args) != 1 {
			return fmt.Errorf("workspace id required (or use --all)")
		}
		return workspaceCleanupRun(args[0])
	},
}

var workspaceExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a workspace as a tar.gz archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return workspaceExportRun(args[0])
	},
}

func init() {
	workspaceCreateCmd.Flags().BoolVar(&wsCreatePersistent, "persistent", false, "Create a persistent workspace")
	workspaceCreateCmd.Flags().StringArrayVar(&wsCreateFiles, "file", nil, "File to stage: SRC[=DEST] (repeatable)")
	workspaceCreateCmd.Flags().StringArrayVar(&wsCreateFolders, "folder", nil, "Folder to stage: SRC[=DEST] (repeatable)")
	workspaceCreateCmd.Flags().StringArrayVar(&wsCreateRepos, "repo", nil, "Git repo to clone: URL[@BRANCH][=DEST] (repeatable)")

	workspaceCleanupCmd.Flags().BoolVar(&wsCleanupForce, "force", false, "Also remove persistent workspaces")
	workspaceCleanupCmd.Flags().Bool("all", false, "Remove every tracked workspace")

	workspaceExportCmd.Flags().StringVarP(&wsExportOut, "output", "o", "", "Archive path (default <id>.tar.gz)")

	workspaceCmd.AddCommand(workspaceCreateCmd)
	workspaceCmd.AddCommand(workspaceListCmd)
	workspaceCmd.AddCommand(workspaceCleanupCmd)
	workspaceCmd.AddCommand(workspaceExportCmd)
	rootCmd.AddCommand(workspaceCmd)
}

func workspaceCreateRun(id string) error {
	mgr, err := getManager()
	if err != nil {
		return err
	}

	var files []workspace.FileMapping
	var folders []workspace.FolderMapping
	var repos []workspace.GitRepoMapping
	for _, raw := range wsCreateFiles {
		src, dest := splitMapping(raw, "")
		files = append(files, workspace.FileMapping{Name: filepath.Base(src), SrcPath: src, DestPath: dest})
	}
	for _, raw := range wsCreateFolders {
		src, dest := splitMapping(raw, "")
		folders = append(folders, workspace.FolderMapping{Name: filepath.Base(src), SrcPath: src, DestPath: dest})
	}
	for _, raw := range wsCreateRepos {
		repos = append(repos, parseRepoFlag(raw))
	}

	root, err := mgr.CreateWorkspace(id, files, folders, repos, wsCreatePersistent)
	if err != nil {
		return err
	}

	ui.Success("Workspace %s created: %s", output.Cyan(id), root)
	return nil
}

func workspaceListRun() error {
	mgr, err := getManager()
	if err != nil {
		return err
	}

	infos := mgr.ListWorkspaces()
	if len(infos) == 0 {
		ui.Info("No workspaces under %s", mgr.BaseDir())
		return nil
	}

	ids := make([]string, 0, len(infos))
	for id := range infos {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	table := ui.Table([]string{"ID", "Type", "Created", "Resources", "Path"})
	for _, id := range ids {
		info := infos[id]
		kind := "ephemeral"
		if info.Persistent {
			kind = "persistent"
		}
		created := "?"
		if !info.CreatedAt.IsZero() {
			created = info.CreatedAt.Format("2006-01-02 15:04")
		}
		resources := fmt.Sprintf("%df/%dd/%dr",
			len(info.Resources.Files), len(info.Resources.Folders), len(info.Resources.Repos))

		table.Append([]string{output.Cyan(id), kind, created, resources, info.Path})
	}
	table.Render()
	return nil
}

func workspaceCleanupRun(id string) error {
	mgr, err := getManager()
	if err != nil {
		return err
	}

	if !mgr.CleanupWorkspace(id, wsCleanupForce) {
		return fmt.Errorf("workspace %s was not removed (unknown id, or persistent without --force)", id)
	}
	ui.Success("Workspace %s removed", id)
	return nil
}

func workspaceCleanupAllRun() error {
	mgr, err := getManager()
	if err != nil {
		return err
	}

	n := mgr.CleanupAll(wsCleanupForce)
	ui.Success("Removed %d workspace(s)", n)
	return nil
}

func workspaceExportRun(id string) error {
	mgr, err := getManager()
	if err != nil {
		return err
	}

	out := wsExportOut
	if out == "" {
		out = id + ".tar.gz"
	}
	path, err := mgr.ExportWorkspace(id, out)
	if err != nil {
		return err
	}
	ui.Success("Workspace %s exported to %s", id, path)
	return nil
}
