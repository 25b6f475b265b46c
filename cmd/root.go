package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/veetil/claude-agent-system/internal/claude"
	"github.com/veetil/claude-agent-system/internal/output"
	"github.com/veetil/claude-agent-system/internal/retry"
	"github.com/veetil/claude-agent-system/internal/store"
	"github.com/veetil/claude-agent-system/internal/workspace"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	wsManager *workspace.Manager

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "cas",
	Short: "Claude Agent System - run AI agents in isolated workspaces",
	Long: `cas drives the claude CLI as an autonomous agent: it stages inputs
into isolated workspace directories, runs prompts there with retry and
session chaining, harvests declared output artifacts back to the host,
and records run history.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/cas/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "cas")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CAS")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "cas")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "cas.db"))
	viper.SetDefault("workspaces.base_dir", "")
	viper.SetDefault("claude.shell", "")
	viper.SetDefault("claude.binary", "claude")
	viper.SetDefault("claude.timeout", "10m")
	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.initial_delay", "1s")
	viper.SetDefault("retry.max_delay", "60s")
	viper.SetDefault("retry.jitter", true)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	// Store and workspace manager are initialized lazily so config and
	// version commands run without touching the filesystem.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getManager returns the shared workspace manager, rescanning the base
// directory on first call so workspaces from previous runs are visible.
func getManager() (*workspace.Manager, error) {
	if wsManager != nil {
		return wsManager, nil
	}

	m, err := workspace.NewManager(viper.GetString("workspaces.base_dir"))
	if err != nil {
		return nil, err
	}
	if n := m.Rescan(); n > 0 {
		ui.VerboseLog("Discovered %d existing workspace(s) under %s", n, m.BaseDir())
	}

	wsManager = m
	return wsManager, nil
}

// retryPolicy builds the agent retry policy from configuration.
func retryPolicy() retry.Policy {
	p := retry.DefaultPolicy(nil)
	if n := viper.GetInt("retry.max_attempts"); n > 0 {
		p.MaxAttempts = n
	}
	if d := viper.GetDuration("retry.initial_delay"); d > 0 {
		p.InitialDelay = d
	}
	if d := viper.GetDuration("retry.max_delay"); d > 0 {
		p.MaxDelay = d
	}
	p.Jitter = viper.GetBool("retry.jitter")
	return p
}

// newExecutor builds the claude executor from configuration.
func newExecutor() *claude.Executor {
	e := claude.NewExecutor(viper.GetString("claude.shell"), retryPolicy())
	if bin := viper.GetString("claude.binary"); bin != "" {
		e.Binary = bin
	}
	return e
}

// claudeTimeout returns the configured per-attempt timeout.
func claudeTimeout() time.Duration {
	return viper.GetDuration("claude.timeout")
}
