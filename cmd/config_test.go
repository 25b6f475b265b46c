package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veetil/claude-agent-system/internal/output"
)

// testEnv sets up isolated config dir, viper, and output for testing.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	// Override configDirFunc for tests
	origFunc := configDirFunc
	configDirFunc = func() (string, error) { return dir, nil }
	t.Cleanup(func() { configDirFunc = origFunc })

	// Reset viper
	viper.Reset()
	viper.SetDefault("state_dir", dir)
	viper.SetDefault("db_path", filepath.Join(dir, "cas.db"))
	viper.SetDefault("workspaces.base_dir", "")
	viper.SetDefault("claude.binary", "claude")
	viper.SetDefault("claude.timeout", "10m")
	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.initial_delay", "1s")
	viper.SetDefault("retry.max_delay", "60s")
	viper.SetDefault("retry.jitter", true)
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")

	// Initialize output
	ui = output.New()

	return dir
}

func TestConfigInit_CreatesFile(t *testing.T) {
	dir := testEnv(t)

	configForce = false
	err := configInitRun()
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, "config.yaml")
	_, err = os.Stat(cfgPath)
	assert.NoError(t, err, "config file should exist")

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cas configuration")
	assert.Contains(t, string(data), "claude")
	assert.Contains(t, string(data), "retry")
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	dir := testEnv(t)

	// Create existing file
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = false
	err := configInitRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestConfigInit_ForceOverwrite(t *testing.T) {
	dir := testEnv(t)

	// Create existing file
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = true
	defer func() { configForce = false }()
	err := configInitRun()
	require.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cas configuration")
}

func TestConfigShow_NoFile(t *testing.T) {
	testEnv(t)

	err := configShowRun()
	assert.NoError(t, err)
}

func TestConfigShow_WithFile(t *testing.T) {
	testEnv(t)

	// Create config first
	configForce = false
	require.NoError(t, configInitRun())

	err := configShowRun()
	assert.NoError(t, err)
}

func TestConfigEdit_NoEditor(t *testing.T) {
	testEnv(t)

	// Unset EDITOR and VISUAL
	origEditor := os.Getenv("EDITOR")
	origVisual := os.Getenv("VISUAL")
	_ = os.Unsetenv("EDITOR")
	_ = os.Unsetenv("VISUAL")
	t.Cleanup(func() {
		if origEditor != "" {
			_ = os.Setenv("EDITOR", origEditor)
		}
		if origVisual != "" {
			_ = os.Setenv("VISUAL", origVisual)
		}
	})

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "$EDITOR is not set")
}

func TestConfigEdit_NoConfigFile(t *testing.T) {
	testEnv(t)

	_ = os.Setenv("EDITOR", "echo") // harmless command
	t.Cleanup(func() { _ = os.Unsetenv("EDITOR") })

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDetectSource(t *testing.T) {
	fileValues := map[string]bool{"key_a": true}

	// From env
	os.Setenv("CAS_TEST_KEY", "val")
	defer os.Unsetenv("CAS_TEST_KEY")
	assert.Contains(t, detectSource("test_key", "CAS_TEST_KEY", fileValues), "env")

	// From file
	assert.Contains(t, detectSource("key_a", "CAS_KEY_A_NONEXISTENT", fileValues), "file")

	// Default
	assert.Contains(t, detectSource("key_b", "CAS_KEY_B_NONEXISTENT", fileValues), "default")
}

func TestFlattenKeys(t *testing.T) {
	input := map[string]any{
		"top": "val",
		"nested": map[string]any{
			"a": "1",
			"b": "2",
		},
	}

	result := make(map[string]bool)
	flattenKeys("", input, result)

	assert.True(t, result["top"])
	assert.True(t, result["nested.a"])
	assert.True(t, result["nested.b"])
	assert.False(t, result["nested"])
}

func TestSplitMapping(t *testing.T) {
	tests := []struct {
		raw         string
		defaultDest string
		wantSrc     string
		wantDest    string
	}{
		{"./report.pdf", "", "./report.pdf", ""},
		{"./report.pdf=inputs", "", "./report.pdf", "inputs"},
		{"out/summary.md", ".", "out/summary.md", "."},
		{"out/summary.md=./results", ".", "out/summary.md", "./results"},
	}
	for _, tt := range tests {
		src, dest := splitMapping(tt.raw, tt.defaultDest)
		assert.Equal(t, tt.wantSrc, src, tt.raw)
		assert.Equal(t, tt.wantDest, dest, tt.raw)
	}
}

func TestParseRepoFlag(t *testing.T) {
	m := parseRepoFlag("https://github.com/org/app@main=vendor/app")
	assert.Equal(t, "https://github.com/org/app", m.RemoteURL)
	assert.Equal(t, "main", m.Branch)
	assert.Equal(t, "vendor/app", m.DestPath)
	assert.False(t, m.NoShallow)

	m = parseRepoFlag("https://github.com/org/app")
	assert.Equal(t, "https://github.com/org/app", m.RemoteURL)
	assert.Empty(t, m.Branch)
	assert.Empty(t, m.DestPath)
}
