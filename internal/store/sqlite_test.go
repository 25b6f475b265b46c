package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veetil/claude-agent-system/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

func TestRunCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &models.AgentRun{
		WorkspaceID: "agent_abc123",
		SessionID:   "sess-1",
		Prompt:      "summarize the report",
		ResultText:  "Summary: all good.",
		CostUSD:     0.0123,
		Status:      models.RunStatusCompleted,
		DurationMS:  4200,
	}
	err := s.CreateRun(ctx, run)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.False(t, run.StartedAt.IsZero())

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.WorkspaceID, got.WorkspaceID)
	assert.Equal(t, run.SessionID, got.SessionID)
	assert.Equal(t, run.Prompt, got.Prompt)
	assert.Equal(t, run.ResultText, got.ResultText)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.InDelta(t, 0.0123, got.CostUSD, 1e-9)
	assert.Equal(t, int64(4200), got.DurationMS)

	err = s.UpdateRunSummary(ctx, run.ID, "one-line summary")
	require.NoError(t, err)
	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "one-line summary", got.Summary)

	err = s.DeleteRun(ctx, run.ID)
	require.NoError(t, err)
	_, err = s.GetRun(ctx, run.ID)
	assert.Error(t, err)
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRun(context.Background(), "nonexistent")
	assert.ErrorContains(t, err, "run not found")
}

func TestUpdateRunSummary_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateRunSummary(context.Background(), "nonexistent", "x")
	assert.ErrorContains(t, err, "run not found")
}

func TestListRuns_FiltersAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	runs := []*models.AgentRun{
		{WorkspaceID: "ws-a", Prompt: "p1", Status: models.RunStatusCompleted, StartedAt: base},
		{WorkspaceID: "ws-a", Prompt: "p2", Status: models.RunStatusFailed, StartedAt: base.Add(time.Minute)},
		{WorkspaceID: "ws-b", Prompt: "p3", Status: models.RunStatusCompleted, StartedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range runs {
		require.NoError(t, s.CreateRun(ctx, r))
	}

	all, err := s.ListRuns(ctx, RunListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Most recent first
	assert.Equal(t, "p3", all[0].Prompt)
	assert.Equal(t, "p1", all[2].Prompt)

	byWorkspace, err := s.ListRuns(ctx, RunListFilter{WorkspaceID: "ws-a"})
	require.NoError(t, err)
	assert.Len(t, byWorkspace, 2)

	failed, err := s.ListRuns(ctx, RunListFilter{Status: models.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "p2", failed[0].Prompt)

	limited, err := s.ListRuns(ctx, RunListFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "p3", limited[0].Prompt)
}
