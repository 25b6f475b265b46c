package store

import (
	"context"

	"github.com/veetil/claude-agent-system/internal/models"
)

// RunListFilter specifies filters for listing recorded runs.
type RunListFilter struct {
	WorkspaceID string
	Status      models.RunStatus
	Limit       int
}

// Store defines the persistence interface for run history.
type Store interface {
	CreateRun(ctx context.Context, run *models.AgentRun) error
	GetRun(ctx context.Context, id string) (*models.AgentRun, error)
	ListRuns(ctx context.Context, filter RunListFilter) ([]*models.AgentRun, error)
	UpdateRunSummary(ctx context.Context, id, summary string) error
	DeleteRun(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
