package models

import "time"

// RunStatus represents the terminal state of an agent run.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// AgentRun is one recorded invocation of the external agent: the prompt
// sent, the session token returned, and what it produced.
type AgentRun struct {
	ID          string
	WorkspaceID string
	SessionID   string
	Prompt      string
	ResultText  string
	Summary     string
	CostUSD     float64
	Status      RunStatus
	Error       string
	StartedAt   time.Time
	DurationMS  int64
}
