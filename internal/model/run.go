package model

import "time"

// RunStatus 运行状态
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is the status record of one orchestrator run.
type Run struct {
	ID          string     `json:"id"`
	UserID      int        `json:"user_id"`
	Status      RunStatus  `json:"status"`
	Trigger     string     `json:"trigger"`
	Fetched     int        `json:"fetched"`
	Classified  int        `json:"classified"`
	Failed      int        `json:"failed"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the run has left the running state.
func (r *Run) Terminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}
