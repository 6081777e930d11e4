package types

import "time"

// TaskStatus tracks a task through the owning agent's lifecycle.
// Completed and Failed are terminal.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is one unit of work handed to an agent. Only the owning agent's
// lifecycle mutates it after creation.
type Task struct {
	ID            string         `json:"id"`
	Kind          string         `json:"kind"`
	Description   string         `json:"description"`
	Priority      float64        `json:"priority"`
	Deadline      *time.Time     `json:"deadline,omitempty"`
	DependencyIDs []string       `json:"dependency_ids,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
	Status        TaskStatus     `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Action is the single decision produced by one think/decide/act cycle.
// Immutable once Success is recorded.
type Action struct {
	ID              string         `json:"id"`
	Kind            string         `json:"kind"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	ExpectedOutcome string         `json:"expected_outcome,omitempty"`
	ActualOutcome   string         `json:"actual_outcome,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	Success         bool           `json:"success"`
}
