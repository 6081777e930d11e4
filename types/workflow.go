package types

import "time"

// WorkflowKind names a predefined business process.
type WorkflowKind string

const (
	WorkflowRoutineCycle      WorkflowKind = "routine_cycle"
	WorkflowEvaluation        WorkflowKind = "evaluation"
	WorkflowRiskAssessment    WorkflowKind = "risk_assessment"
	WorkflowRebalance         WorkflowKind = "rebalance"
	WorkflowEmergencyResponse WorkflowKind = "emergency_response"
	WorkflowReportGeneration  WorkflowKind = "report_generation"
)

// WorkflowStatus tracks a workflow instance to its terminal state.
type WorkflowStatus string

const (
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

// StepStatus tracks one step within a workflow instance.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// StepRecord is the audit trail for one executed step. Records are appended
// in execution order and never reordered.
type StepRecord struct {
	Name        string         `json:"name"`
	Target      string         `json:"target"`
	Status      StepStatus     `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Workflow is one instance of a named business process. The record is
// retained after completion for audit until evicted by the caller.
type Workflow struct {
	ID          string         `json:"id"`
	Kind        WorkflowKind   `json:"kind"`
	Status      WorkflowStatus `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
	Steps       []StepRecord   `json:"steps"`
	Results     map[string]any `json:"results,omitempty"`
}

// Duration returns the wall-clock time the workflow ran for.
func (w *Workflow) Duration() time.Duration {
	if w.CompletedAt.IsZero() {
		return time.Since(w.StartedAt)
	}
	return w.CompletedAt.Sub(w.StartedAt)
}
