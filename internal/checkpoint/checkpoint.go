package checkpoint

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a checkpointed execution.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusFailed    Status = "FAILED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// ErrNotFound is returned by Load when no checkpoint exists for an
// execution identifier.
var ErrNotFound = errors.New("checkpoint: not found")

// Checkpoint is a durable snapshot of a running execution: enough to resume
// a DAG Scheduler run or a Workflow Engine run from where it left off.
type Checkpoint struct {
	WorkflowID  string         `json:"workflow_id,omitempty"`
	ExecutionID string         `json:"execution_id"`
	Version     int            `json:"version"`
	Status      Status         `json:"status"`
	CurrentNode string         `json:"current_node,omitempty"`
	Completed   []string       `json:"completed"`
	Pending     []string       `json:"pending"`
	Data        map[string]any `json:"data,omitempty"`
	Error       string         `json:"error,omitempty"`
	GraphID     string         `json:"graph_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Meta is the summary row returned by List, without the full data payload.
type Meta struct {
	ExecutionID string    `json:"execution_id"`
	WorkflowID  string    `json:"workflow_id,omitempty"`
	Version     int       `json:"version"`
	Status      Status    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// Manager persists and retrieves Checkpoints.
type Manager interface {
	Save(cp Checkpoint) (version int, err error)
	Load(executionID string) (Checkpoint, error)
	List(workflowID string) ([]Meta, error)
	Delete(executionID string) error
}
