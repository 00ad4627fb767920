package model

import (
	"time"
)

// TaskStatus represents the current status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusSkipped   TaskStatus = "skipped"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped, TaskStatusCancelled:
		return true
	}
	return false
}

// TaskType represents the variant of a task
type TaskType string

const (
	TaskTypeStandard TaskType = "standard"
	TaskTypeDecision TaskType = "decision"
	TaskTypeLoop     TaskType = "loop"
)

// OnError controls how a task failure is resolved
type OnError string

const (
	OnErrorStop     OnError = "stop"
	OnErrorContinue OnError = "continue"
	OnErrorRetry    OnError = "retry"
)

// DefaultMaxRetries is the retry/iteration bound applied when none is set
const DefaultMaxRetries = 3

// Task represents a unit of work bound to an executing agent
type Task struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	ExpectedOutput string   `json:"expected_output"`
	Type           TaskType `json:"type"`

	// Condition maps an outcome label to the next tasks to run.
	// Only decision and loop tasks carry one.
	Condition map[string][]string `json:"condition,omitempty"`

	// Context lists upstream task names whose results are injected
	// into this task's input.
	Context []string `json:"context,omitempty"`

	IsStart   bool     `json:"is_start,omitempty"`
	NextTasks []string `json:"next_tasks,omitempty"`

	// Execution policy
	AsyncExecution bool          `json:"async_execution"`
	QualityCheck   bool          `json:"quality_check"`
	Rerun          bool          `json:"rerun"`
	MaxRetries     int           `json:"max_retries"`
	OnError        OnError       `json:"on_error"`
	SkipOnFailure  bool          `json:"skip_on_failure"`
	RetryDelay     time.Duration `json:"retry_delay"`

	Agent Agent `json:"-"`

	// Runtime fields. The orchestrator is the only writer.
	Status       TaskStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Result       string     `json:"result,omitempty"`
	Outcome      string     `json:"outcome,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTask creates a task with default policy values applied
func NewTask(name, description, expectedOutput string, agent Agent) *Task {
	return &Task{
		Name:           name,
		Description:    description,
		ExpectedOutput: expectedOutput,
		Type:           TaskTypeStandard,
		Agent:          agent,
		QualityCheck:   true,
		MaxRetries:     DefaultMaxRetries,
		OnError:        OnErrorStop,
		Status:         TaskStatusPending,
		CreatedAt:      time.Now(),
	}
}

// TaskResult represents the outcome of a single task execution
type TaskResult struct {
	TaskName    string     `json:"task_name"`
	Status      TaskStatus `json:"status"`
	Output      string     `json:"output,omitempty"`
	Label       string     `json:"label,omitempty"`
	Error       string     `json:"error,omitempty"`
	CompletedAt time.Time  `json:"completed_at"`
}
