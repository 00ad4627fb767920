package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTasks is returned when a process is constructed without tasks
	ErrNoTasks = errors.New("no tasks defined")

	// ErrUnknownTask is returned when a task references a name that is
	// not part of the run
	ErrUnknownTask = errors.New("unknown task reference")

	// ErrDuplicateTask is returned when two tasks share a name
	ErrDuplicateTask = errors.New("duplicate task name")

	// ErrNoStartTask is returned when a workflow has no start task
	ErrNoStartTask = errors.New("workflow has no start task")

	// ErrUnreachableTask is returned when a workflow task cannot be
	// reached from any start task through next_tasks or condition edges
	ErrUnreachableTask = errors.New("task unreachable from any start task")

	// ErrCycle is returned when the static task graph contains a cycle
	// outside a loop task's self-reference
	ErrCycle = errors.New("cycle detected in task graph")

	// ErrConditionRequired is returned when a decision or loop task has
	// no condition map
	ErrConditionRequired = errors.New("decision/loop task requires a condition map")

	// ErrRerunRequired is returned when a loop task's condition map
	// self-references but rerun is not enabled
	ErrRerunRequired = errors.New("loop task self-reference requires rerun")

	// ErrConditionInvalid is returned when a sequential or hierarchical
	// run contains decision or loop tasks
	ErrConditionInvalid = errors.New("decision/loop tasks are invalid under this strategy")

	// ErrMaxIterations is returned when a loop or decision re-entry
	// exceeds the task's max_retries bound
	ErrMaxIterations = errors.New("maximum loop iterations exceeded")

	// ErrManagerRequired is returned when a hierarchical process is
	// built without a manager
	ErrManagerRequired = errors.New("hierarchical strategy requires a manager")

	// ErrRunCancelled is returned when the caller's cancellation signal
	// aborts a run
	ErrRunCancelled = errors.New("run cancelled")
)

// RoutingError indicates a produced outcome label that is absent from a
// task's condition map. It is fatal and never retried: it signals a
// malformed outcome from the upstream call, not a transient failure.
type RoutingError struct {
	Task  string
	Label string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("no route for label %q produced by task %q", e.Label, e.Task)
}

// ValidationRejection indicates the hierarchical manager rejected a
// task's output. It is resolved according to the task's on_error policy.
type ValidationRejection struct {
	Task   string
	Reason string
}

func (e *ValidationRejection) Error() string {
	return fmt.Sprintf("output of task %q rejected: %s", e.Task, e.Reason)
}

// StopError carries the task that triggered an on_error=stop halt along
// with the triggering error.
type StopError struct {
	Task string
	Err  error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("run stopped at task %q: %v", e.Task, e.Err)
}

func (e *StopError) Unwrap() error { return e.Err }
