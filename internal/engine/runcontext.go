package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vkuzn/agentflow/internal/events"
	"github.com/vkuzn/agentflow/internal/model"
	"github.com/vkuzn/agentflow/internal/storage"
)

// RunContext holds the mutable state of one orchestrator invocation:
// the task table, the shared scratch store, the per-task result cache
// and iteration counters, and the optional transition transcript.
// The orchestrator is the single writer of task state; the mutex exists
// because async siblings reach their terminal transitions on worker
// goroutines.
type RunContext struct {
	RunID string
	State *model.State

	mu         sync.Mutex
	tasks      map[string]*model.Task
	results    map[string]string
	iterations map[string]int
	transcript []model.Transition

	history    bool
	transcpt   storage.TranscriptStorage
	publisher  events.Publisher
	logger     *zap.Logger
}

func newRunContext(runID string, tasks map[string]*model.Task, history bool, transcpt storage.TranscriptStorage, publisher events.Publisher, logger *zap.Logger) *RunContext {
	return &RunContext{
		RunID:      runID,
		State:      model.NewState(),
		tasks:      tasks,
		results:    make(map[string]string),
		iterations: make(map[string]int),
		history:    history,
		transcpt:   transcpt,
		publisher:  publisher,
		logger:     logger,
	}
}

// Task returns the task registered under name, or nil
func (rc *RunContext) Task(name string) *model.Task {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.tasks[name]
}

// Result returns the cached result of a completed task
func (rc *RunContext) Result(name string) (string, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	r, ok := rc.results[name]
	return r, ok
}

// Results returns a copy of the per-task result cache
func (rc *RunContext) Results() map[string]string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make(map[string]string, len(rc.results))
	for k, v := range rc.results {
		out[k] = v
	}
	return out
}

// Iterations returns how many times the named task has been re-entered
func (rc *RunContext) Iterations(name string) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.iterations[name]
}

// Transcript returns the recorded transitions. Empty unless the run was
// configured with history enabled.
func (rc *RunContext) Transcript() []model.Transition {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]model.Transition, len(rc.transcript))
	copy(out, rc.transcript)
	return out
}

// contextFor assembles the dependency results injected into a task's
// input. Only terminal upstream tasks have entries.
func (rc *RunContext) contextFor(task *model.Task) map[string]string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	deps := make(map[string]string, len(task.Context))
	for _, name := range task.Context {
		if r, ok := rc.results[name]; ok {
			deps[name] = r
		}
	}
	return deps
}

// bumpIteration increments a task's re-entry counter and returns the new
// count
func (rc *RunContext) bumpIteration(name string) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.iterations[name]++
	return rc.iterations[name]
}

// transition moves a task into a new state, records the transcript entry
// when history is on, and notifies the configured sinks.
func (rc *RunContext) transition(ctx context.Context, task *model.Task, to model.TaskStatus, detail string) {
	rc.mu.Lock()
	from := task.Status
	task.Status = to
	now := time.Now()
	switch to {
	case model.TaskStatusRunning:
		task.StartedAt = &now
	case model.TaskStatusCompleted, model.TaskStatusFailed, model.TaskStatusSkipped, model.TaskStatusCancelled:
		task.CompletedAt = &now
	}
	if to == model.TaskStatusCompleted {
		rc.results[task.Name] = task.Result
	}
	rec := model.Transition{
		RunID:      rc.RunID,
		Task:       task.Name,
		From:       from,
		To:         to,
		Detail:     detail,
		RecordedAt: now,
	}
	if rc.history {
		rc.transcript = append(rc.transcript, rec)
	}
	rc.mu.Unlock()

	rc.logger.Debug("Task transition",
		zap.String("run_id", rc.RunID),
		zap.String("task", task.Name),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	if rc.transcpt != nil && rc.history {
		if err := rc.transcpt.Append(ctx, &rec); err != nil {
			rc.logger.Error("Failed to persist transition",
				zap.String("task", task.Name),
				zap.Error(err))
		}
	}
	if rc.publisher != nil {
		if err := rc.publisher.PublishTransition(ctx, &rec); err != nil {
			rc.logger.Error("Failed to publish transition",
				zap.String("task", task.Name),
				zap.Error(err))
		}
	}
}

// reset returns a task to pending for re-entry under the same name,
// clearing its previous runtime fields.
func (rc *RunContext) reset(task *model.Task) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	task.Status = model.TaskStatusPending
	task.ErrorMessage = ""
	task.StartedAt = nil
	task.CompletedAt = nil
}
