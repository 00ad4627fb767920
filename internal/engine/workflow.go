package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vkuzn/agentflow/internal/model"
)

// runWorkflow drives the directed-graph strategy. Execution starts at
// every is_start task, successors come from a completed task's condition
// map (or its static next_tasks list), and a task runs only once all of
// its dependencies are terminal. Failed dependencies propagate as skips.
// Async siblings within a round run concurrently and are always joined
// before successors are evaluated.
func (p *Process) runWorkflow(ctx context.Context, rc *RunContext) error {
	var scheduled []string
	queued := make(map[string]bool)

	enqueue := func(name string) {
		if !queued[name] {
			queued[name] = true
			scheduled = append(scheduled, name)
		}
	}

	for _, t := range p.tasks {
		if t.IsStart {
			enqueue(t.Name)
		}
	}

	for len(scheduled) > 0 {
		if ctx.Err() != nil {
			p.cancelRemaining(ctx, rc)
			return ErrRunCancelled
		}

		// Partition the queue into a runnable batch and tasks still
		// blocked on dependencies, propagating failures as skips.
		var batch []*model.Task
		var blocked []string
		var skipped []*model.Task
		for _, name := range scheduled {
			t := rc.Task(name)
			ready, failedDep := p.depState(rc, t)
			switch {
			case failedDep && !t.SkipOnFailure:
				rc.transition(ctx, t, model.TaskStatusSkipped, "upstream dependency failed")
				delete(queued, name)
				skipped = append(skipped, t)
			case ready:
				batch = append(batch, t)
				delete(queued, name)
			default:
				blocked = append(blocked, name)
			}
		}
		scheduled = blocked

		// Skipped tasks never produce an outcome, but their static
		// successors still resolve so the graph drains.
		for _, t := range skipped {
			for _, name := range t.NextTasks {
				if err := p.requeue(rc, name, enqueue); err != nil {
					p.cancelRemaining(ctx, rc)
					return err
				}
			}
		}

		if len(batch) == 0 {
			if len(scheduled) == 0 {
				break
			}
			// Remaining tasks wait on dependencies that can never
			// complete. End the run rather than spin.
			for _, name := range scheduled {
				t := rc.Task(name)
				if !t.Status.Terminal() {
					rc.transition(ctx, t, model.TaskStatusSkipped, "dependencies unreachable")
				}
			}
			p.logger.Warn("Workflow stalled on unreachable dependencies",
				zap.Strings("tasks", scheduled))
			break
		}

		if err := p.runBatch(ctx, rc, batch); err != nil {
			p.cancelRemaining(ctx, rc)
			return err
		}

		// All siblings joined; evaluate successors. Failed and skipped
		// tasks still schedule their static successors so the failure
		// propagates downstream as skips.
		for _, t := range batch {
			switch t.Status {
			case model.TaskStatusCompleted:
				if err := p.resolveSuccessors(ctx, rc, t, enqueue); err != nil {
					p.cancelRemaining(ctx, rc)
					return err
				}
			case model.TaskStatusFailed, model.TaskStatusSkipped:
				for _, name := range t.NextTasks {
					if err := p.requeue(rc, name, enqueue); err != nil {
						p.cancelRemaining(ctx, rc)
						return err
					}
				}
			}
		}
	}

	return nil
}

// depState reports whether every dependency of t is terminal, and
// whether any of them failed
func (p *Process) depState(rc *RunContext, t *model.Task) (ready bool, failedDep bool) {
	ready = true
	for _, dep := range t.Context {
		d := rc.Task(dep)
		if !d.Status.Terminal() {
			ready = false
			continue
		}
		if d.Status == model.TaskStatusFailed {
			failedDep = true
		}
	}
	return ready, failedDep
}

// runBatch executes one round of ready tasks. Tasks flagged for async
// execution run as independent concurrent units; the rest run in order
// on the orchestrator's own flow. The batch is joined before returning,
// so no downstream task can observe a partially completed sibling set.
func (p *Process) runBatch(ctx context.Context, rc *RunContext, batch []*model.Task) error {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first error
	)
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		if first == nil {
			first = err
		}
		mu.Unlock()
	}

	for _, t := range batch {
		if !t.AsyncExecution {
			continue
		}
		wg.Add(1)
		go func(t *model.Task) {
			defer wg.Done()
			record(p.runWithPolicy(ctx, rc, t, nil))
		}(t)
	}
	for _, t := range batch {
		if t.AsyncExecution {
			continue
		}
		record(p.runWithPolicy(ctx, rc, t, nil))
	}
	wg.Wait()

	return first
}

// resolveSuccessors routes a completed task to its successors: through
// its condition map when it has one, else through next_tasks. A task
// with neither is terminal.
func (p *Process) resolveSuccessors(ctx context.Context, rc *RunContext, t *model.Task, enqueue func(string)) error {
	if len(t.Condition) == 0 {
		for _, name := range t.NextTasks {
			if err := p.requeue(rc, name, enqueue); err != nil {
				return err
			}
		}
		return nil
	}

	targets, err := Route(t, t.Outcome)
	if err != nil {
		rc.transition(ctx, t, model.TaskStatusFailed, err.Error())
		return err
	}

	if len(targets) == 0 {
		// Loop resolved to its terminal entry: the loop ends
		// successfully regardless of iteration count.
		p.logger.Info("Loop terminated",
			zap.String("task", t.Name),
			zap.Int("iterations", rc.Iterations(t.Name)))
		return nil
	}

	for _, name := range targets {
		if err := p.requeue(rc, name, enqueue); err != nil {
			return err
		}
	}
	return nil
}

// requeue schedules a successor, resetting it for re-entry when it
// already reached a terminal state. Re-entries keep the same task name
// under an incremented instance counter and are bounded by the target's
// max_retries.
func (p *Process) requeue(rc *RunContext, name string, enqueue func(string)) error {
	t := rc.Task(name)
	if t.Status.Terminal() {
		n := rc.bumpIteration(name)
		if n > t.MaxRetries {
			return &StopError{
				Task: name,
				Err:  fmt.Errorf("%w after %d iterations", ErrMaxIterations, n-1),
			}
		}
		rc.reset(t)
	}
	enqueue(name)
	return nil
}
