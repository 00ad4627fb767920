package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/vkuzn/agentflow/internal/model"
)

// runSequential executes tasks strictly in declaration order. Condition
// maps are ignored; decision and loop tasks were rejected at
// construction. Dependency results are trivially available because every
// upstream task has already run.
func (p *Process) runSequential(ctx context.Context, rc *RunContext) error {
	for _, task := range p.tasks {
		if err := ctx.Err(); err != nil {
			p.cancelRemaining(ctx, rc)
			return ErrRunCancelled
		}
		if err := p.runWithPolicy(ctx, rc, task, nil); err != nil {
			return err
		}
	}
	return nil
}

// runWithPolicy executes one task and resolves failures according to its
// on_error and skip_on_failure policy. gate, when non-nil, validates the
// produced output after a successful call; a rejection fails the task
// exactly as a call failure would.
func (p *Process) runWithPolicy(ctx context.Context, rc *RunContext, task *model.Task, gate func(context.Context, *model.Task, model.AgentOutput) error) error {
	attempts := 1
	if task.OnError == model.OnErrorRetry {
		attempts += task.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleepRetryDelay(ctx, task.RetryDelay); err != nil {
				p.cancelRemaining(ctx, rc)
				return ErrRunCancelled
			}
			rc.reset(task)
			p.logger.Info("Retrying task",
				zap.String("task", task.Name),
				zap.Int("attempt", attempt+1))
		}

		rc.transition(ctx, task, model.TaskStatusRunning, "")
		out, err := p.executeOnce(ctx, rc, task)
		if err == nil && gate != nil {
			err = gate(ctx, task, out)
		}
		if err == nil {
			task.Result = out.Raw
			task.Outcome = outcomeLabel(out)
			rc.transition(ctx, task, model.TaskStatusCompleted, "")
			return nil
		}
		if errors.Is(err, ErrRunCancelled) {
			rc.transition(ctx, task, model.TaskStatusCancelled, err.Error())
			p.cancelRemaining(ctx, rc)
			return ErrRunCancelled
		}
		lastErr = err
	}

	return p.resolveFailure(ctx, rc, task, lastErr)
}

// resolveFailure applies skip_on_failure and on_error to a task that has
// exhausted its attempts. A nil return means the run proceeds.
func (p *Process) resolveFailure(ctx context.Context, rc *RunContext, task *model.Task, cause error) error {
	if task.SkipOnFailure {
		task.ErrorMessage = cause.Error()
		rc.transition(ctx, task, model.TaskStatusSkipped, cause.Error())
		p.logger.Warn("Task failure suppressed",
			zap.String("task", task.Name),
			zap.Error(cause))
		return nil
	}

	task.ErrorMessage = cause.Error()
	rc.transition(ctx, task, model.TaskStatusFailed, cause.Error())

	if task.OnError == model.OnErrorContinue {
		p.logger.Warn("Task failed, continuing",
			zap.String("task", task.Name),
			zap.Error(cause))
		return nil
	}

	// stop semantics, also the fallback once retry attempts run out
	return &StopError{Task: task.Name, Err: cause}
}

// cancelRemaining marks every non-terminal task cancelled
func (p *Process) cancelRemaining(ctx context.Context, rc *RunContext) {
	for _, t := range p.tasks {
		if !t.Status.Terminal() {
			rc.transition(ctx, t, model.TaskStatusCancelled, "run cancelled")
		}
	}
}
