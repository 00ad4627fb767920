package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vkuzn/agentflow/internal/model"
)

// runHierarchical executes tasks in declaration order with a manager
// gate after each one. The gate compares the task's declared expected
// output against what was produced and can fail a task even when the
// call itself succeeded; that is how hallucinated or incomplete output
// is caught. Rejections resolve through on_error exactly like call
// failures.
func (p *Process) runHierarchical(ctx context.Context, rc *RunContext) error {
	gate := func(ctx context.Context, task *model.Task, out model.AgentOutput) error {
		if !task.QualityCheck {
			return nil
		}
		verdict, err := p.manager.Review(ctx, task.ExpectedOutput, out.Raw)
		if err != nil {
			return fmt.Errorf("manager review failed: %w", err)
		}
		if !verdict.Accepted {
			p.logger.Warn("Manager rejected output",
				zap.String("task", task.Name),
				zap.String("reason", verdict.Reason))
			return &ValidationRejection{Task: task.Name, Reason: verdict.Reason}
		}
		return nil
	}

	for _, task := range p.tasks {
		if err := ctx.Err(); err != nil {
			p.cancelRemaining(ctx, rc)
			return ErrRunCancelled
		}
		if err := p.runWithPolicy(ctx, rc, task, gate); err != nil {
			return err
		}
	}
	return nil
}
