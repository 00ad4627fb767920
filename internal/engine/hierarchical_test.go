package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vkuzn/agentflow/internal/model"
)

func TestHierarchicalAcceptedRun(t *testing.T) {
	agent := &recordingAgent{output: "fine"}
	var reviewed []string
	manager := model.ManagerFunc(func(ctx context.Context, expected, produced string) (model.Verdict, error) {
		reviewed = append(reviewed, produced)
		return model.Verdict{Accepted: true}, nil
	})

	p, err := NewProcess(Config{
		Strategy: StrategyHierarchical,
		Manager:  manager,
		Tasks: []*model.Task{
			model.NewTask("a", "", "everything", agent),
			model.NewTask("b", "", "everything", agent),
		},
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, res.Status)
	assert.Equal(t, []string{"fine", "fine"}, reviewed)
}

func TestHierarchicalRejectionFailsTask(t *testing.T) {
	agent := &recordingAgent{output: "half an answer"}
	manager := model.ManagerFunc(func(ctx context.Context, expected, produced string) (model.Verdict, error) {
		return model.Verdict{Accepted: false, Reason: "output incomplete"}, nil
	})

	tasks := []*model.Task{
		model.NewTask("draft", "", "a full report", agent),
		model.NewTask("publish", "", "", agent),
	}

	p, err := NewProcess(Config{
		Strategy: StrategyHierarchical,
		Manager:  manager,
		Tasks:    tasks,
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.Error(t, err)

	// The call itself succeeded; the rejection alone fails the task.
	var rejection *ValidationRejection
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, "draft", rejection.Task)
	assert.Equal(t, "output incomplete", rejection.Reason)

	assert.Equal(t, RunStatusFailed, res.Status)
	assert.Equal(t, model.TaskStatusFailed, tasks[0].Status)
	assert.Contains(t, tasks[0].ErrorMessage, "output incomplete")
	assert.Zero(t, agent.Count("publish"))
}

func TestHierarchicalQualityCheckDisabled(t *testing.T) {
	agent := &recordingAgent{output: "unchecked"}
	var reviews int
	manager := model.ManagerFunc(func(ctx context.Context, expected, produced string) (model.Verdict, error) {
		reviews++
		return model.Verdict{Accepted: false, Reason: "should never run"}, nil
	})

	task := model.NewTask("fast", "", "", agent)
	task.QualityCheck = false

	p, err := NewProcess(Config{
		Strategy: StrategyHierarchical,
		Manager:  manager,
		Tasks:    []*model.Task{task},
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, res.Status)
	assert.Zero(t, reviews)
	assert.Equal(t, "unchecked", res.Results["fast"])
}

func TestHierarchicalRejectionRetried(t *testing.T) {
	agent := &recordingAgent{output: "attempt"}
	var reviews int
	manager := model.ManagerFunc(func(ctx context.Context, expected, produced string) (model.Verdict, error) {
		reviews++
		if reviews < 2 {
			return model.Verdict{Accepted: false, Reason: "try again"}, nil
		}
		return model.Verdict{Accepted: true}, nil
	})

	task := model.NewTask("retry-me", "", "", agent)
	task.OnError = model.OnErrorRetry
	task.MaxRetries = 3

	p, err := NewProcess(Config{
		Strategy: StrategyHierarchical,
		Manager:  manager,
		Tasks:    []*model.Task{task},
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, res.Status)
	assert.Equal(t, 2, agent.Count("retry-me"))
}

func TestHierarchicalManagerError(t *testing.T) {
	agent := &recordingAgent{output: "something"}
	manager := model.ManagerFunc(func(ctx context.Context, expected, produced string) (model.Verdict, error) {
		return model.Verdict{}, errors.New("review service down")
	})

	p, err := NewProcess(Config{
		Strategy: StrategyHierarchical,
		Manager:  manager,
		Tasks:    []*model.Task{model.NewTask("only", "", "", agent)},
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "review service down")
}
