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

func TestWorkflowLinearChain(t *testing.T) {
	agent := &recordingAgent{output: "ok"}

	first := model.NewTask("first", "", "", agent)
	first.IsStart = true
	first.NextTasks = []string{"second"}
	second := model.NewTask("second", "", "", agent)
	second.Context = []string{"first"}
	second.NextTasks = []string{"third"}
	third := model.NewTask("third", "", "", agent)
	third.Context = []string{"second"}

	p, err := NewProcess(Config{
		Strategy: StrategyWorkflow,
		Tasks:    []*model.Task{first, second, third},
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, res.Status)
	assert.Equal(t, []string{"first", "second", "third"}, agent.Calls())
}

func TestWorkflowAsyncSiblingsJoined(t *testing.T) {
	left := model.NewTask("left", "", "", stubAgent("left result"))
	left.Context = []string{"fan"}
	left.NextTasks = []string{"join"}
	left.AsyncExecution = true

	right := model.NewTask("right", "", "", stubAgent("right result"))
	right.Context = []string{"fan"}
	right.NextTasks = []string{"join"}
	right.AsyncExecution = true

	fan := model.NewTask("fan", "", "", stubAgent("fanned"))
	fan.IsStart = true
	fan.NextTasks = []string{"left", "right"}

	var joined map[string]string
	join := model.NewTask("join", "", "", model.AgentFunc(func(ctx context.Context, input model.AgentInput) (model.AgentOutput, error) {
		joined = input.Context
		return model.AgentOutput{Raw: "merged"}, nil
	}))
	join.Context = []string{"left", "right"}

	p, err := NewProcess(Config{
		Strategy: StrategyWorkflow,
		Tasks:    []*model.Task{fan, left, right, join},
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, res.Status)

	// Both siblings finished before the join ran, so both results are
	// visible in its injected context.
	assert.Equal(t, map[string]string{
		"left":  "left result",
		"right": "right result",
	}, joined)
}

func TestWorkflowFailurePropagatesAsSkip(t *testing.T) {
	agent := &recordingAgent{
		output: "ok",
		fail:   map[string]error{"broken": errors.New("boom")},
	}

	broken := model.NewTask("broken", "", "", agent)
	broken.IsStart = true
	broken.NextTasks = []string{"dependent"}
	broken.OnError = model.OnErrorContinue

	dependent := model.NewTask("dependent", "", "", agent)
	dependent.Context = []string{"broken"}

	p, err := NewProcess(Config{
		Strategy: StrategyWorkflow,
		Tasks:    []*model.Task{broken, dependent},
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, res.Status)
	assert.Equal(t, model.TaskStatusFailed, broken.Status)
	assert.Equal(t, model.TaskStatusSkipped, dependent.Status)
	assert.Zero(t, agent.Count("dependent"))
}

func TestWorkflowSkipOnFailureRunsDespiteFailedDep(t *testing.T) {
	agent := &recordingAgent{
		output: "ok",
		fail:   map[string]error{"broken": errors.New("boom")},
	}

	broken := model.NewTask("broken", "", "", agent)
	broken.IsStart = true
	broken.NextTasks = []string{"tolerant"}
	broken.OnError = model.OnErrorContinue

	tolerant := model.NewTask("tolerant", "", "", agent)
	tolerant.Context = []string{"broken"}
	tolerant.SkipOnFailure = true

	p, err := NewProcess(Config{
		Strategy: StrategyWorkflow,
		Tasks:    []*model.Task{broken, tolerant},
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, tolerant.Status)
	assert.Equal(t, 1, agent.Count("tolerant"))
}

// A decision task that routes back to an earlier task re-runs that task
// under the same name, and routing forward afterwards executes the
// downstream task exactly once.
func TestWorkflowDecisionLoop(t *testing.T) {
	agent := &recordingAgent{output: "collected"}

	var verdicts int
	validator := model.AgentFunc(func(ctx context.Context, input model.AgentInput) (model.AgentOutput, error) {
		verdicts++
		if verdicts == 1 {
			return model.AgentOutput{Raw: "data incomplete", Label: "invalid"}, nil
		}
		return model.AgentOutput{Raw: "data complete", Label: "valid"}, nil
	})

	collect := model.NewTask("collect", "gather records", "", agent)
	collect.IsStart = true
	collect.NextTasks = []string{"validate"}

	validate := model.NewTask("validate", "check records", "", validator)
	validate.Type = model.TaskTypeDecision
	validate.Context = []string{"collect"}
	validate.Condition = map[string][]string{
		"valid":   {"process"},
		"invalid": {"collect"},
	}

	process := model.NewTask("process", "publish records", "", agent)
	process.Context = []string{"validate"}

	p, err := NewProcess(Config{
		Strategy: StrategyWorkflow,
		Tasks:    []*model.Task{collect, validate, process},
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, res.Status)

	assert.Equal(t, 2, agent.Count("collect"))
	assert.Equal(t, 2, verdicts)
	assert.Equal(t, 1, agent.Count("process"))
	assert.Equal(t, model.TaskStatusCompleted, process.Status)
}

func TestWorkflowRoutingMissFailsRun(t *testing.T) {
	decider := model.AgentFunc(func(ctx context.Context, input model.AgentInput) (model.AgentOutput, error) {
		return model.AgentOutput{Raw: "shrug", Label: "maybe"}, nil
	})

	decide := model.NewTask("decide", "", "", decider)
	decide.IsStart = true
	decide.Type = model.TaskTypeDecision
	decide.Condition = map[string][]string{
		"yes": {"after"},
		"no":  {"after"},
	}

	after := model.NewTask("after", "", "", stubAgent("never"))
	after.Context = []string{"decide"}

	p, err := NewProcess(Config{
		Strategy: StrategyWorkflow,
		Tasks:    []*model.Task{decide, after},
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.Error(t, err)

	var routing *RoutingError
	require.ErrorAs(t, err, &routing)
	assert.Equal(t, "decide", routing.Task)
	assert.Equal(t, "maybe", routing.Label)

	assert.Equal(t, RunStatusFailed, res.Status)
	assert.Equal(t, model.TaskStatusFailed, decide.Status)
	assert.Equal(t, model.TaskStatusCancelled, after.Status)
}

func TestWorkflowLoopTerminatesOnEmptyTargets(t *testing.T) {
	var rounds int
	looper := model.AgentFunc(func(ctx context.Context, input model.AgentInput) (model.AgentOutput, error) {
		rounds++
		if rounds < 3 {
			return model.AgentOutput{Label: "more"}, nil
		}
		return model.AgentOutput{Label: "done"}, nil
	})

	loop := model.NewTask("poll", "", "", looper)
	loop.IsStart = true
	loop.Type = model.TaskTypeLoop
	loop.Rerun = true
	loop.Condition = map[string][]string{
		"more": {"poll"},
		"done": {},
	}

	p, err := NewProcess(Config{
		Strategy: StrategyWorkflow,
		Tasks:    []*model.Task{loop},
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, res.Status)
	assert.Equal(t, 3, rounds)
}

func TestWorkflowLoopBoundExceeded(t *testing.T) {
	var rounds int
	looper := model.AgentFunc(func(ctx context.Context, input model.AgentInput) (model.AgentOutput, error) {
		rounds++
		return model.AgentOutput{Label: "more"}, nil
	})

	loop := model.NewTask("poll", "", "", looper)
	loop.IsStart = true
	loop.Type = model.TaskTypeLoop
	loop.Rerun = true
	loop.MaxRetries = 2
	loop.Condition = map[string][]string{
		"more": {"poll"},
		"done": {},
	}

	p, err := NewProcess(Config{
		Strategy: StrategyWorkflow,
		Tasks:    []*model.Task{loop},
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrMaxIterations)

	var stop *StopError
	require.ErrorAs(t, err, &stop)
	assert.Equal(t, "poll", stop.Task)

	assert.Equal(t, RunStatusFailed, res.Status)
	// Initial pass plus max_retries re-entries.
	assert.Equal(t, 3, rounds)
}

func TestWorkflowStalledDependencyDrains(t *testing.T) {
	agent := &recordingAgent{output: "ok"}

	decider := model.AgentFunc(func(ctx context.Context, input model.AgentInput) (model.AgentOutput, error) {
		return model.AgentOutput{Label: "skip"}, nil
	})

	decide := model.NewTask("decide", "", "", decider)
	decide.IsStart = true
	decide.Type = model.TaskTypeDecision
	decide.Condition = map[string][]string{
		"go":   {"heavy"},
		"skip": {"summary"},
	}

	// summary waits on heavy, but the branch that would have scheduled
	// heavy was not taken. The run must drain instead of spinning.
	heavy := model.NewTask("heavy", "", "", agent)
	heavy.Context = []string{"decide"}

	summary := model.NewTask("summary", "", "", agent)
	summary.Context = []string{"heavy"}

	p, err := NewProcess(Config{
		Strategy: StrategyWorkflow,
		Tasks:    []*model.Task{decide, heavy, summary},
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, res.Status)
	assert.Equal(t, model.TaskStatusSkipped, summary.Status)
	assert.Zero(t, agent.Count("heavy"))
	assert.Zero(t, agent.Count("summary"))
}
