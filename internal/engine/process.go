// Package engine drives sets of agent-bound tasks to completion under
// one of three strategies: sequential, hierarchical (manager-validated),
// and workflow (condition-routed graph).
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vkuzn/agentflow/internal/events"
	"github.com/vkuzn/agentflow/internal/model"
	"github.com/vkuzn/agentflow/internal/ratelimit"
	"github.com/vkuzn/agentflow/internal/retry"
	"github.com/vkuzn/agentflow/internal/storage"
)

// Strategy selects how the orchestrator schedules tasks
type Strategy string

const (
	StrategySequential   Strategy = "sequential"
	StrategyHierarchical Strategy = "hierarchical"
	StrategyWorkflow     Strategy = "workflow"
)

// RunStatus is the overall outcome of a run
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Config configures a Process
type Config struct {
	Tasks    []*model.Task
	Strategy Strategy

	// Manager is required for the hierarchical strategy.
	Manager model.Manager

	// Limiter gates every remote call when set.
	Limiter *ratelimit.Limiter

	// Retrier wraps every remote call when set.
	Retrier *retry.Controller

	// Publisher receives every task transition when set.
	Publisher events.Publisher

	// Transcript persists transitions when set and History is enabled.
	Transcript storage.TranscriptStorage

	// History retains a transcript of all task transitions.
	History bool

	Logger *zap.Logger
}

// Result is what a run returns to the caller
type Result struct {
	RunID   string            `json:"run_id"`
	Status  RunStatus         `json:"status"`
	Results map[string]string `json:"results"`

	// StoppedAt names the task that triggered an on_error=stop halt.
	StoppedAt string `json:"stopped_at,omitempty"`
	Error     string `json:"error,omitempty"`

	Transcript []model.Transition `json:"transcript,omitempty"`
}

// Process consumes a set of tasks and drives them to completion under
// one strategy. A process validates its graph at construction and is
// good for a single Run.
type Process struct {
	logger    *zap.Logger
	tasks     []*model.Task
	byName    map[string]*model.Task
	strategy  Strategy
	manager   model.Manager
	limiter   *ratelimit.Limiter
	retrier   *retry.Controller
	publisher events.Publisher
	transcpt  storage.TranscriptStorage
	history   bool
}

// NewProcess validates the task graph and builds a process.
// Unrecoverable construction errors (unknown references, invalid cycles,
// decision tasks without a condition map) are raised here, before any
// task executes.
func NewProcess(cfg Config) (*Process, error) {
	if len(cfg.Tasks) == 0 {
		return nil, ErrNoTasks
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	byName := make(map[string]*model.Task, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		if t.Name == "" {
			return nil, fmt.Errorf("task with empty name: %w", ErrUnknownTask)
		}
		if _, exists := byName[t.Name]; exists {
			return nil, fmt.Errorf("task %q: %w", t.Name, ErrDuplicateTask)
		}
		byName[t.Name] = t
	}

	p := &Process{
		logger:    logger.Named("engine"),
		tasks:     cfg.Tasks,
		byName:    byName,
		strategy:  cfg.Strategy,
		manager:   cfg.Manager,
		limiter:   cfg.Limiter,
		retrier:   cfg.Retrier,
		publisher: cfg.Publisher,
		transcpt:  cfg.Transcript,
		history:   cfg.History,
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// validate enforces per-strategy construction invariants
func (p *Process) validate() error {
	for _, t := range p.tasks {
		for _, dep := range t.Context {
			if _, ok := p.byName[dep]; !ok {
				return fmt.Errorf("task %q depends on %q: %w", t.Name, dep, ErrUnknownTask)
			}
		}
		for _, next := range t.NextTasks {
			if _, ok := p.byName[next]; !ok {
				return fmt.Errorf("task %q points to %q: %w", t.Name, next, ErrUnknownTask)
			}
		}
		for label, targets := range t.Condition {
			for _, next := range targets {
				if _, ok := p.byName[next]; !ok {
					return fmt.Errorf("task %q routes label %q to %q: %w", t.Name, label, next, ErrUnknownTask)
				}
			}
		}

		switch t.Type {
		case model.TaskTypeDecision, model.TaskTypeLoop:
			if len(t.Condition) == 0 {
				return fmt.Errorf("task %q: %w", t.Name, ErrConditionRequired)
			}
		}

		if t.Type == model.TaskTypeLoop && !t.Rerun {
			for _, targets := range t.Condition {
				for _, next := range targets {
					if next == t.Name {
						return fmt.Errorf("loop task %q: %w", t.Name, ErrRerunRequired)
					}
				}
			}
		}
	}

	switch p.strategy {
	case StrategySequential, StrategyHierarchical:
		for _, t := range p.tasks {
			if t.Type != model.TaskTypeStandard {
				return fmt.Errorf("task %q has type %s: %w", t.Name, t.Type, ErrConditionInvalid)
			}
		}
		if p.strategy == StrategyHierarchical && p.manager == nil {
			return ErrManagerRequired
		}
	case StrategyWorkflow:
		hasStart := false
		for _, t := range p.tasks {
			if t.IsStart {
				hasStart = true
				break
			}
		}
		if !hasStart {
			return ErrNoStartTask
		}
		if err := p.checkReachability(); err != nil {
			return err
		}
		if err := p.checkCycles(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown strategy %q", p.strategy)
	}
	return nil
}

// checkReachability ensures every workflow task can be scheduled: tasks
// are reached from start tasks through next_tasks and condition edges.
// A task connected only by dependency edges would otherwise wait forever.
func (p *Process) checkReachability() error {
	reached := make(map[string]bool, len(p.tasks))
	var walk func(name string)
	walk = func(name string) {
		if reached[name] {
			return
		}
		reached[name] = true
		t := p.byName[name]
		for _, next := range t.NextTasks {
			walk(next)
		}
		for _, targets := range t.Condition {
			for _, next := range targets {
				walk(next)
			}
		}
	}
	for _, t := range p.tasks {
		if t.IsStart {
			walk(t.Name)
		}
	}
	for _, t := range p.tasks {
		if !reached[t.Name] {
			return fmt.Errorf("task %q: %w", t.Name, ErrUnreachableTask)
		}
	}
	return nil
}

// checkCycles rejects cycles in the static edges of the workflow graph:
// next_tasks successor edges plus dependency edges (a task's context
// entries point upstream, so they contribute reversed edges). Condition
// map edges are dynamic routing decisions and may revisit earlier tasks
// at run time; those re-entries are bounded by per-task iteration
// counters instead.
func (p *Process) checkCycles() error {
	succ := make(map[string][]string, len(p.tasks))
	for _, t := range p.tasks {
		succ[t.Name] = append(succ[t.Name], t.NextTasks...)
		for _, dep := range t.Context {
			succ[dep] = append(succ[dep], t.Name)
		}
	}

	const (
		inPath = 1
		done   = 2
	)
	state := make(map[string]int, len(p.tasks))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case inPath:
			return fmt.Errorf("through task %q: %w", name, ErrCycle)
		case done:
			return nil
		}
		state[name] = inPath
		for _, next := range succ[name] {
			if err := visit(next); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}

	for _, t := range p.tasks {
		if err := visit(t.Name); err != nil {
			return err
		}
	}
	return nil
}

// Run drives the process to completion. The returned result always
// carries the per-task result map and overall status; fatal run errors
// (routing misses, exceeded loop bounds, cancellation, on_error=stop)
// are also returned as the error value.
func (p *Process) Run(ctx context.Context) (*Result, error) {
	runID := uuid.New().String()
	rc := newRunContext(runID, p.byName, p.history, p.transcpt, p.publisher, p.logger)

	p.logger.Info("Run starting",
		zap.String("run_id", runID),
		zap.String("strategy", string(p.strategy)),
		zap.Int("tasks", len(p.tasks)))

	var err error
	switch p.strategy {
	case StrategySequential:
		err = p.runSequential(ctx, rc)
	case StrategyHierarchical:
		err = p.runHierarchical(ctx, rc)
	case StrategyWorkflow:
		err = p.runWorkflow(ctx, rc)
	}

	res := &Result{
		RunID:      runID,
		Results:    rc.Results(),
		Transcript: rc.Transcript(),
	}

	switch {
	case errors.Is(err, ErrRunCancelled) || errors.Is(err, context.Canceled):
		res.Status = RunStatusCancelled
		res.Error = ErrRunCancelled.Error()
	case err != nil:
		res.Status = RunStatusFailed
		res.Error = err.Error()
		var stop *StopError
		if errors.As(err, &stop) {
			res.StoppedAt = stop.Task
		}
	default:
		res.Status = RunStatusCompleted
		for _, t := range p.tasks {
			if t.Status == model.TaskStatusFailed {
				res.Status = RunStatusFailed
				break
			}
		}
	}

	p.logger.Info("Run finished",
		zap.String("run_id", runID),
		zap.String("status", string(res.Status)))
	return res, err
}

// executeOnce performs a single remote call for a task, passing it
// through the rate limiter and retry controller when configured.
func (p *Process) executeOnce(ctx context.Context, rc *RunContext, task *model.Task) (model.AgentOutput, error) {
	input := model.AgentInput{
		TaskName:       task.Name,
		Description:    task.Description,
		ExpectedOutput: task.ExpectedOutput,
		Context:        rc.contextFor(task),
		State:          rc.State,
	}

	if p.limiter != nil {
		var prompt strings.Builder
		prompt.WriteString(task.Description)
		for _, v := range input.Context {
			prompt.WriteString(v)
		}
		if err := p.limiter.Acquire(ctx, ratelimit.EstimateTokens(prompt.String())); err != nil {
			return model.AgentOutput{}, err
		}
	}

	var out model.AgentOutput
	call := func(ctx context.Context) error {
		var err error
		out, err = task.Agent.Execute(ctx, input)
		return err
	}

	var err error
	if p.retrier != nil {
		err = p.retrier.Do(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if ctx.Err() != nil {
			return model.AgentOutput{}, fmt.Errorf("%w: %v", ErrRunCancelled, err)
		}
		return model.AgentOutput{}, err
	}
	return out, nil
}

// sleepRetryDelay waits the task-level retry delay between attempts.
// This is distinct from rate-limit backoff, which lives in the retry
// controller.
func sleepRetryDelay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
