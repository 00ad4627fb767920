package model

import "context"

// AgentInput is the context handed to an agent for one task execution
type AgentInput struct {
	TaskName       string
	Description    string
	ExpectedOutput string

	// Results of upstream tasks, keyed by task name.
	Context map[string]string

	// Shared run state. Writes are visible to tasks scheduled after the
	// write; concurrent siblings writing the same key race (last write
	// wins).
	State *State
}

// AgentOutput is what a remote call produced for one task
type AgentOutput struct {
	// Raw is the full text returned by the agent.
	Raw string

	// Label is the outcome label used for decision/loop routing. When
	// empty, the trimmed raw output is used instead.
	Label string
}

// Agent executes a task against a remote backend. Agents are stateless
// executor references and must not mutate task state.
type Agent interface {
	Execute(ctx context.Context, input AgentInput) (AgentOutput, error)
}

// AgentFunc adapts a function to the Agent interface
type AgentFunc func(ctx context.Context, input AgentInput) (AgentOutput, error)

func (f AgentFunc) Execute(ctx context.Context, input AgentInput) (AgentOutput, error) {
	return f(ctx, input)
}

// Verdict is a manager's judgement of a task's output
type Verdict struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Manager validates produced output against a task's declared expected
// output. It is itself a remote call and can reject output even when the
// underlying call succeeded.
type Manager interface {
	Review(ctx context.Context, expectedOutput, produced string) (Verdict, error)
}

// ManagerFunc adapts a function to the Manager interface
type ManagerFunc func(ctx context.Context, expectedOutput, produced string) (Verdict, error)

func (f ManagerFunc) Review(ctx context.Context, expectedOutput, produced string) (Verdict, error) {
	return f(ctx, expectedOutput, produced)
}
