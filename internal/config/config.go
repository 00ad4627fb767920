// Package config loads declarative run files. A run file mirrors the
// engine's construction surface: a process strategy, the task list with
// execution policies, and the rate-limit/retry settings for the run.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/vkuzn/agentflow/internal/model"
)

// TaskSpec is the file form of one task. Policy fields are pointers so
// absent keys fall back to the documented defaults.
type TaskSpec struct {
	Name           string              `mapstructure:"name"`
	Description    string              `mapstructure:"description"`
	ExpectedOutput string              `mapstructure:"expected_output"`
	Agent          string              `mapstructure:"agent"`
	Type           string              `mapstructure:"type"`
	Condition      map[string][]string `mapstructure:"condition"`
	Context        []string            `mapstructure:"context"`
	IsStart        bool                `mapstructure:"is_start"`
	NextTasks      []string            `mapstructure:"next_tasks"`

	AsyncExecution bool    `mapstructure:"async_execution"`
	QualityCheck   *bool   `mapstructure:"quality_check"`
	Rerun          bool    `mapstructure:"rerun"`
	MaxRetries     *int    `mapstructure:"max_retries"`
	OnError        string  `mapstructure:"on_error"`
	SkipOnFailure  bool    `mapstructure:"skip_on_failure"`
	RetryDelay     float64 `mapstructure:"retry_delay"` // seconds
}

// RateLimitSpec configures the run's rate limiter
type RateLimitSpec struct {
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	TokensPerMinute   float64 `mapstructure:"tokens_per_minute"`
	Burst             float64 `mapstructure:"burst"`
}

// RetrySpec configures the run's retry controller
type RetrySpec struct {
	MaxRetries    int     `mapstructure:"max_retries"`
	RetryDelay    float64 `mapstructure:"retry_delay"`     // seconds
	MaxRetryDelay float64 `mapstructure:"max_retry_delay"` // seconds
}

// RunFile is a parsed declarative run definition
type RunFile struct {
	Process   string        `mapstructure:"process"`
	Manager   string        `mapstructure:"manager"`
	History   bool          `mapstructure:"history"`
	RateLimit RateLimitSpec `mapstructure:"rate_limit"`
	Retry     RetrySpec     `mapstructure:"retry"`
	Tasks     []TaskSpec    `mapstructure:"tasks"`
}

// Load reads and parses a run file
func Load(path string) (*RunFile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("process", "sequential")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read run file: %w", err)
	}

	var rf RunFile
	if err := v.Unmarshal(&rf); err != nil {
		return nil, fmt.Errorf("failed to parse run file: %w", err)
	}

	if len(rf.Tasks) == 0 {
		return nil, fmt.Errorf("run file %s defines no tasks", path)
	}
	for i, spec := range rf.Tasks {
		if spec.Name == "" {
			return nil, fmt.Errorf("task %d has no name", i)
		}
		if spec.Agent == "" {
			return nil, fmt.Errorf("task %q has no agent", spec.Name)
		}
	}

	return &rf, nil
}

// BuildTasks converts the file's task specs into engine tasks, binding
// each to its named agent. Defaults are applied exactly as NewTask does.
func (rf *RunFile) BuildTasks(agents map[string]model.Agent) ([]*model.Task, error) {
	tasks := make([]*model.Task, 0, len(rf.Tasks))
	for _, spec := range rf.Tasks {
		agent, ok := agents[spec.Agent]
		if !ok {
			return nil, fmt.Errorf("task %q references unknown agent %q", spec.Name, spec.Agent)
		}

		t := model.NewTask(spec.Name, spec.Description, spec.ExpectedOutput, agent)
		if spec.Type != "" {
			t.Type = model.TaskType(spec.Type)
		}
		switch t.Type {
		case model.TaskTypeStandard, model.TaskTypeDecision, model.TaskTypeLoop:
		default:
			return nil, fmt.Errorf("task %q has unknown type %q", spec.Name, spec.Type)
		}

		t.Condition = spec.Condition
		t.Context = spec.Context
		t.IsStart = spec.IsStart
		t.NextTasks = spec.NextTasks
		t.AsyncExecution = spec.AsyncExecution
		t.Rerun = spec.Rerun
		t.SkipOnFailure = spec.SkipOnFailure
		t.RetryDelay = time.Duration(spec.RetryDelay * float64(time.Second))

		if spec.QualityCheck != nil {
			t.QualityCheck = *spec.QualityCheck
		}
		if spec.MaxRetries != nil {
			t.MaxRetries = *spec.MaxRetries
		}
		if spec.OnError != "" {
			switch model.OnError(spec.OnError) {
			case model.OnErrorStop, model.OnErrorContinue, model.OnErrorRetry:
				t.OnError = model.OnError(spec.OnError)
			default:
				return nil, fmt.Errorf("task %q has unknown on_error %q", spec.Name, spec.OnError)
			}
		}

		tasks = append(tasks, t)
	}
	return tasks, nil
}
