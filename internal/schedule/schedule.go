// Package schedule submits recurring runs to the background job manager
// on cron expressions.
package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vkuzn/agentflow/internal/jobs"
)

// Entry describes one recurring run registration
type Entry struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Expression  string     `json:"expression"`
	LastRunTime *time.Time `json:"last_run_time,omitempty"`
	NextRunTime *time.Time `json:"next_run_time,omitempty"`
	LastJobID   string     `json:"last_job_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Runner ties a cron schedule to the job manager
type Runner struct {
	logger  *zap.Logger
	manager *jobs.Manager
	cron    *cron.Cron

	mu       sync.Mutex
	entries  map[string]*Entry
	entryIDs map[string]cron.EntryID
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

var specParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NewRunner creates a schedule runner backed by manager
func NewRunner(manager *jobs.Manager, logger *zap.Logger) *Runner {
	cl := &cronLogger{logger: logger.Named("cron")}
	return &Runner{
		logger:  logger.Named("schedule"),
		manager: manager,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cl)),
		),
		entries:  make(map[string]*Entry),
		entryIDs: make(map[string]cron.EntryID),
	}
}

// Start begins firing schedules
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for in-flight ticks
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// Add registers a recurring run. On every tick the callable is
// submitted to the job manager as a fresh background job.
func (r *Runner) Add(name, expression string, fn jobs.Callable) (*Entry, error) {
	spec, err := specParser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	entry := &Entry{
		ID:         uuid.New().String(),
		Name:       name,
		Expression: expression,
		CreatedAt:  time.Now(),
	}

	entryID, err := r.cron.AddFunc(expression, func() {
		now := time.Now()
		jobID, err := r.manager.StartJob(fn)
		if err != nil {
			r.logger.Error("Failed to submit scheduled run",
				zap.String("schedule", entry.ID),
				zap.String("name", name),
				zap.Error(err))
			return
		}

		next := spec.Next(now)
		r.mu.Lock()
		entry.LastRunTime = &now
		entry.NextRunTime = &next
		entry.LastJobID = jobID
		r.mu.Unlock()

		r.logger.Info("Scheduled run submitted",
			zap.String("schedule", entry.ID),
			zap.String("name", name),
			zap.String("job_id", jobID),
			zap.Time("next_run", next))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add cron job: %w", err)
	}

	next := spec.Next(time.Now())
	entry.NextRunTime = &next

	r.mu.Lock()
	r.entries[entry.ID] = entry
	r.entryIDs[entry.ID] = entryID
	r.mu.Unlock()

	r.logger.Info("Added schedule",
		zap.String("id", entry.ID),
		zap.String("name", name),
		zap.String("expression", expression),
		zap.Time("next_run", next))
	return entry, nil
}

// Remove unregisters a schedule
func (r *Runner) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entryID, ok := r.entryIDs[id]
	if !ok {
		return fmt.Errorf("schedule not found: %s", id)
	}
	r.cron.Remove(entryID)
	delete(r.entryIDs, id)
	delete(r.entries, id)

	r.logger.Info("Removed schedule", zap.String("id", id))
	return nil
}

// Get returns a snapshot of a schedule by ID
func (r *Runner) Get(id string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("schedule not found: %s", id)
	}
	snapshot := *entry
	return &snapshot, nil
}

// List returns snapshots of all registered schedules
func (r *Runner) List() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		snapshot := *e
		out = append(out, &snapshot)
	}
	return out
}
