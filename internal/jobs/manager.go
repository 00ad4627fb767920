// Package jobs runs submitted callables on a bounded worker pool and
// tracks their lifecycle. This is the one true multi-threaded boundary
// of the engine: runs handed to the manager execute on dedicated worker
// goroutines while the job table stays behind a single mutex.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vkuzn/agentflow/internal/model"
)

var (
	// ErrJobNotFound is returned when a job ID is unknown
	ErrJobNotFound = errors.New("job not found")

	// ErrManagerClosed is returned when submitting after shutdown
	ErrManagerClosed = errors.New("job manager is shut down")

	// ErrResultTimeout is returned when a result wait times out
	ErrResultTimeout = errors.New("timed out waiting for job result")
)

// Callable is the unit of work a job executes
type Callable func(ctx context.Context) (interface{}, error)

// job is the manager's internal record for one submission
type job struct {
	info      model.JobInfo
	fn        Callable
	result    interface{}
	err       error
	done      chan struct{}
	cancelled bool
}

// Config configures a Manager
type Config struct {
	// Workers is the pool size. Defaults to 4.
	Workers int

	// QueueSize bounds pending submissions. Defaults to 64.
	QueueSize int

	// Gate, when set, delays dispatch while system resources are over
	// their limits.
	Gate *ResourceGate
}

// Manager accepts callables and runs them in the background
type Manager struct {
	logger *zap.Logger
	gate   *ResourceGate

	mu     sync.Mutex
	jobs   map[string]*job
	closed bool

	queue  chan *job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a manager and starts its worker pool
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger: logger.Named("jobs"),
		gate:   cfg.Gate,
		jobs:   make(map[string]*job),
		queue:  make(chan *job, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}

	m.logger.Info("Job manager started", zap.Int("workers", workers))
	return m
}

// StartJob submits a callable and returns its job ID immediately. The
// job is Pending until a worker picks it up.
func (m *Manager) StartJob(fn Callable) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrManagerClosed
	}

	j := &job{
		info: model.JobInfo{
			ID:        uuid.New().String(),
			Status:    model.JobStatusPending,
			CreatedAt: time.Now(),
		},
		fn:   fn,
		done: make(chan struct{}),
	}
	m.jobs[j.info.ID] = j
	m.mu.Unlock()

	select {
	case m.queue <- j:
	default:
		// Queue full: run the enqueue on a goroutine rather than
		// block the submitter.
		go func() {
			select {
			case m.queue <- j:
			case <-m.ctx.Done():
			}
		}()
	}

	m.logger.Debug("Job submitted", zap.String("job_id", j.info.ID))
	return j.info.ID, nil
}

// worker pulls jobs off the queue and executes them
func (m *Manager) worker(id int) {
	defer m.wg.Done()

	for {
		var j *job
		select {
		case <-m.ctx.Done():
			m.logger.Debug("Worker exiting", zap.Int("worker", id))
			return
		case j = <-m.queue:
		}

		m.mu.Lock()
		if j.cancelled {
			m.mu.Unlock()
			continue
		}
		now := time.Now()
		j.info.Status = model.JobStatusRunning
		j.info.StartedAt = &now
		m.mu.Unlock()

		if m.gate != nil {
			if err := m.gate.Wait(m.ctx); err != nil {
				m.finish(j, nil, err)
				continue
			}
		}

		result, err := j.fn(m.ctx)
		m.finish(j, result, err)
	}
}

// finish records a job's terminal state
func (m *Manager) finish(j *job, result interface{}, err error) {
	m.mu.Lock()
	now := time.Now()
	j.info.CompletedAt = &now
	if err != nil {
		j.info.Status = model.JobStatusFailed
		j.info.Error = err.Error()
		j.err = err
	} else {
		j.info.Status = model.JobStatusCompleted
		j.result = result
	}
	m.mu.Unlock()
	close(j.done)

	m.logger.Info("Job finished",
		zap.String("job_id", j.info.ID),
		zap.String("status", string(j.info.Status)),
		zap.Duration("duration", j.info.Duration()))
}

// GetStatus returns a job's current status without blocking
func (m *Manager) GetStatus(jobID string) (model.JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return j.info.Status, nil
}

// GetJobInfo returns a snapshot of a job's state without blocking
func (m *Manager) GetJobInfo(jobID string) (model.JobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return model.JobInfo{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return j.info, nil
}

// GetResult blocks until the job resolves, or until timeout when one is
// given (zero means wait forever). A job that failed re-raises its error
// here.
func (m *Manager) GetResult(jobID string, timeout time.Duration) (interface{}, error) {
	m.mu.Lock()
	j, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-j.done:
		case <-timer.C:
			return nil, fmt.Errorf("%w: %s", ErrResultTimeout, jobID)
		}
	} else {
		<-j.done
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if j.err != nil {
		return nil, j.err
	}
	return j.result, nil
}

// CancelJob attempts cooperative cancellation. It succeeds only when the
// job has not started; cancelling a running job returns false.
func (m *Manager) CancelJob(jobID string) bool {
	m.mu.Lock()
	j, ok := m.jobs[jobID]
	if !ok || j.info.Status != model.JobStatusPending {
		m.mu.Unlock()
		return false
	}
	j.cancelled = true
	now := time.Now()
	j.info.Status = model.JobStatusCancelled
	j.info.CompletedAt = &now
	m.mu.Unlock()
	close(j.done)

	m.logger.Info("Job cancelled", zap.String("job_id", jobID))
	return true
}

// ListJobs returns snapshots of all jobs, filtered by status when one is
// given
func (m *Manager) ListJobs(status model.JobStatus) map[string]model.JobInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.JobInfo)
	for id, j := range m.jobs {
		if status != "" && j.info.Status != status {
			continue
		}
		out[id] = j.info
	}
	return out
}

// CleanupCompleted removes terminal jobs whose completion is older than
// maxAge and returns how many were removed. Callers invoke this
// periodically to bound memory growth.
func (m *Manager) CleanupCompleted(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, j := range m.jobs {
		if !j.info.Status.Terminal() {
			continue
		}
		if j.info.CompletedAt != nil && j.info.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("Cleaned up terminal jobs", zap.Int("removed", removed))
	}
	return removed
}

// Shutdown stops accepting work. With wait set it blocks until every
// already-submitted job resolves; otherwise running jobs are signalled
// to cancel through their context.
func (m *Manager) Shutdown(wait bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	pending := make([]chan struct{}, 0, len(m.jobs))
	for _, j := range m.jobs {
		if !j.info.Status.Terminal() {
			pending = append(pending, j.done)
		}
	}
	m.mu.Unlock()

	if wait {
		for _, done := range pending {
			<-done
		}
	}
	m.cancel()
	m.wg.Wait()
	m.logger.Info("Job manager shut down", zap.Bool("waited", wait))
}
