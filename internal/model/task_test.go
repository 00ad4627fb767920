package model

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewTaskDefaults(t *testing.T) {
	task := NewTask("summarize", "summarize the findings", "a short summary", nil)

	assert.Equal(t, TaskTypeStandard, task.Type)
	assert.Equal(t, TaskStatusPending, task.Status)
	assert.True(t, task.QualityCheck)
	assert.Equal(t, DefaultMaxRetries, task.MaxRetries)
	assert.Equal(t, OnErrorStop, task.OnError)
	assert.False(t, task.AsyncExecution)
	assert.False(t, task.SkipOnFailure)
	assert.False(t, task.Rerun)
}

func TestTaskStatusTerminal(t *testing.T) {
	terminal := []TaskStatus{TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped, TaskStatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), string(s))
	}
	assert.False(t, TaskStatusPending.Terminal())
	assert.False(t, TaskStatusRunning.Terminal())
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusCancelled.Terminal())
}

func TestJobInfoDuration(t *testing.T) {
	assert.Zero(t, JobInfo{}.Duration())

	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	completed := started.Add(90 * time.Second)
	info := JobInfo{StartedAt: &started, CompletedAt: &completed}
	assert.Equal(t, 90*time.Second, info.Duration())

	// Still running: duration keeps growing.
	running := JobInfo{StartedAt: &started}
	assert.Greater(t, running.Duration(), time.Duration(0))
}

func TestStateTypedGetters(t *testing.T) {
	s := NewState()
	s.Set("name", "analysis")
	s.Set("count", 3)

	assert.Equal(t, "analysis", s.GetString("name"))
	assert.Equal(t, 3, s.GetInt("count"))

	// Missing or mistyped keys fall back to zero values.
	assert.Equal(t, "", s.GetString("missing"))
	assert.Equal(t, 0, s.GetInt("name"))

	s.Delete("count")
	_, ok := s.Get("count")
	assert.False(t, ok)

	snap := s.Snapshot()
	assert.Equal(t, map[string]interface{}{"name": "analysis"}, snap)

	// Snapshots are copies, not views.
	snap["name"] = "mutated"
	assert.Equal(t, "analysis", s.GetString("name"))
}

func TestStateConcurrentWriters(t *testing.T) {
	s := NewState()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.Set("shared", n)
			_ = s.GetInt("shared")
		}(i)
	}
	wg.Wait()

	// Last write wins; the surviving value is one of the written ones.
	v := s.GetInt("shared")
	assert.GreaterOrEqual(t, v, 0)
	assert.Less(t, v, 16)
}
