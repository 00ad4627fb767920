package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vkuzn/agentflow/internal/model"
	"github.com/vkuzn/agentflow/internal/testutil"
)

func TestNATSPublisherCreatesStream(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	_, err := NewNATSPublisher(js, zaptest.NewLogger(t))
	require.NoError(t, err)

	info, err := js.StreamInfo("RUNS")
	require.NoError(t, err)
	assert.Equal(t, []string{"run.>"}, info.Config.Subjects)

	// A second publisher reuses the existing stream.
	_, err = NewNATSPublisher(js, zaptest.NewLogger(t))
	require.NoError(t, err)
}

func TestNATSPublisherPublishesTransition(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	p, err := NewNATSPublisher(js, zaptest.NewLogger(t))
	require.NoError(t, err)

	rec := &model.Transition{
		RunID:      "run-42",
		Task:       "summarize",
		From:       model.TaskStatusRunning,
		To:         model.TaskStatusCompleted,
		RecordedAt: time.Now().UTC(),
	}
	require.NoError(t, p.PublishTransition(context.Background(), rec))

	msgs, err := testutil.ConsumeMessages(js, "run.run-42.task.summarize", 2*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var got model.Transition
	require.NoError(t, json.Unmarshal(msgs[0], &got))
	assert.Equal(t, "run-42", got.RunID)
	assert.Equal(t, "summarize", got.Task)
	assert.Equal(t, model.TaskStatusCompleted, got.To)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	err := p.PublishTransition(context.Background(), &model.Transition{Task: "anything"})
	assert.NoError(t, err)
}
