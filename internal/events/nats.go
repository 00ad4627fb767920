package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/vkuzn/agentflow/internal/model"
)

const (
	runStreamName     = "RUNS"
	runStreamSubjects = "run.>"
)

// NATSPublisher publishes task transitions to a JetStream stream, one
// subject per run/task pair
type NATSPublisher struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewNATSPublisher creates a publisher and ensures the run stream exists
func NewNATSPublisher(js nats.JetStreamContext, logger *zap.Logger) (*NATSPublisher, error) {
	// Check if stream exists
	_, err := js.StreamInfo(runStreamName)
	if err != nil {
		if err != nats.ErrStreamNotFound {
			return nil, fmt.Errorf("failed to get stream info: %w", err)
		}

		_, err = js.AddStream(&nats.StreamConfig{
			Name:     runStreamName,
			Subjects: []string{runStreamSubjects},
			Storage:  nats.FileStorage,
			MaxAge:   24 * time.Hour,
			MaxMsgs:  -1,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream %s: %w", runStreamName, err)
		}
		logger.Info("Created run stream", zap.String("name", runStreamName))
	}

	return &NATSPublisher{
		logger: logger.Named("events"),
		js:     js,
	}, nil
}

// PublishTransition implements Publisher
func (p *NATSPublisher) PublishTransition(ctx context.Context, rec *model.Transition) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal transition: %w", err)
	}

	subject := fmt.Sprintf("run.%s.task.%s", rec.RunID, rec.Task)
	if _, err := p.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish transition: %w", err)
	}

	p.logger.Debug("Transition published",
		zap.String("subject", subject),
		zap.String("to", string(rec.To)))
	return nil
}
