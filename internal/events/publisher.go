// Package events publishes task lifecycle transitions to external
// observers. The engine treats the publisher as best-effort: publish
// failures are logged by the caller and never fail a run.
package events

import (
	"context"

	"github.com/vkuzn/agentflow/internal/model"
)

// Publisher receives every task state transition of a run
type Publisher interface {
	PublishTransition(ctx context.Context, rec *model.Transition) error
}

// NopPublisher discards all transitions
type NopPublisher struct{}

func (NopPublisher) PublishTransition(context.Context, *model.Transition) error { return nil }
