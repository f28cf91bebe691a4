package events

import "context"

// EventPublisher publishes evaluation events.
type EventPublisher interface {
	PublishEvaluation(ctx context.Context, event *EvaluationEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (for in-process usage without events).
type NoOpPublisher struct{}

// PublishEvaluation is a no-op.
func (p *NoOpPublisher) PublishEvaluation(_ context.Context, _ *EvaluationEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *EvaluationEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *EvaluationEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishEvaluation calls the callback.
func (p *CallbackPublisher) PublishEvaluation(ctx context.Context, event *EvaluationEvent) error {
	return p.callback(ctx, event)
}
