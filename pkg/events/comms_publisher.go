package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/message-relay/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// EvaluationSubject overrides the base evaluation subject (e.g. from EVALUATION_SUBJECT).
	EvaluationSubject string
}

// CommsPublisher publishes evaluation events to COMMS subjects.
type CommsPublisher struct {
	nc          *comms.Conn
	baseSubject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	base := commsutil.SubjectEvaluations
	if opts != nil && opts.EvaluationSubject != "" {
		base = opts.EvaluationSubject
	}
	return &CommsPublisher{nc: nc, baseSubject: base}
}

// PublishEvaluation publishes to the per-process subject and then the global subject.
// Events without messages are dropped.
func (p *CommsPublisher) PublishEvaluation(_ context.Context, event *EvaluationEvent) error {
	if event == nil || len(event.Messages) == 0 {
		return nil
	}
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	processSubject := commsutil.BuildEvaluationSubject(p.baseSubject, event.ProcessID)
	if err := p.nc.Publish(processSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, processSubject, err))
		return err
	}

	if err := p.nc.Publish(p.baseSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.baseSubject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published %d messages for process %s", commsPublisherLogPrefix, len(event.Messages), event.ProcessID),
		"logId", event.LogID)
	return nil
}

// SubscribeEvaluations delivers events for processID to handler. An empty processID
// subscribes to every process through the global subject.
func SubscribeEvaluations(nc *comms.Conn, baseSubject, processID string, handler func(*EvaluationEvent)) (*comms.Subscription, error) {
	if baseSubject == "" {
		baseSubject = commsutil.SubjectEvaluations
	}
	subject := baseSubject
	if processID != "" {
		subject = commsutil.BuildEvaluationSubject(baseSubject, processID)
	}
	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		var event EvaluationEvent
		if err := commsutil.DecodePayload(msg.Data, &event); err != nil {
			slog.Warn(fmt.Sprintf("%s - dropping malformed event on %s: %v", commsPublisherLogPrefix, msg.Subject, err))
			return
		}
		handler(&event)
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", commsPublisherLogPrefix, subject, err)
	}
	return sub, nil
}
