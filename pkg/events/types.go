// Package events broadcasts evaluation results to listeners subscribed per process.
package events

import (
	"time"

	"github.com/morezero/message-relay/pkg/relay"
)

// EvaluationEvent is emitted when a dispatch to a process produced messages.
type EvaluationEvent struct {
	ProcessID string          `json:"processId"`
	MessageID string          `json:"messageId"`
	LogID     string          `json:"logId"`
	Messages  []relay.Message `json:"messages"`
	Timestamp string          `json:"timestamp"`
}

// NewEvaluationEvent builds the event for a finished dispatch. It returns nil when there is
// nothing to broadcast: ledger writes, failed dispatches and empty results.
func NewEvaluationEvent(dc *relay.DispatchContext, now time.Time) *EvaluationEvent {
	if dc == nil || dc.Stage != relay.StageEnd || dc.ArweaveTx || dc.Tx == nil || len(dc.Result) == 0 {
		return nil
	}
	return &EvaluationEvent{
		ProcessID: dc.Tx.ProcessID,
		MessageID: dc.Tx.ID,
		LogID:     dc.LogID,
		Messages:  dc.Result,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
