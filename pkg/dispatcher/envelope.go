// Package dispatcher routes incoming COMMS relay requests to the dispatch pipeline.
package dispatcher

import (
	"encoding/json"

	"github.com/morezero/message-relay/pkg/relay"
)

// RelayRequest is the JSON envelope for incoming COMMS relay requests.
type RelayRequest struct {
	ID     string             `json:"id"`
	Method string             `json:"method"`
	Params json.RawMessage    `json:"params"`
	Ctx    *InvocationContext `json:"ctx,omitempty"`
}

// RelayResponse is the JSON envelope for COMMS relay responses.
type RelayResponse struct {
	ID     string       `json:"id"`
	Ok     bool         `json:"ok"`
	Result interface{}  `json:"result,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Retryable bool        `json:"retryable"`
}

// InvocationContext holds context from the caller.
type InvocationContext struct {
	RequestID     string `json:"requestId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	TimeoutMs     int    `json:"timeoutMs,omitempty"`
}

// DispatchParams are the params of a "dispatch" request.
type DispatchParams struct {
	// LogID correlates every log line of the dispatch. Generated when empty.
	LogID   string        `json:"logId,omitempty"`
	Message relay.Message `json:"message"`
}

// DispatchResult is the result of a successful dispatch.
type DispatchResult struct {
	LogID       string             `json:"logId"`
	Stage       relay.Stage        `json:"stage"`
	Target      string             `json:"target"`
	TxID        string             `json:"txId"`
	ArweaveTx   bool               `json:"arweaveTx"`
	CUAddress   string             `json:"cuAddress,omitempty"`
	Messages    []relay.Message    `json:"messages"`
	Transitions []relay.Transition `json:"transitions"`
}

// ClassifyParams are the params of a "classify" request.
type ClassifyParams struct {
	ID string `json:"id"`
}

// ClassifyResult reports a classification.
type ClassifyResult struct {
	ID       string `json:"id"`
	IsWallet bool   `json:"isWallet"`
}

// HealthOutput is the result of a "health" request.
type HealthOutput struct {
	Status    string          `json:"status"`
	Checks    map[string]bool `json:"checks"`
	Timestamp string          `json:"timestamp"`
}
