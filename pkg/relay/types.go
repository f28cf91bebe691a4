// Package relay advances outbound messages through the dispatch stages: build, write, and
// for process targets, node selection and result retrieval.
package relay

import (
	"context"
	"time"
)

// Stage is a position in the dispatch pipeline.
type Stage string

const (
	StageStart        Stage = "start"
	StageBuildTx      Stage = "build-tx"
	StageWriteMessage Stage = "write-message"
	StageGetCUAddress Stage = "get-cu-address"
	StagePullResult   Stage = "pull-result"
	StageEnd          Stage = "end"
)

// stageOrder ranks stages so transitions can only move forward.
var stageOrder = map[Stage]int{
	StageStart:        0,
	StageBuildTx:      1,
	StageWriteMessage: 2,
	StageGetCUAddress: 3,
	StagePullResult:   4,
	StageEnd:          5,
}

// Tag is a name/value pair carried on a message.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message is an outbound message. The relay only interprets Target.
type Message struct {
	ID     string `json:"id,omitempty"`
	Target string `json:"target"`
	Anchor string `json:"anchor,omitempty"`
	Tags   []Tag  `json:"tags,omitempty"`
	Data   string `json:"data,omitempty"`
}

// Tx is the built, signed transaction produced by build-tx.
type Tx struct {
	ID     string `json:"id"`
	Target string `json:"target"`
	// Data is the signed, serialized item submitted to a transport.
	Data []byte `json:"-"`
	// ProcessID is set when the target is a process.
	ProcessID string `json:"processId,omitempty"`
	// SchedulerURL is where a process-bound tx is written; empty means the ledger.
	SchedulerURL string `json:"schedulerUrl,omitempty"`
	// TargetIsWallet is the classification build-tx used.
	TargetIsWallet bool `json:"targetIsWallet"`
}

// Transition is one logged stage change.
type Transition struct {
	From Stage     `json:"from"`
	To   Stage     `json:"to"`
	At   time.Time `json:"at"`
}

// DispatchContext is created per inbound message and advanced by each stage.
type DispatchContext struct {
	LogID     string    `json:"logId"`
	Stage     Stage     `json:"stage"`
	Message   Message   `json:"message"`
	Target    string    `json:"target,omitempty"`
	Tx        *Tx       `json:"tx,omitempty"`
	ArweaveTx bool      `json:"arweaveTx"`
	CUAddress string    `json:"cuAddress,omitempty"`
	Result    []Message `json:"result,omitempty"`
	// Transitions records every stage change in order.
	Transitions []Transition `json:"transitions,omitempty"`
}

// NewDispatchContext starts a context at StageStart.
func NewDispatchContext(logID string, msg Message) *DispatchContext {
	return &DispatchContext{LogID: logID, Stage: StageStart, Message: msg}
}

// BuildInput is what the builder signs.
type BuildInput struct {
	LogID  string
	Target string
	Anchor string
	Tags   []Tag
	Data   string
}

// WriteResult reports which transport accepted a tx.
type WriteResult struct {
	ArweaveTx bool   `json:"arweaveTx"`
	ID        string `json:"id,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// EvaluationResult is what an evaluation node returns for one message.
type EvaluationResult struct {
	Messages []Message `json:"Messages"`
	Output   any       `json:"Output,omitempty"`
	Error    string    `json:"Error,omitempty"`
}

// TxBuilder builds and signs outbound transactions.
type TxBuilder interface {
	BuildAndSign(ctx context.Context, in BuildInput) (*Tx, error)
}

// SchedulerLocator finds the scheduler responsible for a process.
type SchedulerLocator interface {
	LocateScheduler(ctx context.Context, processID string) (string, error)
}

// MessageWriter submits a tx to a process scheduler or directly to the ledger.
type MessageWriter interface {
	WriteDataItem(ctx context.Context, tx *Tx) (*WriteResult, error)
	WriteDataItemArweave(ctx context.Context, tx *Tx) (*WriteResult, error)
}

// NodeSelector resolves the evaluation node for a process.
type NodeSelector interface {
	SelectNode(ctx context.Context, processID string) (string, error)
}

// ResultFetcher triggers evaluation of tx and returns the resulting messages.
type ResultFetcher interface {
	FetchResult(ctx context.Context, cuAddress string, tx *Tx) (*EvaluationResult, error)
}

// WalletClassifier reports whether an id is a wallet. It never fails.
type WalletClassifier interface {
	IsWallet(ctx context.Context, id, logID string) bool
}
