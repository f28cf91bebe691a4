package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/message-relay/pkg/metrics"
)

const logPrefix = "relay:pipeline"

// Deps are the collaborators a Pipeline delegates to. All but Timer and Logger are required.
type Deps struct {
	Classifier WalletClassifier
	Locator    SchedulerLocator
	Builder    TxBuilder
	Writer     MessageWriter
	Selector   NodeSelector
	Fetcher    ResultFetcher
	// Timer times every upstream call. Nil records nothing.
	Timer  metrics.Timer
	Logger *slog.Logger
}

type fetchInput struct {
	cuAddress string
	tx        *Tx
}

// Pipeline runs dispatches. It holds no per-dispatch state and is safe for concurrent use.
type Pipeline struct {
	classifier   WalletClassifier
	locate       metrics.Operation[string, string]
	build        metrics.Operation[BuildInput, *Tx]
	writeSU      metrics.Operation[*Tx, *WriteResult]
	writeArweave metrics.Operation[*Tx, *WriteResult]
	selectNode   metrics.Operation[string, string]
	fetch        metrics.Operation[fetchInput, *EvaluationResult]
	logger       *slog.Logger
	now          func() time.Time
}

// NewPipeline wires collaborators, wrapping each with timing instrumentation.
func NewPipeline(deps Deps) (*Pipeline, error) {
	required := []struct {
		field   string
		missing bool
	}{
		{"Classifier", deps.Classifier == nil},
		{"Locator", deps.Locator == nil},
		{"Builder", deps.Builder == nil},
		{"Writer", deps.Writer == nil},
		{"Selector", deps.Selector == nil},
		{"Fetcher", deps.Fetcher == nil},
	}
	for _, r := range required {
		if r.missing {
			return nil, &metrics.ConfigError{Field: r.field, Err: errors.New("collaborator is required")}
		}
	}
	timer := deps.Timer
	if timer == nil {
		timer = metrics.NopTimer{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{classifier: deps.Classifier, logger: logger, now: time.Now}
	var err error
	if p.locate, err = timed[string, string](timer, logger, "locateProcess", deps.Locator.LocateScheduler, processTrace); err != nil {
		return nil, err
	}
	if p.build, err = timed[BuildInput, *Tx](timer, logger, "buildAndSign", deps.Builder.BuildAndSign, func(in BuildInput) metrics.Traces {
		return metrics.Traces{"process_id": in.Target}
	}); err != nil {
		return nil, err
	}
	if p.writeSU, err = timed[*Tx, *WriteResult](timer, logger, "writeDataItem", deps.Writer.WriteDataItem, txTrace); err != nil {
		return nil, err
	}
	if p.writeArweave, err = timed[*Tx, *WriteResult](timer, logger, "writeDataItemArweave", deps.Writer.WriteDataItemArweave, txTrace); err != nil {
		return nil, err
	}
	if p.selectNode, err = timed[string, string](timer, logger, "selectNode", deps.Selector.SelectNode, processTrace); err != nil {
		return nil, err
	}
	fetch := func(ctx context.Context, in fetchInput) (*EvaluationResult, error) {
		return deps.Fetcher.FetchResult(ctx, in.cuAddress, in.tx)
	}
	if p.fetch, err = timed[fetchInput, *EvaluationResult](timer, logger, "fetchResult", fetch, func(in fetchInput) metrics.Traces {
		return metrics.Traces{"process_id": in.tx.ProcessID}
	}); err != nil {
		return nil, err
	}
	return p, nil
}

// Dispatch advances dc from start to end. Any stage failure stops the pipeline and is
// returned as a *DispatchError; there are no retries at this level.
func (p *Pipeline) Dispatch(ctx context.Context, dc *DispatchContext) (*DispatchContext, error) {
	if dc == nil {
		return nil, &DispatchError{Stage: StageStart, Kind: ErrInvalidContext, Cause: errors.New("nil context")}
	}
	if dc.Stage == "" {
		dc.Stage = StageStart
	}
	if dc.Stage != StageStart {
		return dc, stageError(dc, ErrInvalidContext, fmt.Errorf("dispatch must begin at %s, context is at %s", StageStart, dc.Stage))
	}

	p.logger.Info(fmt.Sprintf("%s - === Processing message ===", logPrefix), "logId", dc.LogID)

	if err := p.advance(dc, StageBuildTx); err != nil {
		return dc, err
	}
	if err := p.buildTx(ctx, dc); err != nil {
		return dc, p.fail(dc, err)
	}

	if err := p.advance(dc, StageWriteMessage); err != nil {
		return dc, err
	}
	if err := p.writeMessage(ctx, dc); err != nil {
		return dc, p.fail(dc, err)
	}

	// The branch follows the transport that accepted the write, not the classification.
	if dc.ArweaveTx {
		if err := p.advance(dc, StageEnd); err != nil {
			return dc, err
		}
		p.succeed(dc)
		return dc, nil
	}

	if err := p.advance(dc, StageGetCUAddress); err != nil {
		return dc, err
	}
	if err := p.getCUAddress(ctx, dc); err != nil {
		return dc, p.fail(dc, err)
	}

	if err := p.advance(dc, StagePullResult); err != nil {
		return dc, err
	}
	if err := p.pullResult(ctx, dc); err != nil {
		return dc, p.fail(dc, err)
	}

	if err := p.advance(dc, StageEnd); err != nil {
		return dc, err
	}
	p.succeed(dc)
	return dc, nil
}

func (p *Pipeline) buildTx(ctx context.Context, dc *DispatchContext) error {
	target := dc.Message.Target
	if target == "" {
		return stageError(dc, ErrInvalidContext, errors.New("message has no target"))
	}
	dc.Target = target

	isWallet := p.classifier.IsWallet(ctx, target, dc.LogID)

	schedulerURL := ""
	if !isWallet {
		url, err := p.locate(ctx, target)
		if err != nil {
			return stageError(dc, ErrBuild, fmt.Errorf("locate scheduler for %s: %w", target, err))
		}
		schedulerURL = url
	}

	tx, err := p.build(ctx, BuildInput{
		LogID:  dc.LogID,
		Target: target,
		Anchor: dc.Message.Anchor,
		Tags:   dc.Message.Tags,
		Data:   dc.Message.Data,
	})
	if err != nil {
		return stageError(dc, ErrBuild, err)
	}
	if tx == nil {
		return stageError(dc, ErrBuild, errors.New("builder returned no tx"))
	}
	tx.Target = target
	tx.TargetIsWallet = isWallet
	tx.SchedulerURL = schedulerURL
	if !isWallet {
		tx.ProcessID = target
	}
	dc.Tx = tx
	return nil
}

func (p *Pipeline) writeMessage(ctx context.Context, dc *DispatchContext) error {
	if dc.Tx == nil {
		return stageError(dc, ErrInvalidContext, errors.New("write-message requires tx"))
	}

	var (
		res *WriteResult
		err error
	)
	if dc.Tx.SchedulerURL != "" {
		res, err = p.writeSU(ctx, dc.Tx)
	} else {
		res, err = p.writeArweave(ctx, dc.Tx)
	}
	if err != nil {
		return stageError(dc, ErrWrite, err)
	}
	if res != nil {
		dc.ArweaveTx = res.ArweaveTx
	}

	transport := "su"
	if dc.ArweaveTx {
		transport = "arweave"
	}
	if dc.ArweaveTx != dc.Tx.TargetIsWallet {
		p.logger.Warn(fmt.Sprintf("%s - transport %s disagrees with classification isWallet=%t for %s", logPrefix, transport, dc.Tx.TargetIsWallet, dc.Target),
			"logId", dc.LogID)
	}
	p.logger.Debug(fmt.Sprintf("%s - message written via %s", logPrefix, transport), "logId", dc.LogID, "txId", dc.Tx.ID)
	return nil
}

func (p *Pipeline) getCUAddress(ctx context.Context, dc *DispatchContext) error {
	if dc.Tx == nil || dc.Tx.ProcessID == "" {
		return stageError(dc, ErrInvalidContext, errors.New("get-cu-address requires a process tx"))
	}
	addr, err := p.selectNode(ctx, dc.Tx.ProcessID)
	if err != nil {
		return stageError(dc, ErrAddressResolution, err)
	}
	if addr == "" {
		return stageError(dc, ErrAddressResolution, fmt.Errorf("no evaluation node for %s", dc.Tx.ProcessID))
	}
	dc.CUAddress = addr
	return nil
}

func (p *Pipeline) pullResult(ctx context.Context, dc *DispatchContext) error {
	if dc.CUAddress == "" {
		return stageError(dc, ErrInvalidContext, errors.New("pull-result requires cuAddress"))
	}
	res, err := p.fetch(ctx, fetchInput{cuAddress: dc.CUAddress, tx: dc.Tx})
	if err != nil {
		return stageError(dc, ErrEvaluation, err)
	}
	dc.Result = []Message{}
	if res != nil && res.Messages != nil {
		dc.Result = res.Messages
	}
	return nil
}

// advance moves dc forward one stage and logs the transition.
func (p *Pipeline) advance(dc *DispatchContext, next Stage) error {
	prev := dc.Stage
	if stageOrder[next] <= stageOrder[prev] {
		return stageError(dc, ErrInvalidContext, fmt.Errorf("illegal transition %s -> %s", prev, next))
	}
	dc.Stage = next
	dc.Transitions = append(dc.Transitions, Transition{From: prev, To: next, At: p.now()})
	p.logger.Info(fmt.Sprintf("%s - stage %s -> %s", logPrefix, prev, next), "logId", dc.LogID, "from", prev, "to", next)
	return nil
}

func (p *Pipeline) fail(dc *DispatchContext, err error) error {
	p.logger.Error(fmt.Sprintf("%s - dispatch failed: %v", logPrefix, err), "logId", dc.LogID, "stage", dc.Stage)
	metrics.RecordDispatch(string(dc.Stage), false)
	return err
}

func (p *Pipeline) succeed(dc *DispatchContext) {
	p.logger.Info(fmt.Sprintf("%s - Successfully processed message", logPrefix), "logId", dc.LogID, "arweaveTx", dc.ArweaveTx, "results", len(dc.Result))
	metrics.RecordDispatch(string(dc.Stage), true)
}

func timed[In, Out any](timer metrics.Timer, logger *slog.Logger, operation string, op metrics.Operation[In, Out], traces func(In) metrics.Traces) (metrics.Operation[In, Out], error) {
	decorate, err := metrics.WithTimerMetrics(metrics.Options[In, Out]{
		Timer:           timer,
		StartLabelsFrom: func(In) metrics.Labels { return metrics.Labels{"operation": operation} },
		StopLabelsFrom: func(_ Out, err error) metrics.Labels {
			if err != nil {
				return metrics.Labels{"status": "error"}
			}
			return metrics.Labels{"status": "ok"}
		},
		TracesFrom: traces,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return decorate(op), nil
}

func processTrace(processID string) metrics.Traces {
	return metrics.Traces{"process_id": processID}
}

func txTrace(tx *Tx) metrics.Traces {
	if tx == nil {
		return metrics.Traces{}
	}
	return metrics.Traces{"process_id": tx.ProcessID, "tx_id": tx.ID}
}
