package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/message-relay/pkg/events"
	"github.com/morezero/message-relay/pkg/relay"
)

const logPrefix = "dispatcher:dispatch"

// Pipeline runs a dispatch context to completion.
type Pipeline interface {
	Dispatch(ctx context.Context, dc *relay.DispatchContext) (*relay.DispatchContext, error)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Dispatcher routes COMMS requests to the pipeline and the classifier.
type Dispatcher struct {
	pipeline     Pipeline
	classifier   relay.WalletClassifier
	publisher    events.EventPublisher
	healthChecks map[string]HealthCheck
	logger       *slog.Logger
	now          func() time.Time
}

// NewDispatcherParams holds dependencies for NewDispatcher.
type NewDispatcherParams struct {
	Pipeline   Pipeline
	Classifier relay.WalletClassifier
	// Publisher receives evaluation events. Nil disables broadcasting.
	Publisher    events.EventPublisher
	HealthChecks map[string]HealthCheck
	Logger       *slog.Logger
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(params NewDispatcherParams) *Dispatcher {
	publisher := params.Publisher
	if publisher == nil {
		publisher = &events.NoOpPublisher{}
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		pipeline:     params.Pipeline,
		classifier:   params.Classifier,
		publisher:    publisher,
		healthChecks: params.HealthChecks,
		logger:       logger,
		now:          time.Now,
	}
}

// Dispatch routes a request to the appropriate handler and returns a response.
func (d *Dispatcher) Dispatch(ctx context.Context, req *RelayRequest) *RelayResponse {
	d.logger.Debug(fmt.Sprintf("%s - method=%s id=%s", logPrefix, req.Method, req.ID))

	if req.Ctx != nil && req.Ctx.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.Ctx.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	switch req.Method {
	case "dispatch":
		return d.handleDispatch(ctx, req)
	case "classify":
		return d.handleClassify(ctx, req)
	case "health":
		return d.handleHealth(ctx, req)
	default:
		return errorResponse(req.ID, "METHOD_NOT_FOUND", fmt.Sprintf("Unknown method: %s", req.Method), false)
	}
}

func (d *Dispatcher) handleDispatch(ctx context.Context, req *RelayRequest) *RelayResponse {
	if d.pipeline == nil {
		return errorResponse(req.ID, "UNAVAILABLE", "Dispatch pipeline is not configured", true)
	}
	var input DispatchParams
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse dispatch params", false)
	}
	if input.Message.Target == "" {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "message.target is required", false)
	}

	logID := input.LogID
	if logID == "" && req.Ctx != nil {
		logID = req.Ctx.CorrelationID
	}
	if logID == "" {
		logID = uuid.NewString()
	}

	dc, err := d.pipeline.Dispatch(ctx, relay.NewDispatchContext(logID, input.Message))
	if err != nil {
		return dispatchErrorToResponse(req.ID, logID, err)
	}

	if event := events.NewEvaluationEvent(dc, d.now()); event != nil {
		if err := d.publisher.PublishEvaluation(ctx, event); err != nil {
			d.logger.Warn(fmt.Sprintf("%s - failed to publish evaluation for %s: %v", logPrefix, event.ProcessID, err), "logId", logID)
		}
	}

	result := &DispatchResult{
		LogID:       dc.LogID,
		Stage:       dc.Stage,
		Target:      dc.Target,
		ArweaveTx:   dc.ArweaveTx,
		CUAddress:   dc.CUAddress,
		Messages:    dc.Result,
		Transitions: dc.Transitions,
	}
	if dc.Tx != nil {
		result.TxID = dc.Tx.ID
	}
	if result.Messages == nil {
		result.Messages = []relay.Message{}
	}
	return &RelayResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleClassify(ctx context.Context, req *RelayRequest) *RelayResponse {
	if d.classifier == nil {
		return errorResponse(req.ID, "UNAVAILABLE", "Classifier is not configured", true)
	}
	var input ClassifyParams
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse classify params", false)
	}
	if input.ID == "" {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "id is required", false)
	}
	logID := req.ID
	if req.Ctx != nil && req.Ctx.CorrelationID != "" {
		logID = req.Ctx.CorrelationID
	}
	isWallet := d.classifier.IsWallet(ctx, input.ID, logID)
	return &RelayResponse{ID: req.ID, Ok: true, Result: &ClassifyResult{ID: input.ID, IsWallet: isWallet}}
}

func (d *Dispatcher) handleHealth(ctx context.Context, req *RelayRequest) *RelayResponse {
	return &RelayResponse{ID: req.ID, Ok: true, Result: d.Health(ctx)}
}

// Health runs every configured check.
func (d *Dispatcher) Health(ctx context.Context) *HealthOutput {
	names := make([]string, 0, len(d.healthChecks))
	for name := range d.healthChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	checks := make(map[string]bool, len(names))
	for _, name := range names {
		err := d.healthChecks[name](ctx)
		checks[name] = err == nil
		if err != nil {
			healthy = false
			d.logger.Warn(fmt.Sprintf("%s - health check %s failed: %v", logPrefix, name, err))
		}
	}

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return &HealthOutput{Status: status, Checks: checks, Timestamp: d.now().UTC().Format(time.RFC3339)}
}

// --- helpers ---

func errorResponse(id, code, message string, retryable bool) *RelayResponse {
	return &RelayResponse{
		ID: id,
		Ok: false,
		Error: &ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
	}
}

func dispatchErrorToResponse(id, logID string, err error) *RelayResponse {
	var de *relay.DispatchError
	if errors.As(err, &de) {
		return &RelayResponse{
			ID: id,
			Ok: false,
			Error: &ErrorDetail{
				Code:    de.Code(),
				Message: de.Error(),
				Details: map[string]string{
					"logId": de.LogID,
					"stage": string(de.Stage),
				},
				Retryable: !errors.Is(de.Kind, relay.ErrInvalidContext),
			},
		}
	}
	resp := errorResponse(id, "INTERNAL_ERROR", err.Error(), true)
	resp.Error.Details = map[string]string{"logId": logID}
	return resp
}
