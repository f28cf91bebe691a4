package relay

import (
	"errors"
	"fmt"
)

// Stage failure kinds. A DispatchError matches its kind and its cause with errors.Is.
var (
	ErrBuild             = errors.New("build failed")
	ErrWrite             = errors.New("write failed")
	ErrAddressResolution = errors.New("address resolution failed")
	ErrEvaluation        = errors.New("evaluation failed")
	ErrInvalidContext    = errors.New("invalid dispatch context")
)

// DispatchError is the single error a failed dispatch returns.
type DispatchError struct {
	LogID string
	Stage Stage
	Kind  error
	Cause error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s - logId=%s stage=%s: %v: %v", logPrefix, e.LogID, e.Stage, e.Kind, e.Cause)
}

// Unwrap exposes both the kind and the original cause.
func (e *DispatchError) Unwrap() []error {
	return []error{e.Kind, e.Cause}
}

// Code is a stable identifier for the failure kind, used in response envelopes.
func (e *DispatchError) Code() string {
	switch e.Kind {
	case ErrBuild:
		return "BUILD_FAILED"
	case ErrWrite:
		return "WRITE_FAILED"
	case ErrAddressResolution:
		return "ADDRESS_RESOLUTION_FAILED"
	case ErrEvaluation:
		return "EVALUATION_FAILED"
	case ErrInvalidContext:
		return "INVALID_CONTEXT"
	}
	return "INTERNAL_ERROR"
}

func stageError(dc *DispatchContext, kind, cause error) *DispatchError {
	return &DispatchError{LogID: dc.LogID, Stage: dc.Stage, Kind: kind, Cause: cause}
}
