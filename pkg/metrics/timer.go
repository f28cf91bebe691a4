// Package metrics wraps upstream calls with timing, labels and failure-safe metric emission.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

const logPrefix = "metrics:timer"

// Labels are metric labels computed from a call's input or outcome.
type Labels map[string]string

// Traces carry trace context (e.g. process id) alongside a timing observation.
type Traces map[string]string

// StopFunc ends a timer started by Timer.StartTimer.
type StopFunc func(labels Labels, traces Traces) error

// Timer is anything that can start a timer and hand back a function to stop it.
// Implementations may impose extra rules on labels (see HistogramTimer).
type Timer interface {
	StartTimer(labels Labels, traces Traces) StopFunc
}

// TimerFunc adapts a plain function to Timer.
type TimerFunc func(labels Labels, traces Traces) StopFunc

// StartTimer calls f.
func (f TimerFunc) StartTimer(labels Labels, traces Traces) StopFunc {
	return f(labels, traces)
}

// Operation is any context-aware call with one input and one output.
type Operation[In, Out any] func(ctx context.Context, in In) (Out, error)

// ErrTimerRequired is the cause of a ConfigError raised when no timer is wired.
var ErrTimerRequired = errors.New("timer must implement StartTimer")

// ConfigError reports invalid wiring detected at construction time.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s - invalid configuration for %s: %v", logPrefix, e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Options configures WithTimerMetrics. Only Timer is required.
type Options[In, Out any] struct {
	Timer           Timer
	StartLabelsFrom func(in In) Labels
	StopLabelsFrom  func(out Out, err error) Labels
	TracesFrom      func(in In) Traces
	Logger          *slog.Logger
}

// sequence numbers every timed invocation in this process for log correlation.
var sequence atomic.Uint64

// WithTimerMetrics returns a decorator that times each call of the wrapped operation.
// The wrapped operation's result is always what the caller sees; failures while
// stopping the timer are logged and dropped.
func WithTimerMetrics[In, Out any](opts Options[In, Out]) (func(Operation[In, Out]) Operation[In, Out], error) {
	if isNilTimer(opts.Timer) {
		return nil, &ConfigError{Field: "Timer", Err: ErrTimerRequired}
	}
	startLabelsFrom := opts.StartLabelsFrom
	if startLabelsFrom == nil {
		startLabelsFrom = func(In) Labels { return Labels{} }
	}
	stopLabelsFrom := opts.StopLabelsFrom
	if stopLabelsFrom == nil {
		stopLabelsFrom = func(Out, error) Labels { return Labels{} }
	}
	tracesFrom := opts.TracesFrom
	if tracesFrom == nil {
		tracesFrom = func(In) Traces { return Traces{} }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timer := opts.Timer

	return func(op Operation[In, Out]) Operation[In, Out] {
		return func(ctx context.Context, in In) (out Out, err error) {
			startLabels := startLabelsFrom(in)
			traces := tracesFrom(in)
			seq := sequence.Add(1)

			logger.Debug(fmt.Sprintf("%s - METRICS #%d: Starting timer", logPrefix, seq), "labels", startLabels)
			stop := timer.StartTimer(startLabels, traces)

			defer func() {
				safeStop(logger, seq, stop, func() Labels { return stopLabelsFrom(out, err) }, traces)
			}()
			return op(ctx, in)
		}
	}, nil
}

// safeStop computes stop labels and stops the timer. Any error or panic on this path is
// logged and swallowed.
func safeStop(logger *slog.Logger, seq uint64, stop StopFunc, labelsFn func() Labels, traces Traces) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn(fmt.Sprintf("%s - METRICS ERROR: Error encountered when stopping timer, skipping metric observance: %v", logPrefix, r), "seq", seq)
		}
	}()
	labels := labelsFn()
	logger.Debug(fmt.Sprintf("%s - METRICS #%d: Stopping timer", logPrefix, seq), "labels", labels)
	if stop == nil {
		return
	}
	if err := stop(labels, traces); err != nil {
		logger.Warn(fmt.Sprintf("%s - METRICS ERROR: Error encountered when stopping timer, skipping metric observance: %v", logPrefix, err), "seq", seq)
	}
}

func isNilTimer(t Timer) bool {
	if t == nil {
		return true
	}
	switch v := t.(type) {
	case TimerFunc:
		return v == nil
	case *HistogramTimer:
		return v == nil || v.vec == nil
	}
	return false
}

// NopTimer is a Timer that records nothing.
type NopTimer struct{}

// StartTimer returns a stop function that does nothing.
func (NopTimer) StartTimer(Labels, Traces) StopFunc {
	return func(Labels, Traces) error { return nil }
}
