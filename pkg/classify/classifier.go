// Package classify decides whether an identifier names a ledger wallet or an on-network process.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/morezero/message-relay/pkg/metrics"
)

const logPrefix = "classify:classifier"

// Entry is the persisted classification of one identifier.
type Entry struct {
	ID       string `json:"id"`
	IsWallet bool   `json:"isWallet"`
}

// Store persists classifications. GetByID returns (nil, nil) on a miss.
// SetByID must tolerate concurrent writers for the same id (last write wins).
type Store interface {
	GetByID(ctx context.Context, id string) (*Entry, error)
	SetByID(ctx context.Context, id string, entry Entry) error
}

// Prober checks whether id resolves to a transaction on the ledger.
// found=false with a nil error means the ledger answered "not found".
type Prober interface {
	ProbeLedgerExistence(ctx context.Context, id string) (found bool, err error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, id string) (bool, error)

// ProbeLedgerExistence calls f.
func (f ProberFunc) ProbeLedgerExistence(ctx context.Context, id string) (bool, error) {
	return f(ctx, id)
}

// RetryPolicy bounds the ledger probe. MaxAttempts counts the first try.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	// Multiplier grows the delay per attempt; values below 1 keep it fixed.
	Multiplier float64
	MaxDelay   time.Duration
}

// MaxProbeAttempts is the ceiling on ledger probe attempts per classification.
const MaxProbeAttempts = 6

// DefaultRetryPolicy is six attempts, 500ms apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: MaxProbeAttempts, Delay: 500 * time.Millisecond, Multiplier: 1}
}

// delayBefore returns the wait before attempt n (1-based, n >= 2).
func (p RetryPolicy) delayBefore(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.Delay) * math.Pow(mult, float64(attempt-2))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// errProbeExhausted never leaves this package; it becomes the wallet default.
var errProbeExhausted = errors.New("ledger probe exhausted")

// Classifier answers IsWallet with an exclusion set, a persistent store and a retried probe.
type Classifier struct {
	store    Store
	probe    metrics.Operation[string, bool]
	excluded map[string]struct{}
	retry    RetryPolicy
	logger   *slog.Logger
	flights  singleflight.Group
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewClassifierParams holds dependencies for NewClassifier.
type NewClassifierParams struct {
	Store  Store
	Prober Prober
	// ExcludedIDs are known process ids that are never probed or stored.
	ExcludedIDs []string
	Retry       RetryPolicy
	// Timer times the ledger probe. Nil records nothing.
	Timer  metrics.Timer
	Logger *slog.Logger
}

// NewClassifier creates a Classifier. Store and Prober are required.
func NewClassifier(params NewClassifierParams) (*Classifier, error) {
	if params.Store == nil {
		return nil, &metrics.ConfigError{Field: "Store", Err: errors.New("classification store is required")}
	}
	if params.Prober == nil {
		return nil, &metrics.ConfigError{Field: "Prober", Err: errors.New("ledger prober is required")}
	}
	retry := params.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timer := params.Timer
	if timer == nil {
		timer = metrics.NopTimer{}
	}

	timed, err := metrics.WithTimerMetrics(metrics.Options[string, bool]{
		Timer:           timer,
		StartLabelsFrom: func(string) metrics.Labels { return metrics.Labels{"operation": "isWallet"} },
		StopLabelsFrom:  statusLabels[bool],
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]struct{}, len(params.ExcludedIDs))
	for _, id := range params.ExcludedIDs {
		excluded[id] = struct{}{}
	}

	return &Classifier{
		store:    params.Store,
		probe:    timed(params.Prober.ProbeLedgerExistence),
		excluded: excluded,
		retry:    retry,
		logger:   logger,
		sleep:    sleepContext,
	}, nil
}

// IsWallet reports whether id is a wallet. It never fails: store errors degrade to a miss
// and an exhausted probe classifies the id as a wallet.
func (c *Classifier) IsWallet(ctx context.Context, id, logID string) bool {
	c.logger.Debug(fmt.Sprintf("%s - Checking if id is a wallet %s", logPrefix, id), "logId", logID)

	if _, ok := c.excluded[id]; ok {
		c.logger.Debug(fmt.Sprintf("%s - id: %s is not a wallet", logPrefix, id), "logId", logID)
		return false
	}

	cached, err := c.store.GetByID(ctx, id)
	if err != nil {
		c.logger.Warn(fmt.Sprintf("%s - cache lookup failed for %s, probing ledger: %v", logPrefix, id, err), "logId", logID)
	} else if cached != nil {
		c.logger.Debug(fmt.Sprintf("%s - Found id: %s in cache with value: %t", logPrefix, id, cached.IsWallet), "logId", logID)
		return cached.IsWallet
	}

	c.logger.Debug(fmt.Sprintf("%s - id: %s not cached checking ledger for tx", logPrefix, id), "logId", logID)

	// Concurrent misses for the same id share one probe and one store write.
	v, _, _ := c.flights.Do(id, func() (interface{}, error) {
		return c.classifyUncached(context.WithoutCancel(ctx), id, logID), nil
	})
	return v.(bool)
}

func (c *Classifier) classifyUncached(ctx context.Context, id, logID string) bool {
	isWallet := true
	found, err := c.probeWithRetry(ctx, id, logID)
	if err == nil {
		isWallet = !found
	} else {
		c.logger.Info(fmt.Sprintf("%s - probe for %s gave no answer, defaulting to wallet: %v", logPrefix, id, err), "logId", logID)
	}

	c.logger.Info(fmt.Sprintf("%s - id: %s is a wallet: %t", logPrefix, id, isWallet), "logId", logID)
	if err := c.store.SetByID(ctx, id, Entry{ID: id, IsWallet: isWallet}); err != nil {
		c.logger.Warn(fmt.Sprintf("%s - failed to store classification for %s: %v", logPrefix, id, err), "logId", logID)
	}
	return isWallet
}

// probeWithRetry returns found=true as soon as one attempt finds the id. "Not found" and
// transport errors are both retried; exhaustion yields errProbeExhausted.
func (c *Classifier) probeWithRetry(ctx context.Context, id, logID string) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.retry.delayBefore(attempt)); err != nil {
				return false, fmt.Errorf("%w: %v", errProbeExhausted, err)
			}
		}
		found, err := c.probe(ctx, id)
		if err == nil && found {
			return true, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("%s not found", id)
		}
		c.logger.Debug(fmt.Sprintf("%s - isWallet(%s) attempt %d/%d failed: %v", logPrefix, id, attempt, c.retry.MaxAttempts, lastErr),
			"logId", logID, "attempt", attempt)
	}
	return false, fmt.Errorf("%w after %d attempts: %v", errProbeExhausted, c.retry.MaxAttempts, lastErr)
}

func statusLabels[T any](_ T, err error) metrics.Labels {
	if err != nil {
		return metrics.Labels{"status": "error"}
	}
	return metrics.Labels{"status": "ok"}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
