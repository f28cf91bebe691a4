package metrics

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
)

const promLogPrefix = "metrics:prometheus"

var (
	registerOnce sync.Once

	upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Duration of upstream calls made while dispatching messages.",
			Buckets:   prometheus.DefBuckets,
		},
		UpstreamLabelNames,
	)
	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Dispatches by terminal stage and outcome.",
		},
		[]string{"stage", "status"},
	)
)

// UpstreamLabelNames are the label names accepted by the shared upstream histogram.
var UpstreamLabelNames = []string{"operation", "status"}

// RegisterMetrics registers the relay collectors with the default registry once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(upstreamDuration, dispatchTotal)
	})
}

// UpstreamTimer returns a HistogramTimer backed by the shared upstream histogram.
func UpstreamTimer() *HistogramTimer {
	RegisterMetrics()
	return NewHistogramTimer(upstreamDuration, UpstreamLabelNames)
}

// RecordDispatch counts a finished dispatch.
func RecordDispatch(stage string, success bool) {
	RegisterMetrics()
	status := "ok"
	if !success {
		status = "error"
	}
	dispatchTotal.WithLabelValues(stage, status).Inc()
}

// HistogramTimer is a Timer backed by a prometheus HistogramVec. Start and stop labels are
// merged; label names the vec declares but the call did not supply are observed as "".
// Labels the vec does not declare make the observation fail.
type HistogramTimer struct {
	vec        *prometheus.HistogramVec
	labelNames []string
	now        func() time.Time
}

// NewHistogramTimer builds a HistogramTimer over vec. labelNames must match the vec.
func NewHistogramTimer(vec *prometheus.HistogramVec, labelNames []string) *HistogramTimer {
	names := make([]string, len(labelNames))
	copy(names, labelNames)
	return &HistogramTimer{vec: vec, labelNames: names, now: time.Now}
}

// StartTimer records the start time and returns a stop function that observes the elapsed
// seconds. Non-empty traces are attached as an exemplar when the observer supports it.
func (h *HistogramTimer) StartTimer(startLabels Labels, _ Traces) StopFunc {
	started := h.now()
	return func(stopLabels Labels, traces Traces) error {
		labels := prometheus.Labels{}
		for _, name := range h.labelNames {
			labels[name] = ""
		}
		for k, v := range startLabels {
			labels[k] = v
		}
		for k, v := range stopLabels {
			labels[k] = v
		}

		observer, err := h.vec.GetMetricWith(labels)
		if err != nil {
			return fmt.Errorf("%s - observe failed: %w", promLogPrefix, err)
		}
		elapsed := h.now().Sub(started).Seconds()
		if eo, ok := observer.(prometheus.ExemplarObserver); ok && exemplarFits(traces) {
			eo.ObserveWithExemplar(elapsed, prometheus.Labels(traces))
			return nil
		}
		observer.Observe(elapsed)
		return nil
	}
}

// exemplarFits reports whether traces can be attached as an exemplar. Prometheus caps the
// combined rune count of exemplar label names and values.
func exemplarFits(traces Traces) bool {
	if len(traces) == 0 {
		return false
	}
	runes := 0
	for k, v := range traces {
		if !utf8.ValidString(k) || !utf8.ValidString(v) {
			return false
		}
		runes += utf8.RuneCountInString(k) + utf8.RuneCountInString(v)
	}
	return runes <= prometheus.ExemplarMaxRunes
}
