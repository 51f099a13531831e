// Package metrics provides Prometheus metrics for allocation runs.
// Runs are short-lived, so metrics are written to a node exporter textfile
// instead of being served.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cloud-cost-allocation/core/allocation"
	"cloud-cost-allocation/internal/errors"
)

const namespace = "cost_allocation"

// Label names
const (
	LabelSource = "source"
	LabelReason = "reason"
	LabelAmount = "amount"
)

// Recorder holds the metrics of allocation runs and receives the allocator
// observations
type Recorder struct {
	registry *prometheus.Registry

	// RecordsReadTotal counts records read per input.
	// Labels: source
	RecordsReadTotal *prometheus.CounterVec

	// RecordsDroppedTotal counts records left out of the allocation.
	// Labels: reason
	RecordsDroppedTotal *prometheus.CounterVec

	// CycleBreaksTotal counts consumer records removed to break cycles
	CycleBreaksTotal prometheus.Counter

	// SelectorFailuresTotal counts provider tag selector evaluation failures.
	// Labels: kind (distinct, total)
	SelectorFailuresTotal *prometheus.CounterVec

	// AllocatedAmount is the cloud cost allocated by the last run.
	// Labels: amount
	AllocatedAmount *prometheus.GaugeVec

	// AllocationSeconds measures allocation runs
	AllocationSeconds prometheus.Histogram

	// LastSuccess is the Unix timestamp of the last successful run
	LastSuccess prometheus.Gauge
}

var _ allocation.Observer = (*Recorder)(nil)

// NewRecorder creates and registers the metrics on reg
func NewRecorder(reg *prometheus.Registry) *Recorder {
	r := &Recorder{
		registry: reg,

		RecordsReadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_read_total",
			Help:      "Cost records read, per input",
		}, []string{LabelSource}),

		RecordsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Cost records left out of the allocation, per reason",
		}, []string{LabelReason}),

		CycleBreaksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_breaks_total",
			Help:      "Consumer records removed to break consumption cycles",
		}),

		SelectorFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selector_failures_total",
			Help:      "Provider tag selector evaluation failures",
		}, []string{"kind"}),

		AllocatedAmount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "allocated_amount",
			Help:      "Cloud cost allocated by the last run, per amount",
		}, []string{LabelAmount}),

		AllocationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "allocation_duration_seconds",
			Help:      "Time taken by an allocation run",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),

		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last successful allocation run",
		}),
	}

	reg.MustRegister(
		r.RecordsReadTotal,
		r.RecordsDroppedTotal,
		r.CycleBreaksTotal,
		r.SelectorFailuresTotal,
		r.AllocatedAmount,
		r.AllocationSeconds,
		r.LastSuccess,
	)
	return r
}

// RecordRead counts records read from an input
func (r *Recorder) RecordRead(source string, n int) {
	r.RecordsReadTotal.WithLabelValues(source).Add(float64(n))
}

// RecordsDropped implements allocation.Observer
func (r *Recorder) RecordsDropped(reason string, n int) {
	r.RecordsDroppedTotal.WithLabelValues(reason).Add(float64(n))
}

// CycleBreaks implements allocation.Observer
func (r *Recorder) CycleBreaks(n int) {
	r.CycleBreaksTotal.Add(float64(n))
}

// SelectorFailures implements allocation.Observer
func (r *Recorder) SelectorFailures(distinct, total int) {
	r.SelectorFailuresTotal.WithLabelValues("distinct").Add(float64(distinct))
	r.SelectorFailuresTotal.WithLabelValues("total").Add(float64(total))
}

// AmountAllocated implements allocation.Observer
func (r *Recorder) AmountAllocated(amount string, total float64) {
	r.AllocatedAmount.WithLabelValues(amount).Set(total)
}

// AllocationDuration implements allocation.Observer
func (r *Recorder) AllocationDuration(d time.Duration) {
	r.AllocationSeconds.Observe(d.Seconds())
	r.LastSuccess.SetToCurrentTime()
}

// WriteTextfile writes every registered metric in the text exposition format
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return errors.Wrapf(errors.TypeInput, err, "failed to write metrics to %s", path)
	}
	return nil
}
