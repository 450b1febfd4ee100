package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records outcomes of media pipeline operations.
type PipelineMetrics struct {
	duration       *prometheus.HistogramVec
	success        *prometheus.CounterVec
	failure        *prometheus.CounterVec
	bytesProcessed *prometheus.CounterVec
	ratio          prometheus.Histogram
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "media_operation_duration_seconds",
		Help:    "Duration of media pipeline operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "media_operation_success",
		Help: "Successful media pipeline operations.",
	}, []string{"operation"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "media_operation_failure",
		Help: "Failed media pipeline operations.",
	}, []string{"operation"})
	bytesProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "media_bytes_processed_total",
		Help: "Bytes read or written by media pipeline operations.",
	}, []string{"operation"})
	ratio := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "media_compression_ratio",
		Help:    "Output over input size for video compression runs.",
		Buckets: []float64{0.1, 0.25, 0.5, 0.75, 1, 1.5},
	})
	reg.MustRegister(duration, success, failure, bytesProcessed, ratio)
	return &PipelineMetrics{
		duration:       duration,
		success:        success,
		failure:        failure,
		bytesProcessed: bytesProcessed,
		ratio:          ratio,
	}
}

// ObserveDuration records the duration for the named operation.
func (p *PipelineMetrics) ObserveDuration(operation string, duration time.Duration) {
	if p == nil || p.duration == nil {
		return
	}
	p.duration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named operation.
func (p *PipelineMetrics) IncSuccess(operation string) {
	if p == nil || p.success == nil {
		return
	}
	p.success.WithLabelValues(normalizeLabel(operation)).Inc()
}

// IncFailure increments the failure counter for the named operation.
func (p *PipelineMetrics) IncFailure(operation string) {
	if p == nil || p.failure == nil {
		return
	}
	p.failure.WithLabelValues(normalizeLabel(operation)).Inc()
}

// AddBytesProcessed accumulates payload sizes for the named operation.
func (p *PipelineMetrics) AddBytesProcessed(operation string, bytes int64) {
	if p == nil || p.bytesProcessed == nil || bytes <= 0 {
		return
	}
	p.bytesProcessed.WithLabelValues(normalizeLabel(operation)).Add(float64(bytes))
}

// ObserveCompressionRatio records output/input size for one compression run.
func (p *PipelineMetrics) ObserveCompressionRatio(ratio float64) {
	if p == nil || p.ratio == nil || ratio <= 0 {
		return
	}
	p.ratio.Observe(ratio)
}

func normalizeLabel(operation string) string {
	if operation == "" {
		return "unknown"
	}
	return operation
}
