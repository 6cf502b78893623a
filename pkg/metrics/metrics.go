// Package metrics holds the Prometheus instrumentation. All observer
// methods are nil-safe so instrumentation stays optional.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FS provides observability for the sandbox filesystem.
type FS struct {
	// Operation counts by access trace op name
	Operations *prometheus.CounterVec

	// Denied accesses by op name
	Denied *prometheus.CounterVec

	// Currently open descriptors
	OpenFiles prometheus.Gauge

	// Payload volume through read and write
	BytesRead    prometheus.Counter
	BytesWritten prometheus.Counter
}

// NewFS creates an FS instance with all filesystem metrics registered.
func NewFS() *FS {
	return &FS{
		Operations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fusebox_fs_operations_total",
			Help: "Total filesystem operations by op",
		}, []string{"op"}),

		Denied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fusebox_fs_denied_total",
			Help: "Total denied accesses by op",
		}, []string{"op"}),

		OpenFiles: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fusebox_fs_open_files",
			Help: "Currently open file descriptors held for the mount",
		}),

		BytesRead: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fusebox_fs_read_bytes_total",
			Help: "Bytes read through the mount",
		}),

		BytesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fusebox_fs_written_bytes_total",
			Help: "Bytes written through the mount",
		}),
	}
}

// IncrementOp records one filesystem operation.
func (m *FS) IncrementOp(op string) {
	if m != nil {
		m.Operations.WithLabelValues(op).Inc()
	}
}

// IncrementDenied records a refused access.
func (m *FS) IncrementDenied(op string) {
	if m != nil {
		m.Denied.WithLabelValues(op).Inc()
	}
}

// FileOpened tracks a descriptor being opened.
func (m *FS) FileOpened() {
	if m != nil {
		m.OpenFiles.Inc()
	}
}

// FileClosed tracks a descriptor being released.
func (m *FS) FileClosed() {
	if m != nil {
		m.OpenFiles.Dec()
	}
}

// AddBytesRead records read payload volume.
func (m *FS) AddBytesRead(n int) {
	if m != nil {
		m.BytesRead.Add(float64(n))
	}
}

// AddBytesWritten records write payload volume.
func (m *FS) AddBytesWritten(n int) {
	if m != nil {
		m.BytesWritten.Add(float64(n))
	}
}

// Pipeline provides observability for test pipeline runs.
type Pipeline struct {
	// Step outcomes by step name and status
	Steps *prometheus.CounterVec

	// Step latencies by step name
	StepDuration *prometheus.HistogramVec

	// Cache restore and save outcomes by partition and result
	CacheEvents *prometheus.CounterVec
}

// NewPipeline creates a Pipeline instance with all pipeline metrics registered.
func NewPipeline() *Pipeline {
	return &Pipeline{
		Steps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fusebox_pipeline_steps_total",
			Help: "Total pipeline step outcomes by step and status",
		}, []string{"step", "status"}),

		StepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fusebox_pipeline_step_duration_seconds",
			Help:    "Duration of pipeline steps by step",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1800},
		}, []string{"step"}),

		CacheEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fusebox_pipeline_cache_events_total",
			Help: "Cache restore and save outcomes by partition and result",
		}, []string{"partition", "result"}),
	}
}

// ObserveStep records one finished step with its duration.
func (m *Pipeline) ObserveStep(step, status string, d time.Duration) {
	if m != nil {
		m.Steps.WithLabelValues(step, status).Inc()
		m.StepDuration.WithLabelValues(step).Observe(d.Seconds())
	}
}

// IncrementCacheEvent records a cache restore or save outcome.
func (m *Pipeline) IncrementCacheEvent(partition, result string) {
	if m != nil {
		m.CacheEvents.WithLabelValues(partition, result).Inc()
	}
}
