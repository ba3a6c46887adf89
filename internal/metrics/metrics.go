// Package metrics collects batch counters and writes them in the Prometheus
// text format for the node exporter textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/book-expert/text-to-speech/internal/core"
	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes recorded by the speech client.
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeFailed  = "failed"
)

const namespace = "text_to_speech"

// Metrics holds the collectors of one batch run. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	files           *prometheus.CounterVec
	chunks          prometheus.Counter
	requests        *prometheus.CounterVec
	requestDuration prometheus.Histogram
	audioBytes      prometheus.Counter
	batchDuration   prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		files: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_total",
				Help:      "Input files by terminal state.",
			},
			[]string{"state"}, // done, failed, skipped
		),

		chunks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_total",
				Help:      "Text chunks converted to audio.",
			},
		),

		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Speech API attempts by outcome.",
			},
			[]string{"outcome"}, // success, retry, failed
		),

		requestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "Duration of single speech API attempts.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
		),

		audioBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audio_bytes_total",
				Help:      "Bytes of audio written to the output folder.",
			},
		),

		batchDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Wall time of the last batch run.",
			},
		),
	}

	m.registry.MustRegister(
		m.files,
		m.chunks,
		m.requests,
		m.requestDuration,
		m.audioBytes,
		m.batchDuration,
	)

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// ObserveFile counts a job that reached a terminal state.
func (m *Metrics) ObserveFile(state core.JobState) {
	if m == nil {
		return
	}

	m.files.WithLabelValues(string(state)).Inc()
}

// ObserveChunk counts a converted chunk.
func (m *Metrics) ObserveChunk() {
	if m == nil {
		return
	}

	m.chunks.Inc()
}

// ObserveRequest records one API attempt.
func (m *Metrics) ObserveRequest(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.requests.WithLabelValues(outcome).Inc()
	m.requestDuration.Observe(elapsed.Seconds())
}

// ObserveAudio adds the size of a finished audio file.
func (m *Metrics) ObserveAudio(size int64) {
	if m == nil {
		return
	}

	m.audioBytes.Add(float64(size))
}

// ObserveBatch records the wall time of a batch run.
func (m *Metrics) ObserveBatch(elapsed time.Duration) {
	if m == nil {
		return
	}

	m.batchDuration.Set(elapsed.Seconds())
}

// WriteToTextfile writes the current values to path atomically.
func (m *Metrics) WriteToTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}

	err := prometheus.WriteToTextfile(path, m.registry)
	if err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}

	return nil
}
