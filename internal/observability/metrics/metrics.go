// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vet_scribe"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Recording metrics
	RecordingsTotal    prometheus.Counter
	RecordingsActive   prometheus.Gauge
	RecordingsSuccess  prometheus.Counter
	RecordingsFailed   *prometheus.CounterVec
	RecordingDuration  prometheus.Histogram
	StateTransitions   *prometheus.CounterVec
	ConnectLatency     *prometheus.HistogramVec
	KeepAlivesSent     *prometheus.CounterVec
	RecordingLimitsHit *prometheus.CounterVec

	// Transcript metrics
	TranscriptEvents *prometheus.CounterVec
	OverlapElided    prometheus.Counter

	// Segment metrics
	SegmentsCreated   prometheus.Counter
	SegmentsCompleted prometheus.Counter
	SegmentsDropped   *prometheus.CounterVec

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioChunksReceived prometheus.Counter
	AudioChunksEmpty    prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// STT metrics
	STTErrors *prometheus.CounterVec

	// Persistence and notes
	TranscriptsSaved  *prometheus.CounterVec
	NotesGenerated    *prometheus.CounterVec
	NotesLatency      prometheus.Histogram
	WatchersConnected prometheus.Gauge

	// gRPC
	GRPCRequests *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = New(prometheus.DefaultRegisterer)

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RecordingsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_total",
			Help:      "Total number of recordings started",
		}),
		RecordingsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recordings_active",
			Help:      "Number of recordings currently streaming",
		}),
		RecordingsSuccess: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_success_total",
			Help:      "Total number of recordings stopped cleanly",
		}),
		RecordingsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_failed_total",
			Help:      "Total number of recordings ended by an error",
		}, []string{"reason"}),
		RecordingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recording_duration_seconds",
			Help:      "Duration of recordings in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_state_transitions_total",
			Help:      "Recording state machine transitions",
		}, []string{"from", "to"}),
		ConnectLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stt_connect_latency_seconds",
			Help:      "Time from connect to the recognition session reporting open",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider"}),
		KeepAlivesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_keepalives_total",
			Help:      "Keep-alive messages sent to recognition sessions",
		}, []string{"provider"}),
		RecordingLimitsHit: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_limit_exceeded_total",
			Help:      "Total number of times recording limits were exceeded",
		}, []string{"limit_type"}),

		TranscriptEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_events_total",
			Help:      "Recognition events consumed by the assembler, by outcome",
		}, []string{"outcome"}),
		OverlapElided: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_overlap_elided_words_total",
			Help:      "Words removed from finals by overlap elision",
		}),

		SegmentsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_created_total",
			Help:      "Total number of utterance segments opened",
		}),
		SegmentsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_completed_total",
			Help:      "Total number of segments completed with a final transcript",
		}),
		SegmentsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_dropped_total",
			Help:      "Total number of segments dropped",
		}, []string{"reason"}),

		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes forwarded to recognition",
		}),
		AudioChunksReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_received_total",
			Help:      "Total audio chunks forwarded to recognition",
		}),
		AudioChunksEmpty: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_empty_total",
			Help:      "Zero-length audio chunks discarded",
		}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		STTErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of recognition session errors",
		}, []string{"provider", "error_type"}),

		TranscriptsSaved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_saved_total",
			Help:      "Transcripts persisted against a case",
		}, []string{"complete"}),
		NotesGenerated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "soap_notes_total",
			Help:      "SOAP note generation attempts",
		}, []string{"status"}),
		NotesLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "soap_note_latency_seconds",
			Help:      "SOAP note generation latency in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40},
		}),
		WatchersConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watchers_connected",
			Help:      "WebSocket clients watching recordings",
		}),

		GRPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "gRPC requests handled, by method and code",
		}, []string{"method", "code"}),
	}
}

// RecordRecordingStart records a recording entering STREAMING.
func (m *Metrics) RecordRecordingStart() {
	m.RecordingsTotal.Inc()
	m.RecordingsActive.Inc()
}

// RecordRecordingEnd records a streaming recording returning to IDLE.
func (m *Metrics) RecordRecordingEnd(failReason string, durationSeconds float64) {
	m.RecordingsActive.Dec()
	m.RecordingDuration.Observe(durationSeconds)
	if failReason == "" {
		m.RecordingsSuccess.Inc()
	} else {
		m.RecordingsFailed.WithLabelValues(failReason).Inc()
	}
}

// RecordRecordingFailedBeforeStreaming records a start that never reached STREAMING.
func (m *Metrics) RecordRecordingFailedBeforeStreaming(reason string) {
	m.RecordingsFailed.WithLabelValues(reason).Inc()
}

// RecordTransition records a state machine transition.
func (m *Metrics) RecordTransition(from, to string) {
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

// RecordConnect records how long a recognition session took to open.
func (m *Metrics) RecordConnect(provider string, latencySeconds float64) {
	m.ConnectLatency.WithLabelValues(provider).Observe(latencySeconds)
}

// RecordKeepAlive records a keep-alive sent.
func (m *Metrics) RecordKeepAlive(provider string) {
	m.KeepAlivesSent.WithLabelValues(provider).Inc()
}

// RecordTranscriptEvent records one assembler outcome.
func (m *Metrics) RecordTranscriptEvent(outcome string, elidedWords int) {
	m.TranscriptEvents.WithLabelValues(outcome).Inc()
	if elidedWords > 0 {
		m.OverlapElided.Add(float64(elidedWords))
	}
}

// RecordSegmentCreated records a new segment being opened.
func (m *Metrics) RecordSegmentCreated() {
	m.SegmentsCreated.Inc()
}

// RecordSegmentCompleted records a segment completed with a final transcript.
func (m *Metrics) RecordSegmentCompleted() {
	m.SegmentsCompleted.Inc()
}

// RecordSegmentDropped records a segment being dropped.
func (m *Metrics) RecordSegmentDropped(reason string) {
	m.SegmentsDropped.WithLabelValues(reason).Inc()
}

// RecordAudioReceived records one forwarded audio chunk.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioChunksReceived.Inc()
}

// RecordEmptyChunk records a discarded zero-length chunk.
func (m *Metrics) RecordEmptyChunk() {
	m.AudioChunksEmpty.Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordSTTError records a recognition session error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordLimitExceeded records when a recording limit is exceeded.
func (m *Metrics) RecordLimitExceeded(limitType string) {
	m.RecordingLimitsHit.WithLabelValues(limitType).Inc()
}

// RecordTranscriptSaved records a persisted transcript.
func (m *Metrics) RecordTranscriptSaved(complete bool) {
	label := "false"
	if complete {
		label = "true"
	}
	m.TranscriptsSaved.WithLabelValues(label).Inc()
}

// RecordNote records a SOAP note generation attempt.
func (m *Metrics) RecordNote(err error, latencySeconds float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.NotesGenerated.WithLabelValues(status).Inc()
	m.NotesLatency.Observe(latencySeconds)
}

// RecordGRPCRequest records one handled gRPC call.
func (m *Metrics) RecordGRPCRequest(method, code string) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
}
