// Package recording owns the lifecycle of one consult recording: it acquires a capture
// device, opens a recognition session, forwards audio between them and folds the
// recognition events into a transcript. A Manager keeps the sessions of the service.
package recording

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"vet-scribe-service/internal/models"
	"vet-scribe-service/internal/observability/logging"
	"vet-scribe-service/internal/observability/metrics"
	"vet-scribe-service/internal/service/capture"
	"vet-scribe-service/internal/service/listener"
	"vet-scribe-service/internal/service/segment"
	"vet-scribe-service/internal/service/stt"
	"vet-scribe-service/internal/service/transcript"
)

var (
	ErrDeviceUnavailable = errors.New("recording: capture device unavailable")
	ErrDeviceFailed      = errors.New("recording: capture device failed")
	ErrConnectFailed     = errors.New("recording: recognition connection failed")
	ErrRecognitionFailed = errors.New("recording: recognition session failed")
	ErrSessionClosed     = errors.New("recording: recognition session closed unexpectedly")
	ErrLimitExceeded     = errors.New("recording: limit exceeded")
	ErrFlushTimeout      = errors.New("recording: timed out flushing final transcripts")
	ErrNotIdle           = errors.New("recording: session is not idle")
	ErrNotStreaming      = errors.New("recording: session is not streaming")
	ErrRecordingNotFound = errors.New("recording: not found")
)

// Limits bound the resources of one recording.
type Limits struct {
	MaxAudioBytes int64         // Audio forwarded per recording
	MaxDuration   time.Duration // Wall time spent streaming
	MaxPartials   int           // Partial events published per segment
}

// DefaultLimits returns limits sized for a long consult.
func DefaultLimits() Limits {
	return Limits{
		MaxAudioBytes: 256 * 1024 * 1024, // ~2.3h at 16kHz 16-bit mono
		MaxDuration:   2 * time.Hour,
		MaxPartials:   500,
	}
}

// Config is the fixed configuration a session runs with.
type Config struct {
	Stream            stt.StreamConfig
	KeepAliveInterval time.Duration
	ConnectTimeout    time.Duration
	FlushTimeout      time.Duration
	Limits            Limits
	OverlapWindow     int
	FingerprintPrefix int
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Stream: stt.StreamConfig{
			Language:       "en-US",
			SampleRateHz:   16000,
			Channels:       1,
			Encoding:       "linear16",
			InterimResults: true,
			Diarize:        true,
			Punctuate:      true,
		},
		KeepAliveInterval: 10 * time.Second,
		ConnectTimeout:    10 * time.Second,
		FlushTimeout:      5 * time.Second,
		Limits:            DefaultLimits(),
		OverlapWindow:     transcript.DefaultOverlapWindow,
		FingerprintPrefix: transcript.DefaultFingerprintPrefix,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = d.KeepAliveInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = d.FlushTimeout
	}
	return c
}

// Publisher receives the transcript events of a recording.
type Publisher interface {
	PublishPartial(ctx context.Context, key string, event models.TranscriptPartial) error
	PublishFinal(ctx context.Context, key string, event models.TranscriptFinal) error
	PublishSaved(ctx context.Context, key string, event models.TranscriptSaved) error
}

// Params identify what a recording belongs to.
type Params struct {
	CaseID   string
	ClinicID string
}

// UpdateType distinguishes transcript and state notifications.
type UpdateType string

const (
	UpdateTranscript UpdateType = "transcript"
	UpdateState      UpdateType = "state"
)

// Update is delivered to subscribers on every transcript or state change. Updates with
// Durable unset carry interim text that the next update may replace.
type Update struct {
	Type        UpdateType                `json:"type"`
	RecordingID string                    `json:"recordingId"`
	State       State                     `json:"state"`
	Display     string                    `json:"display"`
	Finalized   string                    `json:"finalized"`
	Interim     string                    `json:"interim"`
	Durable     bool                      `json:"durable"`
	Speakers    []models.SpeakerUtterance `json:"speakers,omitempty"`
	Error       string                    `json:"error,omitempty"`
}

// Result is what a finished recording captured. Err is nil only for a clean stop; the
// transcript is preserved either way.
type Result struct {
	RecordingID string
	CaseID      string
	ClinicID    string
	Transcript  string
	Interim     string
	Speakers    []models.SpeakerUtterance
	Complete    bool
	Err         error
	StartedAt   time.Time
	EndedAt     time.Time
	AudioBytes  int64
	Segments    int
}

// Duration returns how long the recording streamed.
func (r *Result) Duration() time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Option configures a Session.
type Option func(*Session)

// WithPublisher publishes partial and final events for the recording.
func WithPublisher(p Publisher) Option {
	return func(s *Session) { s.publisher = p }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithSegmentGenerator shares a segment id generator between sessions.
func WithSegmentGenerator(g *segment.Generator) Option {
	return func(s *Session) { s.segments = g }
}

// WithLogger overrides the session logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

type sttRef struct {
	kind stt.EventKind
	id   listener.ID
}

type deviceRef struct {
	kind capture.EventKind
	id   listener.ID
}

// run holds the resources of one start-to-idle cycle.
type run struct {
	stt       stt.Session
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc

	mu         sync.Mutex
	sttRefs    []sttRef
	deviceRefs []deviceRef
	limitTimer *time.Timer
	err        error

	audioBytes atomic.Int64
	forwarding atomic.Bool
	stopping   atomic.Bool
	finished   bool // guarded by Session.deliverMu

	keepAliveStop    chan struct{}
	keepAliveDone    chan struct{}
	keepAliveOnce    sync.Once
	keepAliveStarted bool // guarded by mu

	closed    chan struct{}
	closeOnce sync.Once

	finishOnce sync.Once
	result     *Result
	done       chan struct{}
}

func newRun() *run {
	ctx, cancel := context.WithCancel(context.Background())
	return &run{
		ctx:           ctx,
		cancel:        cancel,
		keepAliveStop: make(chan struct{}),
		keepAliveDone: make(chan struct{}),
		closed:        make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// setErr records the first asynchronous failure.
func (r *run) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

func (r *run) cause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *run) markClosed() {
	r.closeOnce.Do(func() { close(r.closed) })
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Session is the state machine owning one recording's device, recognition session and
// transcript assembler.
//
// Collaborator callbacks arrive on provider goroutines. Transcript consumption and
// subscriber notification are serialized by deliverMu; lifecycle state is guarded by mu.
// Lock order is deliverMu before mu.
type Session struct {
	id        string
	params    Params
	device    capture.Device
	connector stt.Connector
	cfg       Config
	publisher Publisher
	metrics   *metrics.Metrics
	segments  *segment.Generator
	log       zerolog.Logger

	subscribers *listener.Registry[UpdateType, Update]

	mu     sync.Mutex
	state  State
	run    *run
	result *Result

	deliverMu sync.Mutex
	assembler *transcript.Assembler
	tracker   *segment.Tracker
}

// NewSession creates an idle session.
func NewSession(id string, params Params, device capture.Device, connector stt.Connector, cfg Config, opts ...Option) *Session {
	s := &Session{
		id:          id,
		params:      params,
		device:      device,
		connector:   connector,
		cfg:         cfg.withDefaults(),
		metrics:     metrics.DefaultMetrics,
		segments:    segment.NewGenerator(),
		subscribers: listener.New[UpdateType, Update](),
		state:       StateIdle,
	}
	s.log = logging.WithRecording(id, params.CaseID).With().Str("component", "recording").Logger()
	for _, o := range opts {
		o(s)
	}
	return s
}

// ID returns the recording id.
func (s *Session) ID() string {
	return s.id
}

// Params returns the case and clinic the recording belongs to.
func (s *Session) Params() Params {
	return s.params
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result returns the outcome of the last finished run.
func (s *Session) Result() (*Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.result != nil
}

// Done returns a channel closed when the current run is back in IDLE. It is already
// closed when the session is idle.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return closedChan
	}
	return s.run.done
}

// Snapshot returns the current transcript state.
func (s *Session) Snapshot() transcript.Snapshot {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.assembler == nil {
		return transcript.Snapshot{}
	}
	return s.assembler.Snapshot()
}

// Subscribe registers fn for transcript and state updates. fn runs with delivery
// serialized and must not call Stop.
func (s *Session) Subscribe(fn func(Update)) (unsubscribe func()) {
	transcriptID := s.subscribers.Add(UpdateTranscript, fn)
	stateID := s.subscribers.Add(UpdateState, fn)
	return func() {
		s.subscribers.Remove(transcriptID)
		s.subscribers.Remove(stateID)
	}
}

// Clear resets the transcript and the last result while idle.
func (s *Session) Clear() error {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return ErrNotIdle
	}
	s.result = nil
	if s.assembler != nil {
		s.assembler.Reset()
	}
	return nil
}

// Start acquires the device, opens the recognition session and begins streaming. It
// blocks until the session is STREAMING or has failed back to IDLE.
func (s *Session) Start(ctx context.Context) error {
	if err := s.moveTo(StateSettingUpDevice, nil); err != nil {
		return ErrNotIdle
	}

	r := newRun()
	s.mu.Lock()
	s.run = r
	s.mu.Unlock()

	if err := s.device.Open(ctx); err != nil {
		return s.abort(r, "device", fmt.Errorf("%w: %w", ErrDeviceUnavailable, err))
	}

	if err := s.moveTo(StateAwaitingConnection, nil); err != nil {
		s.releaseDevice()
		return s.abort(r, "state", err)
	}

	sess, err := s.connect(ctx)
	if err != nil {
		s.releaseDevice()
		return s.abort(r, "connect", fmt.Errorf("%w: %w", ErrConnectFailed, err))
	}
	r.stt = sess

	return s.stream(r)
}

func (s *Session) streamConfig() stt.StreamConfig {
	cfg := s.cfg.Stream
	if f := s.device.Format(); f.SampleRateHz > 0 {
		cfg.SampleRateHz = f.SampleRateHz
		cfg.Channels = f.Channels
	}
	return cfg
}

// connect opens a recognition session and waits for its open event.
func (s *Session) connect(ctx context.Context) (stt.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	start := time.Now()
	sess, err := s.connector.Connect(ctx, s.streamConfig())
	if err != nil {
		return nil, err
	}

	opened := make(chan struct{})
	closed := make(chan error, 1)
	var openOnce sync.Once

	openID := sess.AddListener(stt.EventOpen, func(stt.Event) {
		openOnce.Do(func() { close(opened) })
	})
	closeID := sess.AddListener(stt.EventClose, func(ev stt.Event) {
		select {
		case closed <- ev.Err:
		default:
		}
	})
	defer func() {
		sess.RemoveListener(stt.EventOpen, openID)
		sess.RemoveListener(stt.EventClose, closeID)
	}()

	select {
	case <-opened:
		s.metrics.RecordConnect(s.connector.Name(), time.Since(start).Seconds())
		return sess, nil
	case err := <-closed:
		_ = sess.Close()
		if err == nil {
			err = stt.ErrSessionClosed
		}
		return nil, err
	case <-ctx.Done():
		_ = sess.Close()
		return nil, ctx.Err()
	}
}

// stream enters STREAMING: fresh transcript state, scoped listeners, keep-alive, device start.
func (s *Session) stream(r *run) error {
	s.deliverMu.Lock()
	s.assembler = transcript.New(
		transcript.WithOverlapWindow(s.cfg.OverlapWindow),
		transcript.WithFingerprintPrefix(s.cfg.FingerprintPrefix),
	)
	s.tracker = segment.NewTracker(s.segments, s.id, s.cfg.Limits.MaxPartials)
	s.deliverMu.Unlock()
	s.metrics.RecordSegmentCreated()

	r.startedAt = time.Now()
	r.forwarding.Store(true)
	if err := s.moveTo(StateStreaming, nil); err != nil {
		r.setErr(err)
		return s.finish(r).Err
	}
	s.metrics.RecordRecordingStart()

	r.mu.Lock()
	r.sttRefs = []sttRef{
		{stt.EventTranscript, r.stt.AddListener(stt.EventTranscript, s.onTranscript(r))},
		{stt.EventError, r.stt.AddListener(stt.EventError, s.onRecognitionError(r))},
		{stt.EventClose, r.stt.AddListener(stt.EventClose, s.onRecognitionClose(r))},
	}
	r.deviceRefs = []deviceRef{
		{capture.EventDataAvailable, s.device.AddEventListener(capture.EventDataAvailable, s.onAudio(r))},
		{capture.EventError, s.device.AddEventListener(capture.EventError, s.onDeviceError(r))},
		{capture.EventEnded, s.device.AddEventListener(capture.EventEnded, s.onDeviceEnded(r))},
	}
	if d := s.cfg.Limits.MaxDuration; d > 0 {
		r.limitTimer = time.AfterFunc(d, func() {
			s.metrics.RecordLimitExceeded("duration")
			s.fail(r, fmt.Errorf("%w: duration %v", ErrLimitExceeded, d))
		})
	}
	r.keepAliveStarted = true
	go s.keepAlive(r)
	r.mu.Unlock()

	s.log.Info().
		Str("provider", s.connector.Name()).
		Dur("keepAlive", s.cfg.KeepAliveInterval).
		Msg("Recording streaming")

	if err := s.device.Start(); err != nil {
		r.setErr(fmt.Errorf("%w: %w", ErrDeviceFailed, err))
		return s.finish(r).Err
	}
	return nil
}

// Stop ends the recording gracefully: audio forwarding stops, the recognition session
// is flushed so in-flight finals are still consumed, then everything is released. A
// recording that already failed returns its failure Result.
func (s *Session) Stop(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	r, state := s.run, s.state
	s.mu.Unlock()

	if r == nil || (state != StateStreaming && state != StateStopping) {
		return nil, ErrNotStreaming
	}

	done := make(chan *Result, 1)
	go func() { done <- s.finish(r) }()

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) onAudio(r *run) capture.Handler {
	return func(ev capture.Event) {
		if len(ev.Data) == 0 {
			s.metrics.RecordEmptyChunk()
			return
		}
		if !r.forwarding.Load() {
			return
		}

		total := r.audioBytes.Add(int64(len(ev.Data)))
		s.metrics.RecordAudioReceived(len(ev.Data))

		if limit := s.cfg.Limits.MaxAudioBytes; limit > 0 && total > limit {
			r.forwarding.Store(false)
			s.metrics.RecordLimitExceeded("audio_bytes")
			s.fail(r, fmt.Errorf("%w: audio bytes %d > %d", ErrLimitExceeded, total, limit))
			return
		}

		if err := r.stt.Send(ev.Data); err != nil && !errors.Is(err, stt.ErrSessionClosed) {
			s.log.Warn().Err(err).Int("bytes", len(ev.Data)).Msg("Failed to forward audio")
		}
	}
}

func (s *Session) onDeviceError(r *run) capture.Handler {
	return func(ev capture.Event) {
		err := ev.Err
		if err == nil {
			err = errors.New("unknown device error")
		}
		s.fail(r, fmt.Errorf("%w: %w", ErrDeviceFailed, err))
	}
}

// onDeviceEnded stops gracefully once a finite source runs out.
func (s *Session) onDeviceEnded(r *run) capture.Handler {
	return func(capture.Event) {
		s.log.Info().Msg("Capture device ended, stopping")
		go s.finish(r)
	}
}

func (s *Session) onTranscript(r *run) stt.Handler {
	return func(ev stt.Event) {
		s.deliverMu.Lock()
		defer s.deliverMu.Unlock()

		if r.finished {
			return
		}

		res := s.assembler.Consume(ev.Transcript)
		s.metrics.RecordTranscriptEvent(res.Outcome.String(), res.ElidedWords)
		if !res.Accepted() {
			s.log.Debug().Str("outcome", res.Outcome.String()).Msg("Transcript event ignored")
			return
		}

		s.publish(r, ev.Transcript, res)
		s.subscribers.Emit(UpdateTranscript, Update{
			Type:        UpdateTranscript,
			RecordingID: s.id,
			State:       s.State(),
			Display:     res.Snapshot.Display,
			Finalized:   res.Snapshot.Finalized,
			Interim:     res.Snapshot.Interim,
			Durable:     res.Durable(),
			Speakers:    res.Snapshot.Speakers,
		})
	}
}

func (s *Session) onRecognitionError(r *run) stt.Handler {
	return func(ev stt.Event) {
		err := ev.Err
		if err == nil {
			err = errors.New("unknown recognition error")
		}
		s.metrics.RecordSTTError(s.connector.Name(), "stream")
		s.log.Error().Err(err).Msg("Recognition session error")
		s.fail(r, fmt.Errorf("%w: %w", ErrRecognitionFailed, err))
	}
}

func (s *Session) onRecognitionClose(r *run) stt.Handler {
	return func(ev stt.Event) {
		r.markClosed()
		if r.stopping.Load() {
			return
		}
		cause := ErrSessionClosed
		if ev.Err != nil {
			cause = fmt.Errorf("%w: %w", ErrSessionClosed, ev.Err)
		}
		s.fail(r, cause)
	}
}

// fail records cause and tears the run down on its own goroutine, so a collaborator
// is never stopped from inside its own callback.
func (s *Session) fail(r *run, cause error) {
	r.setErr(cause)
	go s.finish(r)
}

// publish sends the Kafka event for an accepted result. Called with deliverMu held.
func (s *Session) publish(r *run, ev models.TranscriptEvent, res transcript.Result) {
	if !res.Durable() {
		segmentID, err := s.tracker.Partial()
		if err != nil {
			s.log.Debug().Err(err).Str("segmentId", segmentID).Msg("Partial not published")
			return
		}
		if s.publisher == nil {
			return
		}
		partial := models.TranscriptPartial{
			EventType:   models.EventTypePartial,
			RecordingID: s.id,
			CaseID:      s.params.CaseID,
			ClinicID:    s.params.ClinicID,
			Timestamp:   time.Now().UnixMilli(),
			SegmentID:   segmentID,
			Text:        res.Snapshot.Finalized,
			Interim:     res.Snapshot.Interim,
		}
		if err := s.publisher.PublishPartial(r.ctx, s.id, partial); err != nil {
			s.log.Warn().Err(err).Str("segmentId", segmentID).Msg("Failed to publish partial")
		}
		return
	}

	if res.Appended == "" {
		return
	}
	segmentID, _, err := s.tracker.Final()
	if err != nil {
		s.log.Debug().Err(err).Msg("Final not tracked")
		return
	}
	s.metrics.RecordSegmentCompleted()
	s.metrics.RecordSegmentCreated()

	if s.publisher == nil {
		return
	}
	final := models.TranscriptFinal{
		EventType:     models.EventTypeFinal,
		RecordingID:   s.id,
		CaseID:        s.params.CaseID,
		ClinicID:      s.params.ClinicID,
		Timestamp:     time.Now().UnixMilli(),
		SegmentID:     segmentID,
		Text:          res.Snapshot.Finalized,
		Segment:       res.Appended,
		Confidence:    ev.Confidence,
		AudioOffsetMs: ev.Start.Milliseconds(),
		Speakers:      res.Snapshot.Speakers,
	}
	if err := s.publisher.PublishFinal(r.ctx, s.id, final); err != nil {
		s.log.Warn().Err(err).Str("segmentId", segmentID).Msg("Failed to publish final")
	}
}

func (s *Session) keepAlive(r *run) {
	defer close(r.keepAliveDone)

	ticker := time.NewTicker(s.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.keepAliveStop:
			return
		case <-ticker.C:
			if err := r.stt.KeepAlive(); err != nil {
				s.log.Warn().Err(err).Msg("Keep-alive failed")
				continue
			}
			s.metrics.RecordKeepAlive(s.connector.Name())
		}
	}
}

// stopKeepAlive ends the ticker and waits for it. A run that never started one returns
// immediately.
func (s *Session) stopKeepAlive(r *run) {
	r.keepAliveOnce.Do(func() { close(r.keepAliveStop) })

	r.mu.Lock()
	started := r.keepAliveStarted
	r.mu.Unlock()
	if started {
		<-r.keepAliveDone
	}
}

// finish tears the run down exactly once and returns its Result.
func (s *Session) finish(r *run) *Result {
	r.finishOnce.Do(func() {
		r.result = s.teardown(r)
		close(r.done)
	})
	return r.result
}

func (s *Session) teardown(r *run) *Result {
	s.stopKeepAlive(r)

	cause := r.cause()
	graceful := cause == nil
	if graceful {
		r.stopping.Store(true)
		if err := s.moveTo(StateStopping, nil); err != nil {
			s.log.Warn().Err(err).Msg("Stop from unexpected state")
		}
	}
	r.forwarding.Store(false)

	r.mu.Lock()
	if r.limitTimer != nil {
		r.limitTimer.Stop()
	}
	deviceRefs := r.deviceRefs
	r.deviceRefs = nil
	r.mu.Unlock()

	for _, ref := range deviceRefs {
		s.device.RemoveEventListener(ref.kind, ref.id)
	}
	if err := s.device.Stop(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to stop capture device")
	}

	if graceful {
		if err := r.stt.Finalize(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to flush recognition session")
		} else {
			s.awaitFlush(r)
		}
	}

	r.mu.Lock()
	sttRefs := r.sttRefs
	r.sttRefs = nil
	r.mu.Unlock()

	for _, ref := range sttRefs {
		r.stt.RemoveListener(ref.kind, ref.id)
	}
	s.releaseDevice()
	if err := r.stt.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to close recognition session")
	}
	r.cancel()

	if cause == nil {
		cause = r.cause()
	}

	s.deliverMu.Lock()
	r.finished = true
	snap := s.assembler.Snapshot()
	if cause == nil {
		s.tracker.Close()
	} else if segmentID, hadPartials := s.tracker.Drop(); hadPartials {
		s.metrics.RecordSegmentDropped(failReason(cause))
		s.log.Warn().Str("segmentId", segmentID).Msg("Segment dropped without final")
	}
	segments := s.tracker.Finals()
	s.deliverMu.Unlock()

	res := &Result{
		RecordingID: s.id,
		CaseID:      s.params.CaseID,
		ClinicID:    s.params.ClinicID,
		Transcript:  snap.Finalized,
		Interim:     snap.Interim,
		Speakers:    snap.Speakers,
		Complete:    cause == nil,
		Err:         cause,
		StartedAt:   r.startedAt,
		EndedAt:     time.Now(),
		AudioBytes:  r.audioBytes.Load(),
		Segments:    segments,
	}
	s.metrics.RecordRecordingEnd(failReason(cause), res.Duration().Seconds())

	ev := s.log.Info()
	if cause != nil {
		ev = s.log.Error().Err(cause)
	}
	ev.Int("segments", segments).
		Int64("audioBytes", res.AudioBytes).
		Dur("duration", res.Duration()).
		Msg("Recording ended")

	s.mu.Lock()
	s.result = res
	s.run = nil
	s.mu.Unlock()

	if err := s.moveTo(StateIdle, cause); err != nil {
		s.log.Error().Err(err).Msg("Failed to return to idle")
	}
	return res
}

func (s *Session) awaitFlush(r *run) {
	timer := time.NewTimer(s.cfg.FlushTimeout)
	defer timer.Stop()

	select {
	case <-r.closed:
	case <-timer.C:
		s.log.Warn().Dur("timeout", s.cfg.FlushTimeout).Msg("Timed out waiting for final transcripts")
		r.setErr(fmt.Errorf("%w after %v", ErrFlushTimeout, s.cfg.FlushTimeout))
	}
}

func (s *Session) releaseDevice() {
	if err := s.device.Release(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to release capture device")
	}
}

// abort returns a run that never reached STREAMING to IDLE. The transcript of the
// previous run is left as it was.
func (s *Session) abort(r *run, reason string, cause error) error {
	s.log.Error().Err(cause).Str("reason", reason).Msg("Recording failed to start")
	s.metrics.RecordRecordingFailedBeforeStreaming(reason)

	r.cancel()
	r.result = &Result{
		RecordingID: s.id,
		CaseID:      s.params.CaseID,
		ClinicID:    s.params.ClinicID,
		Err:         cause,
		EndedAt:     time.Now(),
	}

	s.mu.Lock()
	s.run = nil
	s.mu.Unlock()

	if err := s.moveTo(StateIdle, cause); err != nil {
		s.log.Error().Err(err).Msg("Failed to return to idle")
	}
	close(r.done)
	return cause
}

// moveTo applies one transition from the table and notifies subscribers.
func (s *Session) moveTo(to State, cause error) error {
	s.mu.Lock()
	from := s.state
	if !from.CanTransition(to) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.state = to
	s.mu.Unlock()

	s.metrics.RecordTransition(from.String(), to.String())
	s.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("Recording state changed")

	u := Update{Type: UpdateState, RecordingID: s.id, State: to}
	if cause != nil {
		u.Error = cause.Error()
	}

	s.deliverMu.Lock()
	if s.assembler != nil {
		snap := s.assembler.Snapshot()
		u.Display, u.Finalized, u.Interim, u.Speakers = snap.Display, snap.Finalized, snap.Interim, snap.Speakers
	}
	s.subscribers.Emit(UpdateState, u)
	s.deliverMu.Unlock()
	return nil
}

func failReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLimitExceeded):
		return "limit"
	case errors.Is(err, ErrDeviceUnavailable), errors.Is(err, ErrDeviceFailed):
		return "device"
	case errors.Is(err, ErrConnectFailed):
		return "connect"
	case errors.Is(err, ErrRecognitionFailed):
		return "stt_error"
	case errors.Is(err, ErrSessionClosed):
		return "stt_closed"
	case errors.Is(err, ErrFlushTimeout):
		return "flush_timeout"
	default:
		return "unknown"
	}
}
