// Package mock provides a simulated recognition provider for local runs and tests
// without cloud credentials. It produces progressive interim transcripts, exactly one
// final per utterance, and diarized word tokens.
package mock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"vet-scribe-service/internal/models"
	"vet-scribe-service/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive interim transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
	Speaker    int      // Diarized speaker for every word of the final
}

// DefaultUtterances is a short consult between a vet (speaker 0) and an owner (speaker 1).
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"Max is", "Max is limp"},
		Final:      "Max is limping on his right leg.",
		Confidence: 0.94,
		Speaker:    1,
	},
	{
		Partials:   []string{"He also"},
		Final:      "He also seems lethargic.",
		Confidence: 0.95,
		Speaker:    1,
	},
	{
		Partials:   []string{"How long", "How long has this"},
		Final:      "How long has this been going on?",
		Confidence: 0.92,
		Speaker:    0,
	},
	{
		Partials:   []string{"Since", "Since Tuesday"},
		Final:      "Since Tuesday after his walk.",
		Confidence: 0.90,
		Speaker:    1,
	},
	{
		Partials:   []string{"Let's take", "Let's take a look at"},
		Final:      "Let's take a look at that leg.",
		Confidence: 0.97,
		Speaker:    0,
	},
}

// utteranceSpacing is the simulated audio offset between consecutive utterances.
const utteranceSpacing = 3 * time.Second

// ErrSimulatedFailure is emitted when a session is configured to fail.
var ErrSimulatedFailure = errors.New("mock: simulated provider failure")

// Session is a simulated recognition stream. Each Send advances the current utterance
// by one interim; once the interims are exhausted the next Send produces the final.
type Session struct {
	*stt.Listeners

	utterances      []SimulatedUtterance
	eventDelay      time.Duration
	openDelay       time.Duration
	failAfter       int
	duplicateFinals bool

	mu           sync.Mutex
	current      int // index into utterances
	spoken       int // utterances finalized so far, drives audio offsets
	partialIndex int
	chunks       int
	bytes        int
	keepAlives   int
	finalizing   bool
	closed       bool

	queue     chan stt.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(utterances []SimulatedUtterance, start int, o options) *Session {
	s := &Session{
		Listeners:       stt.NewListeners(),
		utterances:      utterances,
		current:         start,
		eventDelay:      o.eventDelay,
		openDelay:       o.openDelay,
		failAfter:       o.failAfterChunks,
		duplicateFinals: o.duplicateFinals,
		queue:           make(chan stt.Event, 256),
		done:            make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// dispatch delivers queued events in order on a single goroutine.
func (s *Session) dispatch() {
	if !s.sleep(s.openDelay) {
		return
	}
	s.Emit(stt.Event{Kind: stt.EventOpen})

	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			if !s.sleep(s.eventDelay) {
				return
			}
			s.Emit(ev)
			if ev.Kind == stt.EventClose {
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.done:
		return false
	}
}

// enqueue must be called with s.mu held.
func (s *Session) enqueue(ev stt.Event) {
	select {
	case s.queue <- ev:
	case <-s.done:
	}
}

// Send simulates receiving audio and triggers progressive transcripts.
func (s *Session) Send(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.finalizing {
		return stt.ErrSessionClosed
	}

	s.chunks++
	s.bytes += len(chunk)

	if s.failAfter > 0 && s.chunks >= s.failAfter {
		s.finalizing = true
		s.enqueue(stt.Event{Kind: stt.EventError, Err: ErrSimulatedFailure})
		s.enqueue(stt.Event{Kind: stt.EventClose, Err: ErrSimulatedFailure})
		return nil
	}

	utt := s.utterances[s.current]
	if s.partialIndex < len(utt.Partials) {
		s.enqueue(s.transcript(utt.Partials[s.partialIndex], false, utt))
		s.partialIndex++
		return nil
	}

	s.emitFinal(utt)
	return nil
}

// emitFinal queues the final for utt and moves to the next utterance.
func (s *Session) emitFinal(utt SimulatedUtterance) {
	ev := s.transcript(utt.Final, true, utt)
	s.enqueue(ev)
	if s.duplicateFinals {
		s.enqueue(ev)
	}
	s.spoken++
	s.current = (s.current + 1) % len(s.utterances)
	s.partialIndex = 0
}

func (s *Session) transcript(text string, final bool, utt SimulatedUtterance) stt.Event {
	offset := time.Duration(s.spoken) * utteranceSpacing
	ev := models.TranscriptEvent{
		IsFinal:    final,
		Text:       text,
		Start:      offset,
		ReceivedAt: time.Now(),
	}
	if final {
		ev.Confidence = utt.Confidence
		ev.Words = wordTokens(text, utt.Speaker, offset)
		ev.Duration = time.Duration(len(ev.Words)) * 300 * time.Millisecond
	}
	return stt.Event{Kind: stt.EventTranscript, Transcript: ev}
}

func wordTokens(text string, speaker int, offset time.Duration) []models.WordToken {
	fields := strings.Fields(text)
	words := make([]models.WordToken, 0, len(fields))
	for i, w := range fields {
		id := speaker
		start := offset + time.Duration(i)*300*time.Millisecond
		words = append(words, models.WordToken{
			Word:       w,
			SpeakerID:  &id,
			Start:      start,
			End:        start + 250*time.Millisecond,
			Confidence: 0.9,
		})
	}
	return words
}

// KeepAlive records a keep-alive.
func (s *Session) KeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return stt.ErrSessionClosed
	}
	s.keepAlives++
	return nil
}

// Finalize flushes the utterance in progress, if any, and then closes the stream.
func (s *Session) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return stt.ErrSessionClosed
	}
	if s.finalizing {
		return nil
	}
	s.finalizing = true

	if s.partialIndex > 0 {
		s.emitFinal(s.utterances[s.current])
	}
	s.enqueue(stt.Event{Kind: stt.EventClose})
	return nil
}

// Close ends the session immediately. Queued events are dropped.
func (s *Session) Close() error {
	s.shutdown()
	s.Emit(stt.Event{Kind: stt.EventClose})
	return nil
}

func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.done)
		s.mu.Unlock()
	})
}

// Chunks returns the number of audio chunks received.
func (s *Session) Chunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks
}

// BytesReceived returns the number of audio bytes received.
func (s *Session) BytesReceived() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// KeepAlives returns the number of keep-alives received.
func (s *Session) KeepAlives() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keepAlives
}

// IsClosed reports whether the session has shut down.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type options struct {
	utterances      []SimulatedUtterance
	openDelay       time.Duration
	eventDelay      time.Duration
	connectErr      error
	failAfterChunks int
	duplicateFinals bool
}

// Option configures a Connector.
type Option func(*options)

// WithUtterances replaces the default script.
func WithUtterances(u []SimulatedUtterance) Option {
	return func(o *options) {
		if len(u) > 0 {
			o.utterances = u
		}
	}
}

// WithOpenDelay delays the open event.
func WithOpenDelay(d time.Duration) Option {
	return func(o *options) { o.openDelay = d }
}

// WithEventDelay simulates processing latency before each event.
func WithEventDelay(d time.Duration) Option {
	return func(o *options) { o.eventDelay = d }
}

// WithConnectError makes every Connect fail with err.
func WithConnectError(err error) Option {
	return func(o *options) { o.connectErr = err }
}

// WithFailAfter makes sessions fail once n chunks have been received.
func WithFailAfter(n int) Option {
	return func(o *options) { o.failAfterChunks = n }
}

// WithDuplicateFinals makes sessions deliver every final twice.
func WithDuplicateFinals() Option {
	return func(o *options) { o.duplicateFinals = true }
}

// Connector opens mock sessions. Consecutive sessions start at consecutive utterances.
type Connector struct {
	opts options

	mu   sync.Mutex
	next int
	last *Session
}

// New creates a mock connector.
func New(opts ...Option) *Connector {
	o := options{
		utterances: DefaultUtterances,
		openDelay:  10 * time.Millisecond,
		eventDelay: 50 * time.Millisecond,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return &Connector{opts: o}
}

// Name returns the provider name.
func (c *Connector) Name() string {
	return "mock"
}

// Connect opens a simulated session.
func (c *Connector) Connect(ctx context.Context, _ stt.StreamConfig) (stt.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("mock: connect: %w", err)
	}
	if c.opts.connectErr != nil {
		return nil, fmt.Errorf("mock: connect: %w", c.opts.connectErr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.next % len(c.opts.utterances)
	c.next++
	c.last = newSession(c.opts.utterances, start, c.opts)
	return c.last, nil
}

// Last returns the most recently opened session.
func (c *Connector) Last() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
