package recording

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"vet-scribe-service/internal/models"
	"vet-scribe-service/internal/observability/metrics"
	"vet-scribe-service/internal/service/capture"
	"vet-scribe-service/internal/service/stt"
)

// testMetrics avoids registering on the default registry.
func testMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

// fakeDevice is a capture device driven by the test. Release keeps the listeners so
// tests can see what the session left registered.
type fakeDevice struct {
	*capture.Emitter

	mu       sync.Mutex
	openErr  error
	startErr error
	opened   int
	started  int
	stopped  int
	released int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{Emitter: capture.NewEmitter()}
}

func (d *fakeDevice) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return d.openErr
	}
	d.opened++
	return nil
}

func (d *fakeDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.started++
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped++
	return nil
}

func (d *fakeDevice) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released++
	return nil
}

func (d *fakeDevice) Format() capture.Format {
	return capture.Format{SampleRateHz: 16000, Channels: 1, BitsPerSample: 16}
}

func (d *fakeDevice) push(data []byte) {
	d.Emit(capture.Event{Kind: capture.EventDataAvailable, Data: data})
}

func (d *fakeDevice) setOpenErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErr = err
}

func (d *fakeDevice) releasedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

// fakeSTT is a recognition session that opens immediately and records calls.
type fakeSTT struct {
	*stt.Listeners

	closeOnFinalize bool
	onKeepAlive     func()

	sent       atomic.Int32
	keepAlives atomic.Int32
	finalized  atomic.Bool
	closed     atomic.Bool
}

func (f *fakeSTT) Send(chunk []byte) error {
	if f.closed.Load() {
		return stt.ErrSessionClosed
	}
	f.sent.Add(1)
	return nil
}

// KeepAlive counts even after close so a leaked ticker would show.
func (f *fakeSTT) KeepAlive() error {
	f.keepAlives.Add(1)
	if f.onKeepAlive != nil {
		f.onKeepAlive()
	}
	return nil
}

func (f *fakeSTT) Finalize() error {
	f.finalized.Store(true)
	if f.closeOnFinalize {
		go f.Emit(stt.Event{Kind: stt.EventClose})
	}
	return nil
}

func (f *fakeSTT) Close() error {
	f.closed.Store(true)
	f.Emit(stt.Event{Kind: stt.EventClose})
	return nil
}

func (f *fakeSTT) transcript(text string, final bool) {
	f.Emit(stt.Event{Kind: stt.EventTranscript, Transcript: models.TranscriptEvent{
		IsFinal:    final,
		Text:       text,
		ReceivedAt: time.Now(),
	}})
}

type fakeConnector struct {
	closeOnFinalize bool
	onKeepAlive     func()

	mu      sync.Mutex
	last    *fakeSTT
	configs []stt.StreamConfig
}

func (c *fakeConnector) Name() string { return "fake" }

func (c *fakeConnector) Connect(ctx context.Context, cfg stt.StreamConfig) (stt.Session, error) {
	f := &fakeSTT{Listeners: stt.NewListeners(), closeOnFinalize: c.closeOnFinalize, onKeepAlive: c.onKeepAlive}
	f.Emit(stt.Event{Kind: stt.EventOpen})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = f
	c.configs = append(c.configs, cfg)
	return f, nil
}

func (c *fakeConnector) session() *fakeSTT {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// fakePublisher records published events.
type fakePublisher struct {
	mu       sync.Mutex
	partials []models.TranscriptPartial
	finals   []models.TranscriptFinal
	saved    []models.TranscriptSaved
}

func (p *fakePublisher) PublishPartial(_ context.Context, _ string, ev models.TranscriptPartial) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.partials = append(p.partials, ev)
	return nil
}

func (p *fakePublisher) PublishFinal(_ context.Context, _ string, ev models.TranscriptFinal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finals = append(p.finals, ev)
	return nil
}

func (p *fakePublisher) PublishSaved(_ context.Context, _ string, ev models.TranscriptSaved) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, ev)
	return nil
}

// fakeStore keeps saved transcripts in memory.
type fakeStore struct {
	mu      sync.Mutex
	records []models.TranscriptRecord
	err     error
}

func (s *fakeStore) SaveTranscript(_ context.Context, rec models.TranscriptRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	rec.ID = int64(len(s.records) + 1)
	s.records = append(s.records, rec)
	return rec.ID, nil
}

// fakeHub records broadcasts per recording.
type fakeHub struct {
	mu    sync.Mutex
	count map[string]int
}

func (h *fakeHub) Broadcast(recordingID string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == nil {
		h.count = make(map[string]int)
	}
	h.count[recordingID]++
}

func (h *fakeHub) broadcasts(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count[id]
}

// updateLog collects subscriber updates.
type updateLog struct {
	mu      sync.Mutex
	updates []Update
}

func (l *updateLog) add(u Update) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, u)
}

func (l *updateLog) states() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	var states []State
	for _, u := range l.updates {
		if u.Type == UpdateState {
			states = append(states, u.State)
		}
	}
	return states
}

func (l *updateLog) transcripts() []Update {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Update
	for _, u := range l.updates {
		if u.Type == UpdateTranscript {
			out = append(out, u)
		}
	}
	return out
}

func waitUntil(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for recording to end, state %s", s.State())
	}
}

var errMicBusy = errors.New("microphone busy")

func deviceError(err error) capture.Event {
	return capture.Event{Kind: capture.EventError, Err: err}
}
