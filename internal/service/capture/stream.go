package capture

import (
	"context"
	"sync"
)

// DefaultMaxPending bounds the audio buffered by a Stream before it is started.
const DefaultMaxPending = 512 * 1024

// Stream is a push-fed device for audio arriving over the network. Chunks pushed
// before Start are buffered up to a limit and flushed on Start so the beginning of a
// consult is not lost while the recognition session connects.
type Stream struct {
	*Emitter

	format     Format
	maxPending int

	mu           sync.Mutex
	opened       bool
	started      bool
	stopped      bool
	released     bool
	pending      [][]byte
	pendingBytes int
	dropped      int
}

// NewStream creates a stream device for audio in the given format.
func NewStream(format Format) *Stream {
	return &Stream{
		Emitter:    NewEmitter(),
		format:     format,
		maxPending: DefaultMaxPending,
	}
}

// Open marks the device acquired. A remote stream is ready as soon as it exists.
func (s *Stream) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrReleased
	}
	s.opened = true
	return nil
}

// Start flushes buffered audio and begins delivering pushed chunks.
func (s *Stream) Start() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrReleased
	}
	if !s.opened {
		s.mu.Unlock()
		return ErrNotOpen
	}
	s.started = true
	s.stopped = false
	pending := s.pending
	s.pending = nil
	s.pendingBytes = 0
	s.mu.Unlock()

	for _, chunk := range pending {
		s.Emit(Event{Kind: EventDataAvailable, Data: chunk})
	}
	return nil
}

// Stop pauses delivery; pushes are dropped until the next Start.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.stopped = true
	}
	s.started = false
	return nil
}

// Release frees the stream and drops its listeners.
func (s *Stream) Release() error {
	s.mu.Lock()
	s.released = true
	s.started = false
	s.pending = nil
	s.pendingBytes = 0
	s.mu.Unlock()

	s.ClearListeners()
	return nil
}

// Format returns the audio format.
func (s *Stream) Format() Format {
	return s.format
}

// Push delivers one chunk from the remote client.
func (s *Stream) Push(chunk []byte) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	if !s.started {
		if s.opened && !s.stopped && s.pendingBytes+len(chunk) <= s.maxPending {
			s.pending = append(s.pending, chunk)
			s.pendingBytes += len(chunk)
		} else {
			s.dropped++
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.Emit(Event{Kind: EventDataAvailable, Data: chunk})
}

// Fail reports a transport failure from the remote client.
func (s *Stream) Fail(err error) {
	s.Emit(Event{Kind: EventError, Err: err})
}

// End reports that the remote client finished sending.
func (s *Stream) End() {
	s.Emit(Event{Kind: EventEnded})
}

// Dropped returns the number of chunks discarded while the stream was not running.
func (s *Stream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
