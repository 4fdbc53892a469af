// Package stt defines the recognition-session collaborator used by recording sessions.
//
// A Connector opens a streaming Session against a speech-to-text provider (Deepgram,
// Google, or the mock). Sessions deliver events through a listener interface rather
// than channels so that a recording can scope its registrations to the time it is
// streaming.
package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"vet-scribe-service/internal/models"
	"vet-scribe-service/internal/service/listener"
)

// ErrSessionClosed is returned when sending on a session that has been closed.
var ErrSessionClosed = errors.New("stt: session closed")

// EventKind identifies what a session is reporting.
type EventKind int

const (
	// EventOpen - the provider accepted the stream and is ready for audio.
	EventOpen EventKind = iota
	// EventTranscript - an interim or final recognition result.
	EventTranscript
	// EventError - the stream failed; a close event follows.
	EventError
	// EventClose - the stream ended, either after Finalize/Close or unexpectedly.
	EventClose
)

// String returns the string representation of the kind.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventTranscript:
		return "transcript"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Event is one notification from a Session.
type Event struct {
	Kind       EventKind
	Transcript models.TranscriptEvent
	Err        error
}

// Handler receives session events. Handlers run on the provider's goroutine and must
// not block for long.
type Handler func(Event)

// StreamConfig is the fixed configuration a recording opens its session with.
type StreamConfig struct {
	Language       string
	SampleRateHz   int
	Channels       int
	Encoding       string
	InterimResults bool
	Diarize        bool
	Punctuate      bool
	Model          string
}

// Session is an open recognition stream.
type Session interface {
	// AddListener registers h for kind. Adding an open listener after the session
	// opened invokes it immediately.
	AddListener(kind EventKind, h Handler) listener.ID

	// RemoveListener unregisters a handler added with AddListener.
	RemoveListener(kind EventKind, id listener.ID) bool

	// Send pushes one audio chunk to the provider.
	Send(chunk []byte) error

	// KeepAlive prevents the provider from closing an idle stream.
	KeepAlive() error

	// Finalize asks the provider to flush pending results and end the stream.
	// Remaining transcript events and a close event follow.
	Finalize() error

	// Close ends the session immediately and releases resources.
	Close() error
}

// Connector opens sessions against one provider.
type Connector interface {
	Name() string
	Connect(ctx context.Context, cfg StreamConfig) (Session, error)
}

// Listeners implements the listener half of Session for provider implementations.
// It latches the open and close events so each is delivered at most once.
type Listeners struct {
	reg *listener.Registry[EventKind, Event]

	mu     sync.Mutex
	opened bool
	closed bool
}

// NewListeners creates an empty listener set.
func NewListeners() *Listeners {
	return &Listeners{reg: listener.New[EventKind, Event]()}
}

// AddListener registers h for kind.
func (l *Listeners) AddListener(kind EventKind, h Handler) listener.ID {
	l.mu.Lock()
	if kind == EventOpen && l.opened {
		l.mu.Unlock()
		h(Event{Kind: EventOpen})
		return 0
	}
	id := l.reg.Add(kind, h)
	l.mu.Unlock()
	return id
}

// RemoveListener unregisters id.
func (l *Listeners) RemoveListener(_ EventKind, id listener.ID) bool {
	return l.reg.Remove(id)
}

// Emit delivers ev to the listeners of its kind. Repeated open or close events, and
// any event after close, are dropped.
func (l *Listeners) Emit(ev Event) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	switch ev.Kind {
	case EventOpen:
		if l.opened {
			l.mu.Unlock()
			return
		}
		l.opened = true
	case EventClose:
		l.closed = true
	}
	l.mu.Unlock()

	l.reg.Emit(ev.Kind, ev)
}

// Opened reports whether the open event has been emitted.
func (l *Listeners) Opened() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened
}

// Closed reports whether the close event has been emitted.
func (l *Listeners) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// ListenerCount returns the number of registered handlers across all kinds.
func (l *Listeners) ListenerCount() int {
	return l.reg.Total()
}
