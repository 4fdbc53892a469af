// Package capture defines the audio-capture collaborator of a recording session and
// the devices that implement it: a push-fed stream for remote clients, a paced reader
// for files, and (in the portaudio subpackage) a local microphone.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"vet-scribe-service/internal/service/listener"
)

var (
	// ErrNotOpen is returned when starting a device that was not opened.
	ErrNotOpen = errors.New("capture: device not open")

	// ErrReleased is returned when using a device after Release.
	ErrReleased = errors.New("capture: device released")
)

// EventKind identifies a device notification.
type EventKind int

const (
	// EventDataAvailable carries one chunk of captured audio.
	EventDataAvailable EventKind = iota
	// EventError reports a capture failure.
	EventError
	// EventEnded reports that the source has no more audio.
	EventEnded
)

// String returns the string representation of the kind.
func (k EventKind) String() string {
	switch k {
	case EventDataAvailable:
		return "dataAvailable"
	case EventError:
		return "error"
	case EventEnded:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Event is one device notification.
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

// Handler receives device events.
type Handler func(Event)

// Format describes raw PCM audio.
type Format struct {
	SampleRateHz  int
	Channels      int
	BitsPerSample int
}

// BytesPerSecond returns the data rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRateHz * f.Channels * f.BitsPerSample / 8
}

// Device is an audio source owned by one recording at a time.
type Device interface {
	// Open acquires the device and blocks until it is ready.
	Open(ctx context.Context) error

	AddEventListener(kind EventKind, h Handler) listener.ID
	RemoveEventListener(kind EventKind, id listener.ID) bool

	// Start begins delivering dataAvailable events.
	Start() error

	// Stop pauses delivery. The device stays acquired.
	Stop() error

	// Release frees the device. It cannot be reopened.
	Release() error

	Format() Format
}

// Emitter implements the listener half of Device. Nothing is emitted after ended.
type Emitter struct {
	reg *listener.Registry[EventKind, Event]

	mu    sync.Mutex
	ended bool
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{reg: listener.New[EventKind, Event]()}
}

// AddEventListener registers h for kind.
func (e *Emitter) AddEventListener(kind EventKind, h Handler) listener.ID {
	return e.reg.Add(kind, h)
}

// RemoveEventListener unregisters id.
func (e *Emitter) RemoveEventListener(_ EventKind, id listener.ID) bool {
	return e.reg.Remove(id)
}

// Emit delivers ev to the listeners of its kind.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	if e.ended {
		e.mu.Unlock()
		return
	}
	if ev.Kind == EventEnded {
		e.ended = true
	}
	e.mu.Unlock()

	e.reg.Emit(ev.Kind, ev)
}

// ListenerCount returns the number of registered handlers across all kinds.
func (e *Emitter) ListenerCount() int {
	return e.reg.Total()
}

// ClearListeners drops every registration.
func (e *Emitter) ClearListeners() {
	e.reg.Clear()
}
