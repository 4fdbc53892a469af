// Package segment assigns utterance segment ids to the transcript events a recording
// publishes and enforces the per-segment lifecycle: interims while open, one final,
// and a drop when the recording fails mid-utterance.
package segment

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Generator produces process-unique segment ids.
type Generator struct {
	counter atomic.Uint64
}

// NewGenerator creates a generator starting at 1.
func NewGenerator() *Generator {
	return &Generator{}
}

// Next returns "<recordingID>-seg-<n>".
func (g *Generator) Next(recordingID string) string {
	return fmt.Sprintf("%s-seg-%d", recordingID, g.counter.Add(1))
}

// Phase is the lifecycle phase of the current segment.
type Phase int

const (
	// PhaseOpen - accepting interims; no final yet.
	PhaseOpen Phase = iota
	// PhaseDropped - abandoned without a final after a failure. Terminal.
	PhaseDropped
	// PhaseClosed - the tracker was closed after a clean stop. Terminal.
	PhaseClosed
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "OPEN"
	case PhaseDropped:
		return "DROPPED"
	case PhaseClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", p)
	}
}

var (
	// ErrPartialLimit is returned once a segment has received its maximum interims.
	ErrPartialLimit = errors.New("segment: partial limit reached")

	// ErrTrackerClosed is returned after Close or Drop.
	ErrTrackerClosed = errors.New("segment: tracker closed")
)

// Tracker follows the utterance segments of one recording. A final closes the open
// segment and opens the next one.
type Tracker struct {
	mu          sync.Mutex
	gen         *Generator
	recordingID string
	maxPartials int

	current  string
	partials int
	finals   int
	phase    Phase
}

// NewTracker creates a tracker with its first segment open. maxPartials <= 0 disables
// the interim cap.
func NewTracker(gen *Generator, recordingID string, maxPartials int) *Tracker {
	return &Tracker{
		gen:         gen,
		recordingID: recordingID,
		maxPartials: maxPartials,
		current:     gen.Next(recordingID),
		phase:       PhaseOpen,
	}
}

// Current returns the open segment id.
func (t *Tracker) Current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Phase returns the phase of the current segment.
func (t *Tracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Partial records an interim for the open segment and returns its id.
func (t *Tracker) Partial() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase != PhaseOpen {
		return "", ErrTrackerClosed
	}
	if t.maxPartials > 0 && t.partials >= t.maxPartials {
		return t.current, ErrPartialLimit
	}
	t.partials++
	return t.current, nil
}

// Final closes the open segment, opens the next one and returns the closed id together
// with its zero-based position in the recording.
func (t *Tracker) Final() (string, int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase != PhaseOpen {
		return "", 0, ErrTrackerClosed
	}
	id, index := t.current, t.finals
	t.finals++
	t.current = t.gen.Next(t.recordingID)
	t.partials = 0
	return id, index, nil
}

// Drop abandons the open segment. It reports the id when the segment had interims
// that never finalized.
func (t *Tracker) Drop() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase != PhaseOpen {
		return "", false
	}
	t.phase = PhaseDropped
	return t.current, t.partials > 0
}

// Close ends tracking after a clean stop. Idempotent.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase == PhaseOpen {
		t.phase = PhaseClosed
	}
}

// Finals returns the number of finalized segments.
func (t *Tracker) Finals() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finals
}
