// Package transcript folds a stream of interim and final recognition events into one
// de-duplicated running transcript and a per-speaker breakdown.
//
// The Assembler is a plain state machine: it performs no I/O, never blocks, and is not
// safe for concurrent use. The recording session that owns it serializes delivery.
package transcript

import (
	"fmt"
	"strings"

	"vet-scribe-service/internal/models"
)

const (
	// DefaultOverlapWindow is the maximum number of leading words of a final event that
	// are checked against the tail of the finalized transcript.
	DefaultOverlapWindow = 5

	// DefaultFingerprintPrefix is the number of leading characters of the event text
	// that take part in the duplicate-delivery fingerprint.
	DefaultFingerprintPrefix = 32
)

// Outcome describes what Consume did with an event.
type Outcome int

const (
	// OutcomeIgnoredEmpty - event had no text; state untouched.
	OutcomeIgnoredEmpty Outcome = iota
	// OutcomeIgnoredDuplicate - event matched the last fingerprint; state untouched.
	OutcomeIgnoredDuplicate
	// OutcomeInterim - interim text replaced.
	OutcomeInterim
	// OutcomeFinal - final text folded into the finalized transcript.
	OutcomeFinal
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeIgnoredEmpty:
		return "IGNORED_EMPTY"
	case OutcomeIgnoredDuplicate:
		return "IGNORED_DUPLICATE"
	case OutcomeInterim:
		return "INTERIM"
	case OutcomeFinal:
		return "FINAL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", o)
	}
}

// Snapshot is a copy of the assembler state at one point in time.
type Snapshot struct {
	Finalized   string
	Interim     string
	Display     string
	Speakers    []models.SpeakerUtterance
	Fingerprint string
}

// Result is returned by Consume.
type Result struct {
	Outcome  Outcome
	Snapshot Snapshot

	// Appended is the text actually added to the finalized transcript (final path only).
	Appended string
	// ElidedWords is the number of leading words dropped by overlap elision.
	ElidedWords int
}

// Accepted reports whether the event changed what downstream listeners should render.
func (r Result) Accepted() bool {
	return r.Outcome == OutcomeInterim || r.Outcome == OutcomeFinal
}

// Durable reports whether the result carries finalized content.
func (r Result) Durable() bool {
	return r.Outcome == OutcomeFinal
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithOverlapWindow sets how many leading words of a final event are considered for
// overlap elision. Values below 1 disable elision.
func WithOverlapWindow(words int) Option {
	return func(a *Assembler) {
		a.overlapWindow = words
	}
}

// WithFingerprintPrefix sets how many leading characters of the text are fingerprinted.
func WithFingerprintPrefix(chars int) Option {
	return func(a *Assembler) {
		if chars > 0 {
			a.fingerprintPrefix = chars
		}
	}
}

// Assembler owns one recording's transcript state.
type Assembler struct {
	overlapWindow     int
	fingerprintPrefix int

	finalized       string
	interim         string
	speakers        speakerMap
	lastFingerprint string
}

// New creates an empty Assembler.
func New(opts ...Option) *Assembler {
	a := &Assembler{
		overlapWindow:     DefaultOverlapWindow,
		fingerprintPrefix: DefaultFingerprintPrefix,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Consume folds one event into the state and returns the resulting snapshot.
func (a *Assembler) Consume(ev models.TranscriptEvent) Result {
	text := strings.TrimSpace(strings.ToValidUTF8(ev.Text, ""))
	if text == "" {
		return Result{Outcome: OutcomeIgnoredEmpty, Snapshot: a.Snapshot()}
	}

	fp := fingerprint(ev, text, a.fingerprintPrefix)
	if fp == a.lastFingerprint {
		return Result{Outcome: OutcomeIgnoredDuplicate, Snapshot: a.Snapshot()}
	}
	a.lastFingerprint = fp

	if !ev.IsFinal {
		a.interim = text
		return Result{Outcome: OutcomeInterim, Snapshot: a.Snapshot()}
	}

	appended, elided := a.appendFinal(text)
	a.interim = ""
	if len(ev.Words) > 0 {
		a.segmentSpeakers(ev.Words)
	}

	return Result{
		Outcome:     OutcomeFinal,
		Snapshot:    a.Snapshot(),
		Appended:    appended,
		ElidedWords: elided,
	}
}

// appendFinal adds text to the finalized transcript, skipping any leading words that
// the transcript already ends with.
func (a *Assembler) appendFinal(text string) (string, int) {
	if endsWithPhrase(a.finalized, text) {
		return "", 0
	}

	words := wordCount(text)
	limit := min(a.overlapWindow, words)
	overlap := 0
	for k := 1; k <= limit; k++ {
		head, _ := splitWords(text, k)
		if endsWithPhrase(a.finalized, head) {
			overlap = k
		}
	}

	addition := text
	if overlap > 0 {
		_, addition = splitWords(text, overlap)
	}
	a.finalized = joinText(a.finalized, addition)
	return addition, overlap
}

// Finalized returns the durable transcript.
func (a *Assembler) Finalized() string {
	return a.finalized
}

// Interim returns the provisional text.
func (a *Assembler) Interim() string {
	return a.interim
}

// Display returns the finalized transcript followed by the interim text.
func (a *Assembler) Display() string {
	return joinText(a.finalized, a.interim)
}

// Snapshot copies the current state.
func (a *Assembler) Snapshot() Snapshot {
	return Snapshot{
		Finalized:   a.finalized,
		Interim:     a.interim,
		Display:     a.Display(),
		Speakers:    a.speakers.list(),
		Fingerprint: a.lastFingerprint,
	}
}

// Reset clears all state, keeping the configured options.
func (a *Assembler) Reset() {
	a.finalized = ""
	a.interim = ""
	a.speakers = speakerMap{}
	a.lastFingerprint = ""
}
