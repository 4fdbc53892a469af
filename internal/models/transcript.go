// Package models defines the data structures for recognition input and transcript events.
package models

import "time"

// WordToken is one recognized word with optional speaker attribution.
// A nil SpeakerID means the provider could not attribute the word.
type WordToken struct {
	Word       string        `json:"word"`
	SpeakerID  *int          `json:"speakerId,omitempty"`
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Confidence float64       `json:"confidence"`
}

// TranscriptEvent is one message from a recognition stream.
type TranscriptEvent struct {
	IsFinal bool        `json:"isFinal"`
	Text    string      `json:"text"`
	Words   []WordToken `json:"words,omitempty"`

	// Informational only.
	Confidence float64       `json:"confidence"`
	Start      time.Duration `json:"start"`
	Duration   time.Duration `json:"duration"`

	// ReceivedAt is stamped by the adapter when the message arrives.
	ReceivedAt time.Time `json:"receivedAt"`

	// Sequence is a provider-assigned event number. Zero means the provider has none.
	Sequence uint64 `json:"sequence,omitempty"`
}

// SpeakerUtterance is the accumulated text for one speaker key.
type SpeakerUtterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Event types published for downstream consumers.
const (
	EventTypePartial = "recording.transcript.partial"
	EventTypeFinal   = "recording.transcript.final"
	EventTypeSaved   = "recording.transcript.saved"
)

// TranscriptPartial represents a transient display update. Consumers must expect it to be
// superseded by the next partial or final for the same recording.
type TranscriptPartial struct {
	EventType   string `json:"eventType"`
	RecordingID string `json:"recordingId"`
	CaseID      string `json:"caseId"`
	ClinicID    string `json:"clinicId"`
	Timestamp   int64  `json:"timestamp"`
	SegmentID   string `json:"segmentId"`
	Text        string `json:"text"`
	Interim     string `json:"interim"`
}

// TranscriptFinal represents durable content: Text is the full finalized transcript so far.
type TranscriptFinal struct {
	EventType     string             `json:"eventType"`
	RecordingID   string             `json:"recordingId"`
	CaseID        string             `json:"caseId"`
	ClinicID      string             `json:"clinicId"`
	Timestamp     int64              `json:"timestamp"`
	SegmentID     string             `json:"segmentId"`
	Text          string             `json:"text"`
	Segment       string             `json:"segment"`
	Confidence    float64            `json:"confidence"`
	AudioOffsetMs int64              `json:"audioOffsetMs"`
	Speakers      []SpeakerUtterance `json:"speakers,omitempty"`
}

// TranscriptSaved is published once a transcript has been persisted against a case.
type TranscriptSaved struct {
	EventType    string             `json:"eventType"`
	RecordingID  string             `json:"recordingId"`
	CaseID       string             `json:"caseId"`
	ClinicID     string             `json:"clinicId"`
	Timestamp    int64              `json:"timestamp"`
	TranscriptID int64              `json:"transcriptId"`
	Text         string             `json:"text"`
	Speakers     []SpeakerUtterance `json:"speakers,omitempty"`
	Complete     bool               `json:"complete"`
}
