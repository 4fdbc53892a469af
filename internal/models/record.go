package models

import "time"

// TranscriptRecord is a transcript saved against a case.
type TranscriptRecord struct {
	ID          int64              `json:"id"`
	RecordingID string             `json:"recordingId"`
	CaseID      string             `json:"caseId"`
	ClinicID    string             `json:"clinicId"`
	CreatedAt   time.Time          `json:"createdAt"`
	Content     string             `json:"content"`
	Speakers    []SpeakerUtterance `json:"speakers,omitempty"`

	// Complete is false when the recording ended with an error; Error then holds the cause.
	Complete bool   `json:"complete"`
	Error    string `json:"error,omitempty"`

	SOAPNote *SOAPNote `json:"soapNote,omitempty"`
}

// SOAPNote is a clinical note generated from a transcript.
type SOAPNote struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}
