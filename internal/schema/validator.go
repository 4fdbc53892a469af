// Package schema validates outbound transcript event payloads before they are published.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"vet-scribe-service/internal/models"
)

// ErrInvalidEvent wraps every validation failure.
var ErrInvalidEvent = errors.New("schema: invalid event")

// Validator checks the required fields of each published event type.
type Validator struct{}

// New creates a validator.
func New() *Validator {
	return &Validator{}
}

// Validate returns an error wrapping ErrInvalidEvent when a required field is missing.
// Unknown event types pass through unchecked.
func (v *Validator) Validate(event any) error {
	var missing []string
	require := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}

	switch e := event.(type) {
	case models.TranscriptPartial:
		require("eventType", e.EventType)
		require("recordingId", e.RecordingID)
		require("segmentId", e.SegmentID)
	case *models.TranscriptPartial:
		return v.Validate(*e)
	case models.TranscriptFinal:
		require("eventType", e.EventType)
		require("recordingId", e.RecordingID)
		require("segmentId", e.SegmentID)
		require("segment", e.Segment)
	case *models.TranscriptFinal:
		return v.Validate(*e)
	case models.TranscriptSaved:
		require("eventType", e.EventType)
		require("recordingId", e.RecordingID)
		require("caseId", e.CaseID)
		if e.TranscriptID <= 0 {
			missing = append(missing, "transcriptId")
		}
	case *models.TranscriptSaved:
		return v.Validate(*e)
	default:
		return nil
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidEvent, strings.Join(missing, ", "))
	}
	return nil
}
