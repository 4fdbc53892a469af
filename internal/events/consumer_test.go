package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"vet-scribe-service/internal/models"
)

func TestDecodeEnvelope(t *testing.T) {
	final := models.TranscriptFinal{
		EventType:   models.EventTypeFinal,
		RecordingID: "rec-1",
		CaseID:      "case-7",
		SegmentID:   "seg-1",
		Text:        "Max is limping.",
		Segment:     "Max is limping.",
	}
	value, err := json.Marshal(final)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	env, err := decodeEnvelope("vet.recording.transcript.final", value)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.RecordingID != "rec-1" || env.CaseID != "case-7" {
		t.Errorf("expected rec-1/case-7, got %s/%s", env.RecordingID, env.CaseID)
	}
	if env.EventType != models.EventTypeFinal {
		t.Errorf("expected %s, got %s", models.EventTypeFinal, env.EventType)
	}
	if env.Topic != "vet.recording.transcript.final" {
		t.Errorf("expected topic to be kept, got %s", env.Topic)
	}
	if string(env.Payload) != string(value) {
		t.Errorf("expected payload forwarded untouched, got %s", env.Payload)
	}
}

func TestDecodeEnvelope_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"not json", "partial transcript"},
		{"no recording", `{"eventType":"recording.transcript.partial","text":"hi"}`},
		{"empty object", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeEnvelope("t", []byte(tt.value)); err == nil {
				t.Error("expected error")
			}
		})
	}

	_, err := decodeEnvelope("t", []byte(`{"text":"hi"}`))
	if !errors.Is(err, errNoRecording) {
		t.Errorf("expected errNoRecording, got %v", err)
	}
}

func TestConsumer_RunStopsWithContext(t *testing.T) {
	c := NewConsumer(ConsumerConfig{Brokers: []string{"127.0.0.1:1"}, Topic: "vet.recording.transcript.partial"})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(Envelope) { t.Error("unexpected event") })
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil after cancel, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected Run to return after context cancel")
	}
}
