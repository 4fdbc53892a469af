package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestInitWriter_JSONWithLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(Config{Level: "warn", Format: "json"}, &buf)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Info().Msg("hidden")
	log.Warn().Str("caseId", "case-1").Msg("visible")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "visible" {
		t.Errorf("expected 'visible', got %v", entry["message"])
	}
	if entry["caseId"] != "case-1" {
		t.Errorf("expected caseId field, got %v", entry["caseId"])
	}
}

func TestInitWriter_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(Config{Level: "loud"}, &buf)

	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("expected info level, got %v", zerolog.GlobalLevel())
	}
}

func TestWithRecording(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(DefaultConfig(), &buf)

	l := WithRecording("rec-1", "case-9")
	l.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("unexpected output %q: %v", buf.String(), err)
	}
	if entry["recordingId"] != "rec-1" || entry["caseId"] != "case-9" {
		t.Errorf("expected recording fields, got %v", entry)
	}
}
