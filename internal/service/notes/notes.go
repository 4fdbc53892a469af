// Package notes turns saved consult transcripts into SOAP notes.
package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vet-scribe-service/internal/models"
	"vet-scribe-service/internal/observability/logging"
	"vet-scribe-service/internal/observability/metrics"
)

var (
	ErrEmptyTranscript = errors.New("transcript is empty")
	ErrDisabled        = errors.New("note generation is disabled")
	ErrBadResponse     = errors.New("malformed note response")
)

// Generator produces a SOAP note from a transcript.
type Generator interface {
	Generate(ctx context.Context, transcript string, speakers []models.SpeakerUtterance) (models.SOAPNote, error)
}

// Store is the transcript storage the service reads from and writes notes to.
type Store interface {
	Get(ctx context.Context, id int64) (*models.TranscriptRecord, error)
	SetSOAPNote(ctx context.Context, id int64, note models.SOAPNote) error
}

// Service generates and stores notes for saved transcripts.
type Service struct {
	store     Store
	generator Generator
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewService returns a Service. A nil generator makes every call fail with ErrDisabled.
func NewService(store Store, generator Generator, timeout time.Duration, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Service{
		store:     store,
		generator: generator,
		timeout:   timeout,
		metrics:   m,
		logger:    logging.WithComponent("notes"),
	}
}

// Enabled reports whether a generator is configured.
func (s *Service) Enabled() bool {
	return s.generator != nil
}

// GenerateForTranscript generates a note for the stored transcript id, saves it and
// returns the updated record.
func (s *Service) GenerateForTranscript(ctx context.Context, id int64) (*models.TranscriptRecord, error) {
	if s.generator == nil {
		return nil, ErrDisabled
	}

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rec.Content) == "" {
		return nil, ErrEmptyTranscript
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	note, err := s.generator.Generate(ctx, rec.Content, rec.Speakers)
	s.metrics.RecordNote(err, time.Since(start).Seconds())
	if err != nil {
		s.logger.Error().Err(err).Int64("transcriptId", id).Msg("note generation failed")
		return nil, fmt.Errorf("generate note: %w", err)
	}

	if err := s.store.SetSOAPNote(ctx, id, note); err != nil {
		return nil, fmt.Errorf("store note: %w", err)
	}

	s.logger.Info().
		Int64("transcriptId", id).
		Str("caseId", rec.CaseID).
		Dur("latency", time.Since(start)).
		Msg("SOAP note generated")

	rec.SOAPNote = &note
	return rec, nil
}

// formatTranscript renders the transcript for the prompt. The ordered transcript always
// comes first; the per-speaker breakdown follows as context and never replaces it.
func formatTranscript(transcript string, speakers []models.SpeakerUtterance) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(transcript))

	header := false
	for _, u := range speakers {
		if strings.TrimSpace(u.Text) == "" {
			continue
		}
		if !header {
			b.WriteString("\n\nSpeakers:\n")
			header = true
		}
		b.WriteString(u.Speaker)
		b.WriteString(": ")
		b.WriteString(u.Text)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}
