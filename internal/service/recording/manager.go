package recording

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"vet-scribe-service/internal/models"
	"vet-scribe-service/internal/observability/metrics"
	"vet-scribe-service/internal/service/capture"
	"vet-scribe-service/internal/service/segment"
	"vet-scribe-service/internal/service/stt"
)

// ErrNothingToSave is returned when saving a recording that never produced a result.
var ErrNothingToSave = errors.New("recording: nothing to save")

// Store persists saved transcripts.
type Store interface {
	SaveTranscript(ctx context.Context, rec models.TranscriptRecord) (int64, error)
}

// Broadcaster fans recording updates out to watchers.
type Broadcaster interface {
	Broadcast(recordingID string, v any)
}

// Info summarizes one recording for API responses.
type Info struct {
	RecordingID string                    `json:"recordingId"`
	CaseID      string                    `json:"caseId"`
	ClinicID    string                    `json:"clinicId"`
	State       State                     `json:"state"`
	Display     string                    `json:"display"`
	Transcript  string                    `json:"transcript"`
	Speakers    []models.SpeakerUtterance `json:"speakers,omitempty"`
	Complete    bool                      `json:"complete"`
	Error       string                    `json:"error,omitempty"`
}

// Info returns the current summary of the session.
func (s *Session) Info() Info {
	snap := s.Snapshot()
	info := Info{
		RecordingID: s.id,
		CaseID:      s.params.CaseID,
		ClinicID:    s.params.ClinicID,
		State:       s.State(),
		Display:     snap.Display,
		Transcript:  snap.Finalized,
		Speakers:    snap.Speakers,
	}
	if res, ok := s.Result(); ok {
		info.Complete = res.Complete
		if res.Err != nil {
			info.Error = res.Err.Error()
		}
	}
	return info
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStore sets where saved transcripts go.
func WithStore(st Store) ManagerOption {
	return func(m *Manager) { m.store = st }
}

// WithBroadcaster re-broadcasts every session update.
func WithBroadcaster(b Broadcaster) ManagerOption {
	return func(m *Manager) { m.hub = b }
}

// WithManagerPublisher publishes transcript events for every session.
func WithManagerPublisher(p Publisher) ManagerOption {
	return func(m *Manager) { m.publisher = p }
}

// WithManagerMetrics overrides the metrics sink.
func WithManagerMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// Manager keeps the recordings of the service by id.
type Manager struct {
	connector stt.Connector
	cfg       Config
	publisher Publisher
	store     Store
	hub       Broadcaster
	metrics   *metrics.Metrics
	segments  *segment.Generator

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager that opens recognition sessions with connector.
func NewManager(connector stt.Connector, cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		connector: connector,
		cfg:       cfg,
		metrics:   metrics.DefaultMetrics,
		segments:  segment.NewGenerator(),
		sessions:  make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create registers a new recording on device and starts it. A recording that fails to
// start is not kept.
func (m *Manager) Create(ctx context.Context, params Params, device capture.Device) (*Session, error) {
	id := uuid.NewString()

	opts := []Option{
		WithMetrics(m.metrics),
		WithSegmentGenerator(m.segments),
	}
	if m.publisher != nil {
		opts = append(opts, WithPublisher(m.publisher))
	}
	s := NewSession(id, params, device, m.connector, m.cfg, opts...)

	if m.hub != nil {
		s.Subscribe(func(u Update) { m.hub.Broadcast(id, u) })
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return nil, err
	}

	log.Info().
		Str("recordingId", id).
		Str("caseId", params.CaseID).
		Str("provider", m.connector.Name()).
		Msg("Recording created")
	return s, nil
}

// Get returns the recording with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordingNotFound, id)
	}
	return s, nil
}

// List returns a summary of every recording, ordered by id.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].RecordingID < infos[j].RecordingID })
	return infos
}

// Stop stops the recording with id and returns its Result.
func (m *Manager) Stop(ctx context.Context, id string) (*Result, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Stop(ctx)
}

// Delete forgets an idle recording.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordingNotFound, id)
	}
	if s.State() != StateIdle {
		return ErrNotIdle
	}
	delete(m.sessions, id)
	return nil
}

// Save persists the result of a finished recording against its case and announces it.
// Partial transcripts of failed recordings are saved with Complete unset.
func (m *Manager) Save(ctx context.Context, id string) (models.TranscriptRecord, error) {
	s, err := m.Get(id)
	if err != nil {
		return models.TranscriptRecord{}, err
	}
	if s.State() != StateIdle {
		return models.TranscriptRecord{}, ErrNotIdle
	}
	res, ok := s.Result()
	if !ok {
		return models.TranscriptRecord{}, ErrNothingToSave
	}
	if m.store == nil {
		return models.TranscriptRecord{}, errors.New("recording: no store configured")
	}

	rec := models.TranscriptRecord{
		RecordingID: res.RecordingID,
		CaseID:      res.CaseID,
		ClinicID:    res.ClinicID,
		CreatedAt:   time.Now().UTC(),
		Content:     res.Transcript,
		Speakers:    res.Speakers,
		Complete:    res.Complete,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}

	rec.ID, err = m.store.SaveTranscript(ctx, rec)
	if err != nil {
		return models.TranscriptRecord{}, fmt.Errorf("save transcript: %w", err)
	}
	m.metrics.RecordTranscriptSaved(rec.Complete)

	if m.publisher != nil {
		saved := models.TranscriptSaved{
			EventType:    models.EventTypeSaved,
			RecordingID:  rec.RecordingID,
			CaseID:       rec.CaseID,
			ClinicID:     rec.ClinicID,
			Timestamp:    rec.CreatedAt.UnixMilli(),
			TranscriptID: rec.ID,
			Text:         rec.Content,
			Speakers:     rec.Speakers,
			Complete:     rec.Complete,
		}
		if err := m.publisher.PublishSaved(ctx, rec.CaseID, saved); err != nil {
			log.Warn().Err(err).Str("recordingId", id).Msg("Failed to publish saved event")
		}
	}

	log.Info().
		Str("recordingId", id).
		Str("caseId", rec.CaseID).
		Int64("transcriptId", rec.ID).
		Bool("complete", rec.Complete).
		Msg("Transcript saved")
	return rec, nil
}

// Shutdown stops every active recording and waits for them to reach IDLE.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		g.Go(func() error {
			if _, err := s.Stop(ctx); err != nil && !errors.Is(err, ErrNotStreaming) {
				return fmt.Errorf("stop %s: %w", s.ID(), err)
			}
			select {
			case <-s.Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return g.Wait()
}
