// Package sqlite persists saved transcripts in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"vet-scribe-service/internal/models"
	"vet-scribe-service/internal/observability/logging"
)

// ErrNotFound is returned when no transcript has the requested id.
var ErrNotFound = errors.New("transcript not found")

// TranscriptStore is a SQLite-backed transcript store.
type TranscriptStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway store.
func Open(path string) (*TranscriptStore, error) {
	logger := logging.WithComponent("sqlite")
	logger.Info().Str("path", path).Msg("initializing SQLite storage")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &TranscriptStore{db: db, logger: logger}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recording_id TEXT NOT NULL,
			case_id TEXT NOT NULL,
			clinic_id TEXT,
			created_at TEXT NOT NULL,
			content TEXT NOT NULL,
			speakers TEXT,
			is_complete BOOLEAN NOT NULL,
			error TEXT,
			soap_note TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create transcripts table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_transcripts_case_id ON transcripts(case_id)`)
	if err != nil {
		return fmt.Errorf("failed to create case_id index: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *TranscriptStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *TranscriptStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveTranscript inserts rec and returns its new id.
func (s *TranscriptStore) SaveTranscript(ctx context.Context, rec models.TranscriptRecord) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	speakers, err := json.Marshal(rec.Speakers)
	if err != nil {
		return 0, fmt.Errorf("failed to encode speakers: %w", err)
	}
	var note sql.NullString
	if rec.SOAPNote != nil {
		b, err := json.Marshal(rec.SOAPNote)
		if err != nil {
			return 0, fmt.Errorf("failed to encode SOAP note: %w", err)
		}
		note = sql.NullString{String: string(b), Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts
		(recording_id, case_id, clinic_id, created_at, content, speakers, is_complete, error, soap_note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RecordingID,
		rec.CaseID,
		rec.ClinicID,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.Content,
		string(speakers),
		rec.Complete,
		rec.Error,
		note,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transcript: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	s.logger.Debug().
		Int64("transcriptId", id).
		Str("recordingId", rec.RecordingID).
		Str("caseId", rec.CaseID).
		Msg("transcript stored")
	return id, nil
}

const selectColumns = `SELECT id, recording_id, case_id, clinic_id, created_at, content, speakers, is_complete, error, soap_note FROM transcripts`

// Get returns the transcript with the given id, or ErrNotFound.
func (s *TranscriptStore) Get(ctx context.Context, id int64) (*models.TranscriptRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListByCase returns a case's transcripts, newest first.
func (s *TranscriptStore) ListByCase(ctx context.Context, caseID string, limit, offset int) ([]*models.TranscriptRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE case_id = ? ORDER BY id DESC LIMIT ? OFFSET ?`,
		caseID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcripts by case: %w", err)
	}
	defer rows.Close()

	records := []*models.TranscriptRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcripts: %w", err)
	}
	return records, nil
}

// SetSOAPNote attaches a generated note to a stored transcript.
func (s *TranscriptStore) SetSOAPNote(ctx context.Context, id int64, note models.SOAPNote) error {
	b, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to encode SOAP note: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `UPDATE transcripts SET soap_note = ? WHERE id = ?`, string(b), id)
	if err != nil {
		return fmt.Errorf("failed to update SOAP note: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.TranscriptRecord, error) {
	var (
		rec       models.TranscriptRecord
		createdAt string
		clinicID  sql.NullString
		speakers  sql.NullString
		errText   sql.NullString
		note      sql.NullString
	)
	if err := row.Scan(
		&rec.ID,
		&rec.RecordingID,
		&rec.CaseID,
		&clinicID,
		&createdAt,
		&rec.Content,
		&speakers,
		&rec.Complete,
		&errText,
		&note,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transcript: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	rec.CreatedAt = t
	rec.ClinicID = clinicID.String
	rec.Error = errText.String

	if speakers.Valid && speakers.String != "" && speakers.String != "null" {
		if err := json.Unmarshal([]byte(speakers.String), &rec.Speakers); err != nil {
			return nil, fmt.Errorf("failed to decode speakers: %w", err)
		}
	}
	if note.Valid && note.String != "" {
		rec.SOAPNote = &models.SOAPNote{}
		if err := json.Unmarshal([]byte(note.String), rec.SOAPNote); err != nil {
			return nil, fmt.Errorf("failed to decode SOAP note: %w", err)
		}
	}
	return &rec, nil
}
