package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"vet-scribe-service/internal/models"
	"vet-scribe-service/internal/service/notes"
	"vet-scribe-service/internal/service/recording"
	"vet-scribe-service/internal/storage/sqlite"
)

type errorResponse struct {
	Error string `json:"error"`
}

// resultResponse is a finished recording as returned by the API.
type resultResponse struct {
	RecordingID string                    `json:"recordingId"`
	CaseID      string                    `json:"caseId"`
	ClinicID    string                    `json:"clinicId"`
	Transcript  string                    `json:"transcript"`
	Speakers    []models.SpeakerUtterance `json:"speakers,omitempty"`
	Complete    bool                      `json:"complete"`
	Error       string                    `json:"error,omitempty"`
	DurationMs  int64                     `json:"durationMs"`
	AudioBytes  int64                     `json:"audioBytes"`
	Segments    int                       `json:"segments"`
}

func newResultResponse(res *recording.Result) resultResponse {
	out := resultResponse{
		RecordingID: res.RecordingID,
		CaseID:      res.CaseID,
		ClinicID:    res.ClinicID,
		Transcript:  res.Transcript,
		Speakers:    res.Speakers,
		Complete:    res.Complete,
		DurationMs:  res.Duration().Milliseconds(),
		AudioBytes:  res.AudioBytes,
		Segments:    res.Segments,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, notes.ErrEmptyTranscript):
		return http.StatusBadRequest
	case errors.Is(err, recording.ErrRecordingNotFound),
		errors.Is(err, sqlite.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, recording.ErrNotIdle),
		errors.Is(err, recording.ErrNotStreaming),
		errors.Is(err, recording.ErrNothingToSave):
		return http.StatusConflict
	case errors.Is(err, recording.ErrConnectFailed):
		return http.StatusBadGateway
	case errors.Is(err, recording.ErrDeviceUnavailable),
		errors.Is(err, notes.ErrDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", errBadRequest, msg)
}

func (h *handlers) listRecordings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Recordings.List())
}

func (h *handlers) getRecording(w http.ResponseWriter, r *http.Request) {
	s, err := h.Recordings.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

func (h *handlers) stopRecording(w http.ResponseWriter, r *http.Request) {
	res, err := h.Recordings.Stop(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultResponse(res))
}

func (h *handlers) saveRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Recordings.Save(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *handlers) deleteRecording(w http.ResponseWriter, r *http.Request) {
	if err := h.Recordings.Delete(chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) watchRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Recordings.Get(id); err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.Watchers == nil {
		http.Error(w, "watching is not enabled", http.StatusNotImplemented)
		return
	}
	h.Watchers.ServeWS(w, r, id)
}

func (h *handlers) listCaseTranscripts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	recs, err := h.Transcripts.ListByCase(r.Context(), chi.URLParam(r, "caseId"), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handlers) getTranscript(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := h.Transcripts.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) generateNote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.Notes == nil {
		h.writeError(w, r, notes.ErrDisabled)
		return
	}

	start := time.Now()
	rec, err := h.Notes.GenerateForTranscript(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Debug().Int64("transcriptId", id).Dur("latency", time.Since(start)).Msg("note returned")
	writeJSON(w, http.StatusOK, rec)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid transcript id")
	}
	return id, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, badRequest("invalid " + key)
	}
	return n, nil
}
