package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"vet-scribe-service/internal/models"
	"vet-scribe-service/internal/observability/logging"
	"vet-scribe-service/internal/service/capture"
	"vet-scribe-service/internal/service/recording"
)

// Recordings is the recording lifecycle the API drives.
type Recordings interface {
	Create(ctx context.Context, params recording.Params, device capture.Device) (*recording.Session, error)
	Get(id string) (*recording.Session, error)
	List() []recording.Info
	Stop(ctx context.Context, id string) (*recording.Result, error)
	Save(ctx context.Context, id string) (models.TranscriptRecord, error)
	Delete(id string) error
}

// Transcripts reads saved transcripts.
type Transcripts interface {
	Get(ctx context.Context, id int64) (*models.TranscriptRecord, error)
	ListByCase(ctx context.Context, caseID string, limit, offset int) ([]*models.TranscriptRecord, error)
	Ping(ctx context.Context) error
}

// Notes generates SOAP notes for saved transcripts.
type Notes interface {
	GenerateForTranscript(ctx context.Context, id int64) (*models.TranscriptRecord, error)
}

// Watchers serves watcher sockets for a recording.
type Watchers interface {
	ServeWS(w http.ResponseWriter, r *http.Request, recordingID string)
}

// Deps are the services behind the router. Notes and Watchers may be nil.
type Deps struct {
	Recordings  Recordings
	Transcripts Transcripts
	Notes       Notes
	Watchers    Watchers

	// Format is the audio format expected on the stream socket.
	Format capture.Format
	// StopTimeout bounds a stop requested by a stream client.
	StopTimeout time.Duration
}

type handlers struct {
	Deps
	logger zerolog.Logger
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(deps Deps) http.Handler {
	if deps.StopTimeout <= 0 {
		deps.StopTimeout = 10 * time.Second
	}
	h := &handlers{Deps: deps, logger: logging.WithComponent("http")}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", h.readiness)

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/recordings", h.listRecordings)
		r.Get("/recordings/stream", h.streamRecording)
		r.Route("/recordings/{id}", func(r chi.Router) {
			r.Get("/", h.getRecording)
			r.Delete("/", h.deleteRecording)
			r.Post("/stop", h.stopRecording)
			r.Post("/save", h.saveRecording)
			r.Get("/watch", h.watchRecording)
		})
		r.Get("/cases/{caseId}/transcripts", h.listCaseTranscripts)
		r.Get("/transcripts/{id}", h.getTranscript)
		r.Post("/transcripts/{id}/soap", h.generateNote)
	})

	return r
}

func (h *handlers) readiness(w http.ResponseWriter, r *http.Request) {
	if h.Transcripts != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Transcripts.Ping(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("readiness check failed")
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// requestLogger logs one line per request with zerolog.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := logger.Info()
			if status >= http.StatusInternalServerError {
				ev = logger.Error()
			}
			ev.Str("requestId", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}
