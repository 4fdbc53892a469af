package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vet-scribe-service/internal/config"
	"vet-scribe-service/internal/events"
	"vet-scribe-service/internal/observability/logging"
	"vet-scribe-service/internal/observability/metrics"
	"vet-scribe-service/internal/service/capture"
	"vet-scribe-service/internal/service/notes"
	"vet-scribe-service/internal/service/recording"
	"vet-scribe-service/internal/service/stt"
	"vet-scribe-service/internal/service/stt/deepgram"
	"vet-scribe-service/internal/service/stt/google"
	"vet-scribe-service/internal/service/stt/mock"
	"vet-scribe-service/internal/storage/sqlite"
	"vet-scribe-service/internal/ws"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration
	Metrics     *metrics.Metrics

	Connector stt.Connector
	Publisher *events.Publisher
	Store     *sqlite.TranscriptStore
	Notes     *notes.Service
	Hub       *ws.Hub
	Manager   *recording.Manager

	hubCancel context.CancelFunc
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration) *Application {
	a := &Application{
		Cfg:     cfg,
		Metrics: metrics.DefaultMetrics,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	appLogger.Info().Msg("Vet scribe service application created")
	return a
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	format := a.Cfg.Observability.LogFormat
	if a.Cfg.Service.Env == "dev" {
		format = "console"
	}
	logging.Init(logging.Config{
		Level:      strings.ToLower(a.Cfg.Observability.LogLevel),
		Format:     format,
		TimeFormat: time.RFC3339,
	})

	a.Logger = logging.Logger().With().
		Str("service", "vet-scribe-service").
		Str("component", "application").
		Logger()

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", a.Cfg.Service.Env).
		Msg("Logger setup completed")
}

// Start builds the service graph: recognition provider, storage, publisher, note
// generation, watcher hub and the recording manager.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()

	connector, err := NewConnector(ctx, a.Cfg.STT)
	if err != nil {
		return err
	}
	a.Connector = connector

	store, err := sqlite.Open(a.Cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.Store = store

	a.Publisher = events.New(&events.Config{
		Enabled:      a.Cfg.Kafka.Enabled,
		Brokers:      a.Cfg.Kafka.Brokers,
		TopicPartial: a.Cfg.Kafka.TopicPartial,
		TopicFinal:   a.Cfg.Kafka.TopicFinal,
		TopicSaved:   a.Cfg.Kafka.TopicSaved,
		Principal:    a.Cfg.Kafka.Principal,
	})

	var generator notes.Generator
	if a.Cfg.Notes.Enabled {
		g, err := notes.NewGemini(ctx, a.Cfg.Notes.APIKey, a.Cfg.Notes.Model)
		if err != nil {
			return fmt.Errorf("notes: %w", err)
		}
		generator = g
	}
	a.Notes = notes.NewService(store, generator, a.Cfg.Notes.Timeout, a.Metrics)

	hubCtx, cancel := context.WithCancel(context.Background())
	a.hubCancel = cancel
	a.Hub = ws.NewHub()
	go a.Hub.Run(hubCtx)

	a.Manager = recording.NewManager(connector, RecordingConfig(a.Cfg),
		recording.WithStore(store),
		recording.WithBroadcaster(a.Hub),
		recording.WithManagerPublisher(a.Publisher),
		recording.WithManagerMetrics(a.Metrics),
	)

	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Str("sttProvider", connector.Name()).
		Bool("kafka", a.Publisher.Enabled()).
		Bool("notes", a.Notes.Enabled()).
		Str("storage", a.Cfg.Storage.Path).
		Msg("Vet scribe service starting")

	return nil
}

// Shutdown stops active recordings and releases every resource. Errors are joined.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Msg("Vet scribe service shutting down")

	var errs []error
	if a.Manager != nil {
		if err := a.Manager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop recordings: %w", err))
		}
	}
	if a.hubCancel != nil {
		a.hubCancel()
	}
	if err := a.Publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if c, ok := a.Connector.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stt provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// StreamFormat is the audio format expected from stream clients.
func (a *Application) StreamFormat() capture.Format {
	return capture.Format{
		SampleRateHz:  a.Cfg.STT.SampleRateHz,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// NewConnector returns the recognition provider named by cfg.Provider.
func NewConnector(ctx context.Context, cfg config.STTConfig) (stt.Connector, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "mock":
		return mock.New(), nil
	case "deepgram":
		apiKey := cfg.DeepgramAPIKey
		if apiKey == "" {
			apiKey = os.Getenv("DEEPGRAM_API_KEY")
		}
		opts := []deepgram.Option{
			deepgram.WithLanguage(cfg.LanguageCode),
			deepgram.WithSampleRate(cfg.SampleRateHz),
		}
		if cfg.Model != "" {
			opts = append(opts, deepgram.WithModel(cfg.Model))
		}
		if cfg.DeepgramEndpoint != "" {
			opts = append(opts, deepgram.WithEndpoint(cfg.DeepgramEndpoint))
		}
		c, err := deepgram.New(apiKey, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "google":
		c, err := google.New(ctx, google.Config{
			LanguageCode:   cfg.LanguageCode,
			SampleRateHz:   cfg.SampleRateHz,
			InterimResults: cfg.InterimResults,
			AudioEncoding:  cfg.AudioEncoding,
			Model:          cfg.Model,
			MaxSpeakers:    cfg.MaxSpeakers,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.Provider)
	}
}

// RecordingConfig maps the service configuration onto a recording session configuration.
func RecordingConfig(cfg *config.Configuration) recording.Config {
	return recording.Config{
		Stream: stt.StreamConfig{
			Language:       cfg.STT.LanguageCode,
			SampleRateHz:   cfg.STT.SampleRateHz,
			Channels:       1,
			Encoding:       cfg.STT.AudioEncoding,
			InterimResults: cfg.STT.InterimResults,
			Diarize:        cfg.STT.Diarize,
			Punctuate:      true,
			Model:          cfg.STT.Model,
		},
		KeepAliveInterval: cfg.Recording.KeepAliveInterval,
		ConnectTimeout:    cfg.Recording.ConnectTimeout,
		FlushTimeout:      cfg.Recording.FlushTimeout,
		Limits: recording.Limits{
			MaxAudioBytes: cfg.Limits.MaxAudioBytes,
			MaxDuration:   cfg.Limits.MaxDuration,
			MaxPartials:   cfg.Limits.MaxPartials,
		},
		OverlapWindow:     cfg.Recording.OverlapWindow,
		FingerprintPrefix: cfg.Recording.FingerprintPrefix,
	}
}
