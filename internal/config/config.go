// Package config loads service configuration from an optional TOML file and the
// environment. Environment variables win over the file; the file wins over defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Configuration is the full service configuration.
type Configuration struct {
	Service       ServiceConfig       `toml:"service"`
	STT           STTConfig           `toml:"stt"`
	Recording     RecordingConfig     `toml:"recording"`
	Limits        LimitsConfig        `toml:"limits"`
	Kafka         KafkaConfig         `toml:"kafka"`
	Storage       StorageConfig       `toml:"storage"`
	Notes         NotesConfig         `toml:"notes"`
	Observability ObservabilityConfig `toml:"observability"`
}

type ServiceConfig struct {
	Principal   string `toml:"principal"`
	Env         string `toml:"env"`
	HTTPPort    string `toml:"http_port"`
	GRPCPort    string `toml:"grpc_port"`
	MetricsPort string `toml:"metrics_port"`
}

type STTConfig struct {
	Provider         string `toml:"provider"` // mock, deepgram, google
	LanguageCode     string `toml:"language_code"`
	SampleRateHz     int    `toml:"sample_rate_hz"`
	InterimResults   bool   `toml:"interim_results"`
	AudioEncoding    string `toml:"audio_encoding"`
	Diarize          bool   `toml:"diarize"`
	Model            string `toml:"model"`
	MaxSpeakers      int    `toml:"max_speakers"`
	DeepgramAPIKey   string `toml:"deepgram_api_key"`
	DeepgramEndpoint string `toml:"deepgram_endpoint"`
}

type RecordingConfig struct {
	KeepAliveInterval time.Duration `toml:"keep_alive_interval"`
	ConnectTimeout    time.Duration `toml:"connect_timeout"`
	FlushTimeout      time.Duration `toml:"flush_timeout"`
	OverlapWindow     int           `toml:"overlap_window"`
	FingerprintPrefix int           `toml:"fingerprint_prefix"`
}

// LimitsConfig bounds one recording.
type LimitsConfig struct {
	MaxAudioBytes int64         `toml:"max_audio_bytes"`
	MaxDuration   time.Duration `toml:"max_duration"`
	MaxPartials   int           `toml:"max_partials"`
}

type KafkaConfig struct {
	Enabled      bool     `toml:"enabled"`
	Brokers      []string `toml:"brokers"`
	TopicPartial string   `toml:"topic_partial"`
	TopicFinal   string   `toml:"topic_final"`
	TopicSaved   string   `toml:"topic_saved"`
	Principal    string   `toml:"principal"`
}

type StorageConfig struct {
	Path string `toml:"path"`
}

// NotesConfig configures SOAP note generation.
type NotesConfig struct {
	Enabled bool          `toml:"enabled"`
	APIKey  string        `toml:"api_key"`
	Model   string        `toml:"model"`
	Timeout time.Duration `toml:"timeout"`
}

type ObservabilityConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// Default returns the built-in configuration.
func Default() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Principal:   "svc-vet-scribe",
			Env:         "prod",
			HTTPPort:    "8080",
			GRPCPort:    "50051",
			MetricsPort: "9090",
		},
		STT: STTConfig{
			Provider:       "mock",
			LanguageCode:   "en-US",
			SampleRateHz:   16000,
			InterimResults: true,
			AudioEncoding:  "linear16",
			Diarize:        true,
			MaxSpeakers:    4,
		},
		Recording: RecordingConfig{
			KeepAliveInterval: 10 * time.Second,
			ConnectTimeout:    10 * time.Second,
			FlushTimeout:      5 * time.Second,
			OverlapWindow:     5,
			FingerprintPrefix: 32,
		},
		Limits: LimitsConfig{
			MaxAudioBytes: 256 * 1024 * 1024,
			MaxDuration:   2 * time.Hour,
			MaxPartials:   500,
		},
		Kafka: KafkaConfig{
			TopicPartial: "vet.recording.transcript.partial",
			TopicFinal:   "vet.recording.transcript.final",
			TopicSaved:   "vet.recording.transcript.saved",
		},
		Storage: StorageConfig{
			Path: "vet-scribe.db",
		},
		Notes: NotesConfig{
			Model:   "gemini-2.5-flash",
			Timeout: 60 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load builds the configuration from defaults, the TOML file named by CONFIG_FILE (if
// set) and environment overrides.
func Load() (*Configuration, error) {
	return LoadFrom(os.Getenv("CONFIG_FILE"))
}

// LoadFrom is Load with an explicit file path. An empty path skips the file.
func LoadFrom(path string) (*Configuration, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Configuration) applyEnv() {
	c.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", c.Service.Principal)
	c.Service.Env = envOrDefault("ENV", c.Service.Env)
	c.Service.HTTPPort = envOrDefault("HTTP_PORT", c.Service.HTTPPort)
	c.Service.GRPCPort = envOrDefault("GRPC_PORT", c.Service.GRPCPort)
	c.Service.MetricsPort = envOrDefault("METRICS_PORT", c.Service.MetricsPort)

	c.STT.Provider = envOrDefault("STT_PROVIDER", c.STT.Provider)
	c.STT.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", c.STT.LanguageCode)
	c.STT.SampleRateHz = envOrDefaultInt("STT_SAMPLE_RATE_HZ", c.STT.SampleRateHz)
	c.STT.InterimResults = envOrDefaultBool("STT_INTERIM_RESULTS", c.STT.InterimResults)
	c.STT.AudioEncoding = envOrDefault("STT_AUDIO_ENCODING", c.STT.AudioEncoding)
	c.STT.Diarize = envOrDefaultBool("STT_DIARIZE", c.STT.Diarize)
	c.STT.Model = envOrDefault("STT_MODEL", c.STT.Model)
	c.STT.MaxSpeakers = envOrDefaultInt("STT_MAX_SPEAKERS", c.STT.MaxSpeakers)
	c.STT.DeepgramAPIKey = envOrDefault("DEEPGRAM_API_KEY", c.STT.DeepgramAPIKey)
	c.STT.DeepgramEndpoint = envOrDefault("DEEPGRAM_ENDPOINT", c.STT.DeepgramEndpoint)

	c.Recording.KeepAliveInterval = envOrDefaultDuration("RECORDING_KEEPALIVE_INTERVAL", c.Recording.KeepAliveInterval)
	c.Recording.ConnectTimeout = envOrDefaultDuration("RECORDING_CONNECT_TIMEOUT", c.Recording.ConnectTimeout)
	c.Recording.FlushTimeout = envOrDefaultDuration("RECORDING_FLUSH_TIMEOUT", c.Recording.FlushTimeout)
	c.Recording.OverlapWindow = envOrDefaultInt("TRANSCRIPT_OVERLAP_WINDOW", c.Recording.OverlapWindow)
	c.Recording.FingerprintPrefix = envOrDefaultInt("TRANSCRIPT_FINGERPRINT_PREFIX", c.Recording.FingerprintPrefix)

	c.Limits.MaxAudioBytes = envOrDefaultInt64("RECORDING_MAX_AUDIO_BYTES", c.Limits.MaxAudioBytes)
	c.Limits.MaxDuration = envOrDefaultDuration("RECORDING_MAX_DURATION", c.Limits.MaxDuration)
	c.Limits.MaxPartials = envOrDefaultInt("SEGMENT_MAX_PARTIALS", c.Limits.MaxPartials)

	c.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", c.Kafka.Enabled)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	c.Kafka.TopicPartial = envOrDefault("KAFKA_TOPIC_PARTIAL", c.Kafka.TopicPartial)
	c.Kafka.TopicFinal = envOrDefault("KAFKA_TOPIC_FINAL", c.Kafka.TopicFinal)
	c.Kafka.TopicSaved = envOrDefault("KAFKA_TOPIC_SAVED", c.Kafka.TopicSaved)
	c.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", c.Kafka.Principal)
	if c.Kafka.Principal == "" {
		c.Kafka.Principal = c.Service.Principal
	}

	c.Storage.Path = envOrDefault("STORAGE_PATH", c.Storage.Path)

	c.Notes.Enabled = envOrDefaultBool("NOTES_ENABLED", c.Notes.Enabled)
	c.Notes.APIKey = envOrDefault("GEMINI_API_KEY", c.Notes.APIKey)
	c.Notes.Model = envOrDefault("NOTES_MODEL", c.Notes.Model)
	c.Notes.Timeout = envOrDefaultDuration("NOTES_TIMEOUT", c.Notes.Timeout)

	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = envOrDefault("LOG_FORMAT", c.Observability.LogFormat)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
