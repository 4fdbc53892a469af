package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vet-scribe-service/internal/config"
)

func TestNewConnector(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.STTConfig
		wantName string
		wantErr  bool
	}{
		{name: "empty defaults to mock", cfg: config.STTConfig{}, wantName: "mock"},
		{name: "mock", cfg: config.STTConfig{Provider: "mock"}, wantName: "mock"},
		{name: "mixed case", cfg: config.STTConfig{Provider: "MOCK"}, wantName: "mock"},
		{name: "unknown", cfg: config.STTConfig{Provider: "whisper"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewConnector(context.Background(), tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got connector %v", c)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.Name() != tt.wantName {
				t.Errorf("expected %s, got %s", tt.wantName, c.Name())
			}
		})
	}
}

func TestNewConnector_DeepgramRequiresKey(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "")

	c, err := NewConnector(context.Background(), config.STTConfig{Provider: "deepgram"})
	if err == nil {
		t.Fatalf("expected error without api key, got %v", c)
	}
	if c != nil {
		t.Errorf("expected nil connector, got %v", c)
	}
}

func TestNewConnector_DeepgramKeyFromEnv(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "dg-test")

	c, err := NewConnector(context.Background(), config.STTConfig{
		Provider:     "deepgram",
		LanguageCode: "en-US",
		SampleRateHz: 16000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Name() != "deepgram" {
		t.Errorf("expected deepgram, got %s", c.Name())
	}
}

func TestRecordingConfig(t *testing.T) {
	cfg := config.Default()
	cfg.STT.LanguageCode = "en-GB"
	cfg.STT.SampleRateHz = 48000
	cfg.STT.Diarize = false
	cfg.Recording.KeepAliveInterval = 3 * time.Second
	cfg.Recording.OverlapWindow = 7
	cfg.Limits.MaxPartials = 20

	rc := RecordingConfig(cfg)

	if rc.Stream.Language != "en-GB" {
		t.Errorf("expected en-GB, got %s", rc.Stream.Language)
	}
	if rc.Stream.SampleRateHz != 48000 {
		t.Errorf("expected 48000, got %d", rc.Stream.SampleRateHz)
	}
	if rc.Stream.Diarize {
		t.Error("expected diarization off")
	}
	if rc.Stream.Channels != 1 {
		t.Errorf("expected mono, got %d", rc.Stream.Channels)
	}
	if rc.KeepAliveInterval != 3*time.Second {
		t.Errorf("expected 3s keep-alive, got %s", rc.KeepAliveInterval)
	}
	if rc.OverlapWindow != 7 {
		t.Errorf("expected overlap window 7, got %d", rc.OverlapWindow)
	}
	if rc.Limits.MaxPartials != 20 {
		t.Errorf("expected 20 partials, got %d", rc.Limits.MaxPartials)
	}
	if rc.Limits.MaxAudioBytes != cfg.Limits.MaxAudioBytes {
		t.Errorf("expected %d audio bytes, got %d", cfg.Limits.MaxAudioBytes, rc.Limits.MaxAudioBytes)
	}
}

func TestApplication_StartShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "app.db")
	cfg.Observability.LogLevel = "error"

	a := New(cfg)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if a.Manager == nil || a.Store == nil || a.Hub == nil || a.Notes == nil {
		t.Fatal("expected service graph to be built")
	}
	if a.Notes.Enabled() {
		t.Error("expected notes disabled by default")
	}
	if a.Publisher.Enabled() {
		t.Error("expected publisher disabled by default")
	}
	if err := a.Store.Ping(context.Background()); err != nil {
		t.Errorf("expected store ready, got %v", err)
	}

	f := a.StreamFormat()
	if f.SampleRateHz != cfg.STT.SampleRateHz || f.Channels != 1 || f.BitsPerSample != 16 {
		t.Errorf("unexpected stream format %+v", f)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}
