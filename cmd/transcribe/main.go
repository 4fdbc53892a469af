// Command transcribe records from the microphone or a WAV file and prints the live
// transcript to the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"vet-scribe-service/internal/app"
	"vet-scribe-service/internal/config"
	"vet-scribe-service/internal/observability/logging"
	"vet-scribe-service/internal/service/capture"
	"vet-scribe-service/internal/service/capture/portaudio"
	"vet-scribe-service/internal/service/recording"
)

func main() {
	audioFile := flag.String("audio", "", "Path to WAV file (16-bit PCM); records from the microphone when empty")
	provider := flag.String("provider", "", "Recognition provider: mock, deepgram or google (overrides STT_PROVIDER)")
	caseID := flag.String("case", "local", "Case ID")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *provider != "" {
		cfg.STT.Provider = *provider
	}
	logging.Init(logging.Config{Level: "warn", Format: "console", TimeFormat: time.Kitchen})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var device capture.Device
	if *audioFile != "" {
		f, err := os.Open(*audioFile)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open audio file")
		}
		defer f.Close()
		r, err := capture.NewWAVReader(f, capture.ReaderConfig{})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to read WAV file")
		}
		device = r
		cfg.STT.SampleRateHz = r.Format().SampleRateHz
	} else {
		device = portaudio.New()
		cfg.STT.SampleRateHz = portaudio.SampleRate
	}

	connector, err := app.NewConnector(ctx, cfg.STT)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create recognition provider")
	}

	s := recording.NewSession(uuid.NewString(), recording.Params{CaseID: *caseID}, device, connector, app.RecordingConfig(cfg))
	unsubscribe := s.Subscribe(func(u recording.Update) {
		switch u.Type {
		case recording.UpdateTranscript:
			// Redraw the current line; finalized text scrolls up.
			fmt.Printf("\r\033[K%s", u.Display)
			if u.Durable {
				fmt.Println()
			}
		case recording.UpdateState:
			fmt.Fprintf(os.Stderr, "\r\033[K[%s]\n", u.State)
		}
	})
	defer unsubscribe()

	if err := s.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start recording")
	}
	fmt.Fprintln(os.Stderr, "Recording. Press Ctrl+C to stop.")

	select {
	case <-ctx.Done():
	case <-s.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	res, err := s.Stop(stopCtx)
	if err != nil && res == nil {
		res, _ = s.Result()
	}
	if res == nil {
		log.Fatal().Err(err).Msg("recording produced no result")
	}

	fmt.Println()
	fmt.Println("---")
	for _, sp := range res.Speakers {
		fmt.Printf("%s: %s\n", sp.Speaker, sp.Text)
	}
	if len(res.Speakers) == 0 {
		fmt.Println(res.Transcript)
	}
	if !res.Complete {
		fmt.Fprintf(os.Stderr, "transcript incomplete: %v\n", res.Err)
		os.Exit(1)
	}
}
