// Package google provides a Google Cloud Speech-to-Text recognition connector.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"vet-scribe-service/internal/models"
	"vet-scribe-service/internal/service/stt"
)

// Config holds Google STT configuration.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
	Model          string
	MaxSpeakers    int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   8000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
		MaxSpeakers:    4,
	}
}

// parseAudioEncoding converts a string encoding to the Google enum.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToUpper(encoding) {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

// recognizeStream is the part of the gRPC streaming client the session uses.
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// Connector opens Google streaming recognition sessions over one shared client.
type Connector struct {
	client *speech.Client
	cfg    Config
	open   func(ctx context.Context) (recognizeStream, error)
	logger zerolog.Logger
}

// New creates a Google connector.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Connector, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("google: new client: %w", err)
	}
	conn := newConnector(cfg, func(ctx context.Context) (recognizeStream, error) {
		return c.StreamingRecognize(ctx)
	})
	conn.client = c
	return conn, nil
}

func newConnector(cfg Config, open func(ctx context.Context) (recognizeStream, error)) *Connector {
	return &Connector{
		cfg:    cfg,
		open:   open,
		logger: log.With().Str("component", "stt-google").Logger(),
	}
}

// Name returns the provider name.
func (c *Connector) Name() string {
	return "google"
}

// Close releases the underlying client.
func (c *Connector) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Connect starts a streaming recognition call and sends the initial config. The
// session is open once the config has been accepted by the stream.
func (c *Connector) Connect(ctx context.Context, sc stt.StreamConfig) (stt.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("google: connect: %w", err)
	}

	// The call outlives the connect context.
	sctx, cancel := context.WithCancel(context.Background())
	stream, err := c.open(sctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("google: streaming recognize: %w", err)
	}

	if err := stream.Send(c.configRequest(sc)); err != nil {
		cancel()
		return nil, fmt.Errorf("google: send config: %w", err)
	}

	s := &session{
		Listeners: stt.NewListeners(),
		stream:    stream,
		cancel:    cancel,
		done:      make(chan struct{}),
		logger:    c.logger,
	}
	s.Emit(stt.Event{Kind: stt.EventOpen})
	go s.recvLoop()

	return s, nil
}

// configRequest merges the per-recording stream config over the connector defaults.
func (c *Connector) configRequest(sc stt.StreamConfig) *speechpb.StreamingRecognizeRequest {
	lang := c.cfg.LanguageCode
	if sc.Language != "" {
		lang = sc.Language
	}
	rate := c.cfg.SampleRateHz
	if sc.SampleRateHz > 0 {
		rate = sc.SampleRateHz
	}
	encoding := c.cfg.AudioEncoding
	if sc.Encoding != "" {
		encoding = sc.Encoding
	}
	model := c.cfg.Model
	if sc.Model != "" {
		model = sc.Model
	}
	channels := sc.Channels
	if channels <= 0 {
		channels = 1
	}

	rc := &speechpb.RecognitionConfig{
		Encoding:                   parseAudioEncoding(encoding),
		SampleRateHertz:            int32(rate),
		AudioChannelCount:          int32(channels),
		LanguageCode:               lang,
		Model:                      model,
		EnableWordTimeOffsets:      true,
		EnableAutomaticPunctuation: sc.Punctuate,
	}
	if sc.Diarize {
		maxSpeakers := c.cfg.MaxSpeakers
		if maxSpeakers < 2 {
			maxSpeakers = 2
		}
		rc.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          1,
			MaxSpeakerCount:          int32(maxSpeakers),
		}
	}

	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         rc,
				InterimResults: sc.InterimResults || c.cfg.InterimResults,
			},
		},
	}
}

// session is a live streaming recognition call.
type session struct {
	*stt.Listeners

	stream recognizeStream
	cancel context.CancelFunc
	logger zerolog.Logger

	// gRPC client streams allow one concurrent sender.
	sendMu    sync.Mutex
	finalized bool

	done chan struct{}
	once sync.Once
}

func (s *session) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Send sends audio bytes to Google Speech-to-Text.
func (s *session) Send(chunk []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.isDone() || s.finalized {
		return stt.ErrSessionClosed
	}
	err := s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: chunk,
		},
	})
	if err != nil {
		return fmt.Errorf("google: send audio: %w", err)
	}
	return nil
}

// KeepAlive is a no-op: the streaming API has no keep-alive message and a stream is
// bounded by its own duration limit instead.
func (s *session) KeepAlive() error {
	if s.isDone() {
		return stt.ErrSessionClosed
	}
	return nil
}

// Finalize half-closes the stream; Google returns the remaining results then EOF.
func (s *session) Finalize() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.isDone() {
		return stt.ErrSessionClosed
	}
	if s.finalized {
		return nil
	}
	s.finalized = true
	return s.stream.CloseSend()
}

// Close cancels the call.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
		s.Emit(stt.Event{Kind: stt.EventClose})
	})
	return nil
}

// recvLoop receives responses and dispatches them to listeners.
func (s *session) recvLoop() {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			s.handleRecvError(err)
			return
		}
		if resp.GetError() != nil && resp.GetError().GetCode() != int32(codes.OK) {
			s.handleRecvError(status.ErrorProto(resp.GetError()))
			return
		}

		received := time.Now()
		for _, r := range resp.GetResults() {
			ev, ok := toTranscriptEvent(r, received)
			if !ok {
				continue
			}
			s.Emit(stt.Event{Kind: stt.EventTranscript, Transcript: ev})
		}
	}
}

func (s *session) handleRecvError(err error) {
	if errors.Is(err, io.EOF) || s.isDone() || status.Code(err) == codes.Canceled {
		s.Emit(stt.Event{Kind: stt.EventClose})
		return
	}
	s.logger.Warn().Err(err).Msg("Google stream ended unexpectedly")
	werr := fmt.Errorf("google: recv: %w", err)
	s.Emit(stt.Event{Kind: stt.EventError, Err: werr})
	s.Emit(stt.Event{Kind: stt.EventClose, Err: werr})
}

// toTranscriptEvent converts one streaming result. Results without alternatives are
// dropped.
func toTranscriptEvent(r *speechpb.StreamingRecognitionResult, received time.Time) (models.TranscriptEvent, bool) {
	if len(r.GetAlternatives()) == 0 {
		return models.TranscriptEvent{}, false
	}
	alt := r.GetAlternatives()[0]

	ev := models.TranscriptEvent{
		IsFinal:    r.GetIsFinal(),
		Text:       alt.GetTranscript(),
		Confidence: float64(alt.GetConfidence()),
		ReceivedAt: received,
	}

	for _, w := range alt.GetWords() {
		token := models.WordToken{
			Word:       w.GetWord(),
			Start:      w.GetStartTime().AsDuration(),
			End:        w.GetEndTime().AsDuration(),
			Confidence: float64(w.GetConfidence()),
		}
		if tag := int(w.GetSpeakerTag()); tag > 0 {
			token.SpeakerID = &tag
		}
		ev.Words = append(ev.Words, token)
	}

	if len(ev.Words) > 0 {
		ev.Start = ev.Words[0].Start
	}
	if end := r.GetResultEndTime().AsDuration(); end > ev.Start {
		ev.Duration = end - ev.Start
	}
	return ev, true
}
