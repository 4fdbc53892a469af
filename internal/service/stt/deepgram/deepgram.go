// Package deepgram provides a Deepgram-backed recognition connector using the Deepgram
// streaming WebSocket API with speaker diarization.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vet-scribe-service/internal/models"
	"vet-scribe-service/internal/service/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3-medical"
	defaultLanguage   = "en-US"
	defaultSampleRate = 16000
	defaultEncoding   = "linear16"
)

var (
	keepAliveMsg   = []byte(`{"type":"KeepAlive"}`)
	closeStreamMsg = []byte(`{"type":"CloseStream"}`)
)

// Option is a functional option for configuring the Connector.
type Option func(*Connector)

// WithModel sets the Deepgram model (e.g. "nova-3-medical", "nova-3").
func WithModel(model string) Option {
	return func(c *Connector) {
		c.model = model
	}
}

// WithLanguage sets the default BCP-47 language code.
func WithLanguage(language string) Option {
	return func(c *Connector) {
		c.language = language
	}
}

// WithSampleRate sets the default sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(c *Connector) {
		c.sampleRate = rate
	}
}

// WithEndpoint overrides the streaming endpoint, mostly for tests.
func WithEndpoint(endpoint string) Option {
	return func(c *Connector) {
		c.endpoint = endpoint
	}
}

// Connector opens Deepgram streaming sessions.
type Connector struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
	logger     zerolog.Logger
}

// New creates a Deepgram connector. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Connector, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	c := &Connector{
		apiKey:     apiKey,
		endpoint:   deepgramEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		logger:     log.With().Str("component", "stt-deepgram").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Name returns the provider name.
func (c *Connector) Name() string {
	return "deepgram"
}

// Connect dials the streaming endpoint. The session is open once the WebSocket
// handshake completes; Deepgram sends no separate ready message.
func (c *Connector) Connect(ctx context.Context, cfg stt.StreamConfig) (stt.Session, error) {
	wsURL, err := c.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+c.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	// The stream outlives the dial context.
	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		Listeners: stt.NewListeners(),
		conn:      conn,
		ctx:       sctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		logger:    c.logger,
	}
	s.Emit(stt.Event{Kind: stt.EventOpen})
	go s.readLoop()

	return s, nil
}

// buildURL constructs the streaming endpoint URL for cfg.
func (c *Connector) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = c.language
	}
	sr := cfg.SampleRateHz
	if sr == 0 {
		sr = c.sampleRate
	}
	model := cfg.Model
	if model == "" {
		model = c.model
	}
	encoding := defaultEncoding
	if cfg.Encoding != "" && cfg.Encoding != "LINEAR16" {
		encoding = cfg.Encoding
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("language", lang)
	q.Set("encoding", encoding)
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("punctuate", strconv.FormatBool(cfg.Punctuate))
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	q.Set("diarize", strconv.FormatBool(cfg.Diarize))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word           string  `json:"word"`
				PunctuatedWord string  `json:"punctuated_word"`
				Start          float64 `json:"start"`
				End            float64 `json:"end"`
				Confidence     float64 `json:"confidence"`
				Speaker        *int    `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session.
type session struct {
	*stt.Listeners

	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

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

// Send writes one binary audio frame.
func (s *session) Send(chunk []byte) error {
	if s.isDone() {
		return stt.ErrSessionClosed
	}
	if err := s.conn.Write(s.ctx, websocket.MessageBinary, chunk); err != nil {
		return fmt.Errorf("deepgram: send audio: %w", err)
	}
	return nil
}

// KeepAlive sends the KeepAlive control message.
func (s *session) KeepAlive() error {
	if s.isDone() {
		return stt.ErrSessionClosed
	}
	if err := s.conn.Write(s.ctx, websocket.MessageText, keepAliveMsg); err != nil {
		return fmt.Errorf("deepgram: keep-alive: %w", err)
	}
	return nil
}

// Finalize sends CloseStream; Deepgram flushes the remaining results and closes.
func (s *session) Finalize() error {
	if s.isDone() {
		return stt.ErrSessionClosed
	}
	if err := s.conn.Write(s.ctx, websocket.MessageText, closeStreamMsg); err != nil {
		return fmt.Errorf("deepgram: close stream: %w", err)
	}
	return nil
}

// Close terminates the session. It does not wait for the read loop.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.cancel()
		s.Emit(stt.Event{Kind: stt.EventClose})
	})
	return nil
}

// readLoop receives JSON messages and dispatches them to listeners.
func (s *session) readLoop() {
	for {
		_, msg, err := s.conn.Read(s.ctx)
		if err != nil {
			s.handleReadError(err)
			return
		}

		t, ok := parseDeepgramResponse(msg, time.Now())
		if !ok {
			continue
		}
		s.Emit(stt.Event{Kind: stt.EventTranscript, Transcript: t})
	}
}

func (s *session) handleReadError(err error) {
	if s.isDone() || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		s.Emit(stt.Event{Kind: stt.EventClose})
		return
	}
	s.logger.Warn().Err(err).Msg("Deepgram stream ended unexpectedly")
	werr := fmt.Errorf("deepgram: read: %w", err)
	s.Emit(stt.Event{Kind: stt.EventError, Err: werr})
	s.Emit(stt.Event{Kind: stt.EventClose, Err: werr})
}

// parseDeepgramResponse parses a raw Deepgram message into a TranscriptEvent.
// Returns (event, true) on success, or (zero, false) if the message should be ignored.
func parseDeepgramResponse(data []byte, received time.Time) (models.TranscriptEvent, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return models.TranscriptEvent{}, false
	}
	if resp.Type != "Results" {
		return models.TranscriptEvent{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return models.TranscriptEvent{}, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]models.WordToken, 0, len(alt.Words))
	for _, w := range alt.Words {
		word := w.PunctuatedWord
		if word == "" {
			word = w.Word
		}
		words = append(words, models.WordToken{
			Word:       word,
			SpeakerID:  w.Speaker,
			Start:      seconds(w.Start),
			End:        seconds(w.End),
			Confidence: w.Confidence,
		})
	}

	return models.TranscriptEvent{
		IsFinal:    resp.IsFinal,
		Text:       alt.Transcript,
		Words:      words,
		Confidence: alt.Confidence,
		Start:      seconds(resp.Start),
		Duration:   seconds(resp.Duration),
		ReceivedAt: received,
	}, true
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
