package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"vet-scribe-service/internal/service/stt"
)

// ---- URL / query-param tests ----

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty api key")
	}
}

func TestBuildURL_Defaults(t *testing.T) {
	c, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := c.buildURL(stt.StreamConfig{
		Channels:       1,
		InterimResults: true,
		Diarize:        true,
		Punctuate:      true,
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3-medical", q.Get("model"))
	assertEqual(t, "language", "en-US", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "diarize", "true", q.Get("diarize"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_CfgOverridesDefaults(t *testing.T) {
	c, err := New("key", WithModel("nova-3"), WithLanguage("en"), WithSampleRate(48000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := c.buildURL(stt.StreamConfig{Language: "fr-FR", SampleRateHz: 8000, Encoding: "mulaw"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()
	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "fr-FR", q.Get("language"))
	assertEqual(t, "sample_rate", "8000", q.Get("sample_rate"))
	assertEqual(t, "encoding", "mulaw", q.Get("encoding"))
	assertEqual(t, "diarize", "false", q.Get("diarize"))
	if q.Has("channels") {
		t.Error("expected channels to be omitted")
	}
}

// ---- response parsing ----

const resultsJSON = `{
	"type": "Results",
	"is_final": true,
	"start": 1.5,
	"duration": 2.0,
	"channel": {"alternatives": [{
		"transcript": "Max is limping.",
		"confidence": 0.93,
		"words": [
			{"word": "max", "punctuated_word": "Max", "start": 1.5, "end": 1.8, "confidence": 0.9, "speaker": 1},
			{"word": "is", "punctuated_word": "is", "start": 1.8, "end": 1.9, "confidence": 0.9, "speaker": 1},
			{"word": "limping", "start": 2.0, "end": 2.4, "confidence": 0.9}
		]
	}]}
}`

func TestParseDeepgramResponse_Results(t *testing.T) {
	now := time.Now()
	ev, ok := parseDeepgramResponse([]byte(resultsJSON), now)
	if !ok {
		t.Fatal("expected message to parse")
	}

	if !ev.IsFinal {
		t.Error("expected final")
	}
	if ev.Text != "Max is limping." {
		t.Errorf("expected 'Max is limping.', got %q", ev.Text)
	}
	if ev.Start != 1500*time.Millisecond || ev.Duration != 2*time.Second {
		t.Errorf("expected start 1.5s duration 2s, got %v %v", ev.Start, ev.Duration)
	}
	if !ev.ReceivedAt.Equal(now) {
		t.Errorf("expected received time %v, got %v", now, ev.ReceivedAt)
	}
	if len(ev.Words) != 3 {
		t.Fatalf("expected 3 words, got %d", len(ev.Words))
	}
	if ev.Words[0].Word != "Max" {
		t.Errorf("expected punctuated word 'Max', got %q", ev.Words[0].Word)
	}
	if ev.Words[0].SpeakerID == nil || *ev.Words[0].SpeakerID != 1 {
		t.Error("expected speaker 1 on first word")
	}
	if ev.Words[2].Word != "limping" || ev.Words[2].SpeakerID != nil {
		t.Errorf("expected unattributed 'limping', got %+v", ev.Words[2])
	}
}

func TestParseDeepgramResponse_Ignored(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid json", `{not json`},
		{"metadata", `{"type":"Metadata","request_id":"abc"}`},
		{"utterance end", `{"type":"UtteranceEnd","last_word_end":2.1}`},
		{"no alternatives", `{"type":"Results","channel":{"alternatives":[]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := parseDeepgramResponse([]byte(tt.data), time.Now()); ok {
				t.Error("expected message to be ignored")
			}
		})
	}
}

// ---- streaming against a local server ----

func newTestServer(t *testing.T, received chan<- string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()

		ctx := r.Context()
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				c.Write(ctx, websocket.MessageText, []byte(resultsJSON))
				continue
			}
			received <- string(data)
			if string(data) == string(closeStreamMsg) {
				c.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}))
}

func TestSession_StreamAndFinalize(t *testing.T) {
	received := make(chan string, 4)
	srv := newTestServer(t, received)
	defer srv.Close()

	c, _ := New("key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	s, err := c.Connect(context.Background(), stt.StreamConfig{Diarize: true})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	var (
		mu        sync.Mutex
		texts     []string
		closeErr  error
		opened    = make(chan struct{})
		closed    = make(chan struct{})
		gotResult = make(chan struct{}, 1)
	)
	s.AddListener(stt.EventOpen, func(stt.Event) { close(opened) })
	s.AddListener(stt.EventTranscript, func(ev stt.Event) {
		mu.Lock()
		texts = append(texts, ev.Transcript.Text)
		mu.Unlock()
		select {
		case gotResult <- struct{}{}:
		default:
		}
	})
	s.AddListener(stt.EventClose, func(ev stt.Event) {
		closeErr = ev.Err
		close(closed)
	})

	waitFor(t, opened, "open")

	if err := s.Send([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, gotResult, "transcript")

	if err := s.KeepAlive(); err != nil {
		t.Fatalf("KeepAlive: %v", err)
	}
	if msg := <-received; msg != string(keepAliveMsg) {
		t.Errorf("expected keep-alive message, got %s", msg)
	}

	if err := s.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	waitFor(t, closed, "close")

	if closeErr != nil {
		t.Errorf("expected clean close, got %v", closeErr)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(texts) != 1 || texts[0] != "Max is limping." {
		t.Errorf("expected one transcript, got %v", texts)
	}
}

func TestConnect_Unauthorized(t *testing.T) {
	srv := newTestServer(t, make(chan string, 1))
	defer srv.Close()

	c, _ := New("wrong", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if _, err := c.Connect(context.Background(), stt.StreamConfig{}); err == nil {
		t.Error("expected dial error for bad credentials")
	}
}

func TestSession_SendAfterClose(t *testing.T) {
	srv := newTestServer(t, make(chan string, 4))
	defer srv.Close()

	c, _ := New("key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	s, err := c.Connect(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	s.Close()
	if err := s.Send([]byte{1}); err != stt.ErrSessionClosed {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

// ---- helpers ----

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: expected %q, got %q", field, want, got)
	}
}
