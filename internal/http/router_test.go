package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"vet-scribe-service/internal/models"
	"vet-scribe-service/internal/observability/metrics"
	"vet-scribe-service/internal/service/capture"
	"vet-scribe-service/internal/service/notes"
	"vet-scribe-service/internal/service/recording"
	"vet-scribe-service/internal/service/stt/mock"
	"vet-scribe-service/internal/storage/sqlite"
)

type fakeNotes struct {
	err error
}

func (n *fakeNotes) GenerateForTranscript(_ context.Context, id int64) (*models.TranscriptRecord, error) {
	if n.err != nil {
		return nil, n.err
	}
	return &models.TranscriptRecord{ID: id, SOAPNote: &models.SOAPNote{Plan: "recheck"}}, nil
}

type testEnv struct {
	srv     *httptest.Server
	manager *recording.Manager
	store   *sqlite.TranscriptStore
}

func newTestEnv(t *testing.T, n Notes) *testEnv {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := recording.DefaultConfig()
	cfg.ConnectTimeout = time.Second
	cfg.FlushTimeout = time.Second
	connector := mock.New(mock.WithOpenDelay(0), mock.WithEventDelay(time.Millisecond))
	manager := recording.NewManager(connector, cfg,
		recording.WithStore(store),
		recording.WithManagerMetrics(metrics.New(prometheus.NewRegistry())),
	)

	deps := Deps{
		Recordings:  manager,
		Transcripts: store,
		Format:      capture.Format{SampleRateHz: 16000, Channels: 1, BitsPerSample: 16},
		StopTimeout: 2 * time.Second,
	}
	if n != nil {
		deps.Notes = n
	}
	srv := httptest.NewServer(NewRouter(deps))
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, manager: manager, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("bad request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return resp, body
}

func TestRouter_Health(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/v1/liveness")
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("expected liveness ok, got %d %q", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodGet, "/v1/readiness")
	if resp.StatusCode != http.StatusOK || string(body) != "ready" {
		t.Errorf("expected readiness ok, got %d %q", resp.StatusCode, body)
	}

	env.store.Close()
	resp, _ = env.do(t, http.MethodGet, "/v1/readiness")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with closed store, got %d", resp.StatusCode)
	}
}

func TestRouter_ErrorMapping(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"unknown recording", http.MethodGet, "/v1/recordings/nope", http.StatusNotFound},
		{"stop unknown", http.MethodPost, "/v1/recordings/nope/stop", http.StatusNotFound},
		{"save unknown", http.MethodPost, "/v1/recordings/nope/save", http.StatusNotFound},
		{"delete unknown", http.MethodDelete, "/v1/recordings/nope", http.StatusNotFound},
		{"watch unknown", http.MethodGet, "/v1/recordings/nope/watch", http.StatusNotFound},
		{"bad transcript id", http.MethodGet, "/v1/transcripts/abc", http.StatusBadRequest},
		{"missing transcript", http.MethodGet, "/v1/transcripts/42", http.StatusNotFound},
		{"bad limit", http.MethodGet, "/v1/cases/case-1/transcripts?limit=x", http.StatusBadRequest},
		{"notes disabled", http.MethodPost, "/v1/transcripts/1/soap", http.StatusServiceUnavailable},
		{"stream without case", http.MethodGet, "/v1/recordings/stream", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, tt.method, tt.path)
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d (%s)", tt.status, resp.StatusCode, body)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: rec-1", recording.ErrRecordingNotFound), http.StatusNotFound},
		{recording.ErrNotIdle, http.StatusConflict},
		{recording.ErrNotStreaming, http.StatusConflict},
		{recording.ErrNothingToSave, http.StatusConflict},
		{fmt.Errorf("%w: dial", recording.ErrConnectFailed), http.StatusBadGateway},
		{recording.ErrDeviceUnavailable, http.StatusServiceUnavailable},
		{notes.ErrEmptyTranscript, http.StatusBadRequest},
		{badRequest("x"), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.status {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.status)
		}
	}
}

func readStreamMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("bad message %q: %v", data, err)
	}
	return m
}

// streamConsult records one utterance over the stream socket and returns the recording id
// and the result message.
func streamConsult(t *testing.T, env *testEnv) (string, map[string]any) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v1/recordings/stream?caseId=case-1&clinicId=clinic-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	var id string
	for id == "" {
		m := readStreamMessage(t, conn)
		if m["type"] == msgStarted {
			id, _ = m["recordingId"].(string)
		}
	}

	chunk := make([]byte, 320)
	for i := 0; i < 3; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	for {
		m := readStreamMessage(t, conn)
		if m["type"] == msgResult {
			return id, m
		}
	}
}

func TestRouter_StreamStopSaveAndNote(t *testing.T) {
	env := newTestEnv(t, &fakeNotes{})

	id, msg := streamConsult(t, env)
	result, ok := msg["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected result payload, got %v", msg)
	}
	if result["transcript"] != "Max is limping on his right leg." {
		t.Errorf("unexpected transcript %v", result["transcript"])
	}
	if result["complete"] != true {
		t.Errorf("expected complete result, got %v", result)
	}

	resp, body := env.do(t, http.MethodGet, "/v1/recordings/"+id)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var info recording.Info
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatalf("bad info: %v", err)
	}
	if info.State != recording.StateIdle || info.CaseID != "case-1" {
		t.Errorf("unexpected info %+v", info)
	}

	resp, _ = env.do(t, http.MethodPost, "/v1/recordings/"+id+"/stop")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 stopping an idle recording, got %d", resp.StatusCode)
	}

	resp, body = env.do(t, http.MethodPost, "/v1/recordings/"+id+"/save")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", resp.StatusCode, body)
	}
	var rec models.TranscriptRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("bad record: %v", err)
	}
	if rec.ID == 0 || rec.Content != "Max is limping on his right leg." {
		t.Errorf("unexpected record %+v", rec)
	}

	resp, body = env.do(t, http.MethodGet, "/v1/cases/case-1/transcripts")
	var list []models.TranscriptRecord
	if err := json.Unmarshal(body, &list); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected list response %d %s", resp.StatusCode, body)
	}
	if len(list) != 1 || list[0].ID != rec.ID {
		t.Errorf("expected the saved transcript listed, got %+v", list)
	}

	resp, body = env.do(t, http.MethodPost, fmt.Sprintf("/v1/transcripts/%d/soap", rec.ID))
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "recheck") {
		t.Errorf("expected note in response, got %d %s", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodDelete, "/v1/recordings/"+id)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/v1/recordings/"+id)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestRouter_StreamClientDropPreservesTranscript(t *testing.T) {
	env := newTestEnv(t, nil)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v1/recordings/stream?caseId=case-2"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	var id string
	for id == "" {
		m := readStreamMessage(t, conn)
		if m["type"] == msgStarted {
			id, _ = m["recordingId"].(string)
		}
	}
	for i := 0; i < 3; i++ {
		conn.WriteMessage(websocket.BinaryMessage, make([]byte, 320))
	}
	// wait for the final before dropping
	for {
		m := readStreamMessage(t, conn)
		if m["type"] == string(recording.UpdateTranscript) && m["durable"] == true {
			break
		}
	}
	conn.Close()

	s, err := env.manager.Get(id)
	if err != nil {
		t.Fatalf("expected recording kept, got %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("recording did not end after client drop, state %s", s.State())
	}

	res, ok := s.Result()
	if !ok {
		t.Fatal("expected a result")
	}
	if res.Complete {
		t.Error("expected incomplete result after client drop")
	}
	if res.Transcript != "Max is limping on his right leg." {
		t.Errorf("expected transcript preserved, got %q", res.Transcript)
	}
}
