package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"vet-scribe-service/internal/service/capture"
	"vet-scribe-service/internal/service/recording"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	streamWriteWait = 5 * time.Second
	streamOutbox    = 256
)

// Stream socket message types sent in addition to recording updates.
const (
	msgStarted = "started"
	msgResult  = "result"
	msgError   = "error"
)

type streamMessage struct {
	Type        string          `json:"type"`
	RecordingID string          `json:"recordingId,omitempty"`
	Result      *resultResponse `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// controlMessage is a text frame sent by the client.
type controlMessage struct {
	Type string `json:"type"`
}

// streamRecording runs one recording fed by the client's binary frames. Updates are
// written back as JSON; a text {"type":"stop"} frame stops gracefully and the final
// result is sent before the socket closes.
func (h *handlers) streamRecording(w http.ResponseWriter, r *http.Request) {
	params := recording.Params{
		CaseID:   r.URL.Query().Get("caseId"),
		ClinicID: r.URL.Query().Get("clinicId"),
	}
	if params.CaseID == "" {
		h.writeError(w, r, badRequest("caseId is required"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	out := newOutbox(conn, h.logger, streamOutbox)
	go out.run()

	device := capture.NewStream(h.Format)
	s, err := h.Recordings.Create(r.Context(), params, device)
	if err != nil {
		out.send(streamMessage{Type: msgError, Error: err.Error()})
		out.close()
		closeSocket(conn, websocket.CloseInternalServerErr, "recording failed to start")
		return
	}

	logger := h.logger.With().Str("recordingId", s.ID()).Str("caseId", params.CaseID).Logger()
	unsubscribe := s.Subscribe(func(u recording.Update) { out.send(u) })
	out.send(streamMessage{Type: msgStarted, RecordingID: s.ID()})

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		<-s.Done()
		unsubscribe()
		msg := streamMessage{Type: msgResult, RecordingID: s.ID()}
		if res, ok := s.Result(); ok {
			rr := newResultResponse(res)
			msg.Result = &rr
		}
		out.send(msg)
		out.close()
		closeSocket(conn, websocket.CloseNormalClosure, "")
		conn.Close()
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if s.State().IsActive() {
				logger.Warn().Err(err).Msg("stream client disconnected")
				device.Fail(err)
			}
			break
		}

		switch mt {
		case websocket.BinaryMessage:
			device.Push(data)
		case websocket.TextMessage:
			var ctl controlMessage
			if err := json.Unmarshal(data, &ctl); err != nil {
				out.send(streamMessage{Type: msgError, Error: "invalid control message"})
				continue
			}
			if ctl.Type == "stop" {
				go h.stopStream(s, out, logger)
			}
		}
	}

	<-finished
}

func (h *handlers) stopStream(s *recording.Session, out *outbox, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), h.StopTimeout)
	defer cancel()
	if _, err := s.Stop(ctx); err != nil && !errors.Is(err, recording.ErrNotStreaming) {
		logger.Warn().Err(err).Msg("stop requested by client failed")
		out.send(streamMessage{Type: msgError, RecordingID: s.ID(), Error: err.Error()})
	}
}

func closeSocket(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(streamWriteWait))
}

// outbox serializes writes to the socket. Sends never block the caller. Once more than
// limit messages are queued, the oldest interim transcript update is dropped to make
// room; durable updates and control messages are always kept.
type outbox struct {
	conn   *websocket.Conn
	logger zerolog.Logger
	limit  int

	mu      sync.Mutex
	cond    *sync.Cond
	items   []any
	closed  bool
	dropped int
	done    chan struct{}
}

func newOutbox(conn *websocket.Conn, logger zerolog.Logger, limit int) *outbox {
	o := &outbox{
		conn:   conn,
		logger: logger,
		limit:  limit,
		done:   make(chan struct{}),
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

func (o *outbox) run() {
	defer close(o.done)
	for {
		o.mu.Lock()
		for len(o.items) == 0 && !o.closed {
			o.cond.Wait()
		}
		if len(o.items) == 0 {
			o.mu.Unlock()
			return
		}
		v := o.items[0]
		o.items[0] = nil
		o.items = o.items[1:]
		o.mu.Unlock()

		o.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := o.conn.WriteJSON(v); err != nil {
			o.logger.Debug().Err(err).Msg("stream write failed")
			o.mu.Lock()
			o.closed = true
			o.items = nil
			o.mu.Unlock()
			return
		}
	}
}

func (o *outbox) send(v any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if len(o.items) >= o.limit {
		if i := o.oldestInterim(); i >= 0 {
			o.items = append(o.items[:i], o.items[i+1:]...)
			o.dropped++
		} else if isInterim(v) {
			o.dropped++
			return
		}
		if o.dropped%50 == 1 {
			o.logger.Warn().Int("dropped", o.dropped).Msg("stream outbox full, dropping interim updates")
		}
	}
	o.items = append(o.items, v)
	o.cond.Signal()
}

func (o *outbox) oldestInterim() int {
	for i, v := range o.items {
		if isInterim(v) {
			return i
		}
	}
	return -1
}

// isInterim reports whether v is a transcript update the next update supersedes.
func isInterim(v any) bool {
	u, ok := v.(recording.Update)
	return ok && u.Type == recording.UpdateTranscript && !u.Durable
}

// close stops accepting messages and waits for queued ones to be written.
func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.cond.Broadcast()
	o.mu.Unlock()
	<-o.done
}
