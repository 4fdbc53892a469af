// Command viewer consumes transcript events from Kafka and relays them to browsers over
// WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"vet-scribe-service/internal/events"
	"vet-scribe-service/internal/observability/logging"
	"vet-scribe-service/internal/ws"
)

const indexPage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Transcript Viewer</title></head>
<body style="font-family: sans-serif; max-width: 56em; margin: 2em auto">
<h1>Transcript Viewer</h1>
<div id="recordings"></div>
<script>
const room = new URLSearchParams(location.search).get("recording") || "";
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws/" + room);
const blocks = {};
ws.onmessage = (e) => {
  const ev = JSON.parse(e.data);
  let el = blocks[ev.recordingId];
  if (!el) {
    el = document.createElement("p");
    blocks[ev.recordingId] = el;
    document.getElementById("recordings").appendChild(el);
  }
  const interim = ev.interim ? " <i>" + ev.interim + "</i>" : "";
  el.innerHTML = "<b>" + ev.caseId + "</b> " + (ev.text || "") + interim;
};
</script>
</body>
</html>`

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicPartial := flag.String("topic-partial", "vet.recording.transcript.partial", "Partial transcript topic")
	topicFinal := flag.String("topic-final", "vet.recording.transcript.final", "Final transcript topic")
	since := flag.Duration("since", time.Hour, "Replay events newer than this")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console", TimeFormat: time.RFC3339})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub()

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(indexPage))
	})
	r.Get("/ws/", func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, ws.AllRecordings)
	})
	r.Get("/ws/{recordingId}", func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, chi.URLParam(r, "recordingId"))
	})
	srv := &http.Server{Addr: ":" + *port, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	for _, topic := range []string{*topicPartial, *topicFinal} {
		c := events.NewConsumer(events.ConsumerConfig{
			Brokers: strings.Split(*brokers, ","),
			Topic:   topic,
			Since:   *since,
		})
		defer c.Close()
		g.Go(func() error {
			return c.Run(gctx, func(env events.Envelope) {
				hub.Broadcast(env.RecordingID, env.Payload)
			})
		})
	}
	g.Go(func() error {
		log.Info().Str("addr", "http://localhost:"+*port).Str("brokers", *brokers).Msg("Transcript viewer started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("viewer stopped with error")
	}
}
