package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"vet-scribe-service/internal/service/capture"
)

// Stream audio in chunks to simulate real-time streaming
// At 16kHz 16-bit mono = 32000 bytes/second
// 100ms chunks = 3200 bytes
const chunkIntervalMs = 100

type message struct {
	Type        string `json:"type"`
	RecordingID string `json:"recordingId"`
	Display     string `json:"display"`
	Durable     bool   `json:"durable"`
	Error       string `json:"error"`
	Result      *struct {
		Transcript string `json:"transcript"`
		Complete   bool   `json:"complete"`
		Error      string `json:"error"`
		DurationMs int64  `json:"durationMs"`
		AudioBytes int64  `json:"audioBytes"`
	} `json:"result"`
}

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16-bit PCM)")
	serverAddr := flag.String("server", "localhost:8080", "Recording API address")
	caseID := flag.String("case", "case-demo", "Case ID")
	clinicID := flag.String("clinic", "clinic-demo", "Clinic ID")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	format, err := capture.ParseWAVHeader(f)
	if err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	log.Printf("WAV file: channels=%d sampleRate=%d bitsPerSample=%d",
		format.Channels, format.SampleRateHz, format.BitsPerSample)

	chunkSize := format.BytesPerSecond() * chunkIntervalMs / 1000
	if chunkSize <= 0 {
		log.Fatal("Unsupported WAV format")
	}

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/v1/recordings/stream"}
	q := u.Query()
	q.Set("caseId", *caseID)
	q.Set("clinicId", *clinicID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", u.String())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg message
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Printf("Bad message: %v", err)
				continue
			}
			switch msg.Type {
			case "started":
				log.Printf("Recording started: %s", msg.RecordingID)
			case "transcript":
				if msg.Durable {
					log.Printf("Final: %s", msg.Display)
				}
			case "error":
				log.Printf("Server error: %s", msg.Error)
			case "result":
				if msg.Result == nil {
					continue
				}
				log.Printf("Result: complete=%t duration=%dms audio=%d bytes",
					msg.Result.Complete, msg.Result.DurationMs, msg.Result.AudioBytes)
				if msg.Result.Error != "" {
					log.Printf("Recording error: %s", msg.Result.Error)
				}
				log.Printf("Transcript:\n%s", msg.Result.Transcript)
			}
		}
	}()

	chunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for {
		n, err := io.ReadFull(f, chunk)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, chunk[:n]); werr != nil {
				log.Fatalf("Failed to send chunk: %v", werr)
			}
			chunkNum++
			totalBytes += int64(n)
			if chunkNum%50 == 0 {
				log.Printf("Sent chunk %d (%d bytes total)", chunkNum, totalBytes)
			}
			time.Sleep(chunkIntervalMs * time.Millisecond)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}
	}

	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, time.Since(startTime))
	log.Println("Stopping recording, waiting for final transcript...")

	if err := conn.WriteJSON(map[string]string{"type": "stop"}); err != nil {
		log.Fatalf("Failed to send stop: %v", err)
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Fatal("Timed out waiting for result")
	}
}
