// Package portaudio provides a capture device for the default local input device.
package portaudio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"vet-scribe-service/internal/service/capture"
)

const (
	// SampleRate is the capture rate; speech providers are tuned for 16kHz.
	SampleRate = 16000
	// Channels - mono.
	Channels = 1
	// FramesPerBuffer is one chunk, 64ms at 16kHz.
	FramesPerBuffer = 1024
)

// Microphone captures 16-bit little-endian PCM from the default input device.
type Microphone struct {
	*capture.Emitter

	mu       sync.Mutex
	stream   *portaudio.Stream
	buffer   []int16
	running  bool
	released bool
	done     chan struct{}
}

// New creates a microphone device. Nothing is acquired until Open.
func New() *Microphone {
	return &Microphone{
		Emitter: capture.NewEmitter(),
		buffer:  make([]int16, FramesPerBuffer*Channels),
	}
}

// Open initializes PortAudio and opens the default input stream.
func (m *Microphone) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return capture.ErrReleased
	}
	if m.stream != nil {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	stream, err := portaudio.OpenDefaultStream(Channels, 0, float64(SampleRate), FramesPerBuffer, m.buffer)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("portaudio: open default stream: %w", err)
	}
	m.stream = stream
	return nil
}

// Start begins capturing.
func (m *Microphone) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return capture.ErrReleased
	}
	if m.stream == nil {
		return capture.ErrNotOpen
	}
	if m.running {
		return nil
	}

	if err := m.stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start: %w", err)
	}
	m.running = true
	m.done = make(chan struct{})
	go m.recordLoop(m.stream, m.done)
	return nil
}

func (m *Microphone) recordLoop(stream *portaudio.Stream, done chan struct{}) {
	defer close(done)

	for {
		// Read blocks until the buffer is full.
		err := stream.Read()

		m.mu.Lock()
		running := m.running
		var chunk []byte
		if running && err == nil {
			chunk = encodePCM16(m.buffer)
		}
		m.mu.Unlock()

		if !running {
			return
		}
		if err != nil {
			m.Emit(capture.Event{Kind: capture.EventError, Err: fmt.Errorf("portaudio: read: %w", err)})
			return
		}
		m.Emit(capture.Event{Kind: capture.EventDataAvailable, Data: chunk})
	}
}

// Stop halts capture and waits for the read loop. It must not be called from a
// listener of this device.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	stream, done := m.stream, m.done
	m.mu.Unlock()

	err := stream.Stop()
	<-done
	if err != nil {
		return fmt.Errorf("portaudio: stop: %w", err)
	}
	return nil
}

// Release closes the stream and terminates PortAudio.
func (m *Microphone) Release() error {
	m.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return nil
	}
	m.released = true
	m.ClearListeners()

	if m.stream == nil {
		return nil
	}
	err := m.stream.Close()
	m.stream = nil
	portaudio.Terminate()
	return err
}

// Format returns the capture format.
func (m *Microphone) Format() capture.Format {
	return capture.Format{SampleRateHz: SampleRate, Channels: Channels, BitsPerSample: 16}
}

// encodePCM16 copies samples into little-endian bytes.
func encodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
