package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// ErrNotPCM is returned for WAV files that are not uncompressed PCM.
var ErrNotPCM = errors.New("capture: only PCM WAV is supported")

// ParseWAVHeader reads and validates a canonical 44-byte PCM WAV header.
func ParseWAVHeader(r io.Reader) (Format, error) {
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Format{}, fmt.Errorf("capture: read WAV header: %w", err)
	}

	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return Format{}, errors.New("capture: not a valid WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	if audioFormat != 1 { // PCM
		return Format{}, ErrNotPCM
	}

	return Format{
		Channels:      int(binary.LittleEndian.Uint16(header[22:24])),
		SampleRateHz:  int(binary.LittleEndian.Uint32(header[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(header[34:36])),
	}, nil
}

// ReaderConfig controls how a Reader chunks its source.
type ReaderConfig struct {
	ChunkSize int
	// Interval between chunks. Zero delivers as fast as listeners consume.
	Interval time.Duration
}

// DefaultReaderConfig returns 100ms chunks of the given format, paced in real time.
func DefaultReaderConfig(f Format) ReaderConfig {
	size := f.BytesPerSecond() / 10
	if size <= 0 {
		size = 3200
	}
	return ReaderConfig{ChunkSize: size, Interval: 100 * time.Millisecond}
}

// Reader is a device that replays raw audio from an io.Reader. It emits ended at EOF.
type Reader struct {
	*Emitter

	src    io.Reader
	format Format
	cfg    ReaderConfig

	mu       sync.Mutex
	opened   bool
	released bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewReader creates a device over raw PCM data.
func NewReader(src io.Reader, format Format, cfg ReaderConfig) *Reader {
	if cfg.ChunkSize <= 0 {
		cfg = DefaultReaderConfig(format)
	}
	return &Reader{
		Emitter: NewEmitter(),
		src:     src,
		format:  format,
		cfg:     cfg,
	}
}

// NewWAVReader parses the WAV header from src and returns a device over the samples.
func NewWAVReader(src io.Reader, cfg ReaderConfig) (*Reader, error) {
	format, err := ParseWAVHeader(src)
	if err != nil {
		return nil, err
	}
	if cfg.ChunkSize <= 0 {
		cfg = DefaultReaderConfig(format)
	}
	return NewReader(src, format, cfg), nil
}

// Open marks the device acquired.
func (r *Reader) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return ErrReleased
	}
	r.opened = true
	return nil
}

// Start begins replaying from the current position.
func (r *Reader) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return ErrReleased
	}
	if !r.opened {
		return ErrNotOpen
	}
	if r.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.readLoop(ctx, r.done)
	return nil
}

func (r *Reader) readLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	var ticker *time.Ticker
	if r.cfg.Interval > 0 {
		ticker = time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
	}

	for {
		if ctx.Err() != nil {
			return
		}

		buf := make([]byte, r.cfg.ChunkSize)
		n, err := io.ReadFull(r.src, buf)
		if n > 0 {
			r.Emit(Event{Kind: EventDataAvailable, Data: buf[:n]})
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			r.Emit(Event{Kind: EventEnded})
			return
		}
		if err != nil {
			r.Emit(Event{Kind: EventError, Err: fmt.Errorf("capture: read: %w", err)})
			return
		}

		if ticker != nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}

// Stop halts replay and waits for the read loop to exit. It must not be called from a
// listener of this device.
func (r *Reader) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Release stops the device, closes the source if it is a Closer and drops listeners.
func (r *Reader) Release() error {
	r.Stop()

	r.mu.Lock()
	already := r.released
	r.released = true
	r.mu.Unlock()

	r.ClearListeners()
	if already {
		return nil
	}
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Format returns the audio format.
func (r *Reader) Format() Format {
	return r.format
}
