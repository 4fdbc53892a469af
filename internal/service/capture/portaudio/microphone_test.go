package portaudio

import (
	"context"
	"errors"
	"testing"

	"vet-scribe-service/internal/service/capture"
)

func TestEncodePCM16(t *testing.T) {
	got := encodePCM16([]int16{1, -1, 256})
	expected := []byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x01}

	if len(got) != len(expected) {
		t.Fatalf("expected %d bytes, got %d", len(expected), len(got))
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("byte %d: expected %#x, got %#x", i, expected[i], got[i])
		}
	}
}

func TestMicrophone_StartBeforeOpen(t *testing.T) {
	m := New()

	if err := m.Start(); !errors.Is(err, capture.ErrNotOpen) {
		t.Errorf("expected ErrNotOpen, got %v", err)
	}
}

func TestMicrophone_ReleaseWithoutOpen(t *testing.T) {
	m := New()

	if err := m.Release(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Open(context.Background()); !errors.Is(err, capture.ErrReleased) {
		t.Errorf("expected ErrReleased, got %v", err)
	}
}

func TestMicrophone_Format(t *testing.T) {
	f := New().Format()

	if f.SampleRateHz != 16000 || f.Channels != 1 || f.BitsPerSample != 16 {
		t.Errorf("expected 16000/1/16, got %+v", f)
	}
}
