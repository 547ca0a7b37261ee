package chime

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gopxl/beep"
	"github.com/rs/zerolog"

	"github.com/Danondso/jamsession/internal/recorder"
)

type recordingOutput struct {
	mu     sync.Mutex
	played []beep.Streamer
}

func (o *recordingOutput) Play(s ...beep.Streamer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.played = append(o.played, s...)
}

func (o *recordingOutput) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.played)
}

func TestNewWithDefaults(t *testing.T) {
	p, err := New(&recordingOutput{}, 44100, "", "", true, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := int(44100 * chimeDuration)
	if len(p.start) != want {
		t.Errorf("expected %d start frames, got %d", want, len(p.start))
	}
	if len(p.stop) != want {
		t.Errorf("expected %d stop frames, got %d", want, len(p.stop))
	}
	if !p.enabled {
		t.Error("expected enabled")
	}
}

func TestNewDisabled(t *testing.T) {
	out := &recordingOutput{}
	p, err := New(out, 44100, "", "", false, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.PlayStart()
	p.PlayStop()
	if out.count() != 0 {
		t.Errorf("disabled player should not play, got %d", out.count())
	}
}

func TestPlayQueuesOnOutput(t *testing.T) {
	out := &recordingOutput{}
	p, err := New(out, 8000, "", "", true, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p.PlayStart()
	p.PlayStop()
	if out.count() != 2 {
		t.Fatalf("expected 2 chimes, got %d", out.count())
	}

	buf := make([][2]float64, 8000)
	n, _ := out.played[0].Stream(buf)
	if n != int(8000*chimeDuration) {
		t.Errorf("expected %d frames, got %d", int(8000*chimeDuration), n)
	}
}

func TestNilOutputIsNoop(t *testing.T) {
	p, err := New(nil, 8000, "", "", true, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p.PlayStart()
}

func TestNewWithCustomPaths(t *testing.T) {
	dir := t.TempDir()
	startPath := filepath.Join(dir, "custom_start.wav")
	stopPath := filepath.Join(dir, "custom_stop.wav")

	data, err := recorder.EncodeWAV(make([]int16, 800), 8000, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(startPath, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stopPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := New(&recordingOutput{}, 8000, startPath, stopPath, true, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.start) != 800 {
		t.Errorf("expected 800 start frames from custom path, got %d", len(p.start))
	}
	if len(p.stop) != 800 {
		t.Errorf("expected 800 stop frames from custom path, got %d", len(p.stop))
	}
}

func TestNewWithBadPath(t *testing.T) {
	_, err := New(nil, 8000, "/nonexistent/path/start.wav", "", true, zerolog.Nop())
	if err == nil {
		t.Error("expected error for nonexistent start path")
	}

	_, err = New(nil, 8000, "", "/nonexistent/path/stop.wav", true, zerolog.Nop())
	if err == nil {
		t.Error("expected error for nonexistent stop path")
	}
}

func TestSweepEnvelope(t *testing.T) {
	frames := sweep(8000, 0.1, 440, 523)
	if frames[0][0] != 0 {
		t.Errorf("expected silent first frame, got %v", frames[0][0])
	}
	for i, f := range frames {
		if math.Abs(f[0]) > chimeAmplitude {
			t.Fatalf("frame %d exceeds amplitude: %v", i, f[0])
		}
	}
}
