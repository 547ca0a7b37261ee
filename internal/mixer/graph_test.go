package mixer

import (
	"context"
	"errors"
	"testing"

	"github.com/gopxl/beep"
	"github.com/rs/zerolog"

	"github.com/Danondso/jamsession/internal/device"
)

var testFormat = beep.Format{SampleRate: 48000, NumChannels: 2, Precision: 2}

// constSource produces a constant value and counts pulls.
type constSource struct {
	value float64
	pulls int
	limit int // frames before draining; 0 = endless
	sent  int
}

func (c *constSource) Stream(samples [][2]float64) (int, bool) {
	c.pulls++
	n := len(samples)
	if c.limit > 0 {
		if c.sent >= c.limit {
			return 0, false
		}
		if rest := c.limit - c.sent; rest < n {
			n = rest
		}
	}
	for i := range samples[:n] {
		samples[i] = [2]float64{c.value, c.value}
	}
	c.sent += n
	return n, true
}

func (c *constSource) Err() error { return nil }

func newTestGraph(opener device.InputOpener) *Graph {
	return NewGraph(testFormat, opener, zerolog.Nop())
}

func TestAddParticipantDefaultGain(t *testing.T) {
	g := newTestGraph(nil)
	g.AddParticipant("a", &constSource{value: 0.1})

	gain, ok := g.Gain("a")
	if !ok {
		t.Fatal("expected participant a")
	}
	if gain != 1.0 {
		t.Errorf("expected default gain 1.0, got %v", gain)
	}
}

func TestAddParticipantSameIDReplaces(t *testing.T) {
	g := newTestGraph(nil)
	first := &constSource{value: 0.1}
	second := &constSource{value: 0.2}
	g.AddParticipant("a", first)
	g.SetVolume("a", 30)
	g.AddParticipant("a", second)

	if g.Len() != 1 {
		t.Fatalf("expected 1 participant, got %d", g.Len())
	}
	if gain, _ := g.Gain("a"); gain != 1.0 {
		t.Errorf("expected fresh gain stage at 1.0, got %v", gain)
	}

	buf := make([][2]float64, 4)
	g.Stream(buf)
	if first.pulls != 0 {
		t.Errorf("replaced source still connected: pulled %d times", first.pulls)
	}
	if buf[0][0] != 0.2 {
		t.Errorf("expected only the new source (0.2) on the bus, got %v", buf[0][0])
	}
}

func TestSetVolumeExactGain(t *testing.T) {
	g := newTestGraph(nil)
	g.AddParticipant("a", &constSource{})
	for p := 0; p <= 100; p++ {
		if !g.SetVolume("a", p) {
			t.Fatalf("SetVolume(a, %d) reported missing participant", p)
		}
		gain, _ := g.Gain("a")
		if gain != float64(p)/100 {
			t.Fatalf("SetVolume(a, %d): gain = %v, want %v", p, gain, float64(p)/100)
		}
	}
}

func TestSetVolumeClamps(t *testing.T) {
	g := newTestGraph(nil)
	g.AddParticipant("a", &constSource{})

	g.SetVolume("a", 150)
	if gain, _ := g.Gain("a"); gain != 1.0 {
		t.Errorf("expected 150 to clamp to 1.0, got %v", gain)
	}
	g.SetVolume("a", -20)
	if gain, _ := g.Gain("a"); gain != 0 {
		t.Errorf("expected -20 to clamp to 0, got %v", gain)
	}
}

func TestSetVolumeAbsentID(t *testing.T) {
	g := newTestGraph(nil)
	g.AddParticipant("a", &constSource{})
	g.SetVolume("a", 40)

	if g.SetVolume("missing", 10) {
		t.Error("expected SetVolume on an absent id to report false")
	}
	parts := g.Participants()
	if len(parts) != 1 || parts[0].ID != "a" || parts[0].Gain != 0.4 {
		t.Errorf("mapping changed: %+v", parts)
	}
}

func TestStreamMixesWithGain(t *testing.T) {
	g := newTestGraph(nil)
	g.AddParticipant("a", &constSource{value: 0.5})
	g.AddParticipant("b", &constSource{value: 0.25})
	g.SetVolume("a", 50)

	buf := make([][2]float64, 16)
	n, ok := g.Stream(buf)
	if n != 16 || !ok {
		t.Fatalf("expected full block, got %d ok=%v", n, ok)
	}
	want := 0.5*0.5 + 0.25
	for i, f := range buf {
		if f[0] != want || f[1] != want {
			t.Fatalf("frame %d = %v, want %v", i, f, want)
		}
	}
}

func TestStreamDrainedSourceStaysConnected(t *testing.T) {
	g := newTestGraph(nil)
	src := &constSource{value: 0.5, limit: 3}
	g.AddParticipant("a", src)

	buf := make([][2]float64, 5)
	g.Stream(buf)
	if buf[2][0] != 0.5 || buf[3][0] != 0 {
		t.Errorf("unexpected partial block %v", buf)
	}
	n, ok := g.Stream(buf)
	if n != 5 || !ok {
		t.Errorf("graph must never drain, got %d ok=%v", n, ok)
	}
	if g.Len() != 1 {
		t.Errorf("ended source should stay registered, got %d participants", g.Len())
	}
}

func TestEmptyGraphProducesSilence(t *testing.T) {
	g := newTestGraph(nil)
	buf := [][2]float64{{1, 1}, {1, 1}}
	n, ok := g.Stream(buf)
	if n != 2 || !ok {
		t.Fatalf("expected 2 frames, got %d ok=%v", n, ok)
	}
	if buf[0] != [2]float64{} || buf[1] != [2]float64{} {
		t.Errorf("expected silence, got %v", buf)
	}
}

func TestTapsReceiveBlocksInOrder(t *testing.T) {
	g := newTestGraph(nil)
	g.AddParticipant("a", &constSource{value: 0.1})

	var got [][][2]float64
	remove := g.AddTap(func(block [][2]float64) {
		got = append(got, block)
	})
	g.Stream(make([][2]float64, 2))
	g.SetVolume("a", 50)
	g.Stream(make([][2]float64, 3))
	remove()
	remove()
	g.Stream(make([][2]float64, 4))

	if len(got) != 2 {
		t.Fatalf("expected 2 tapped blocks, got %d", len(got))
	}
	if len(got[0]) != 2 || len(got[1]) != 3 {
		t.Errorf("unexpected block sizes %d, %d", len(got[0]), len(got[1]))
	}
	if got[0][0][0] != 0.1 || got[1][0][0] != 0.05 {
		t.Errorf("unexpected tapped values %v %v", got[0][0], got[1][0])
	}
}

func TestRemoveParticipant(t *testing.T) {
	g := newTestGraph(nil)
	src := &constSource{value: 0.3}
	g.AddParticipant("a", src)

	if !g.RemoveParticipant("a") {
		t.Fatal("expected a to be removed")
	}
	if g.RemoveParticipant("a") {
		t.Error("second removal should report false")
	}
	g.Stream(make([][2]float64, 2))
	if src.pulls != 0 {
		t.Errorf("removed source still pulled %d times", src.pulls)
	}
}

func TestStartAudioInputReplacesAndStopsPrevious(t *testing.T) {
	platform := device.NewDummy(
		device.Info{ID: "input0", Label: "Mic A", Kind: device.KindAudioInput},
		device.Info{ID: "input1", Label: "Mic B", Kind: device.KindAudioInput},
	)
	g := newTestGraph(platform)
	ctx := context.Background()

	if err := g.StartAudioInput(ctx, "input0"); err != nil {
		t.Fatal(err)
	}
	if err := g.StartAudioInput(ctx, "input1"); err != nil {
		t.Fatal(err)
	}

	opened := platform.Opened()
	if len(opened) != 2 {
		t.Fatalf("expected 2 opened inputs, got %d", len(opened))
	}
	if opened[0].Active() {
		t.Error("previous capture still running after replacement")
	}
	if !opened[1].Active() {
		t.Error("new capture should be active")
	}
	in, ok := g.Capture()
	if !ok || in != opened[1] {
		t.Error("graph should hold exactly the new capture")
	}
}

func TestStartAudioInputUnknownDevice(t *testing.T) {
	g := newTestGraph(device.DefaultDummy())
	err := g.StartAudioInput(context.Background(), "input9")
	if !errors.Is(err, device.ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
	if g.HasCapture() {
		t.Error("failed open must not leave a capture session")
	}
}

func TestStartAudioInputPermissionDenied(t *testing.T) {
	platform := device.DefaultDummy()
	platform.DenyPermission(errors.New("blocked"))
	g := newTestGraph(platform)
	err := g.StartAudioInput(context.Background(), "input0")
	if !errors.Is(err, device.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestStartAudioInputWithoutOpener(t *testing.T) {
	g := newTestGraph(nil)
	if err := g.StartAudioInput(context.Background(), "input0"); !errors.Is(err, device.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestCleanupIdempotent(t *testing.T) {
	platform := device.DefaultDummy()
	g := newTestGraph(platform)
	if err := g.StartAudioInput(context.Background(), "input0"); err != nil {
		t.Fatal(err)
	}
	g.AddParticipant("a", &constSource{})
	g.AddParticipant("b", &constSource{})

	if err := g.Cleanup(); err != nil {
		t.Fatalf("first cleanup: %v", err)
	}
	if err := g.Cleanup(); err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
	if g.Len() != 0 {
		t.Errorf("expected no participants, got %d", g.Len())
	}
	if g.HasCapture() {
		t.Error("expected capture released")
	}
	for _, in := range platform.Opened() {
		if in.Active() {
			t.Errorf("capture %s still active after cleanup", in.DeviceID())
		}
	}
}

func TestVolumeScenario(t *testing.T) {
	platform := device.DefaultDummy()
	g := newTestGraph(platform)
	if err := g.StartAudioInput(context.Background(), "input0"); err != nil {
		t.Fatal(err)
	}
	g.AddParticipant("a", &constSource{})
	g.AddParticipant("b", &constSource{})

	g.SetVolume("a", 50)
	if gain, _ := g.Gain("a"); gain != 0.5 {
		t.Errorf("gain(a) = %v, want 0.5", gain)
	}
	if gain, _ := g.Gain("b"); gain != 1.0 {
		t.Errorf("gain(b) = %v, want 1.0", gain)
	}

	if err := g.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if len(g.Participants()) != 0 {
		t.Error("expected empty participant mapping")
	}
	if platform.Opened()[0].Active() {
		t.Error("expected capture session released")
	}
}
