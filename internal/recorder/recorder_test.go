package recorder

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/gopxl/beep"
	"github.com/rs/zerolog"

	"github.com/Danondso/jamsession/internal/backend"
	"github.com/Danondso/jamsession/internal/device"
	"github.com/Danondso/jamsession/internal/mixer"
)

var testFormat = beep.Format{SampleRate: 8000, NumChannels: 2, Precision: 2}

type fakePersister struct {
	mu    sync.Mutex
	err   error
	blobs []backend.Blob
}

func (f *fakePersister) Persist(_ context.Context, blob backend.Blob) (backend.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs = append(f.blobs, blob)
	if f.err != nil {
		return backend.Artifact{}, f.err
	}
	return backend.Artifact{Kind: backend.ArtifactFile, Ref: "saved"}, nil
}

func (f *fakePersister) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func newGraphWithCapture(t *testing.T) *mixer.Graph {
	t.Helper()
	g := mixer.NewGraph(testFormat, device.DefaultDummy(), zerolog.Nop())
	if err := g.StartAudioInput(context.Background(), "input0"); err != nil {
		t.Fatal(err)
	}
	return g
}

type toneSource struct{ value float64 }

func (s toneSource) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		samples[i] = [2]float64{s.value, -s.value}
	}
	return len(samples), true
}

func (s toneSource) Err() error { return nil }

func TestStartWithoutCaptureFails(t *testing.T) {
	g := mixer.NewGraph(testFormat, device.DefaultDummy(), zerolog.Nop())
	r := New(g, &fakePersister{}, testFormat, Options{}, zerolog.Nop())

	if err := r.Start(); !errors.Is(err, ErrNoCaptureSession) {
		t.Fatalf("expected ErrNoCaptureSession, got %v", err)
	}
	if r.State() != StateIdle {
		t.Errorf("expected idle, got %s", r.State())
	}
}

func TestStartWhileRecordingRejected(t *testing.T) {
	g := newGraphWithCapture(t)
	r := New(g, &fakePersister{}, testFormat, Options{}, zerolog.Nop())

	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	g.AddParticipant("a", toneSource{value: 0.5})
	g.Stream(make([][2]float64, 10))

	if err := r.Start(); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}
	if r.ChunkCount() != 1 {
		t.Errorf("second Start must not reset the buffer, got %d chunks", r.ChunkCount())
	}
}

func TestStopWhileIdleFails(t *testing.T) {
	g := newGraphWithCapture(t)
	p := &fakePersister{}
	r := New(g, p, testFormat, Options{}, zerolog.Nop())

	art, err := r.Stop(context.Background())
	if !errors.Is(err, ErrNoActiveRecording) {
		t.Fatalf("expected ErrNoActiveRecording, got %v", err)
	}
	if art != (backend.Artifact{}) {
		t.Errorf("expected no artifact, got %+v", art)
	}
	if len(p.blobs) != 0 {
		t.Errorf("expected nothing persisted, got %d blobs", len(p.blobs))
	}
}

func TestRoundTripPreservesContent(t *testing.T) {
	g := newGraphWithCapture(t)
	g.AddParticipant("a", toneSource{value: 0.25})
	g.AddParticipant("b", toneSource{value: 0.25})
	g.SetVolume("b", 50)

	fallback := backend.NewFallback(device.DefaultDummy(), zerolog.Nop())
	r := New(g, fallback, testFormat, Options{}, zerolog.Nop())
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}

	sizes := []int{160, 80, 1, 333}
	for _, n := range sizes {
		g.Stream(make([][2]float64, n))
	}
	g.Stream(make([][2]float64, 0)) // empty blocks are not chunks

	if r.ChunkCount() != len(sizes) {
		t.Fatalf("expected %d chunks, got %d", len(sizes), r.ChunkCount())
	}
	total := r.BufferedBytes()

	art, err := r.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if art.Kind != backend.ArtifactDataURI {
		t.Fatalf("expected data URI artifact, got %s", art.Kind)
	}
	if art.SessionID == "" {
		t.Error("expected a session id on the artifact")
	}
	if r.State() != StateIdle {
		t.Errorf("expected idle after stop, got %s", r.State())
	}

	contentType, data, err := backend.DecodeDataURI(art.Ref)
	if err != nil {
		t.Fatal(err)
	}
	if contentType != backend.ContentTypeWAV {
		t.Errorf("expected %s, got %s", backend.ContentTypeWAV, contentType)
	}
	samples, sr, ch, err := DecodeWAV(data)
	if err != nil {
		t.Fatal(err)
	}
	if sr != int(testFormat.SampleRate) || ch != 2 {
		t.Errorf("unexpected format %d Hz %d ch", sr, ch)
	}
	if got := len(samples) * bytesPerSample; got != total {
		t.Errorf("decoded %d bytes, want sum of chunks %d", got, total)
	}

	// 0.25 + 0.25*0.5 on the left channel, negated on the right.
	want := floatToInt16(0.375)
	if samples[0] != want || samples[1] != -want {
		t.Errorf("unexpected first frame %d %d, want %d %d", samples[0], samples[1], want, -want)
	}
}

func TestStopPersistsOnceAndReturnsToIdle(t *testing.T) {
	g := newGraphWithCapture(t)
	p := &fakePersister{}
	r := New(g, p, testFormat, Options{}, zerolog.Nop())

	for i := 0; i < 2; i++ {
		if err := r.Start(); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		g.Stream(make([][2]float64, 4))
		art, err := r.Stop(context.Background())
		if err != nil {
			t.Fatalf("stop %d: %v", i, err)
		}
		if art.Ref != "saved" {
			t.Errorf("unexpected artifact %+v", art)
		}
	}
	if len(p.blobs) != 2 {
		t.Errorf("expected one blob per recording, got %d", len(p.blobs))
	}
	if _, err := r.Stop(context.Background()); !errors.Is(err, ErrNoActiveRecording) {
		t.Errorf("expected ErrNoActiveRecording after completion, got %v", err)
	}
}

func TestBlocksAfterStopAreNotRecorded(t *testing.T) {
	g := newGraphWithCapture(t)
	g.AddParticipant("a", toneSource{value: 0.1})
	p := &fakePersister{}
	r := New(g, p, testFormat, Options{}, zerolog.Nop())

	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	g.Stream(make([][2]float64, 10))
	res := <-r.StopAsync(context.Background())
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	g.Stream(make([][2]float64, 10))

	samples, _, _, err := DecodeWAV(p.blobs[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 20 {
		t.Errorf("expected 10 stereo frames, got %d samples", len(samples))
	}
}

func TestPersistFailureIsSurfacedAndRetryable(t *testing.T) {
	g := newGraphWithCapture(t)
	p := &fakePersister{}
	p.setErr(backend.ErrNativePersistFailed)
	r := New(g, p, testFormat, Options{}, zerolog.Nop())

	if _, err := r.RetryPersist(context.Background()); !errors.Is(err, ErrNothingToRetry) {
		t.Fatalf("expected ErrNothingToRetry, got %v", err)
	}

	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	g.Stream(make([][2]float64, 4))
	if _, err := r.Stop(context.Background()); !errors.Is(err, backend.ErrNativePersistFailed) {
		t.Fatalf("expected ErrNativePersistFailed, got %v", err)
	}
	if r.State() != StateIdle {
		t.Errorf("expected idle after failed persist, got %s", r.State())
	}
	if !r.HasPending() {
		t.Fatal("expected pending blob after failure")
	}

	p.setErr(nil)
	art, err := r.RetryPersist(context.Background())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if art.SessionID == "" {
		t.Error("expected retried artifact to keep its session id")
	}
	if r.HasPending() {
		t.Error("pending blob should be cleared after a successful retry")
	}
	if len(p.blobs) != 2 || len(p.blobs[0].Data) != len(p.blobs[1].Data) {
		t.Error("retry should resubmit the same blob")
	}
}

func TestMaxDurationTruncates(t *testing.T) {
	g := newGraphWithCapture(t)
	p := &fakePersister{}
	r := New(g, p, testFormat, Options{MaxDurationSec: 1}, zerolog.Nop())

	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		g.Stream(make([][2]float64, 5000))
	}
	res := <-r.StopAsync(context.Background())
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if !res.Truncated {
		t.Error("expected truncated result")
	}
	samples, _, _, err := DecodeWAV(p.blobs[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 8000*2 {
		t.Errorf("expected exactly one second of stereo audio, got %d samples", len(samples))
	}
}

func TestAudioLevel(t *testing.T) {
	g := newGraphWithCapture(t)
	g.AddParticipant("a", toneSource{value: 0.5})
	r := New(g, &fakePersister{}, testFormat, Options{}, zerolog.Nop())
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	g.Stream(make([][2]float64, 16))
	// Left and right cancel out when averaged.
	if lvl := r.AudioLevel(); lvl != 0 {
		t.Errorf("expected 0 level for opposite channels, got %v", lvl)
	}
	if _, err := r.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r.AudioLevel() != 0 {
		t.Error("expected level reset after stop")
	}
}

func TestComputeRMS(t *testing.T) {
	block := [][2]float64{{0.5, 0.5}, {-0.5, -0.5}}
	if got := computeRMS(block); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("expected 0.5, got %v", got)
	}
	if computeRMS(nil) != 0 {
		t.Error("expected 0 for empty block")
	}
}

func TestEncodeDecodeWAV(t *testing.T) {
	sampleRate := 16000
	samples := make([]int16, sampleRate*2) // 1 second stereo
	for i := range samples {
		samples[i] = int16(10000 * math.Sin(2*math.Pi*440*float64(i/2)/float64(sampleRate)))
	}

	wavData, err := EncodeWAV(samples, sampleRate, 2)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}

	sr, ch, bd, err := ValidateWAVHeader(wavData)
	if err != nil {
		t.Fatalf("validate header error: %v", err)
	}
	if sr != sampleRate {
		t.Errorf("expected sample rate %d, got %d", sampleRate, sr)
	}
	if ch != 2 {
		t.Errorf("expected 2 channels, got %d", ch)
	}
	if bd != 16 {
		t.Errorf("expected 16-bit, got %d", bd)
	}

	decoded, decodedSR, decodedCh, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if decodedSR != sampleRate || decodedCh != 2 {
		t.Errorf("decoded format %d/%d, want %d/2", decodedSR, decodedCh, sampleRate)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("decoded length: expected %d, got %d", len(samples), len(decoded))
	}
	for i := range samples {
		if samples[i] != decoded[i] {
			t.Errorf("sample %d: expected %d, got %d", i, samples[i], decoded[i])
			break
		}
	}
}

func TestEncodeWAVInvalidChannels(t *testing.T) {
	if _, err := EncodeWAV([]int16{1}, 8000, 0); err == nil {
		t.Error("expected error for zero channels")
	}
}

func TestValidateWAVHeaderTooShort(t *testing.T) {
	_, _, _, err := ValidateWAVHeader([]byte{1, 2, 3})
	if err == nil {
		t.Error("expected error for short data")
	}
}

func TestValidateWAVHeaderRejectsOtherData(t *testing.T) {
	junk := bytes.Repeat([]byte("not a wav file "), 10)
	if _, _, _, err := ValidateWAVHeader(junk); err == nil {
		t.Error("expected error for non-WAV data")
	}
}

func TestValidateWAVHeaderAcceptsPrefix(t *testing.T) {
	data, err := EncodeWAV(make([]int16, 48000*2), 48000, 2)
	if err != nil {
		t.Fatal(err)
	}
	sr, ch, bd, err := ValidateWAVHeader(data[:1024])
	if err != nil {
		t.Fatalf("validate prefix: %v", err)
	}
	if sr != 48000 || ch != 2 || bd != 16 {
		t.Errorf("got %d Hz %d ch %d bit", sr, ch, bd)
	}
}

func TestFloatToInt16Clips(t *testing.T) {
	if floatToInt16(2) != 32767 {
		t.Error("expected positive clip")
	}
	if floatToInt16(-2) != -32768 {
		t.Error("expected negative clip")
	}
	if floatToInt16(0) != 0 {
		t.Error("expected zero")
	}
}

type blockingPersister struct {
	release chan struct{}
}

func (b blockingPersister) Persist(context.Context, backend.Blob) (backend.Artifact, error) {
	<-b.release
	return backend.Artifact{Kind: backend.ArtifactFile, Ref: "saved"}, nil
}

func TestWaitCoversStopInFlight(t *testing.T) {
	g := newGraphWithCapture(t)
	p := blockingPersister{release: make(chan struct{})}
	r := New(g, p, testFormat, Options{}, zerolog.Nop())

	if err := r.Wait(context.Background()); err != nil {
		t.Fatalf("Wait on an idle recorder: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	result := r.StopAsync(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected Wait to block until persisted, got %v", err)
	}

	close(p.release)
	if err := r.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r.State() != StateIdle {
		t.Errorf("expected idle after Wait, got %s", r.State())
	}
	if res := <-result; res.Err != nil {
		t.Errorf("unexpected result error %v", res.Err)
	}
}
