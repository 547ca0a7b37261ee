package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gopxl/beep"
	"github.com/rs/zerolog"

	"github.com/Danondso/jamsession/internal/backend"
)

var (
	// ErrNoCaptureSession is returned by Start when no input is open.
	ErrNoCaptureSession = errors.New("no active capture session")
	// ErrAlreadyRecording is returned by Start unless the recorder is idle.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrNoActiveRecording is returned by Stop unless a recording is running.
	ErrNoActiveRecording = errors.New("no active recording")
	// ErrNothingToRetry is returned by RetryPersist without a failed recording.
	ErrNothingToRetry = errors.New("no failed recording to retry")
)

// State is the recording lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return "idle"
	}
}

// Graph is the part of the mixing graph the recorder reads from. The
// recorder only adds and removes its tap; it never stops capture.
type Graph interface {
	HasCapture() bool
	AddTap(fn func([][2]float64)) (remove func())
}

// Persister stores a finished recording.
type Persister interface {
	Persist(ctx context.Context, blob backend.Blob) (backend.Artifact, error)
}

// Options tunes a Recorder.
type Options struct {
	// MaxDurationSec stops buffering after this many seconds. 0 = unlimited.
	MaxDurationSec int
}

// Result is the outcome of finalizing a recording.
type Result struct {
	Artifact  backend.Artifact
	Truncated bool
	Err       error
}

// Recorder captures the mix of a Graph into an ordered chunk buffer and
// persists it on stop.
type Recorder struct {
	mu         sync.Mutex
	graph      Graph
	persister  Persister
	format     beep.Format
	maxFrames  int
	state      State
	chunks     [][]byte
	frames     int
	truncated  bool
	removeTap  func()
	sessionID  string
	startTime  time.Time
	pending    *backend.Blob // blob whose persistence failed
	pendingID  string
	inflight   int           // finalizations and retries still persisting
	settled    chan struct{} // closed when inflight drops to zero
	audioLevel atomic.Uint64 // float64 bits; RMS of last block (0.0–1.0)
	logger     zerolog.Logger
}

// New creates an idle Recorder tapping graph and persisting through p.
func New(graph Graph, p Persister, format beep.Format, opts Options, logger zerolog.Logger) *Recorder {
	return &Recorder{
		graph:     graph,
		persister: p,
		format:    format,
		maxFrames: format.SampleRate.N(time.Duration(opts.MaxDurationSec) * time.Second),
		logger:    logger,
	}
}

// Start begins buffering the graph's mix. It returns as soon as the tap
// is installed.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle {
		return ErrAlreadyRecording
	}
	if !r.graph.HasCapture() {
		return ErrNoCaptureSession
	}

	r.chunks = nil
	r.frames = 0
	r.truncated = false
	r.sessionID = uuid.NewString()
	r.startTime = time.Now()
	r.state = StateRecording
	r.removeTap = r.graph.AddTap(r.onBlock)

	r.logger.Info().Str("session", r.sessionID).Msg("recording started")
	return nil
}

func (r *Recorder) onBlock(block [][2]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording || r.truncated {
		return
	}
	if r.maxFrames > 0 {
		remaining := r.maxFrames - r.frames
		if remaining <= len(block) {
			block = block[:remaining]
			r.truncated = true
		}
	}

	chunk := encodeBlock(block)
	if len(chunk) > 0 {
		r.chunks = append(r.chunks, chunk)
		r.frames += len(block)
	}
	r.audioLevel.Store(math.Float64bits(computeRMS(block)))

	if r.truncated {
		r.logger.Warn().Str("session", r.sessionID).Int("frames", r.frames).Msg("recording truncated at max duration")
	}
}

// StopAsync moves the recorder to Finalizing and returns a channel that
// delivers exactly one Result once the recording has been persisted.
// Every chunk captured so far is kept.
func (r *Recorder) StopAsync(ctx context.Context) <-chan Result {
	out := make(chan Result, 1)

	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		out <- Result{Err: ErrNoActiveRecording}
		return out
	}
	r.state = StateFinalizing
	remove := r.removeTap
	r.removeTap = nil
	r.beginPersist()
	r.mu.Unlock()

	// Graph.Stream may still deliver a block it collected before remove;
	// onBlock drops it because the state is no longer Recording.
	remove()

	r.mu.Lock()
	chunks := r.chunks
	truncated := r.truncated
	sessionID := r.sessionID
	elapsed := time.Since(r.startTime)
	r.chunks = nil
	r.mu.Unlock()
	r.audioLevel.Store(0)

	go func() {
		res := Result{Truncated: truncated}
		blob, err := r.finalize(chunks)
		if err != nil {
			res.Err = err
		} else {
			res.Artifact, res.Err = r.persist(ctx, blob, sessionID)
		}

		r.mu.Lock()
		r.state = StateIdle
		r.endPersist()
		r.mu.Unlock()

		if res.Err != nil {
			r.logger.Error().Err(res.Err).Str("session", sessionID).Msg("recording not persisted")
		} else {
			r.logger.Info().
				Str("session", sessionID).
				Int("chunks", len(chunks)).
				Dur("duration", elapsed.Round(time.Millisecond)).
				Str("artifact", res.Artifact.Kind.String()).
				Msg("recording persisted")
		}
		out <- res
	}()
	return out
}

// Stop finalizes the recording and waits for persistence.
func (r *Recorder) Stop(ctx context.Context) (backend.Artifact, error) {
	res := <-r.StopAsync(ctx)
	return res.Artifact, res.Err
}

// finalize concatenates chunks in capture order into one WAV blob.
func (r *Recorder) finalize(chunks [][]byte) (backend.Blob, error) {
	pcm := bytes.Join(chunks, nil)
	data, err := EncodeWAV(pcmToSamples(pcm), int(r.format.SampleRate), 2)
	if err != nil {
		return backend.Blob{}, fmt.Errorf("encode recording: %w", err)
	}
	return backend.Blob{ContentType: backend.ContentTypeWAV, Data: data}, nil
}

func (r *Recorder) persist(ctx context.Context, blob backend.Blob, sessionID string) (backend.Artifact, error) {
	artifact, err := r.persister.Persist(ctx, blob)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.pending = &blob
		r.pendingID = sessionID
		return backend.Artifact{}, err
	}
	r.pending = nil
	r.pendingID = ""
	artifact.SessionID = sessionID
	return artifact, nil
}

// RetryPersist re-submits the last recording whose persistence failed.
func (r *Recorder) RetryPersist(ctx context.Context) (backend.Artifact, error) {
	r.mu.Lock()
	blob, sessionID := r.pending, r.pendingID
	if blob == nil {
		r.mu.Unlock()
		return backend.Artifact{}, ErrNothingToRetry
	}
	r.beginPersist()
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.endPersist()
		r.mu.Unlock()
	}()
	return r.persist(ctx, *blob, sessionID)
}

// beginPersist and endPersist bracket work that must finish before the
// persister goes away. r.mu must be held.
func (r *Recorder) beginPersist() {
	if r.inflight == 0 {
		r.settled = make(chan struct{})
	}
	r.inflight++
}

func (r *Recorder) endPersist() {
	r.inflight--
	if r.inflight == 0 {
		close(r.settled)
		r.settled = nil
	}
}

// Wait blocks until every stop and retry already under way has finished
// persisting, or ctx is done.
func (r *Recorder) Wait(ctx context.Context) error {
	r.mu.Lock()
	settled := r.settled
	r.mu.Unlock()
	if settled == nil {
		return nil
	}
	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HasPending reports whether a failed recording awaits RetryPersist.
func (r *Recorder) HasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsRecording returns whether the recorder is currently capturing.
func (r *Recorder) IsRecording() bool {
	return r.State() == StateRecording
}

// ChunkCount returns the number of chunks buffered by the running recording.
func (r *Recorder) ChunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

// BufferedBytes returns the total size of the buffered chunks.
func (r *Recorder) BufferedBytes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.chunks {
		n += len(c)
	}
	return n
}

// AudioLevel returns the RMS amplitude of the most recently captured block,
// in the range [0.0, 1.0]. Safe to call from any goroutine.
func (r *Recorder) AudioLevel() float64 {
	return math.Float64frombits(r.audioLevel.Load())
}
