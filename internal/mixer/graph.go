package mixer

import (
	"context"
	"fmt"
	"sync"

	"github.com/gopxl/beep"
	"github.com/rs/zerolog"

	"github.com/Danondso/jamsession/internal/device"
)

// Participant is a snapshot of one connected participant.
type Participant struct {
	ID   string
	Gain float64
}

type participant struct {
	id   string
	gain *gainStage
}

type tap struct {
	id int
	fn func([][2]float64)
}

// Graph is a live mix of participants. Each participant is connected
// source -> gain -> monitor bus, and Graph is itself the bus: pulling
// samples from it (speaker or pump) sums every gain stage and feeds the
// result to the registered taps.
//
// Graph also owns the single capture session opened by StartAudioInput.
type Graph struct {
	mu           sync.Mutex
	format       beep.Format
	opener       device.InputOpener
	participants map[string]*participant
	order        []string
	capture      device.InputStream
	captureID    string
	taps         []tap
	nextTap      int
	scratch      [][2]float64
	logger       zerolog.Logger
}

// NewGraph creates an empty graph producing audio in format. opener is
// used by StartAudioInput and may be nil if capture is never needed.
func NewGraph(format beep.Format, opener device.InputOpener, logger zerolog.Logger) *Graph {
	return &Graph{
		format:       format,
		opener:       opener,
		participants: make(map[string]*participant),
		logger:       logger,
	}
}

// Format returns the graph's sample format.
func (g *Graph) Format() beep.Format {
	return g.format
}

// StartAudioInput acquires a capture stream for exactly deviceID. Any
// previous capture is stopped before the new one is opened, so at most
// one stream holds a device at a time.
func (g *Graph) StartAudioInput(ctx context.Context, deviceID string) error {
	if g.opener == nil {
		return device.ErrBackendUnavailable
	}

	g.mu.Lock()
	prev, prevID := g.capture, g.captureID
	g.capture, g.captureID = nil, ""
	g.mu.Unlock()

	if prev != nil {
		if err := prev.Stop(); err != nil {
			g.logger.Warn().Err(err).Str("device", prevID).Msg("stop previous capture")
		}
		g.logger.Debug().Str("device", prevID).Msg("capture replaced")
	}

	in, err := g.opener.OpenInput(ctx, deviceID, g.format)
	if err != nil {
		return fmt.Errorf("start audio input %s: %w", deviceID, err)
	}

	g.mu.Lock()
	raced := g.capture
	g.capture, g.captureID = in, deviceID
	g.mu.Unlock()

	// A concurrent StartAudioInput may have stored its stream meanwhile.
	if raced != nil {
		_ = raced.Stop()
	}

	g.logger.Info().Str("device", deviceID).Msg("capture started")
	return nil
}

// Capture returns the active capture stream, if any.
func (g *Graph) Capture() (device.InputStream, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.capture, g.capture != nil
}

// HasCapture reports whether a capture session exists.
func (g *Graph) HasCapture() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.capture != nil
}

// CaptureActive reports whether the capture stream is still delivering.
func (g *Graph) CaptureActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.capture != nil && g.capture.Active()
}

// AddParticipant connects src under id with gain 1.0. A participant
// already registered under id is disconnected first.
func (g *Graph) AddParticipant(id string, src beep.Streamer) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.participants[id]; ok {
		g.disconnectLocked(id)
		g.logger.Debug().Str("participant", id).Msg("participant replaced")
	}
	g.participants[id] = &participant{id: id, gain: newGainStage(src)}
	g.order = append(g.order, id)
	g.logger.Info().Str("participant", id).Msg("participant added")
}

// RemoveParticipant disconnects and forgets id. It reports whether id
// was present.
func (g *Graph) RemoveParticipant(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.participants[id]; !ok {
		return false
	}
	g.disconnectLocked(id)
	g.logger.Info().Str("participant", id).Msg("participant removed")
	return true
}

func (g *Graph) disconnectLocked(id string) {
	delete(g.participants, id)
	for i, o := range g.order {
		if o == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// SetVolume sets the gain of id from a percent volume (clamped to
// [0,100]). Unknown ids are ignored and false is returned.
func (g *Graph) SetVolume(id string, percent int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.participants[id]
	if !ok {
		return false
	}
	p.gain.setLevel(PercentToGain(percent))
	return true
}

// Gain returns the current linear gain of id.
func (g *Graph) Gain(id string) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.participants[id]
	if !ok {
		return 0, false
	}
	return p.gain.Level(), true
}

// Participants returns the connected participants in insertion order.
func (g *Graph) Participants() []Participant {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Participant, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, Participant{ID: id, Gain: g.participants[id].gain.Level()})
	}
	return out
}

// Len returns the number of connected participants.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.participants)
}

// AddTap registers fn to receive a copy of every mixed block, in the order
// blocks are produced. The returned func removes the tap.
func (g *Graph) AddTap(fn func([][2]float64)) (remove func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextTap
	g.nextTap++
	g.taps = append(g.taps, tap{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			for i, t := range g.taps {
				if t.id == id {
					g.taps = append(g.taps[:i], g.taps[i+1:]...)
					return
				}
			}
		})
	}
}

// Stream implements beep.Streamer. It never drains: with no participants
// it produces silence.
func (g *Graph) Stream(samples [][2]float64) (int, bool) {
	g.mu.Lock()
	for i := range samples {
		samples[i] = [2]float64{}
	}
	if cap(g.scratch) < len(samples) {
		g.scratch = make([][2]float64, len(samples))
	}
	scratch := g.scratch[:len(samples)]
	for _, id := range g.order {
		n, _ := g.participants[id].gain.Stream(scratch)
		for i := range scratch[:n] {
			samples[i][0] += scratch[i][0]
			samples[i][1] += scratch[i][1]
		}
	}
	taps := make([]tap, len(g.taps))
	copy(taps, g.taps)
	g.mu.Unlock()

	for _, t := range taps {
		block := make([][2]float64, len(samples))
		copy(block, samples)
		t.fn(block)
	}
	return len(samples), true
}

// Err implements beep.Streamer.
func (g *Graph) Err() error {
	return nil
}

// Cleanup disconnects every participant and stops the capture session.
// Participant sources are left untouched; only the capture stream, which
// the graph acquired, is stopped. Calling Cleanup again is a no-op.
func (g *Graph) Cleanup() error {
	g.mu.Lock()
	n := len(g.participants)
	for id := range g.participants {
		delete(g.participants, id)
	}
	g.order = g.order[:0]
	capture, captureID := g.capture, g.captureID
	g.capture, g.captureID = nil, ""
	g.mu.Unlock()

	if n > 0 {
		g.logger.Debug().Int("participants", n).Msg("participants disconnected")
	}
	if capture == nil {
		return nil
	}
	if err := capture.Stop(); err != nil {
		return fmt.Errorf("stop capture %s: %w", captureID, err)
	}
	g.logger.Info().Str("device", captureID).Msg("capture released")
	return nil
}
