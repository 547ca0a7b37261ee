package chime

import (
	"fmt"
	"math"

	"github.com/gopxl/beep"
	"github.com/rs/zerolog"

	"github.com/Danondso/jamsession/internal/source"
)

const (
	chimeDuration  = 0.15 // seconds
	chimeAmplitude = 0.5
)

// Output is where chimes are played. Chimes go to the monitor only and
// are never part of the recorded mix.
type Output interface {
	Play(s ...beep.Streamer)
}

// Player manages audio chime playback.
type Player struct {
	out     Output
	start   [][2]float64
	stop    [][2]float64
	enabled bool
	logger  zerolog.Logger
}

// New creates a Player rendering chimes at sr. If startPath/stopPath are
// empty, generated tones are used. If enabled is false, PlayStart/PlayStop
// are no-ops.
func New(out Output, sr beep.SampleRate, startPath, stopPath string, enabled bool, logger zerolog.Logger) (*Player, error) {
	p := &Player{
		out:     out,
		start:   sweep(int(sr), chimeDuration, 440, 523),
		stop:    sweep(int(sr), chimeDuration, 523, 440),
		enabled: enabled,
		logger:  logger,
	}

	if startPath != "" {
		clip, err := source.LoadWAV(startPath, sr, false)
		if err != nil {
			return nil, fmt.Errorf("read start chime %s: %w", startPath, err)
		}
		p.start = drain(clip)
	}

	if stopPath != "" {
		clip, err := source.LoadWAV(stopPath, sr, false)
		if err != nil {
			return nil, fmt.Errorf("read stop chime %s: %w", stopPath, err)
		}
		p.stop = drain(clip)
	}

	return p, nil
}

func drain(clip *source.Clip) [][2]float64 {
	frames := make([][2]float64, clip.Len())
	clip.Stream(frames)
	return frames
}

// sweep renders a tone gliding from startFreq to endFreq with a sine
// envelope.
func sweep(sampleRate int, duration, startFreq, endFreq float64) [][2]float64 {
	n := int(float64(sampleRate) * duration)
	frames := make([][2]float64, n)
	for i := range frames {
		t := float64(i) / float64(sampleRate)
		progress := float64(i) / float64(n)
		freq := startFreq + (endFreq-startFreq)*progress
		envelope := math.Sin(math.Pi * progress)
		v := math.Sin(2*math.Pi*freq*t) * envelope * chimeAmplitude
		frames[i] = [2]float64{v, v}
	}
	return frames
}

func (p *Player) play(frames [][2]float64, name string) {
	if !p.enabled || p.out == nil || len(frames) == 0 {
		return
	}
	p.out.Play(source.NewClip(frames, false))
	p.logger.Debug().Str("chime", name).Msg("chime played")
}

// PlayStart plays the start recording chime (non-blocking).
func (p *Player) PlayStart() {
	p.play(p.start, "start")
}

// PlayStop plays the stop recording chime (non-blocking).
func (p *Player) PlayStop() {
	p.play(p.stop, "stop")
}
