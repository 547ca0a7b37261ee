// Package source opens the local audio streams that join a session as
// participants.
package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/generators"
	"github.com/gopxl/beep/wav"
	resampling "github.com/tphakala/go-audio-resampling"
)

const tonePrefix = "tone:"

// ToneAmplitude is the peak level of generated tones.
const ToneAmplitude = 0.25

// Open resolves a participant source description into a streamer
// producing audio at sr. Supported forms are "tone:<hz>" and a path to a
// .wav file.
func Open(spec string, sr beep.SampleRate, loop bool) (beep.Streamer, error) {
	if hz, ok, err := ParseTone(spec); ok {
		if err != nil {
			return nil, err
		}
		return Tone(sr, hz)
	}
	if strings.EqualFold(filepath.Ext(spec), ".wav") {
		clip, err := LoadWAV(spec, sr, loop)
		if err != nil {
			return nil, err
		}
		return clip, nil
	}
	return nil, fmt.Errorf("unsupported source %q", spec)
}

// ParseTone reports whether spec is a tone description and, if so, its
// frequency.
func ParseTone(spec string) (hz float64, ok bool, err error) {
	rest, ok := strings.CutPrefix(spec, tonePrefix)
	if !ok {
		return 0, false, nil
	}
	hz, err = strconv.ParseFloat(rest, 64)
	if err != nil {
		return 0, true, fmt.Errorf("invalid tone frequency %q: %w", rest, err)
	}
	if hz <= 0 {
		return 0, true, fmt.Errorf("tone frequency must be positive, got %v", hz)
	}
	return hz, true, nil
}

// Tone returns an endless sine at hz scaled to ToneAmplitude.
func Tone(sr beep.SampleRate, hz float64) (beep.Streamer, error) {
	sine, err := generators.SineTone(sr, hz)
	if err != nil {
		return nil, fmt.Errorf("tone %v Hz: %w", hz, err)
	}
	return &effects.Gain{Streamer: sine, Gain: ToneAmplitude - 1}, nil
}

// LoadWAV reads a whole WAV file into memory, converting it to sr.
func LoadWAV(path string, sr beep.SampleRate, loop bool) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	streamer, format, err := wav.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	defer streamer.Close()

	frames := make([][2]float64, 0, streamer.Len())
	buf := make([][2]float64, 4096)
	for {
		n, ok := streamer.Stream(buf)
		frames = append(frames, buf[:n]...)
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if format.SampleRate != sr {
		frames, err = ResampleFrames(frames, float64(format.SampleRate), float64(sr))
		if err != nil {
			return nil, fmt.Errorf("resample %s: %w", path, err)
		}
	}
	return NewClip(frames, loop), nil
}

// ResampleFrames converts stereo frames between sample rates, one channel
// at a time.
func ResampleFrames(frames [][2]float64, inputRate, outputRate float64) ([][2]float64, error) {
	if inputRate == outputRate || len(frames) == 0 {
		return frames, nil
	}

	left := make([]float64, len(frames))
	right := make([]float64, len(frames))
	for i, f := range frames {
		left[i], right[i] = f[0], f[1]
	}

	l, err := resampling.ResampleMono(left, inputRate, outputRate, resampling.QualityLow)
	if err != nil {
		return nil, fmt.Errorf("resample left: %w", err)
	}
	r, err := resampling.ResampleMono(right, inputRate, outputRate, resampling.QualityLow)
	if err != nil {
		return nil, fmt.Errorf("resample right: %w", err)
	}

	n := min(len(l), len(r))
	out := make([][2]float64, n)
	for i := range out {
		out[i] = [2]float64{l[i], r[i]}
	}
	return out, nil
}
