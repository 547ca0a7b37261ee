package device

import (
	"context"
	"errors"
	"strings"

	"github.com/gopxl/beep"
)

var (
	// ErrBackendUnavailable is returned when no backend can enumerate devices.
	ErrBackendUnavailable = errors.New("audio backend unavailable")
	// ErrPermissionDenied is returned when capture access was refused.
	ErrPermissionDenied = errors.New("audio capture permission denied")
	// ErrDeviceNotFound is returned when a device id does not resolve.
	ErrDeviceNotFound = errors.New("audio device not found")
)

// Direction is the data flow of a device relative to this process.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// Device is one enumerated audio endpoint. Values are rebuilt on every
// enumeration and never cached.
type Device struct {
	ID        string
	Label     string
	Direction Direction
}

// Platform kinds reported by Enumerate.
const (
	KindAudioInput  = "audioinput"
	KindAudioOutput = "audiooutput"
	KindVideoInput  = "videoinput"
)

// Info is a raw platform enumeration entry. Kind may name non-audio
// devices; callers filter.
type Info struct {
	ID    string
	Label string
	Kind  string
}

// DirectionFromID applies the host id convention: ids starting with
// "input" are inputs, everything else is an output.
func DirectionFromID(id string) Direction {
	if strings.HasPrefix(id, "input") {
		return Input
	}
	return Output
}

// DirectionFromKind maps a platform kind to a direction.
func DirectionFromKind(kind string) Direction {
	if kind == KindAudioInput {
		return Input
	}
	return Output
}

// IsAudio reports whether a platform kind describes an audio device.
func IsAudio(kind string) bool {
	return strings.Contains(kind, "audio")
}

// InputStream is a live capture from one input device.
type InputStream interface {
	beep.Streamer
	// Stop halts capture and releases the device. Safe to call more than once.
	Stop() error
	// Active reports whether the stream still holds the device.
	Active() bool
}

// InputOpener acquires capture streams.
type InputOpener interface {
	OpenInput(ctx context.Context, deviceID string, format beep.Format) (InputStream, error)
}

// Platform is the in-process audio system used when no native host is
// attached, and for capture on both backends.
type Platform interface {
	InputOpener
	// RequestPermission asks for capture access. It may block until the
	// user answers.
	RequestPermission(ctx context.Context) error
	Enumerate(ctx context.Context) ([]Info, error)
}

// ListAudio requests permission once, enumerates and keeps audio devices.
func ListAudio(ctx context.Context, p Platform) ([]Device, error) {
	if p == nil {
		return nil, ErrBackendUnavailable
	}
	if err := p.RequestPermission(ctx); err != nil {
		return nil, err
	}
	infos, err := p.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		if !IsAudio(info.Kind) {
			continue
		}
		devices = append(devices, Device{
			ID:        info.ID,
			Label:     info.Label,
			Direction: DirectionFromKind(info.Kind),
		})
	}
	return devices, nil
}
