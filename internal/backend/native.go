package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Danondso/jamsession/internal/bridge"
	"github.com/Danondso/jamsession/internal/device"
)

// FilenameLayout is the timestamp layout used in recording file names.
const FilenameLayout = "2006-01-02T15:04:05.000Z"

// RecordingFilename returns the file name for a recording finished at t.
func RecordingFilename(t time.Time) string {
	return "recording_" + t.UTC().Format(FilenameLayout) + ".wav"
}

// Native persists through and enumerates via the native host.
type Native struct {
	invoker  Invoker
	platform device.Platform
	now      func() time.Time
	logger   zerolog.Logger
}

// NewNative creates a Native backend. platform is used when the host
// cannot list devices and may be nil.
func NewNative(invoker Invoker, platform device.Platform, logger zerolog.Logger) *Native {
	return &Native{
		invoker:  invoker,
		platform: platform,
		now:      time.Now,
		logger:   logger,
	}
}

func (n *Native) Name() string { return "native" }

// ListDevices asks the host for its devices. When the host fails, the
// failure is logged and the platform is enumerated instead.
func (n *Native) ListDevices(ctx context.Context) ([]device.Device, error) {
	var pairs [][2]string
	err := n.invoker.Invoke(ctx, bridge.CmdGetAudioDevices, nil, &pairs)
	if err == nil {
		devices := make([]device.Device, 0, len(pairs))
		for _, p := range pairs {
			devices = append(devices, device.Device{
				ID:        p[0],
				Label:     p[1],
				Direction: device.DirectionFromID(p[0]),
			})
		}
		return devices, nil
	}

	n.logger.Warn().Err(err).Msg("host device listing failed, enumerating locally")
	return device.ListAudio(ctx, n.platform)
}

// Persist saves blob on the host under a timestamped file name, in parts
// of at most bridge.SavePartSize bytes. The artifact Ref is the host's
// confirmation message.
func (n *Native) Persist(ctx context.Context, blob Blob) (Artifact, error) {
	name := RecordingFilename(n.now())

	var msg string
	offset := 0
	for {
		end := min(offset+bridge.SavePartSize, len(blob.Data))
		args := bridge.SaveAudioFileArgs{
			FileName: name,
			Data:     blob.Data[offset:end],
			Offset:   int64(offset),
			Final:    end == len(blob.Data),
		}
		var out any
		if args.Final {
			out = &msg
		}
		if err := n.invoker.Invoke(ctx, bridge.CmdSaveAudioFile, args, out); err != nil {
			return Artifact{}, fmt.Errorf("%w: %s at byte %d: %v", ErrNativePersistFailed, name, offset, err)
		}
		if args.Final {
			break
		}
		offset = end
	}

	n.logger.Debug().Str("file", name).Int("bytes", len(blob.Data)).Msg("recording saved on host")
	return Artifact{Kind: ArtifactFile, Ref: msg}, nil
}

// SetOutputDevice asks the host to route playback to deviceID.
func (n *Native) SetOutputDevice(ctx context.Context, deviceID string) error {
	args := bridge.SetOutputDeviceArgs{DeviceID: deviceID}
	if err := n.invoker.Invoke(ctx, bridge.CmdSetOutputDevice, args, nil); err != nil {
		return fmt.Errorf("set output device %s: %w", deviceID, err)
	}
	return nil
}

// Close releases the bridge connection if the invoker holds one.
func (n *Native) Close() error {
	if c, ok := n.invoker.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
