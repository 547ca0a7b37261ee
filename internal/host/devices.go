package host

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/Danondso/jamsession/internal/device"
)

// PortAudioDevices lists PortAudio devices as host ids. A device with
// both input and output channels appears once per direction.
// PortAudio must already be initialized.
func PortAudioDevices(_ context.Context) ([][2]string, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	var out [][2]string
	for i, d := range devices {
		if d.MaxInputChannels > 0 {
			out = append(out, [2]string{device.InputID(i), d.Name})
		}
		if d.MaxOutputChannels > 0 {
			out = append(out, [2]string{device.OutputID(i), d.Name})
		}
	}
	return out, nil
}
