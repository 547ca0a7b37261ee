package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gopxl/beep"
	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

const resampleQuality = 4

// InputID and OutputID build the ids used for portaudio devices. The
// prefixes follow the host convention read by DirectionFromID.
func InputID(index int) string  { return "input" + strconv.Itoa(index) }
func OutputID(index int) string { return "output" + strconv.Itoa(index) }

// PortAudio is the Platform backed by PortAudio. Call portaudio.Initialize()
// before using it.
type PortAudio struct {
	bufferMs int
	logger   zerolog.Logger
}

// NewPortAudio creates a PortAudio platform reading bufferMs of audio per
// device read.
func NewPortAudio(bufferMs int, logger zerolog.Logger) *PortAudio {
	if bufferMs <= 0 {
		bufferMs = 100
	}
	return &PortAudio{bufferMs: bufferMs, logger: logger}
}

// RequestPermission briefly opens the default input. Systems that gate
// microphone access prompt the user at this point.
func (p *PortAudio) RequestPermission(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return fmt.Errorf("%w: default input device: %v", ErrPermissionDenied, err)
	}
	buf := make([]float32, 64)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      dev.DefaultSampleRate,
		FramesPerBuffer: len(buf),
	}, buf)
	if err != nil {
		return fmt.Errorf("%w: open permission check stream: %v", ErrPermissionDenied, err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return fmt.Errorf("%w: start permission check stream: %v", ErrPermissionDenied, err)
	}
	return stream.Stop()
}

// Enumerate lists every portaudio device once per direction it supports.
func (p *PortAudio) Enumerate(ctx context.Context) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %v", ErrBackendUnavailable, err)
	}
	var infos []Info
	for i, d := range devices {
		if d.MaxInputChannels > 0 {
			infos = append(infos, Info{ID: InputID(i), Label: d.Name, Kind: KindAudioInput})
		}
		if d.MaxOutputChannels > 0 {
			infos = append(infos, Info{ID: OutputID(i), Label: d.Name, Kind: KindAudioOutput})
		}
	}
	return infos, nil
}

// lookupInput resolves an input id, or a device name, to a portaudio device.
func lookupInput(deviceID string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %v", ErrBackendUnavailable, err)
	}
	if rest, ok := strings.CutPrefix(deviceID, "input"); ok {
		if idx, err := strconv.Atoi(rest); err == nil && idx >= 0 && idx < len(devices) {
			if devices[idx].MaxInputChannels > 0 {
				return devices[idx], nil
			}
		}
	}
	for _, d := range devices {
		if d.Name == deviceID && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
}

// OpenInput starts capturing exactly deviceID. The returned stream yields
// frames at format.SampleRate.
func (p *PortAudio) OpenInput(ctx context.Context, deviceID string, format beep.Format) (InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dev, err := lookupInput(deviceID)
	if err != nil {
		return nil, err
	}

	channels := dev.MaxInputChannels
	if channels > 2 {
		channels = 2
	}

	nativeSR := dev.DefaultSampleRate
	framesPerBuffer := int(nativeSR) * p.bufferMs / 1000
	inputBuf := make([]float32, framesPerBuffer*channels)

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      nativeSR,
		FramesPerBuffer: framesPerBuffer,
	}, inputBuf)
	if err != nil {
		return nil, fmt.Errorf("%w: open stream: %v", ErrPermissionDenied, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: start stream: %v", ErrPermissionDenied, err)
	}

	in := &paInput{
		stream:   stream,
		capacity: framesPerBuffer * 4,
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
		logger:   p.logger.With().Str("device", dev.Name).Logger(),
	}
	go in.readLoop(inputBuf, channels)

	p.logger.Debug().Str("device", dev.Name).Float64("sample_rate", nativeSR).Int("channels", channels).Msg("capture started")

	if int(nativeSR) == int(format.SampleRate) {
		return in, nil
	}
	return &resampledInput{
		Resampler: beep.Resample(resampleQuality, beep.SampleRate(nativeSR), format.SampleRate, in),
		in:        in,
	}, nil
}

// paInput buffers frames read from a portaudio stream for a pulling graph.
type paInput struct {
	mu       sync.Mutex
	stream   *portaudio.Stream
	frames   [][2]float64
	capacity int
	stopped  bool
	err      error
	done     chan struct{} // closed when readLoop should exit
	loopDone chan struct{} // closed when readLoop has exited
	logger   zerolog.Logger
}

func (in *paInput) readLoop(inputBuf []float32, channels int) {
	defer close(in.loopDone)
	for {
		select {
		case <-in.done:
			return
		default:
		}

		if err := in.stream.Read(); err != nil {
			in.mu.Lock()
			in.err = err
			in.mu.Unlock()
			in.logger.Warn().Err(err).Msg("capture read failed")
			return
		}

		in.mu.Lock()
		for i := 0; i+channels-1 < len(inputBuf); i += channels {
			l := float64(inputBuf[i])
			r := l
			if channels == 2 {
				r = float64(inputBuf[i+1])
			}
			in.frames = append(in.frames, [2]float64{l, r})
		}
		// A slow consumer loses the oldest audio rather than stalling capture.
		if over := len(in.frames) - in.capacity; over > 0 {
			in.frames = append(in.frames[:0], in.frames[over:]...)
		}
		in.mu.Unlock()
	}
}

// Stream copies buffered frames and pads the rest of samples with silence.
func (in *paInput) Stream(samples [][2]float64) (int, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.stopped {
		return 0, false
	}
	n := copy(samples, in.frames)
	in.frames = append(in.frames[:0], in.frames[n:]...)
	for i := n; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}
	return len(samples), true
}

func (in *paInput) Err() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.err
}

func (in *paInput) Active() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return !in.stopped
}

// Stop signals the read loop, waits for it, then closes the stream so
// Read never races Close.
func (in *paInput) Stop() error {
	in.mu.Lock()
	if in.stopped {
		in.mu.Unlock()
		return nil
	}
	in.stopped = true
	in.frames = nil
	in.mu.Unlock()

	close(in.done)
	<-in.loopDone
	stopErr := in.stream.Stop()
	closeErr := in.stream.Close()
	if stopErr != nil {
		return fmt.Errorf("stop stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close stream: %w", closeErr)
	}
	return nil
}

type resampledInput struct {
	*beep.Resampler
	in *paInput
}

func (r *resampledInput) Stop() error  { return r.in.Stop() }
func (r *resampledInput) Active() bool { return r.in.Active() }
