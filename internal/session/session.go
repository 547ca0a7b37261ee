// Package session ties the mixing graph, recorder, backend and monitor
// into one jam session.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gopxl/beep"
	"github.com/rs/zerolog"

	"github.com/Danondso/jamsession/internal/backend"
	"github.com/Danondso/jamsession/internal/device"
	"github.com/Danondso/jamsession/internal/mixer"
	"github.com/Danondso/jamsession/internal/recorder"
	"github.com/Danondso/jamsession/internal/source"
)

// LocalParticipant is the participant id of the capture input.
const LocalParticipant = "local"

// ErrUnsavedRecording is returned by Close when a recording failed to
// persist and was never retried successfully.
var ErrUnsavedRecording = errors.New("recording was not saved")

// Monitor plays the session mix.
type Monitor interface {
	Play(s ...beep.Streamer)
	Close() error
}

// Chime signals recording start and stop.
type Chime interface {
	PlayStart()
	PlayStop()
}

// Options configures a Session.
type Options struct {
	Format         beep.Format
	Platform       device.InputOpener
	Backend        backend.Backend
	Monitor        Monitor
	Chime          Chime
	MaxDurationSec int
	Logger         zerolog.Logger
}

// Session is one running jam: participants mixed into a monitored graph
// that can be recorded and persisted through the backend.
type Session struct {
	graph    *mixer.Graph
	recorder *recorder.Recorder
	backend  backend.Backend
	monitor  Monitor
	chime    Chime
	format   beep.Format
	logger   zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// New creates a session and starts monitoring its mix.
func New(opts Options) *Session {
	graph := mixer.NewGraph(opts.Format, opts.Platform, opts.Logger.With().Str("component", "mixer").Logger())
	rec := recorder.New(graph, opts.Backend, opts.Format,
		recorder.Options{MaxDurationSec: opts.MaxDurationSec},
		opts.Logger.With().Str("component", "recorder").Logger())

	s := &Session{
		graph:    graph,
		recorder: rec,
		backend:  opts.Backend,
		monitor:  opts.Monitor,
		chime:    opts.Chime,
		format:   opts.Format,
		logger:   opts.Logger,
	}
	if s.monitor != nil {
		s.monitor.Play(graph)
	}
	opts.Logger.Info().Str("backend", opts.Backend.Name()).Int("sample_rate", int(opts.Format.SampleRate)).Msg("session started")
	return s
}

// Backend returns the backend chosen for this session.
func (s *Session) Backend() backend.Backend {
	return s.backend
}

// Graph returns the session's mixing graph.
func (s *Session) Graph() *mixer.Graph {
	return s.graph
}

// Devices lists audio devices through the backend.
func (s *Session) Devices(ctx context.Context) ([]device.Device, error) {
	return s.backend.ListDevices(ctx)
}

// StartAudioInput captures deviceID and joins it to the mix as the
// local participant. A previous capture is released first; if deviceID
// cannot be opened the local participant is removed.
func (s *Session) StartAudioInput(ctx context.Context, deviceID string) error {
	if err := s.graph.StartAudioInput(ctx, deviceID); err != nil {
		// The previous capture is already stopped; its participant must go too.
		s.graph.RemoveParticipant(LocalParticipant)
		return err
	}
	in, ok := s.graph.Capture()
	if !ok {
		return fmt.Errorf("start audio input %s: capture closed", deviceID)
	}
	s.graph.AddParticipant(LocalParticipant, in)
	return nil
}

// AddParticipant joins src to the mix at full volume.
func (s *Session) AddParticipant(id string, src beep.Streamer) {
	s.graph.AddParticipant(id, src)
}

// AddSource opens a source description (see source.Open) and joins it
// to the mix at volume percent.
func (s *Session) AddSource(id, spec string, loop bool, volume int) error {
	src, err := source.Open(spec, s.format.SampleRate, loop)
	if err != nil {
		return fmt.Errorf("participant %s: %w", id, err)
	}
	s.graph.AddParticipant(id, src)
	s.graph.SetVolume(id, volume)
	return nil
}

// RemoveParticipant drops id from the mix.
func (s *Session) RemoveParticipant(id string) bool {
	return s.graph.RemoveParticipant(id)
}

// SetParticipantVolume sets id's volume in percent. Unknown ids are
// ignored.
func (s *Session) SetParticipantVolume(id string, percent int) bool {
	return s.graph.SetVolume(id, percent)
}

// Participants returns the connected participants in join order.
func (s *Session) Participants() []mixer.Participant {
	return s.graph.Participants()
}

// StartRecording begins recording the mix.
func (s *Session) StartRecording() error {
	if err := s.recorder.Start(); err != nil {
		return err
	}
	if s.chime != nil {
		s.chime.PlayStart()
	}
	return nil
}

// StopRecordingAsync finalizes the recording in the background.
func (s *Session) StopRecordingAsync(ctx context.Context) <-chan recorder.Result {
	wasRecording := s.recorder.IsRecording()
	ch := s.recorder.StopAsync(ctx)
	if s.chime != nil && wasRecording {
		s.chime.PlayStop()
	}
	return ch
}

// StopRecording finalizes and persists the recording.
func (s *Session) StopRecording(ctx context.Context) (backend.Artifact, error) {
	res := <-s.StopRecordingAsync(ctx)
	return res.Artifact, res.Err
}

// RetryPersist re-submits a recording whose persistence failed.
func (s *Session) RetryPersist(ctx context.Context) (backend.Artifact, error) {
	return s.recorder.RetryPersist(ctx)
}

// HasPendingRecording reports whether a failed recording awaits a retry.
func (s *Session) HasPendingRecording() bool {
	return s.recorder.HasPending()
}

// RecordingState returns the recorder state.
func (s *Session) RecordingState() recorder.State {
	return s.recorder.State()
}

// AudioLevel returns the RMS level of the last recorded block.
func (s *Session) AudioLevel() float64 {
	return s.recorder.AudioLevel()
}

// SetOutputDevice routes playback to deviceID when the backend supports
// it. Other backends ignore the request.
func (s *Session) SetOutputDevice(ctx context.Context, deviceID string) error {
	sel, ok := s.backend.(backend.OutputSelector)
	if !ok {
		s.logger.Debug().Str("device", deviceID).Str("backend", s.backend.Name()).Msg("output selection not supported")
		return nil
	}
	return sel.SetOutputDevice(ctx, deviceID)
}

// Close finalizes a running recording and waits, bounded by ctx, for any
// stop or retry already persisting. It then disconnects every
// participant, releases the capture and stops the monitor before closing
// the backend. A recording left unsaved is reported in the error.
// Calling Close again is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if s.recorder.State() == recorder.StateRecording {
		if _, err := s.recorder.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("finalize recording: %w", err))
		}
	}
	if err := s.recorder.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait for recording to persist: %w", err))
	} else if s.recorder.HasPending() {
		errs = append(errs, ErrUnsavedRecording)
	}
	if err := s.graph.Cleanup(); err != nil {
		errs = append(errs, err)
	}
	if s.monitor != nil {
		if err := s.monitor.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close monitor: %w", err))
		}
	}
	if c, ok := s.backend.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend: %w", err))
		}
	}

	s.logger.Info().Msg("session closed")
	return errors.Join(errs...)
}
