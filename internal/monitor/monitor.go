// Package monitor plays the session mix. Pulling the mix is what drives
// the graph, so some Output must be running for taps to see audio.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
	"github.com/rs/zerolog"
)

// Output kinds accepted by New.
const (
	KindSpeaker = "speaker"
	KindNone    = "none"
)

// Output pulls streamers in real time. Every streamer passed to Play is
// mixed until it drains or the Output is closed.
type Output interface {
	Play(s ...beep.Streamer)
	Close() error
}

// New opens the output named by kind.
func New(kind string, format beep.Format, bufferMs int, logger zerolog.Logger) (Output, error) {
	switch kind {
	case KindSpeaker, "":
		return NewSpeaker(format, bufferMs, logger)
	case KindNone:
		return NewPump(format, bufferMs, logger), nil
	default:
		return nil, fmt.Errorf("unknown monitor %q", kind)
	}
}

func bufferSize(format beep.Format, bufferMs int) int {
	if bufferMs <= 0 {
		bufferMs = 100
	}
	return format.SampleRate.N(time.Duration(bufferMs) * time.Millisecond)
}

// Speaker plays through the default output device.
type Speaker struct {
	logger    zerolog.Logger
	closeOnce sync.Once
}

// NewSpeaker initializes the speaker at format's rate.
func NewSpeaker(format beep.Format, bufferMs int, logger zerolog.Logger) (*Speaker, error) {
	if err := speaker.Init(format.SampleRate, bufferSize(format, bufferMs)); err != nil {
		return nil, fmt.Errorf("speaker init: %w", err)
	}
	logger.Debug().Int("sample_rate", int(format.SampleRate)).Int("buffer_ms", bufferMs).Msg("speaker ready")
	return &Speaker{logger: logger}, nil
}

func (s *Speaker) Play(streamers ...beep.Streamer) {
	speaker.Play(streamers...)
}

func (s *Speaker) Close() error {
	s.closeOnce.Do(func() {
		speaker.Clear()
		speaker.Close()
		s.logger.Debug().Msg("speaker closed")
	})
	return nil
}

// Pump pulls and discards audio at the real-time rate. It stands in for
// a speaker on machines without one.
type Pump struct {
	mu     sync.Mutex
	mixer  beep.Mixer
	buf    [][2]float64
	period time.Duration
	frames int64
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

// NewPump starts a pump pulling one buffer per buffer duration.
func NewPump(format beep.Format, bufferMs int, logger zerolog.Logger) *Pump {
	n := bufferSize(format, bufferMs)
	p := &Pump{
		buf:    make([][2]float64, n),
		period: format.SampleRate.D(n),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		logger: logger,
	}
	go p.loop()
	logger.Debug().Dur("period", p.period).Msg("headless monitor running")
	return p
}

func (p *Pump) loop() {
	defer close(p.exited)
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.mu.Lock()
			p.mixer.Stream(p.buf)
			p.frames += int64(len(p.buf))
			p.mu.Unlock()
		}
	}
}

func (p *Pump) Play(streamers ...beep.Streamer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mixer.Add(streamers...)
}

// Frames returns the number of frames pulled so far.
func (p *Pump) Frames() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

func (p *Pump) Close() error {
	p.once.Do(func() {
		close(p.done)
		<-p.exited
		p.mu.Lock()
		p.mixer.Clear()
		p.mu.Unlock()
	})
	return nil
}
