package source

import "sync"

// Clip plays a fixed run of frames once or in a loop.
type Clip struct {
	mu     sync.Mutex
	frames [][2]float64
	pos    int
	loop   bool
}

// NewClip creates a Clip over frames.
func NewClip(frames [][2]float64, loop bool) *Clip {
	return &Clip{frames: frames, loop: loop}
}

// Len returns the clip length in frames.
func (c *Clip) Len() int {
	return len(c.frames)
}

// Stream implements beep.Streamer. A looping clip never drains unless
// it is empty.
func (c *Clip) Stream(samples [][2]float64) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.frames) == 0 {
		return 0, false
	}
	n := 0
	for n < len(samples) {
		if c.pos >= len(c.frames) {
			if !c.loop {
				break
			}
			c.pos = 0
		}
		k := copy(samples[n:], c.frames[c.pos:])
		n += k
		c.pos += k
	}
	if n == 0 {
		return 0, false
	}
	return n, true
}

func (c *Clip) Err() error { return nil }

// Rewind moves playback back to the first frame.
func (c *Clip) Rewind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = 0
}
