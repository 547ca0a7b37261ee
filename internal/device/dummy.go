package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/gopxl/beep"
)

// Dummy is an in-memory Platform. It lists a fixed set of devices and
// opens inputs that produce a constant level.
//
// Dummy is intended for tests and for running without audio hardware.
type Dummy struct {
	mu            sync.Mutex
	infos         []Info
	permissionErr error
	level         float64
	permissionReq int
	opened        []*DummyInput
}

// NewDummy creates a Dummy listing infos.
func NewDummy(infos ...Info) *Dummy {
	return &Dummy{infos: infos}
}

// DefaultDummy lists one microphone, one speaker and one camera.
func DefaultDummy() *Dummy {
	return NewDummy(
		Info{ID: "input0", Label: "Dummy Microphone", Kind: KindAudioInput},
		Info{ID: "output0", Label: "Dummy Speakers", Kind: KindAudioOutput},
		Info{ID: "camera0", Label: "Dummy Camera", Kind: KindVideoInput},
	)
}

// DenyPermission makes RequestPermission and OpenInput fail with err.
func (d *Dummy) DenyPermission(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.permissionErr = err
}

// SetLevel sets the constant sample value produced by new inputs.
func (d *Dummy) SetLevel(level float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.level = level
}

// PermissionRequests returns how many times permission was requested.
func (d *Dummy) PermissionRequests() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.permissionReq
}

// Opened returns every input opened so far, oldest first.
func (d *Dummy) Opened() []*DummyInput {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*DummyInput, len(d.opened))
	copy(out, d.opened)
	return out
}

func (d *Dummy) RequestPermission(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.permissionReq++
	if d.permissionErr != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, d.permissionErr)
	}
	return nil
}

func (d *Dummy) Enumerate(ctx context.Context) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Info, len(d.infos))
	copy(out, d.infos)
	return out, nil
}

func (d *Dummy) OpenInput(ctx context.Context, deviceID string, _ beep.Format) (InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.permissionErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, d.permissionErr)
	}
	for _, info := range d.infos {
		if info.ID == deviceID && info.Kind == KindAudioInput {
			in := &DummyInput{id: deviceID, level: d.level, active: true}
			d.opened = append(d.opened, in)
			return in, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
}

// DummyInput is the InputStream opened by Dummy.
type DummyInput struct {
	mu     sync.Mutex
	id     string
	level  float64
	active bool
}

// DeviceID returns the id the input was opened with.
func (in *DummyInput) DeviceID() string { return in.id }

func (in *DummyInput) Stream(samples [][2]float64) (int, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.active {
		return 0, false
	}
	for i := range samples {
		samples[i] = [2]float64{in.level, in.level}
	}
	return len(samples), true
}

func (in *DummyInput) Err() error { return nil }

func (in *DummyInput) Stop() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.active = false
	return nil
}

func (in *DummyInput) Active() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.active
}
