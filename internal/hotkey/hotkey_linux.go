//go:build linux

package hotkey

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	evdev "github.com/holoplot/go-evdev"
)

// keyCodes lists the keys that make sense as a global record toggle:
// keys a player can reach without a chord and that rarely mean anything
// to other applications.
var keyCodes = map[string]evdev.EvCode{
	"KEY_SPACE":      evdev.KEY_SPACE,
	"KEY_PAUSE":      evdev.KEY_PAUSE,
	"KEY_SCROLLLOCK": evdev.KEY_SCROLLLOCK,
	"KEY_INSERT":     evdev.KEY_INSERT,
	"KEY_RIGHTCTRL":  evdev.KEY_RIGHTCTRL,
	"KEY_RIGHTALT":   evdev.KEY_RIGHTALT,
	"KEY_F1":         evdev.KEY_F1,
	"KEY_F2":         evdev.KEY_F2,
	"KEY_F3":         evdev.KEY_F3,
	"KEY_F4":         evdev.KEY_F4,
	"KEY_F5":         evdev.KEY_F5,
	"KEY_F6":         evdev.KEY_F6,
	"KEY_F7":         evdev.KEY_F7,
	"KEY_F8":         evdev.KEY_F8,
	"KEY_F9":         evdev.KEY_F9,
	"KEY_F10":        evdev.KEY_F10,
	"KEY_F11":        evdev.KEY_F11,
	"KEY_F12":        evdev.KEY_F12,
	"KEY_F13":        evdev.KEY_F13,
	"KEY_F14":        evdev.KEY_F14,
	"KEY_F15":        evdev.KEY_F15,
	"KEY_F16":        evdev.KEY_F16,
	"KEY_F17":        evdev.KEY_F17,
	"KEY_F18":        evdev.KEY_F18,
	"KEY_F19":        evdev.KEY_F19,
	"KEY_F20":        evdev.KEY_F20,
}

// KeyCode maps an evdev key name such as "KEY_F9" to its code.
func KeyCode(name string) (evdev.EvCode, error) {
	code, ok := keyCodes[normalize(name)]
	if !ok {
		return 0, fmt.Errorf("unsupported record key: %q", name)
	}
	return code, nil
}

// Open resolves key and returns a Listener on devicePath, or on the first
// keyboard under /dev/input when devicePath is empty.
func Open(key, devicePath string) (Listener, error) {
	code, err := KeyCode(key)
	if err != nil {
		return nil, err
	}
	dev, err := findKeyboard(devicePath)
	if err != nil {
		return nil, err
	}
	return &linuxListener{dev: dev, code: code, name: normalize(key)}, nil
}

func findKeyboard(devicePath string) (*evdev.InputDevice, error) {
	if devicePath != "" {
		dev, err := evdev.Open(devicePath)
		if err != nil {
			return nil, fmt.Errorf("open device %s: %w", devicePath, err)
		}
		return dev, nil
	}

	paths, err := filepath.Glob("/dev/input/event*")
	if err != nil {
		return nil, err
	}
	sort.Slice(paths, func(i, j int) bool {
		return eventIndex(paths[i]) < eventIndex(paths[j])
	})

	for _, path := range paths {
		dev, err := evdev.Open(path)
		if err != nil {
			continue
		}
		if isKeyboard(dev) {
			return dev, nil
		}
		_ = dev.Close()
	}
	return nil, errors.New("no readable keyboard in /dev/input (is the user in the input group?)")
}

// eventIndex sorts event7 before event10.
func eventIndex(path string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(filepath.Base(path), "event"))
	return n
}

// isKeyboard rejects pointers and devices without letter keys, such as
// power buttons.
func isKeyboard(dev *evdev.InputDevice) bool {
	for _, t := range dev.CapableTypes() {
		if t == evdev.EV_REL {
			return false
		}
	}
	var a, z bool
	for _, code := range dev.CapableEvents(evdev.EV_KEY) {
		switch code {
		case evdev.KEY_A:
			a = true
		case evdev.KEY_Z:
			z = true
		}
	}
	return a && z
}

type linuxListener struct {
	dev  *evdev.InputDevice
	code evdev.EvCode
	name string

	mu     sync.Mutex
	closed bool
}

// Start reads key events until ctx is cancelled or the device goes away.
func (l *linuxListener) Start(ctx context.Context, onPress func()) error {
	errCh := make(chan error, 1)

	go func() {
		for {
			ev, err := l.dev.ReadOne()
			if err != nil {
				errCh <- l.readError(err)
				return
			}
			// 1 = press; 0 release and 2 repeat are ignored.
			if ev.Type == evdev.EV_KEY && ev.Code == l.code && ev.Value == 1 && onPress != nil {
				onPress()
			}
		}
	}()

	select {
	case <-ctx.Done():
		l.Stop()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (l *linuxListener) readError(err error) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed || errors.Is(err, os.ErrClosed) || os.IsNotExist(err) ||
		strings.Contains(err.Error(), "file already closed") ||
		strings.Contains(err.Error(), "bad file descriptor") {
		return nil
	}
	return fmt.Errorf("read key event: %w", err)
}

// Stop closes the input device, which ends Start.
func (l *linuxListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		_ = l.dev.Close()
	}
}

func (l *linuxListener) KeyName() string {
	return l.name
}
