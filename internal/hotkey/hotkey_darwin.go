//go:build darwin

package hotkey

import (
	"context"
	"fmt"
	"strings"

	"golang.design/x/hotkey"
)

var modifiers = map[string]hotkey.Modifier{
	"OPTION": hotkey.ModOption,
	"ALT":    hotkey.ModOption,
	"CTRL":   hotkey.ModCtrl,
	"SHIFT":  hotkey.ModShift,
	"CMD":    hotkey.ModCmd,
}

var keys = map[string]hotkey.Key{
	"SPACE": hotkey.KeySpace,
	"F1":    hotkey.KeyF1,
	"F2":    hotkey.KeyF2,
	"F3":    hotkey.KeyF3,
	"F4":    hotkey.KeyF4,
	"F5":    hotkey.KeyF5,
	"F6":    hotkey.KeyF6,
	"F7":    hotkey.KeyF7,
	"F8":    hotkey.KeyF8,
	"F9":    hotkey.KeyF9,
	"F10":   hotkey.KeyF10,
	"F11":   hotkey.KeyF11,
	"F12":   hotkey.KeyF12,
	"F13":   hotkey.KeyF13,
	"F14":   hotkey.KeyF14,
	"F15":   hotkey.KeyF15,
	"F16":   hotkey.KeyF16,
	"F17":   hotkey.KeyF17,
	"F18":   hotkey.KeyF18,
	"F19":   hotkey.KeyF19,
	"F20":   hotkey.KeyF20,
	"R":     hotkey.KeyR,
}

// ParseCombo parses "Ctrl+F9" or "Cmd+Shift+R". A bare evdev-style name
// like "KEY_F9" is accepted so one config works on both platforms; it
// binds Option plus that key.
func ParseCombo(combo string) ([]hotkey.Modifier, hotkey.Key, error) {
	upper := normalize(combo)
	if upper == "" {
		return nil, 0, fmt.Errorf("empty record key")
	}

	if name, ok := strings.CutPrefix(upper, "KEY_"); ok {
		key, ok := keys[name]
		if !ok {
			return nil, 0, fmt.Errorf("unsupported record key: %q", combo)
		}
		return []hotkey.Modifier{hotkey.ModOption}, key, nil
	}

	parts := strings.Split(upper, "+")
	if len(parts) < 2 {
		return nil, 0, fmt.Errorf("record key must be modifier+key (e.g. Ctrl+F9), got %q", combo)
	}
	var mods []hotkey.Modifier
	for _, part := range parts[:len(parts)-1] {
		mod, ok := modifiers[strings.TrimSpace(part)]
		if !ok {
			return nil, 0, fmt.Errorf("unknown modifier %q (valid: Option, Alt, Ctrl, Shift, Cmd)", part)
		}
		mods = append(mods, mod)
	}
	key, ok := keys[strings.TrimSpace(parts[len(parts)-1])]
	if !ok {
		return nil, 0, fmt.Errorf("unsupported record key: %q", combo)
	}
	return mods, key, nil
}

// Open registers nothing yet; the combo is bound when Start runs.
// devicePath is ignored on macOS.
func Open(key, _ string) (Listener, error) {
	mods, k, err := ParseCombo(key)
	if err != nil {
		return nil, err
	}
	return &darwinListener{mods: mods, key: k, name: strings.TrimSpace(key)}, nil
}

type darwinListener struct {
	mods []hotkey.Modifier
	key  hotkey.Key
	name string
	hk   *hotkey.Hotkey
}

func (l *darwinListener) Start(ctx context.Context, onPress func()) error {
	l.hk = hotkey.New(l.mods, l.key)
	if err := l.hk.Register(); err != nil {
		return fmt.Errorf("register record key %s: %w (grant Accessibility permissions in System Settings > Privacy & Security)", l.name, err)
	}
	for {
		select {
		case <-ctx.Done():
			l.hk.Unregister()
			return ctx.Err()
		case <-l.hk.Keydown():
			if onPress != nil {
				onPress()
			}
		case <-l.hk.Keyup():
		}
	}
}

func (l *darwinListener) Stop() {
	if l.hk != nil {
		l.hk.Unregister()
	}
}

func (l *darwinListener) KeyName() string {
	return l.name
}
