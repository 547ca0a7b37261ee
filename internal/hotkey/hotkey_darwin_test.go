//go:build darwin

package hotkey

import (
	"testing"

	"golang.design/x/hotkey"
)

func TestParseCombo(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantMods []hotkey.Modifier
		wantKey  hotkey.Key
		wantErr  bool
	}{
		{"ctrl+f9", "Ctrl+F9", []hotkey.Modifier{hotkey.ModCtrl}, hotkey.KeyF9, false},
		{"cmd+shift+r", "Cmd+Shift+R", []hotkey.Modifier{hotkey.ModCmd, hotkey.ModShift}, hotkey.KeyR, false},
		{"alt is option", "alt+space", []hotkey.Modifier{hotkey.ModOption}, hotkey.KeySpace, false},
		{"evdev name", "KEY_F9", []hotkey.Modifier{hotkey.ModOption}, hotkey.KeyF9, false},
		{"empty", "", nil, 0, true},
		{"no modifier", "F9", nil, 0, true},
		{"unknown modifier", "Super+F9", nil, 0, true},
		{"unknown key", "Ctrl+Nope", nil, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mods, key, err := ParseCombo(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for %q: %v", tt.input, err)
			}
			if key != tt.wantKey {
				t.Errorf("key = %v, want %v", key, tt.wantKey)
			}
			if len(mods) != len(tt.wantMods) {
				t.Fatalf("mods = %v, want %v", mods, tt.wantMods)
			}
			for i := range mods {
				if mods[i] != tt.wantMods[i] {
					t.Errorf("mods[%d] = %v, want %v", i, mods[i], tt.wantMods[i])
				}
			}
		})
	}
}
