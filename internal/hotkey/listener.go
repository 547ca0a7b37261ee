package hotkey

import (
	"context"
	"strings"
)

// Listener reports presses of one global key, even while the terminal
// is not focused. Key repeats and releases are not reported.
type Listener interface {
	Start(ctx context.Context, onPress func()) error
	Stop()
	KeyName() string
}

// Debounce drops presses that arrive while a previous onPress call is
// still running, so a held key cannot queue several record toggles.
func Debounce(onPress func()) func() {
	busy := make(chan struct{}, 1)
	return func() {
		select {
		case busy <- struct{}{}:
		default:
			return
		}
		defer func() { <-busy }()
		onPress()
	}
}

func normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
