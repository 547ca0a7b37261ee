package hotkey

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestDebounceDropsOverlappingPresses(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32

	press := Debounce(func() {
		calls.Add(1)
		close(entered)
		<-release
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		press()
	}()
	<-entered

	press() // dropped while the first call runs
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 call, got %d", got)
	}
}

func TestDebounceAllowsSequentialPresses(t *testing.T) {
	n := 0
	press := Debounce(func() { n++ })
	press()
	press()
	if n != 2 {
		t.Errorf("expected 2 calls, got %d", n)
	}
}

func TestNormalize(t *testing.T) {
	if got := normalize("  key_f9 "); got != "KEY_F9" {
		t.Errorf("normalize() = %q", got)
	}
}
