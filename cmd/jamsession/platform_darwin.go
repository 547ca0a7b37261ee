//go:build darwin

package main

import (
	"github.com/gordonklaus/portaudio"
	"golang.design/x/mainthread"
)

// initPortAudio initializes PortAudio. On macOS, no stderr suppression is needed
// since CoreAudio doesn't produce ALSA/JACK noise.
func initPortAudio() error {
	return portaudio.Initialize()
}

// runMain runs fn with the main thread free for the record key's event
// loop, which Cocoa requires.
func runMain(fn func()) {
	mainthread.Init(fn)
}
