// Package host is the native audio host. It serves the bridge commands
// that let a session list devices and save recordings on this machine.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Danondso/jamsession/internal/bridge"
	"github.com/Danondso/jamsession/internal/recorder"
)

// DeviceLister returns (id, label) pairs for every device on the host.
type DeviceLister func(ctx context.Context) ([][2]string, error)

// Options configures a Host.
type Options struct {
	Addr          string
	RecordingsDir string
	Devices       DeviceLister
}

// Host manages the lifecycle of the native host's bridge server.
type Host struct {
	opts   Options
	bridge *bridge.Server
	logger zerolog.Logger

	mu     sync.Mutex
	srv    *http.Server
	addr   string
	output string

	saveMu sync.Mutex // serializes writes to recording files
}

// New creates a Host. A nil Devices lister uses the PortAudio device list.
func New(opts Options, logger zerolog.Logger) *Host {
	if opts.RecordingsDir == "" {
		opts.RecordingsDir = "audio"
	}
	if opts.Devices == nil {
		opts.Devices = PortAudioDevices
	}
	h := &Host{
		opts:   opts,
		bridge: bridge.NewServer(logger),
		logger: logger,
	}
	h.bridge.Handle(bridge.CmdGetAudioDevices, h.getAudioDevices)
	h.bridge.Handle(bridge.CmdSaveAudioFile, h.saveAudioFile)
	h.bridge.Handle(bridge.CmdSetOutputDevice, h.setOutputDevice)
	return h
}

// Handler returns the HTTP handler serving the bridge.
func (h *Host) Handler() http.Handler {
	return h.bridge.Handler()
}

// Start listens on the configured address and waits for the health
// endpoint to answer.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.srv != nil {
		return fmt.Errorf("host already running on %s", h.addr)
	}

	ln, err := net.Listen("tcp", h.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.opts.Addr, err)
	}
	srv := &http.Server{Handler: h.Handler(), ReadHeaderTimeout: 10 * time.Second}
	h.srv = srv
	h.addr = ln.Addr().String()

	h.logger.Info().Str("addr", h.addr).Str("recordings", h.opts.RecordingsDir).Msg("starting host")
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error().Err(err).Msg("host stopped unexpectedly")
		}
	}()

	healthURL := "http://" + h.addr + bridge.PathHealth
	timeout := 5 * time.Second
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(healthURL) //nolint:gosec // URL from our own listener
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				h.logger.Info().Str("url", "http://"+h.addr).Msg("host ready")
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	return fmt.Errorf("host did not become healthy within %s", timeout)
}

// Stop shuts the server down, waiting up to five seconds for open
// requests.
func (h *Host) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.srv == nil {
		return nil
	}
	h.logger.Info().Str("addr", h.addr).Msg("stopping host")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.srv.Shutdown(ctx)
	if err != nil {
		_ = h.srv.Close()
	}
	h.srv = nil
	return err
}

// Running reports whether the server is up.
func (h *Host) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.srv != nil
}

// URL returns the base URL clients should dial, or "" before Start.
func (h *Host) URL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.addr == "" {
		return ""
	}
	return "http://" + h.addr
}

// OutputDevice returns the id last passed to set_output_device.
func (h *Host) OutputDevice() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.output
}

func (h *Host) getAudioDevices(ctx context.Context, _ json.RawMessage) (any, error) {
	devices, err := h.opts.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

// saveAudioFile appends one part of a recording to <name>.part and, on
// the final part, renames it into place. The first part must start with
// a WAV header.
func (h *Host) saveAudioFile(_ context.Context, raw json.RawMessage) (any, error) {
	var args bridge.SaveAudioFileArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := validateFileName(args.FileName); err != nil {
		return nil, err
	}
	if args.Offset == 0 {
		if _, _, _, err := recorder.ValidateWAVHeader(args.Data); err != nil {
			return nil, fmt.Errorf("%s: %w", args.FileName, err)
		}
	}

	h.saveMu.Lock()
	defer h.saveMu.Unlock()

	if err := os.MkdirAll(h.opts.RecordingsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	path := filepath.Join(h.opts.RecordingsDir, args.FileName)
	part := path + ".part"
	if err := writePart(part, args.Offset, args.Data); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	if !args.Final {
		return nil, nil
	}
	if err := os.Rename(part, path); err != nil {
		return nil, fmt.Errorf("finish %s: %w", path, err)
	}

	h.logger.Info().Str("path", path).Int64("bytes", args.Offset+int64(len(args.Data))).Msg("recording saved")
	return "Audio saved to " + path, nil
}

// writePart writes data at offset, which must equal the bytes already
// in the file. Offset 0 starts the file over.
func writePart(path string, offset int64, data []byte) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if offset == 0 {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	if info.Size() != offset {
		f.Close()
		return fmt.Errorf("part at offset %d does not follow the %d bytes received", offset, info.Size())
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func validateFileName(name string) error {
	switch {
	case name == "":
		return errors.New("file name is empty")
	case strings.ContainsAny(name, `/\`), name == ".", name == "..":
		return fmt.Errorf("invalid file name %q", name)
	}
	return nil
}

func (h *Host) setOutputDevice(_ context.Context, raw json.RawMessage) (any, error) {
	var args bridge.SetOutputDeviceArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.DeviceID == "" {
		return nil, errors.New("device id is empty")
	}

	h.mu.Lock()
	h.output = args.DeviceID
	h.mu.Unlock()

	h.logger.Info().Str("device", args.DeviceID).Msg("output device set")
	return nil, nil
}
