package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gopxl/beep"
	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Danondso/jamsession/internal/backend"
	"github.com/Danondso/jamsession/internal/chime"
	"github.com/Danondso/jamsession/internal/clipboard"
	"github.com/Danondso/jamsession/internal/config"
	"github.com/Danondso/jamsession/internal/device"
	"github.com/Danondso/jamsession/internal/host"
	"github.com/Danondso/jamsession/internal/hotkey"
	"github.com/Danondso/jamsession/internal/logging"
	"github.com/Danondso/jamsession/internal/monitor"
	"github.com/Danondso/jamsession/internal/session"
	"github.com/Danondso/jamsession/internal/tui"
)

var (
	cfgFile     string
	debug       bool
	backendMode string
	inputDevice string
	duration    time.Duration
	writeConfig bool
)

var rootCmd = &cobra.Command{
	Use:          "jamsession",
	Short:        "Mix, monitor and record a jam session",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd.Context())
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio devices through the selected backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDevices(cmd.Context(), cmd.OutOrStdout())
	},
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record the mix without the TUI until interrupted or --duration elapses",
	RunE: func(cmd *cobra.Command, args []string) error {
		return recordHeadless(cmd.Context(), cmd.OutOrStdout())
	},
}

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run the native host bridge that saves recordings to disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHost(cmd.Context())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective config, or write the default one",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showConfig(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.config/jamsession/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "show the log panel and log at debug level")
	rootCmd.PersistentFlags().StringVar(&backendMode, "backend", "", "backend mode: auto, native or fallback")
	rootCmd.PersistentFlags().StringVar(&inputDevice, "device", "", "input device id to capture")

	recordCmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 waits for a signal)")
	configCmd.Flags().BoolVar(&writeConfig, "write", false, "write the default config to the config path")

	rootCmd.AddCommand(devicesCmd, recordCmd, hostCmd, configCmd)
}

func main() {
	code := 0
	runMain(func() {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := rootCmd.ExecuteContext(ctx); err != nil {
			code = 1
		}
	})
	os.Exit(code)
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if backendMode != "" {
		cfg.Backend.Mode = backendMode
	}
	if inputDevice != "" {
		cfg.Backend.InputDevice = inputDevice
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", configPath(), err)
	}
	return cfg, nil
}

// app holds everything a running session needs torn down.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	logFile io.Closer
	session *session.Session
	input   string
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.session.Close(ctx); err != nil {
		a.logger.Error().Err(err).Msg("session close")
	}
	_ = a.logFile.Close()
	portaudio.Terminate()
}

// newApp initializes audio and builds a session. console receives
// human readable log lines. With capture set, the configured input joins
// the mix as the local participant.
func newApp(ctx context.Context, cfg *config.Config, console io.Writer, capture bool) (*app, error) {
	logger, logFile, err := logging.New(cfg.Log.Level, cfg.Log.File, console)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	// Initialize PortAudio (Linux suppresses ALSA/JACK stderr noise)
	if err := initPortAudio(); err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	logger.Debug().Msg("portaudio initialized")

	format := beep.Format{SampleRate: beep.SampleRate(cfg.Audio.SampleRate), NumChannels: 2, Precision: 2}
	platform := device.NewPortAudio(cfg.Audio.BufferMs, logging.Component(logger, "device"))

	b, err := backend.Select(ctx, backend.Options{
		Mode:     cfg.Backend.Mode,
		HostURL:  cfg.Backend.HostURL,
		Platform: platform,
		Logger:   logging.Component(logger, "backend"),
	})
	if err != nil {
		portaudio.Terminate()
		_ = logFile.Close()
		return nil, err
	}

	out, err := monitor.New(cfg.Audio.Monitor, format, cfg.Audio.BufferMs, logging.Component(logger, "monitor"))
	if err != nil {
		logger.Warn().Err(err).Msg("monitor unavailable, mixing headless")
		out = monitor.NewPump(format, cfg.Audio.BufferMs, logging.Component(logger, "monitor"))
	}

	chimes, err := chime.New(out, format.SampleRate, cfg.Audio.ChimeStart, cfg.Audio.ChimeStop, cfg.Audio.ChimeEnabled, logging.Component(logger, "chime"))
	if err != nil {
		logger.Warn().Err(err).Msg("custom chimes unavailable, using defaults")
		chimes, _ = chime.New(out, format.SampleRate, "", "", cfg.Audio.ChimeEnabled, logging.Component(logger, "chime"))
	}

	s := session.New(session.Options{
		Format:         format,
		Platform:       platform,
		Backend:        b,
		Monitor:        out,
		Chime:          chimes,
		MaxDurationSec: cfg.Audio.MaxDurationSec,
		Logger:         logging.Component(logger, "session"),
	})
	a := &app{cfg: cfg, logger: logger, logFile: logFile, session: s}

	for _, p := range cfg.Participants {
		if err := s.AddSource(p.ID, p.Source, p.Loop, p.InitialVolume()); err != nil {
			logger.Warn().Err(err).Msg("skipping participant")
		}
	}

	if !capture {
		return a, nil
	}
	input, err := pickInput(ctx, s, cfg.Backend.InputDevice)
	if err != nil {
		logger.Warn().Err(err).Msg("no audio input, recording disabled")
		return a, nil
	}
	if err := s.StartAudioInput(ctx, input); err != nil {
		logger.Warn().Err(err).Str("device", input).Msg("capture failed, recording disabled")
		return a, nil
	}
	a.input = input
	return a, nil
}

// pickInput returns want, or the first input device when want is empty.
func pickInput(ctx context.Context, s *session.Session, want string) (string, error) {
	if want != "" {
		return want, nil
	}
	devices, err := s.Devices(ctx)
	if err != nil {
		return "", err
	}
	for _, d := range devices {
		if d.Direction == device.Input {
			return d.ID, nil
		}
	}
	return "", device.ErrDeviceNotFound
}

func runSession(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tui.RegisterCustomThemes(cfg.CustomThemes)
	tui.ApplyTheme(tui.LoadTheme(cfg.Theme))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Log lines go to the TUI log panel once the program exists.
	console := &lateWriter{}
	a, err := newApp(ctx, cfg, console, true)
	if err != nil {
		return err
	}
	defer a.close()

	model := tui.NewModel(a.session, tui.Options{
		BackendName: a.session.Backend().Name(),
		InputDevice: a.input,
		ThemeName:   cfg.Theme,
		Debug:       debug,
		Copy:        clipboard.Copy,
		Logger:      a.logger,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if debug {
		console.set(tui.NewLogWriter(p))
	}
	if cfg.Hotkey.Key != "" {
		go listenRecordKey(ctx, cfg.Hotkey, p, a.logger)
	}

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

// listenRecordKey toggles recording on each press of the global record key.
func listenRecordKey(ctx context.Context, cfg config.HotkeyConfig, p *tea.Program, logger zerolog.Logger) {
	l, err := hotkey.Open(cfg.Key, cfg.Device)
	if err != nil {
		logger.Warn().Err(err).Msg("record key disabled")
		return
	}
	logger.Info().Str("key", l.KeyName()).Msg("record key bound")
	err = l.Start(ctx, hotkey.Debounce(func() {
		p.Send(tui.ToggleRecordingMsg{})
	}))
	if err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("record key listener stopped")
	}
}

func listDevices(ctx context.Context, w io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Audio.Monitor = monitor.KindNone
	a, err := newApp(ctx, cfg, os.Stderr, false)
	if err != nil {
		return err
	}
	defer a.close()

	devices, err := a.session.Devices(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "backend: %s\n", a.session.Backend().Name())
	for _, d := range devices {
		fmt.Fprintf(w, "%-6s  %-10s  %s\n", d.Direction, d.ID, d.Label)
	}
	return nil
}

func recordHeadless(ctx context.Context, w io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, os.Stderr, true)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.session.StartRecording(); err != nil {
		return err
	}
	a.logger.Info().Str("input", a.input).Dur("duration", duration).Msg("recording, interrupt to stop")

	wait := ctx
	if duration > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}
	<-wait.Done()

	saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	art, err := a.session.StopRecording(saveCtx)
	if err != nil {
		return err
	}
	if art.Kind == backend.ArtifactDataURI {
		fmt.Fprintln(w, art.Ref)
		return nil
	}
	fmt.Fprintf(w, "%s (session %s)\n", art.Ref, art.SessionID)
	return nil
}

func runHost(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, logFile, err := logging.New(cfg.Log.Level, cfg.Log.File, os.Stderr)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer logFile.Close()

	if err := initPortAudio(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	defer portaudio.Terminate()

	h := host.New(host.Options{
		Addr:          cfg.Host.Addr,
		RecordingsDir: cfg.Host.RecordingsDir,
	}, logging.Component(logger, "host"))
	if err := h.Start(ctx); err != nil {
		return err
	}
	logger.Info().Msgf("export %s=%s to use this host", backend.HostEnv, h.URL())

	<-ctx.Done()
	logger.Info().Msg("shutting down host")
	return h.Stop()
}

func showConfig(w io.Writer) error {
	if writeConfig {
		path := configPath()
		if err := config.Save(path, config.Default()); err != nil {
			return err
		}
		fmt.Fprintf(w, "wrote %s\n", path)
		return nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return config.Encode(w, cfg)
}
