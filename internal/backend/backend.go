package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Danondso/jamsession/internal/bridge"
	"github.com/Danondso/jamsession/internal/device"
)

// ContentTypeWAV is the content type of every recording blob.
const ContentTypeWAV = "audio/wav"

// HostEnv names the environment variable that marks a native host as
// present. Its value is the bridge URL.
const HostEnv = "JAMSESSION_HOST"

var (
	// ErrNativePersistFailed wraps a failed save on the native host.
	ErrNativePersistFailed = errors.New("native persist failed")
	// ErrFallbackReadFailed is returned when a blob cannot be read into a data URI.
	ErrFallbackReadFailed = errors.New("failed to read recording")
)

// Blob is a finished recording ready for persistence.
type Blob struct {
	ContentType string
	Data        []byte
}

// ArtifactKind says how an Artifact's Ref should be interpreted.
type ArtifactKind int

const (
	// ArtifactFile is a confirmation naming a file written by the host.
	ArtifactFile ArtifactKind = iota
	// ArtifactDataURI is an inline base64 data URI.
	ArtifactDataURI
)

func (k ArtifactKind) String() string {
	switch k {
	case ArtifactFile:
		return "file"
	case ArtifactDataURI:
		return "data-uri"
	default:
		return "unknown"
	}
}

// Artifact is the persisted result of one recording. Ref is opaque.
type Artifact struct {
	Kind      ArtifactKind
	Ref       string
	SessionID string
}

// Backend is the environment-specific half of the audio layer.
type Backend interface {
	Name() string
	ListDevices(ctx context.Context) ([]device.Device, error)
	Persist(ctx context.Context, blob Blob) (Artifact, error)
}

// OutputSelector is implemented by backends that can route playback to a
// named output device.
type OutputSelector interface {
	SetOutputDevice(ctx context.Context, deviceID string) error
}

// Invoker sends a named command to the native host and decodes its
// result into out. out may be nil.
type Invoker interface {
	Invoke(ctx context.Context, cmd string, args, out any) error
}

var (
	detectOnce  sync.Once
	detectedURL string
)

// Detect reports whether a native host is present and, if so, its bridge
// URL. The environment is read once per process.
func Detect() (string, bool) {
	detectOnce.Do(func() {
		detectedURL = os.Getenv(HostEnv)
	})
	return detectedURL, detectedURL != ""
}

// Modes accepted by Select.
const (
	ModeAuto     = "auto"
	ModeNative   = "native"
	ModeFallback = "fallback"
)

// Options configures Select.
type Options struct {
	Mode     string
	HostURL  string // overrides Detect when set
	Platform device.Platform
	Logger   zerolog.Logger
}

// Select builds the backend for this process. It is meant to be called
// once at startup; the result does not change afterwards.
func Select(ctx context.Context, opts Options) (Backend, error) {
	hostURL := opts.HostURL
	if hostURL == "" {
		hostURL, _ = Detect()
	}

	switch opts.Mode {
	case ModeFallback:
		return NewFallback(opts.Platform, opts.Logger), nil
	case ModeNative:
		if hostURL == "" {
			return nil, fmt.Errorf("native backend requested but %s is not set", HostEnv)
		}
		return dialNative(ctx, hostURL, opts)
	case ModeAuto, "":
		if hostURL == "" {
			opts.Logger.Debug().Msg("no native host, using fallback backend")
			return NewFallback(opts.Platform, opts.Logger), nil
		}
		b, err := dialNative(ctx, hostURL, opts)
		if err != nil {
			opts.Logger.Warn().Err(err).Str("url", hostURL).Msg("native host unreachable, using fallback backend")
			return NewFallback(opts.Platform, opts.Logger), nil
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown backend mode: %q", opts.Mode)
	}
}

func dialNative(ctx context.Context, url string, opts Options) (*Native, error) {
	client, err := bridge.Dial(ctx, url, opts.Logger)
	if err != nil {
		return nil, err
	}
	return NewNative(client, opts.Platform, opts.Logger), nil
}
