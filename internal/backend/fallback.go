package backend

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Danondso/jamsession/internal/device"
)

// Fallback runs entirely in process: devices come from the platform and
// recordings are returned inline as data URIs.
type Fallback struct {
	platform device.Platform
	logger   zerolog.Logger
}

// NewFallback creates a Fallback backend over platform.
func NewFallback(platform device.Platform, logger zerolog.Logger) *Fallback {
	return &Fallback{platform: platform, logger: logger}
}

func (f *Fallback) Name() string { return "fallback" }

// ListDevices requests capture permission once and returns the audio
// devices the platform reports.
func (f *Fallback) ListDevices(ctx context.Context) ([]device.Device, error) {
	return device.ListAudio(ctx, f.platform)
}

// Persist encodes blob as a data URI. Encoding runs off the caller's
// goroutine so a cancelled ctx returns promptly.
func (f *Fallback) Persist(ctx context.Context, blob Blob) (Artifact, error) {
	if len(blob.Data) == 0 {
		return Artifact{}, fmt.Errorf("%w: empty recording", ErrFallbackReadFailed)
	}

	done := make(chan string, 1)
	go func() {
		done <- EncodeDataURI(blob)
	}()

	select {
	case uri := <-done:
		f.logger.Debug().Int("bytes", len(blob.Data)).Msg("recording encoded as data URI")
		return Artifact{Kind: ArtifactDataURI, Ref: uri}, nil
	case <-ctx.Done():
		return Artifact{}, fmt.Errorf("%w: %v", ErrFallbackReadFailed, ctx.Err())
	}
}

// EncodeDataURI renders blob as a base64 data URI.
func EncodeDataURI(blob Blob) string {
	contentType := blob.ContentType
	if contentType == "" {
		contentType = ContentTypeWAV
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(blob.Data)
}

// DecodeDataURI splits a base64 data URI into its content type and payload.
func DecodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URI")
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("data URI has no payload")
	}
	contentType, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return "", nil, fmt.Errorf("data URI is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URI: %w", err)
	}
	return contentType, data, nil
}
