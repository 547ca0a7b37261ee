// Package bridge carries commands between a session and the native host
// as JSON envelopes over a websocket.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Command names understood by the native host.
const (
	CmdGetAudioDevices = "get_audio_devices"
	CmdSaveAudioFile   = "save_audio_file"
	CmdSetOutputDevice = "set_output_device"
)

// Paths served by the host.
const (
	PathBridge = "/bridge"
	PathHealth = "/healthz"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024 * 1024
	sendBuffer     = 64
)

// SavePartSize is the most audio bytes one save_audio_file call carries.
// Larger recordings are sent as consecutive parts.
const SavePartSize = 4 * 1024 * 1024

var (
	// ErrClosed is returned for calls on, or pending on, a closed connection.
	ErrClosed = errors.New("bridge connection closed")
	// ErrMessageTooLarge is returned, without sending, for a request the
	// peer would refuse to read.
	ErrMessageTooLarge = errors.New("bridge message too large")
)

// Request is a command envelope sent to the host.
type Request struct {
	ID   string          `json:"id"`
	Cmd  string          `json:"cmd"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Response answers the Request with the same ID. Error is set instead of
// Result when the command failed.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// SaveAudioFileArgs are the arguments of save_audio_file. Data is base64
// in the JSON encoding. A recording is sent as parts in order: Offset is
// the position of Data in the file and Final marks the last part, after
// which the host returns its confirmation message.
type SaveAudioFileArgs struct {
	FileName string `json:"file_name"`
	Data     []byte `json:"data"`
	Offset   int64  `json:"offset"`
	Final    bool   `json:"final"`
}

// SetOutputDeviceArgs are the arguments of set_output_device.
type SetOutputDeviceArgs struct {
	DeviceID string `json:"device_id"`
}

// RemoteError is a failure reported by the host for one command.
type RemoteError struct {
	Cmd     string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Cmd, e.Message)
}
