package tui

import (
	"context"
	"math"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/Danondso/jamsession/internal/backend"
	"github.com/Danondso/jamsession/internal/mixer"
	"github.com/Danondso/jamsession/internal/recorder"
)

// Session is the part of a jam session the screen drives.
type Session interface {
	Participants() []mixer.Participant
	SetParticipantVolume(id string, percent int) bool
	StartRecording() error
	StopRecordingAsync(ctx context.Context) <-chan recorder.Result
	RetryPersist(ctx context.Context) (backend.Artifact, error)
	HasPendingRecording() bool
	AudioLevel() float64
}

// State represents the screen state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateSaving
	StateError
)

// volumeStep is the volume change per key press, in percent.
const volumeStep = 5

// Messages sent through the Bubble Tea update loop.

type RecordingStartedMsg struct{}

type RecordingSavedMsg struct {
	Result recorder.Result
}

type RecordingErrorMsg struct {
	Err error
}

type CopiedMsg struct {
	Err error
}

// ToggleRecordingMsg starts or stops recording, like the r key. It is
// sent by the global record key.
type ToggleRecordingMsg struct{}

type errorTimeoutMsg struct{}

type audioLevelTickMsg struct{}

type participantsTickMsg struct{}

// DebugEntry is a structured debug log entry.
type DebugEntry struct {
	Time     string // e.g. "11:27:53.120"
	Category string // component or level, e.g. "mixer"
	Message  string
}

// DebugLogMsg carries a structured debug log entry into the TUI.
type DebugLogMsg struct {
	Entry DebugEntry
}

const maxDebugLines = 50

// Row is one participant line on the screen.
type Row struct {
	ID     string
	Volume int
}

// Model is the Bubble Tea model for the session screen.
type Model struct {
	State        State
	Rows         []Row
	Selected     int
	LastArtifact backend.Artifact
	LastError    string
	Truncated    bool
	Copied       bool
	AudioLevel   float64
	BackendName  string
	InputDevice  string
	ThemeName    string
	DebugMode    bool
	DebugEntries []DebugEntry

	session Session
	copy    func(string) error
	logger  zerolog.Logger
}

// Options configures NewModel.
type Options struct {
	BackendName string
	InputDevice string
	ThemeName   string
	Debug       bool
	// Copy places text on the clipboard.
	Copy   func(string) error
	Logger zerolog.Logger
}

// NewModel creates the session screen for s.
func NewModel(s Session, opts Options) Model {
	m := Model{
		State:       StateIdle,
		BackendName: opts.BackendName,
		InputDevice: opts.InputDevice,
		ThemeName:   opts.ThemeName,
		DebugMode:   opts.Debug,
		session:     s,
		copy:        opts.Copy,
		logger:      opts.Logger,
	}
	m.Rows = rowsFrom(s.Participants())
	return m
}

func rowsFrom(ps []mixer.Participant) []Row {
	rows := make([]Row, len(ps))
	for i, p := range ps {
		rows[i] = Row{ID: p.ID, Volume: int(math.Round(p.Gain * 100))}
	}
	return rows
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return participantsTickCmd()
}

// Update handles messages and transitions state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case ToggleRecordingMsg:
		return m.toggleRecording()

	case RecordingStartedMsg:
		m.State = StateRecording
		m.LastError = ""
		m.Copied = false
		return m, audioLevelTickCmd()

	case audioLevelTickMsg:
		if m.State == StateRecording {
			m.AudioLevel = m.session.AudioLevel()
			return m, audioLevelTickCmd()
		}
		m.AudioLevel = 0
		return m, nil

	case participantsTickMsg:
		m.syncRows()
		return m, participantsTickCmd()

	case RecordingSavedMsg:
		m.AudioLevel = 0
		if msg.Result.Err != nil {
			return m.fail(msg.Result.Err)
		}
		m.State = StateIdle
		m.LastArtifact = msg.Result.Artifact
		m.Truncated = msg.Result.Truncated
		return m, nil

	case RecordingErrorMsg:
		return m.fail(msg.Err)

	case CopiedMsg:
		if msg.Err != nil {
			return m.fail(msg.Err)
		}
		m.Copied = true
		return m, nil

	case errorTimeoutMsg:
		if m.State == StateError {
			m.State = StateIdle
			m.LastError = ""
		}

	case DebugLogMsg:
		m.DebugEntries = append(m.DebugEntries, msg.Entry)
		if len(m.DebugEntries) > maxDebugLines {
			m.DebugEntries = m.DebugEntries[len(m.DebugEntries)-maxDebugLines:]
		}
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		if m.Selected > 0 {
			m.Selected--
		}
	case "down", "j":
		if m.Selected < len(m.Rows)-1 {
			m.Selected++
		}
	case "left", "h":
		m.nudgeVolume(-volumeStep)
	case "right", "l":
		m.nudgeVolume(volumeStep)
	case "r", " ":
		return m.toggleRecording()
	case "p":
		if m.State != StateRecording && m.State != StateSaving && m.session.HasPendingRecording() {
			m.State = StateSaving
			return m, m.retryCmd()
		}
	case "c":
		if m.LastArtifact.Ref != "" && m.copy != nil {
			return m, m.copyCmd(m.LastArtifact.Ref)
		}
	case "t":
		next := NextTheme(m.ThemeName)
		m.ThemeName = next.Name
		ApplyTheme(next)
	}
	return m, nil
}

func (m Model) toggleRecording() (tea.Model, tea.Cmd) {
	switch m.State {
	case StateIdle, StateError:
		return m, m.startCmd()
	case StateRecording:
		m.State = StateSaving
		return m, m.stopCmd()
	}
	return m, nil
}

func (m *Model) nudgeVolume(delta int) {
	if m.Selected < 0 || m.Selected >= len(m.Rows) {
		return
	}
	row := &m.Rows[m.Selected]
	row.Volume = min(max(row.Volume+delta, 0), 100)
	m.session.SetParticipantVolume(row.ID, row.Volume)
}

// syncRows picks up participants that joined or left.
func (m *Model) syncRows() {
	rows := rowsFrom(m.session.Participants())
	if len(rows) == 0 {
		m.Rows = nil
		m.Selected = 0
		return
	}
	m.Rows = rows
	if m.Selected >= len(rows) {
		m.Selected = len(rows) - 1
	}
}

func (m Model) fail(err error) (tea.Model, tea.Cmd) {
	m.State = StateError
	m.LastError = err.Error()
	m.logger.Error().Err(err).Msg("session error")
	return m, scheduleErrorTimeout()
}

func (m Model) startCmd() tea.Cmd {
	s := m.session
	return func() tea.Msg {
		if err := s.StartRecording(); err != nil {
			return RecordingErrorMsg{Err: err}
		}
		return RecordingStartedMsg{}
	}
}

func (m Model) stopCmd() tea.Cmd {
	s := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return RecordingSavedMsg{Result: <-s.StopRecordingAsync(ctx)}
	}
}

func (m Model) retryCmd() tea.Cmd {
	s := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		art, err := s.RetryPersist(ctx)
		return RecordingSavedMsg{Result: recorder.Result{Artifact: art, Err: err}}
	}
}

func (m Model) copyCmd(ref string) tea.Cmd {
	copyFn := m.copy
	return func() tea.Msg {
		return CopiedMsg{Err: copyFn(ref)}
	}
}

func scheduleErrorTimeout() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return errorTimeoutMsg{}
	})
}

const audioLevelTickInterval = 100 * time.Millisecond

func audioLevelTickCmd() tea.Cmd {
	return tea.Tick(audioLevelTickInterval, func(time.Time) tea.Msg {
		return audioLevelTickMsg{}
	})
}

const participantsTickInterval = time.Second

func participantsTickCmd() tea.Cmd {
	return tea.Tick(participantsTickInterval, func(time.Time) tea.Msg {
		return participantsTickMsg{}
	})
}
