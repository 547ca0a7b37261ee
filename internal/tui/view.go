package tui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Danondso/jamsession/internal/backend"
)

// Styles, set by ApplyTheme.
var (
	titleStyle         lipgloss.Style
	borderStyle        lipgloss.Style
	labelStyle         lipgloss.Style
	artifactStyle      lipgloss.Style
	helpStyle          lipgloss.Style
	dimStyle           lipgloss.Style
	bodyStyle          lipgloss.Style
	selectedStyle      lipgloss.Style
	idleBadge          lipgloss.Style
	recordingBadge     lipgloss.Style
	savingBadge        lipgloss.Style
	errorBadge         lipgloss.Style
	statusOkStyle      lipgloss.Style
	statusBadStyle     lipgloss.Style
	meterStyle         lipgloss.Style
	meterMutedStyle    lipgloss.Style
	debugTitleStyle    lipgloss.Style
	debugHeaderStyle   lipgloss.Style
	debugTextStyle     lipgloss.Style
	debugCategoryStyle lipgloss.Style
	debugSepStyle      lipgloss.Style
)

func init() {
	ApplyTheme(LoadTheme(DefaultTheme))
}

// panelWidth is the total outer width of the main panel.
// borderStyle has: border (1+1) = 2, padding (2+2) = 4, total chrome = 6.
// Width() in lipgloss sets width including padding but excluding border.
const panelWidth = 80
const panelWidthForStyle = panelWidth - 2 // passed to borderStyle.Width()
const panelContentWidth = panelWidth - 6  // actual usable text area

// View renders the TUI.
func (m Model) View() string {
	var b strings.Builder

	titleText := "  JAMSESSION  "
	barTotal := panelContentWidth - len(titleText)
	barLeft := barTotal / 2
	barRight := barTotal - barLeft
	title := strings.Repeat("▓", barLeft) + titleText + strings.Repeat("▓", barRight)
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	b.WriteString("\n\n")

	b.WriteString(labelStyle.Render("Status:  "))
	b.WriteString(m.renderBadge())
	if m.State == StateRecording {
		b.WriteString(bodyStyle.Render("  "))
		b.WriteString(m.renderVisualizer())
	}
	b.WriteString("\n\n")

	b.WriteString(labelStyle.Render("Participants:"))
	b.WriteString("\n")
	b.WriteString(m.renderParticipants())
	b.WriteString("\n\n")

	b.WriteString(labelStyle.Render("Last recording:"))
	b.WriteString("\n")
	b.WriteString(m.renderArtifact())
	b.WriteString("\n\n")

	b.WriteString(helpStyle.Render("↑/↓ select  ←/→ volume  r record  c copy  t theme"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Press q to quit"))

	if m.DebugMode || len(m.DebugEntries) > 0 {
		b.WriteString("\n\n")
		b.WriteString(m.renderDebugPanel())
	}

	return borderStyle.Width(panelWidthForStyle).Render(b.String())
}

const volumeBarWidth = 20

func (m Model) renderParticipants() string {
	if len(m.Rows) == 0 {
		return bodyStyle.Render("(no participants)")
	}
	lines := make([]string, len(m.Rows))
	for i, row := range m.Rows {
		cursor, name := "  ", bodyStyle
		if i == m.Selected {
			cursor, name = "▸ ", selectedStyle
		}
		filled := row.Volume * volumeBarWidth / 100
		bar := meterStyle.Render(strings.Repeat("█", filled)) +
			meterMutedStyle.Render(strings.Repeat("░", volumeBarWidth-filled))
		lines[i] = selectedStyle.Render(cursor) +
			name.Width(16).Render(truncate(row.ID, 16)) +
			bar +
			bodyStyle.Render(fmt.Sprintf(" %3d%%", row.Volume))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderArtifact() string {
	if m.LastArtifact.Ref == "" {
		return bodyStyle.Render("(none yet)")
	}
	ref := m.LastArtifact.Ref
	if m.LastArtifact.Kind == backend.ArtifactDataURI {
		ref = fmt.Sprintf("%s (%d bytes inline)", truncate(ref, 32), len(ref))
	}
	out := artifactStyle.Width(panelContentWidth).Render(ref)
	var notes []string
	if m.Truncated {
		notes = append(notes, "stopped at max duration")
	}
	if m.Copied {
		notes = append(notes, "copied to clipboard")
	}
	if len(notes) > 0 {
		out += "\n" + dimStyle.Render(strings.Join(notes, ", "))
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

const debugPanelMaxLines = 5

// Debug table column widths. Row content must fit within panelContentWidth.
const (
	colTimeWidth     = 12
	colCategoryWidth = 10
	colSepWidth      = 3 // " │ "
	colMsgWidth      = panelContentWidth - colTimeWidth - colCategoryWidth - colSepWidth*2
)

func (m Model) renderDebugPanel() string {
	sep := debugSepStyle.Render(" │ ")
	rule := debugTextStyle.Render(strings.Repeat("─", panelContentWidth))

	var db strings.Builder
	db.WriteString(debugTitleStyle.Render("Log"))
	db.WriteString("\n")
	db.WriteString(rule)
	db.WriteString("\n")
	db.WriteString(
		debugHeaderStyle.Width(colTimeWidth).Render("TIME") +
			sep +
			debugHeaderStyle.Width(colCategoryWidth).Render("SOURCE") +
			sep +
			debugHeaderStyle.Width(colMsgWidth).Render("MESSAGE"))
	db.WriteString("\n")
	db.WriteString(rule)

	entries := m.DebugEntries
	if len(entries) > debugPanelMaxLines {
		entries = entries[len(entries)-debugPanelMaxLines:]
	}
	for _, entry := range entries {
		db.WriteString("\n")
		db.WriteString(
			debugTextStyle.Width(colTimeWidth).Render(truncate(entry.Time, colTimeWidth)) +
				sep +
				debugCategoryStyle.Width(colCategoryWidth).Render(truncate(entry.Category, colCategoryWidth)) +
				sep +
				debugTextStyle.Width(colMsgWidth).Render(truncate(entry.Message, colMsgWidth)))
	}

	return db.String()
}

const visualizerWidth = 20

func (m Model) renderVisualizer() string {
	scaled := math.Sqrt(m.AudioLevel)
	filled := int(math.Round(scaled * float64(visualizerWidth)))
	if filled > visualizerWidth {
		filled = visualizerWidth
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", visualizerWidth-filled)
	return dimStyle.Render("Mix  ") + meterStyle.Render(bar)
}

func (m Model) renderStatusBar() string {
	input := statusBadStyle.Render("✗")
	if m.InputDevice != "" {
		input = statusOkStyle.Render("✓") + dimStyle.Render(" ("+m.InputDevice+")")
	}
	return dimStyle.Render("Backend: "+m.BackendName+"  Input: ") + input
}

func (m Model) renderBadge() string {
	switch m.State {
	case StateRecording:
		return recordingBadge.Render("● Recording...")
	case StateSaving:
		return savingBadge.Render("● Saving...")
	case StateError:
		errText := m.LastError
		if len(errText) > 50 {
			errText = errText[:50] + "..."
		}
		badge := errorBadge.Render(fmt.Sprintf("● Error: %s", errText))
		if m.session != nil && m.session.HasPendingRecording() {
			badge += dimStyle.Render("  (p to retry save)")
		}
		return badge
	default:
		return idleBadge.Render("● Idle")
	}
}
