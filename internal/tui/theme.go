package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Danondso/jamsession/internal/config"
)

// Theme assigns a color to each role on the session screen.
type Theme struct {
	Name   string
	Live   lipgloss.Color // recording badge, level meter, selected row
	Chrome lipgloss.Color // border, section labels, key help
	Take   lipgloss.Color // last recording
	Fault  lipgloss.Color // errors, missing input
	Ready  lipgloss.Color // idle badge, input present
	Busy   lipgloss.Color // saving badge, log sources
	Panel  lipgloss.Color // background
	Body   lipgloss.Color // participant names and text
	Muted  lipgloss.Color // hints, log lines, unfilled volume
}

// DefaultTheme is used when the configured theme is unknown.
const DefaultTheme = "studio"

var builtinOrder = []string{"studio", "tape", "mono"}

var themes = map[string]Theme{
	"studio": {
		Name: "Studio", Live: "#FF5F87", Chrome: "#5FD7FF", Take: "#D7AFFF",
		Fault: "#FF875F", Ready: "#87FFAF", Busy: "#FFD75F",
		Panel: "#1C1C24", Body: "#E4E4E4", Muted: "#6C6C6C",
	},
	"tape": {
		Name: "Tape", Live: "#E0A458", Chrome: "#8FB8A8", Take: "#C9A0DC",
		Fault: "#D9534F", Ready: "#A3BE8C", Busy: "#EBCB8B",
		Panel: "#2B2520", Body: "#E8DCC8", Muted: "#8A7F72",
	},
	"mono": {
		Name: "Mono", Live: "#FFFFFF", Chrome: "#BBBBBB", Take: "#999999",
		Fault: "#FF0000", Ready: "#FFFFFF", Busy: "#BBBBBB",
		Panel: "#000000", Body: "#FFFFFF", Muted: "#777777",
	},
}

// themeOrder is the cycle order of the t key: built-ins, then custom
// themes in config order.
var themeOrder = append([]string(nil), builtinOrder...)

// LoadTheme returns the theme with the given name (case-insensitive), or
// DefaultTheme.
func LoadTheme(name string) Theme {
	if t, ok := themes[strings.ToLower(name)]; ok {
		return t
	}
	return themes[DefaultTheme]
}

// NextTheme returns the theme after current in the cycle.
func NextTheme(current string) Theme {
	current = strings.ToLower(current)
	for i, name := range themeOrder {
		if name == current {
			return themes[themeOrder[(i+1)%len(themeOrder)]]
		}
	}
	return themes[themeOrder[0]]
}

// RegisterCustomThemes adds config themes to the cycle. Entries without a
// name, or whose name is already taken, are skipped. Unset colors keep
// the default theme's.
func RegisterCustomThemes(custom []config.CustomTheme) {
	base := themes[DefaultTheme]
	pick := func(c string, fallback lipgloss.Color) lipgloss.Color {
		if c == "" {
			return fallback
		}
		return lipgloss.Color(c)
	}
	for _, ct := range custom {
		key := strings.ToLower(ct.Name)
		if _, taken := themes[key]; key == "" || taken {
			continue
		}
		themes[key] = Theme{
			Name:   ct.Name,
			Live:   pick(ct.Live, base.Live),
			Chrome: pick(ct.Chrome, base.Chrome),
			Take:   pick(ct.Take, base.Take),
			Fault:  pick(ct.Fault, base.Fault),
			Ready:  pick(ct.Ready, base.Ready),
			Busy:   pick(ct.Busy, base.Busy),
			Panel:  pick(ct.Panel, base.Panel),
			Body:   pick(ct.Body, base.Body),
			Muted:  pick(ct.Muted, base.Muted),
		}
		themeOrder = append(themeOrder, key)
	}
}

// ApplyTheme makes t the active palette for every style.
func ApplyTheme(t Theme) {
	base := lipgloss.NewStyle().Background(t.Panel)

	titleStyle = base.Bold(true).Foreground(t.Live).MarginBottom(1)
	borderStyle = base.
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Chrome).
		Padding(1, 2)
	labelStyle = base.Foreground(t.Chrome).Bold(true)
	artifactStyle = base.Foreground(t.Take).Italic(true)
	helpStyle = base.Foreground(t.Chrome)
	dimStyle = base.Foreground(t.Muted)
	bodyStyle = base.Foreground(t.Body)
	selectedStyle = base.Foreground(t.Live).Bold(true)

	idleBadge = base.Foreground(t.Ready).Bold(true)
	recordingBadge = base.Foreground(t.Live).Bold(true)
	savingBadge = base.Foreground(t.Busy).Bold(true)
	errorBadge = base.Foreground(t.Fault).Bold(true)
	statusOkStyle = base.Foreground(t.Ready).Bold(true)
	statusBadStyle = base.Foreground(t.Fault).Bold(true)

	meterStyle = base.Foreground(t.Live)
	meterMutedStyle = base.Foreground(t.Muted)

	debugTitleStyle = base.Foreground(t.Muted).Bold(true)
	debugHeaderStyle = base.Foreground(t.Muted).Bold(true)
	debugTextStyle = base.Foreground(t.Muted)
	debugCategoryStyle = base.Foreground(t.Busy)
	debugSepStyle = base.Foreground(t.Muted).Faint(true)
}
