// Package styles holds the lipgloss palette and styles of the terminal views.
package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/packline/internal/api"
)

var (
	// Colors - all colors meet WCAG AA contrast (4.5:1) on both black and dark surfaces
	PrimaryColor   = lipgloss.Color("#A78BFA") // Purple
	SecondaryColor = lipgloss.Color("#10B981") // Green
	WarningColor   = lipgloss.Color("#F59E0B") // Amber
	ErrorColor     = lipgloss.Color("#F87171") // Red
	MutedColor     = lipgloss.Color("#9CA3AF") // Gray
	TextColor      = lipgloss.Color("#F9FAFB") // Light text
	BorderColor    = lipgloss.Color("#6B7280") // Gray

	// Session status colors
	StatusDraft      = lipgloss.Color("#60A5FA") // Blue
	StatusInProgress = lipgloss.Color("#10B981") // Green
	StatusCompleted  = lipgloss.Color("#A78BFA") // Purple
	StatusCancelled  = lipgloss.Color("#9CA3AF") // Gray
)

// Styles is the set of styles one view renders with.
type Styles struct {
	Title      lipgloss.Style
	Subtitle   lipgloss.Style
	GroupTitle lipgloss.Style
	Muted      lipgloss.Style
	Badge      lipgloss.Style
	ErrorMsg   lipgloss.Style
	WarningMsg lipgloss.Style
	SuccessMsg lipgloss.Style
	HelpBar    lipgloss.Style
	HelpKey    lipgloss.Style

	mono bool
}

// New returns the styles for theme: "default" or "mono". Unknown themes
// fall back to default.
func New(theme string) Styles {
	if theme == "mono" {
		plain := lipgloss.NewStyle()
		return Styles{
			Title:      plain.Bold(true).MarginBottom(1),
			Subtitle:   plain,
			GroupTitle: plain.Bold(true).Underline(true),
			Muted:      plain,
			Badge:      plain.Padding(0, 1),
			ErrorMsg:   plain.Bold(true),
			WarningMsg: plain.Bold(true),
			SuccessMsg: plain,
			HelpBar:    plain.MarginTop(1),
			HelpKey:    plain.Bold(true),
			mono:       true,
		}
	}
	return Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			MarginBottom(1),
		Subtitle: lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true),
		GroupTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(TextColor).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(BorderColor),
		Muted: lipgloss.NewStyle().Foreground(MutedColor),
		Badge: lipgloss.NewStyle().
			Padding(0, 1).
			MarginRight(1),
		ErrorMsg: lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true),
		WarningMsg: lipgloss.NewStyle().
			Foreground(WarningColor).
			Bold(true),
		SuccessMsg: lipgloss.NewStyle().
			Foreground(SecondaryColor).
			Bold(true),
		HelpBar: lipgloss.NewStyle().
			Foreground(MutedColor).
			MarginTop(1),
		HelpKey: lipgloss.NewStyle().
			Bold(true).
			Foreground(SecondaryColor),
	}
}

// Status renders a status badge.
func (s Styles) Status(status api.Status) string {
	if s.mono {
		return s.Badge.Render(string(status))
	}
	return s.Badge.
		Foreground(TextColor).
		Background(StatusColor(status)).
		Render(string(status))
}

// User renders name in a presence color given as a hex string.
func (s Styles) User(name, color string) string {
	if s.mono || color == "" {
		return name
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(name)
}

// StatusColor returns the badge color for a session status.
func StatusColor(status api.Status) lipgloss.Color {
	switch status {
	case api.StatusDraft:
		return StatusDraft
	case api.StatusInProgress:
		return StatusInProgress
	case api.StatusCompleted:
		return StatusCompleted
	default:
		return StatusCancelled
	}
}
