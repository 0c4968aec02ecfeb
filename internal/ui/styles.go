// Package ui holds the lipgloss palette and small rendering helpers for the
// interpreter TUI.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	ColorRed     = lipgloss.Color("#FF0000")
	ColorGreen   = lipgloss.Color("#00FF00")
	ColorYellow  = lipgloss.Color("#FFFF00")
	ColorCyan    = lipgloss.Color("#00FFFF")
	ColorBlue    = lipgloss.Color("#5F87FF")
	ColorGray    = lipgloss.Color("#666666")
	ColorDimGray = lipgloss.Color("#444444")
	ColorWhite   = lipgloss.Color("#FFFFFF")
	ColorMagenta = lipgloss.Color("#FF00FF")
)

// Header and status bar.
var (
	TitleStyle          = lipgloss.NewStyle().Bold(true).Foreground(ColorCyan)
	StatusStyle         = lipgloss.NewStyle().Foreground(ColorGray)
	RecordingDotStyle   = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
	IdleDotStyle        = lipgloss.NewStyle().Foreground(ColorGray)
	LanguageStyle       = lipgloss.NewStyle().Foreground(ColorCyan)
	LanguageLockedStyle = lipgloss.NewStyle().Foreground(ColorGray)
	ProgressFilledStyle = lipgloss.NewStyle().Foreground(ColorRed)
	ProgressEmptyStyle  = lipgloss.NewStyle().Foreground(ColorDimGray)
	CountdownStyle      = lipgloss.NewStyle().Foreground(ColorYellow)
	SpinnerStyle        = lipgloss.NewStyle().Foreground(ColorMagenta)
)

// Timeline blocks.
var (
	PanelTitleStyle     = lipgloss.NewStyle().Bold(true).Foreground(ColorWhite)
	TimestampStyle      = lipgloss.NewStyle().Foreground(ColorGray)
	SourceLabelStyle    = lipgloss.NewStyle().Foreground(ColorGray).Bold(true)
	TargetLabelStyle    = lipgloss.NewStyle().Foreground(ColorBlue).Bold(true)
	OriginalTextStyle   = lipgloss.NewStyle().Foreground(ColorWhite)
	TranslatedTextStyle = lipgloss.NewStyle().Foreground(ColorWhite).Bold(true)
	PendingStyle        = lipgloss.NewStyle().Foreground(ColorBlue)
	SilentStyle         = lipgloss.NewStyle().Foreground(ColorGray).Italic(true)
	ErrorTextStyle      = lipgloss.NewStyle().Foreground(ColorRed)
	LiveBadgeStyle      = lipgloss.NewStyle().Foreground(ColorGreen).Bold(true)
	ScrollBadgeStyle    = lipgloss.NewStyle().Foreground(ColorYellow).Bold(true)
)

// Message bar and footer.
var (
	ErrorStyle      = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
	WarnStyle       = lipgloss.NewStyle().Foreground(ColorYellow).Bold(true)
	ToastStyle      = lipgloss.NewStyle().Foreground(ColorGreen).Bold(true)
	DimStyle        = lipgloss.NewStyle().Foreground(ColorGray)
	DividerStyle    = lipgloss.NewStyle().Foreground(ColorDimGray)
	FooterKeyStyle  = lipgloss.NewStyle().Foreground(ColorYellow).Bold(true)
	FooterDescStyle = lipgloss.NewStyle().Foreground(ColorGray)
)
