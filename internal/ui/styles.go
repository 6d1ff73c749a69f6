// Package ui provides terminal styling for chief CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Ayu theme color palette
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
)

// ReplyStyle frames a bot reply in the chat REPL.
var ReplyStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder(), false, false, false, true).
	BorderForeground(ColorAccent).
	PaddingLeft(1)

const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
)

// Tone classifies a reply for coloring.
type Tone int

const (
	ToneNeutral Tone = iota
	TonePass
	ToneWarn
	ToneFail
)

// ReplyTone guesses a tone from the first line of a reply.
func ReplyTone(reply string) Tone {
	first, _, _ := strings.Cut(reply, "\n")
	switch {
	case strings.HasPrefix(first, "Logged"), strings.HasPrefix(first, "Created"),
		strings.HasPrefix(first, "Saved"), strings.HasPrefix(first, "Added"),
		strings.HasPrefix(first, "Updated"), strings.HasPrefix(first, "Removed"),
		strings.HasPrefix(first, "Invoiced"), strings.HasPrefix(first, "Change order"),
		strings.HasPrefix(first, "Quote") && strings.HasSuffix(first, "accepted"):
		return TonePass
	case strings.HasPrefix(first, "Already logged"), strings.HasPrefix(first, "Still working"),
		strings.HasPrefix(first, "Cancelled"), strings.HasPrefix(first, "That is taking"):
		return ToneWarn
	case strings.HasPrefix(first, "Can't"), strings.HasPrefix(first, "Couldn't"),
		strings.HasPrefix(first, "Something went wrong"), strings.HasPrefix(first, "Sorry"):
		return ToneFail
	}
	return ToneNeutral
}

// RenderReply styles a reply with an icon matching its tone.
func RenderReply(reply string) string {
	var icon string
	style := lipgloss.NewStyle()
	switch ReplyTone(reply) {
	case TonePass:
		icon, style = IconPass+" ", PassStyle
	case ToneWarn:
		icon, style = IconWarn+" ", WarnStyle
	case ToneFail:
		icon, style = IconFail+" ", FailStyle
	}
	first, rest, more := strings.Cut(reply, "\n")
	out := style.Render(icon + first)
	if more {
		out += "\n" + rest
	}
	return ReplyStyle.Render(out)
}

// RenderMuted renders text with muted (gray) styling
func RenderMuted(s string) string {
	return MutedStyle.Render(s)
}

// RenderAccent renders text with accent (blue) styling
func RenderAccent(s string) string {
	return AccentStyle.Render(s)
}

// RenderFail renders text with fail (red) styling
func RenderFail(s string) string {
	return FailStyle.Render(s)
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
