// Package console renders the boxes and tables the CLI prints to stdout.
package console

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// MessageType selects the color and prefix of a box.
type MessageType int

const (
	InfoMessage MessageType = iota
	SuccessMessage
	WarningMessage
	ErrorMessage
)

const (
	infoPrefix    = "ℹ"
	successPrefix = "✓"
	warningPrefix = "⚠"
	errorPrefix   = "✗"
)

const (
	topLeft     = "╭"
	topRight    = "╮"
	bottomLeft  = "╰"
	bottomRight = "╯"
	horizontal  = "─"
	vertical    = "│"
)

const defaultWidth = 80

var (
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Box is a builder for message boxes.
type Box struct {
	messageType MessageType
	title       string
	content     []string
	width       int
}

// NewBox creates a box sized to the terminal.
func NewBox(messageType MessageType, title string) *Box {
	return &Box{
		messageType: messageType,
		title:       title,
		width:       TerminalWidth() - 8,
	}
}

// WithWidth fixes the outer width instead of following the terminal.
func (b *Box) WithWidth(width int) *Box {
	b.width = width
	return b
}

// AddLine adds a line of text.
func (b *Box) AddLine(text string) *Box {
	b.content = append(b.content, text)
	return b
}

// AddLinef adds a formatted line.
func (b *Box) AddLinef(format string, args ...interface{}) *Box {
	return b.AddLine(fmt.Sprintf(format, args...))
}

// AddBullet adds a bulleted line.
func (b *Box) AddBullet(text string) *Box {
	b.content = append(b.content, "• "+text)
	return b
}

// AddField adds a "key: value" line.
func (b *Box) AddField(key string, value interface{}) *Box {
	return b.AddLine(fmt.Sprintf("%s: %v", key, value))
}

// Render returns the box as a string without a trailing newline.
func (b *Box) Render() string {
	style, prefix := b.styleAndPrefix()
	lines := append([]string{b.title}, b.content...)
	return renderStyledBox(lines, style, prefix, b.width)
}

func (b *Box) styleAndPrefix() (lipgloss.Style, string) {
	switch b.messageType {
	case SuccessMessage:
		return successStyle, successPrefix
	case WarningMessage:
		return warningStyle, warningPrefix
	case ErrorMessage:
		return errorStyle, errorPrefix
	default:
		return infoStyle, infoPrefix
	}
}

func renderStyledBox(lines []string, style lipgloss.Style, prefix string, maxWidth int) string {
	if maxWidth < 20 {
		maxWidth = 20
	}
	contentWidth := maxWidth - 6

	var wrapped []string
	for _, line := range lines {
		if lipgloss.Width(line) <= contentWidth {
			wrapped = append(wrapped, line)
		} else {
			wrapped = append(wrapped, wrapText(line, contentWidth)...)
		}
	}

	boxWidth := 6
	for _, line := range wrapped {
		if w := lipgloss.Width(line) + 6; w > boxWidth {
			boxWidth = w
		}
	}

	var sb strings.Builder
	sb.WriteString(style.Render(topLeft+strings.Repeat(horizontal, boxWidth-2)+topRight) + "\n")

	first := wrapped[0]
	padding := max(0, boxWidth-lipgloss.Width(first)-4-lipgloss.Width(prefix))
	fmt.Fprintf(&sb, "%s %s %s%s %s\n",
		style.Render(vertical),
		style.Bold(true).Render(prefix),
		style.Bold(false).Render(first),
		strings.Repeat(" ", padding),
		style.Render(vertical))

	for _, line := range wrapped[1:] {
		padding := max(0, boxWidth-lipgloss.Width(line)-4)
		fmt.Fprintf(&sb, "%s   %s%s %s\n",
			style.Render(vertical),
			line,
			strings.Repeat(" ", padding),
			style.Render(vertical))
	}

	sb.WriteString(style.Render(bottomLeft + strings.Repeat(horizontal, boxWidth-2) + bottomRight))
	return sb.String()
}

// Info renders an informational box.
func Info(title string, lines ...string) string {
	return newBoxWith(InfoMessage, title, lines).Render()
}

// Success renders a success box.
func Success(title string, lines ...string) string {
	return newBoxWith(SuccessMessage, title, lines).Render()
}

// Warning renders a warning box.
func Warning(title string, lines ...string) string {
	return newBoxWith(WarningMessage, title, lines).Render()
}

// Error renders an error box.
func Error(title string, lines ...string) string {
	return newBoxWith(ErrorMessage, title, lines).Render()
}

func newBoxWith(t MessageType, title string, lines []string) *Box {
	box := NewBox(t, title)
	for _, line := range lines {
		box.AddLine(line)
	}
	return box
}

// TerminalWidth returns the width of stdout, or 80 when it is not a terminal.
func TerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}

func wrapText(text string, maxWidth int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		if lipgloss.Width(current)+lipgloss.Width(word)+1 <= maxWidth {
			current += " " + word
			continue
		}
		lines = append(lines, current)
		current = word
	}
	return append(lines, current)
}
