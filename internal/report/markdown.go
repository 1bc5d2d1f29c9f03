package report

import (
	"fmt"
	"strconv"
	"strings"
)

// Builder provides a fluent interface for building markdown documents.
type Builder struct {
	lines []string
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Title adds a level one heading.
func (b *Builder) Title(text string) *Builder {
	return b.heading(1, text)
}

// Section adds a level two heading preceded by a blank line.
func (b *Builder) Section(title string) *Builder {
	return b.heading(2, title)
}

// Subsection adds a level three heading.
func (b *Builder) Subsection(title string) *Builder {
	return b.heading(3, title)
}

// Item adds a level four heading.
func (b *Builder) Item(title string) *Builder {
	return b.heading(4, title)
}

func (b *Builder) heading(level int, text string) *Builder {
	if len(b.lines) > 0 && b.lines[len(b.lines)-1] != "" {
		b.lines = append(b.lines, "")
	}
	b.lines = append(b.lines, strings.Repeat("#", level)+" "+text, "")
	return b
}

// Line adds a single line.
func (b *Builder) Line(text string) *Builder {
	b.lines = append(b.lines, text)
	return b
}

// Linef adds a formatted line.
func (b *Builder) Linef(format string, args ...interface{}) *Builder {
	return b.Line(fmt.Sprintf(format, args...))
}

// Bullet adds a bulleted line.
func (b *Builder) Bullet(text string) *Builder {
	return b.Line("- " + text)
}

// Bulletf adds a formatted bulleted line.
func (b *Builder) Bulletf(format string, args ...interface{}) *Builder {
	return b.Bullet(fmt.Sprintf(format, args...))
}

// Indented adds a bullet nested under the previous one.
func (b *Builder) Indented(text string, level int) *Builder {
	return b.Line(strings.Repeat("  ", level) + "- " + text)
}

// KeyValue adds a bold key with its value. Two trailing spaces force a line
// break in rendered markdown.
func (b *Builder) KeyValue(key, value string) *Builder {
	return b.Line(fmt.Sprintf("**%s**: %s  ", key, value))
}

// Quote adds a block quote.
func (b *Builder) Quote(text string) *Builder {
	return b.Line("> " + text)
}

// Table adds a markdown table.
func (b *Builder) Table(headers []string, rows [][]string) *Builder {
	b.Line("| " + strings.Join(headers, " | ") + " |")
	seps := make([]string, len(headers))
	for i := range seps {
		seps[i] = "---"
	}
	b.Line("|" + strings.Join(seps, "|") + "|")
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = strings.ReplaceAll(c, "|", "\\|")
		}
		b.Line("| " + strings.Join(cells, " | ") + " |")
	}
	return b
}

// Rule adds a horizontal rule.
func (b *Builder) Rule() *Builder {
	return b.Empty().Line("---").Empty()
}

// Empty adds an empty line.
func (b *Builder) Empty() *Builder {
	b.lines = append(b.lines, "")
	return b
}

// Build returns the document with a trailing newline.
func (b *Builder) Build() string {
	return strings.TrimRight(strings.Join(b.lines, "\n"), "\n") + "\n"
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
