package console

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxkimambo/revgraph/internal/errors"
	"github.com/maxkimambo/revgraph/internal/history"
	"github.com/maxkimambo/revgraph/internal/taskmanager"
)

func TestTable(t *testing.T) {
	table := NewTable("Task", "Status")
	table.AddRow("ingest", "Succeeded").AddRow("style")
	assert.Equal(t, 2, table.Len())

	lines := strings.Split(strings.TrimSuffix(table.String(), "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "┌────────┬───────────┐", lines[0])
	assert.Equal(t, "│ Task   │ Status    │", lines[1])
	assert.Equal(t, "│ ingest │ Succeeded │", lines[3])
	assert.Equal(t, "│ style  │           │", lines[4])
	assert.Equal(t, "└────────┴───────────┘", lines[5])
}

func TestBox_WrapsLongLines(t *testing.T) {
	out := NewBox(InfoMessage, "Title").
		WithWidth(30).
		AddLine(strings.Repeat("word ", 12)).
		AddBullet("item").
		Render()

	lines := strings.Split(out, "\n")
	assert.Greater(t, len(lines), 5)
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "• item")
	for _, line := range lines {
		assert.NotContains(t, line, strings.Repeat("word ", 6))
	}
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, []string{"alpha beta", "gamma"}, wrapText("alpha beta gamma", 10))
	assert.Equal(t, []string{""}, wrapText("   ", 10))
	assert.Equal(t, []string{"superlongword"}, wrapText("superlongword", 5))
}

func TestLedgerTable(t *testing.T) {
	out := LedgerTable([]taskmanager.LedgerEntry{
		{TaskID: "ingest", Status: taskmanager.StatusSucceeded, Attempts: 1, Duration: 1500 * time.Millisecond},
		{TaskID: "style", Status: taskmanager.StatusFailed, Attempts: 3, Error: &taskmanager.ErrorInfo{
			Kind: errors.KindExhaustedRetries, Message: "llm.style failed after 3 attempts",
		}},
		{TaskID: "security", Status: taskmanager.StatusSkipped, SkipReason: taskmanager.SkipRouteNotTaken},
	})

	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "EXHAUSTED_RETRIES: llm.style failed after 3 attempts")
	assert.Contains(t, out, "route_not_taken")
}

func TestHistoryTable(t *testing.T) {
	out := HistoryTable([]history.Summary{
		{RunID: "r1", Outcome: "succeeded", HealthScore: 85, Findings: 4, Duration: time.Minute, InputPath: "./repo"},
		{RunID: "r2", Outcome: "fatal", HealthScore: -1, InputPath: strings.Repeat("x", 80)},
	})
	assert.Contains(t, out, "85")
	assert.Contains(t, out, "fatal")
	assert.Contains(t, out, strings.Repeat("x", 45)+"...")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
