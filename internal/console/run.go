package console

import (
	"fmt"
	"strconv"
	"time"

	"github.com/maxkimambo/revgraph/internal/history"
	"github.com/maxkimambo/revgraph/internal/progress"
	"github.com/maxkimambo/revgraph/internal/report"
	"github.com/maxkimambo/revgraph/internal/taskmanager"
)

// RunSummary renders the closing box of a review. rep and reportPath may be
// empty when the run never reached aggregation.
func RunSummary(run *taskmanager.RunResult, rep *report.Report, reportPath string) string {
	sum := run.Ledger.Summary()

	var box *Box
	switch {
	case run.Fatal:
		box = NewBox(ErrorMessage, "Review failed")
	case run.Cancelled:
		box = NewBox(WarningMessage, "Review cancelled")
	case sum.Failed > 0:
		box = NewBox(WarningMessage, "Review finished with failed analyzers")
	default:
		box = NewBox(SuccessMessage, "Review complete")
	}

	box.AddField("Run", run.RunID)
	box.AddField("Duration", progress.FormatDuration(run.Duration))
	box.AddLinef("Tasks: %d succeeded, %d failed, %d skipped", sum.Succeeded, sum.Failed, sum.Skipped)
	if rep != nil {
		s := rep.Summary
		box.AddLinef("Health score: %d/100 (%s)", s.HealthScore, s.HealthLabel)
		box.AddLinef("Findings: %d security, %d performance, %d style", s.Security, s.Performance, s.Style)
		if s.Critical > 0 {
			box.AddLinef("Critical: %d", s.Critical)
		}
		if n := len(rep.Input.Warnings); n > 0 {
			box.AddLinef("Warnings: %d (see report)", n)
		}
	}
	if reportPath != "" {
		box.AddField("Report", reportPath)
	}
	return box.Render()
}

// LedgerTable renders one row per task in execution order.
func LedgerTable(entries []taskmanager.LedgerEntry) string {
	t := NewTable("Task", "Status", "Attempts", "Duration", "Detail")
	for _, e := range entries {
		t.AddRow(e.TaskID, e.Status.String(), attempts(e), duration(e.Duration), detail(e))
	}
	return t.String()
}

// HistoryTable renders recorded runs, newest first as given.
func HistoryTable(runs []history.Summary) string {
	t := NewTable("Run", "Started", "Outcome", "Score", "Findings", "Duration", "Input")
	for _, r := range runs {
		score := "-"
		if r.HealthScore >= 0 {
			score = strconv.Itoa(r.HealthScore)
		}
		t.AddRow(r.RunID, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Outcome, score,
			strconv.Itoa(r.Findings), duration(r.Duration), truncate(r.InputPath, 48))
	}
	return t.String()
}

func attempts(e taskmanager.LedgerEntry) string {
	if e.Attempts == 0 {
		return "-"
	}
	return strconv.Itoa(e.Attempts)
}

func duration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

func detail(e taskmanager.LedgerEntry) string {
	switch {
	case e.Error != nil:
		return truncate(fmt.Sprintf("%s: %s", e.Error.Kind, e.Error.Message), 60)
	case e.SkipReason != "":
		return string(e.SkipReason)
	default:
		return ""
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
