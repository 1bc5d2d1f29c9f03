package progress

import (
	"fmt"
	"strings"
	"time"
)

// ProgressInfo is a point-in-time view of a run.
type ProgressInfo struct {
	RunID             string
	TotalTasks        int
	SucceededTasks    int
	FailedTasks       int
	SkippedTasks      int
	RunningTasks      []string
	PendingTasks      int
	ElapsedTime       time.Duration
	EstimatedTimeLeft time.Duration
}

// Done returns the number of tasks in a terminal status.
func (p ProgressInfo) Done() int {
	return p.SucceededTasks + p.FailedTasks + p.SkippedTasks
}

// Reporter handles periodic progress reporting
type Reporter struct {
	startTime      time.Time
	lastReportTime time.Time
	reportInterval time.Duration
}

// NewReporter creates a new progress reporter
func NewReporter(interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	now := time.Now()
	return &Reporter{
		startTime:      now,
		lastReportTime: now,
		reportInterval: interval,
	}
}

// Interval returns the reporting interval.
func (r *Reporter) Interval() time.Duration {
	return r.reportInterval
}

// ShouldReport returns true if it's time to report progress
func (r *Reporter) ShouldReport() bool {
	return time.Since(r.lastReportTime) >= r.reportInterval
}

// Report generates a formatted progress line
func (r *Reporter) Report(info ProgressInfo) string {
	r.lastReportTime = time.Now()

	percentage := 0.0
	if info.TotalTasks > 0 {
		percentage = float64(info.Done()) / float64(info.TotalTasks) * 100
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Progress: %d/%d tasks done (%.1f%%)", info.Done(), info.TotalTasks, percentage))
	if info.FailedTasks > 0 {
		sb.WriteString(fmt.Sprintf(", %d failed", info.FailedTasks))
	}
	if info.SkippedTasks > 0 {
		sb.WriteString(fmt.Sprintf(", %d skipped", info.SkippedTasks))
	}
	sb.WriteString(fmt.Sprintf(" | Elapsed: %s", FormatDuration(info.ElapsedTime)))
	if info.EstimatedTimeLeft > 0 {
		sb.WriteString(fmt.Sprintf(" | ETA: %s", FormatDuration(info.EstimatedTimeLeft)))
	}
	if len(info.RunningTasks) > 0 {
		sb.WriteString(fmt.Sprintf("\n   Running: %s", strings.Join(info.RunningTasks, ", ")))
	}
	return sb.String()
}

// CalculateETA estimates time remaining based on current progress
func CalculateETA(completed, total int, elapsed time.Duration) time.Duration {
	if completed <= 0 || total <= 0 || completed >= total {
		return 0
	}

	averageTimePerTask := elapsed / time.Duration(completed)
	remainingTasks := total - completed
	return averageTimePerTask * time.Duration(remainingTasks)
}

// FormatDuration formats a duration in a user-friendly way
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
