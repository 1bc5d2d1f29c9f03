package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/maxkimambo/revgraph/internal/errors"
)

// Input is everything the report is built from.
type Input struct {
	RunID          string
	InputPath      string
	SourceType     string
	TotalFiles     int
	TotalSizeBytes int64
	Extensions     map[string]int
	Findings       []Finding
	AnalyzersRun   []string
	Warnings       []string
	GeneratedAt    time.Time
}

// Summary holds the counts shown in the executive summary.
type Summary struct {
	SecurityCritical    int    `json:"security_critical"`
	SecurityHigh        int    `json:"security_high"`
	SecurityMedium      int    `json:"security_medium"`
	SecurityLow         int    `json:"security_low"`
	Security            int    `json:"security"`
	PerformanceCritical int    `json:"performance_critical"`
	PerformanceHigh     int    `json:"performance_high"`
	Performance         int    `json:"performance"`
	Style               int    `json:"style"`
	Total               int    `json:"total"`
	Critical            int    `json:"critical"`
	HealthScore         int    `json:"health_score"`
	HealthLabel         string `json:"health_label"`
}

// HealthScore is 100 minus 10 per critical issue, 5 per high security issue
// and 3 per high performance issue, floored at zero.
func HealthScore(critical, securityHigh, performanceHigh int) int {
	score := 100 - critical*10 - securityHigh*5 - performanceHigh*3
	if score < 0 {
		return 0
	}
	return score
}

// HealthLabel names a health score band.
func HealthLabel(score int) string {
	switch {
	case score >= 90:
		return "Excellent"
	case score >= 75:
		return "Good"
	case score >= 50:
		return "Fair"
	default:
		return "Needs Attention"
	}
}

// Summarize counts findings per category and level.
func Summarize(findings []Finding) Summary {
	var s Summary
	for _, f := range findings {
		switch f.Category {
		case CategorySecurity:
			s.Security++
			switch f.Severity {
			case SeverityCritical:
				s.SecurityCritical++
			case SeverityHigh:
				s.SecurityHigh++
			case SeverityMedium:
				s.SecurityMedium++
			case SeverityLow:
				s.SecurityLow++
			}
		case CategoryPerformance:
			s.Performance++
			switch f.Level() {
			case SeverityCritical:
				s.PerformanceCritical++
			case SeverityHigh:
				s.PerformanceHigh++
			}
		case CategoryStyle:
			s.Style++
		}
	}
	s.Total = len(findings)
	s.Critical = s.SecurityCritical + s.PerformanceCritical
	s.HealthScore = HealthScore(s.Critical, s.SecurityHigh, s.PerformanceHigh)
	s.HealthLabel = HealthLabel(s.HealthScore)
	return s
}

// Report is a rendered review.
type Report struct {
	Input    Input
	Summary  Summary
	Markdown string
}

// Build sorts the findings, summarizes them and renders the markdown. An input
// with no files or no findings still yields a complete report.
func Build(in Input) *Report {
	if in.GeneratedAt.IsZero() {
		in.GeneratedAt = time.Now()
	}
	in.Findings = append([]Finding(nil), in.Findings...)
	SortFindings(in.Findings)

	r := &Report{Input: in, Summary: Summarize(in.Findings)}
	r.Markdown = render(r)
	return r
}

// Filename is the report file name for a run started at t.
func Filename(t time.Time) string {
	return fmt.Sprintf("REVIEW_REPORT_%s.md", t.Format("20060102_150405"))
}

// Write saves the report under dir and returns its path.
func Write(dir string, r *Report) (string, error) {
	const op = "report.write"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.NewValidationError(errors.CodeInvalidConfig,
			fmt.Sprintf("cannot create output directory %s", dir), op).WithCause(err)
	}
	p := filepath.Join(dir, Filename(r.Input.GeneratedAt))
	if err := os.WriteFile(p, []byte(r.Markdown), 0o644); err != nil {
		return "", errors.NewValidationError(errors.CodeInvalidConfig,
			fmt.Sprintf("cannot write report to %s", p), op).WithCause(err)
	}
	return p, nil
}

func render(r *Report) string {
	b := NewBuilder()
	renderHeader(b, r.Input)
	renderSummary(b, r)

	security := ByCategory(r.Input.Findings, CategorySecurity)
	performance := ByCategory(r.Input.Findings, CategoryPerformance)
	style := ByCategory(r.Input.Findings, CategoryStyle)

	renderCritical(b, security, performance)
	if len(security) > 0 {
		b.Section("Security Analysis")
		b.Line("Bandit static analysis combined with model review of the source.")
		renderGroups(b, security, "Severity", []string{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow})
	}
	if len(performance) > 0 {
		b.Section("Performance Analysis")
		b.Line("Radon cyclomatic complexity combined with model review of the source.")
		renderGroups(b, performance, "Impact", []string{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow})
	}
	if len(style) > 0 {
		b.Section("Code Style & Quality Analysis")
		b.Line("Review against clean code, SOLID and language conventions.")
		renderGroups(b, style, "Priority", []string{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow})
	}
	renderRecommendations(b, security, performance)

	if len(r.Input.Warnings) > 0 {
		b.Section("Warnings")
		for _, w := range r.Input.Warnings {
			b.Bullet(w)
		}
	}

	b.Rule()
	b.Linef("*Report generated by revgraph on %s (run %s).*",
		r.Input.GeneratedAt.Format("2006-01-02 15:04:05"), orNA(r.Input.RunID))
	return b.Build()
}

func renderHeader(b *Builder, in Input) {
	sourceType := in.SourceType
	if sourceType != "" {
		sourceType = strings.ToUpper(sourceType[:1]) + sourceType[1:]
	}
	b.Title("Automated Code Review Report")
	b.KeyValue("Generated", in.GeneratedAt.Format("2006-01-02 15:04:05"))
	b.KeyValue("Source", orNA(in.InputPath))
	b.KeyValue("Type", orNA(sourceType))
	if len(in.AnalyzersRun) > 0 {
		analyzers := append([]string(nil), in.AnalyzersRun...)
		sort.Strings(analyzers)
		b.KeyValue("Analyzers", strings.Join(analyzers, ", "))
	}
	b.Rule()
}

func renderSummary(b *Builder, r *Report) {
	s := r.Summary
	b.Section("Executive Summary")
	b.Subsection(fmt.Sprintf("Code Health Score: %d/100 %s", s.HealthScore, s.HealthLabel))

	b.Subsection("Statistics")
	b.Bulletf("**Files Analyzed**: %d", r.Input.TotalFiles)
	b.Bulletf("**Total Code Size**: %.2f MB", float64(r.Input.TotalSizeBytes)/(1<<20))
	b.Bulletf("**Total Issues Found**: %d", s.Total)
	b.Bulletf("**Critical Issues**: %d", s.Critical)

	b.Subsection("Findings Breakdown")
	b.Table(
		[]string{"Category", "Critical", "High", "Medium", "Low", "Total"},
		[][]string{
			{"**Security**", itoa(s.SecurityCritical), itoa(s.SecurityHigh), itoa(s.SecurityMedium), itoa(s.SecurityLow), itoa(s.Security)},
			{"**Performance**", itoa(s.PerformanceCritical), itoa(s.PerformanceHigh), "-", "-", itoa(s.Performance)},
			{"**Style & Quality**", "-", "-", "-", "-", itoa(s.Style)},
		},
	)

	b.Subsection("File Type Distribution")
	if len(r.Input.Extensions) == 0 {
		b.Line("No extension data available")
		return
	}
	for _, e := range topExtensions(r.Input.Extensions, 5) {
		b.Bulletf("**%s**: %d files", e.ext, e.count)
	}
}

type extCount struct {
	ext   string
	count int
}

func topExtensions(exts map[string]int, n int) []extCount {
	out := make([]extCount, 0, len(exts))
	for ext, count := range exts {
		out = append(out, extCount{ext, count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].ext < out[j].ext
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func atLeastHigh(findings []Finding) []Finding {
	var out []Finding
	for _, f := range findings {
		if l := f.Level(); l == SeverityCritical || l == SeverityHigh {
			out = append(out, f)
		}
	}
	return out
}

func renderCritical(b *Builder, security, performance []Finding) {
	sec, perf := atLeastHigh(security), atLeastHigh(performance)
	if len(sec) == 0 && len(perf) == 0 {
		return
	}
	b.Section("Critical Issues Requiring Immediate Attention")
	b.Quote("**Action Required**: The following issues should be addressed as soon as possible.")
	for _, group := range []struct {
		title    string
		label    string
		findings []Finding
	}{
		{"Security", "Severity", sec},
		{"Performance", "Impact", perf},
	} {
		if len(group.findings) == 0 {
			continue
		}
		b.Subsection(group.title)
		for _, f := range head(group.findings, 5) {
			b.Bulletf("**%s** in `%s`", orUnknown(f.IssueType), f.FileName())
			b.Indented(group.label+": "+f.Level(), 1)
			b.Indented(orDefault(f.Description, "No description"), 1)
		}
	}
}

func renderGroups(b *Builder, findings []Finding, label string, levels []string) {
	byLevel := map[string][]Finding{}
	for _, f := range findings {
		byLevel[f.Level()] = append(byLevel[f.Level()], f)
	}
	for _, level := range levels {
		items := byLevel[level]
		if len(items) == 0 {
			continue
		}
		b.Subsection(fmt.Sprintf("%s %s (%d issues)", level, label, len(items)))
		for i, f := range items {
			b.Item(fmt.Sprintf("%d. %s", i+1, orUnknown(f.IssueType)))
			b.Bullet("**File**: " + f.location())
			if f.PrincipleViolated != "" {
				b.Bullet("**Principle Violated**: " + f.PrincipleViolated)
			}
			if f.CWEID != "" {
				b.Bullet("**CWE**: " + f.CWEID)
			}
			if f.OWASPCategory != "" {
				b.Bullet("**OWASP**: " + f.OWASPCategory)
			}
			b.Bullet("**Description**: " + orDefault(f.Description, "No description"))
			if f.CurrentComplexity != "" {
				b.Bullet("**Current Complexity**: " + f.CurrentComplexity)
			}
			if f.OptimizedComplexity != "" {
				b.Bullet("**Optimized Complexity**: " + f.OptimizedComplexity)
			}
			b.Bullet("**Recommendation**: " + orDefault(f.Recommendation, "No recommendation"))
		}
	}
}

func renderRecommendations(b *Builder, security, performance []Finding) {
	b.Section("Prioritized Recommendations")
	b.Subsection("Immediate Actions (Next 24-48 hours)")

	var critSec, critPerf []Finding
	for _, f := range security {
		if f.Severity == SeverityCritical {
			critSec = append(critSec, f)
		}
	}
	for _, f := range performance {
		if f.Level() == SeverityCritical {
			critPerf = append(critPerf, f)
		}
	}
	if len(critSec) == 0 && len(critPerf) == 0 {
		b.Line("No critical issues found.")
	}
	if len(critSec) > 0 {
		b.Line("**Critical Security Vulnerabilities:**")
		for _, f := range head(critSec, 3) {
			b.Bulletf("Fix %s in `%s`", orUnknown(f.IssueType), f.FileName())
		}
	}
	if len(critPerf) > 0 {
		if len(critSec) > 0 {
			b.Empty()
		}
		b.Line("**Critical Performance Bottlenecks:**")
		for _, f := range head(critPerf, 3) {
			b.Bulletf("Optimize %s in `%s`", orUnknown(f.IssueType), f.FileName())
		}
	}

	b.Subsection("Short-term (Week 1-2)")
	b.Bullet("Address all HIGH severity security issues")
	b.Bullet("Refactor the highest-complexity functions (CC > 20)")
	b.Bullet("Add error handling where failures are silently ignored")

	b.Subsection("Medium-term (Month 1)")
	b.Bullet("Resolve all MEDIUM security issues")
	b.Bullet("Optimize database access and remove N+1 query patterns")
	b.Bullet("Reduce duplication and improve documentation")

	b.Subsection("Long-term (Quarter 1)")
	b.Bullet("Add static analysis to continuous integration")
	b.Bullet("Schedule periodic security and architecture reviews")
}

func head(findings []Finding, n int) []Finding {
	if len(findings) > n {
		return findings[:n]
	}
	return findings
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func orUnknown(s string) string {
	return orDefault(s, "Unknown")
}

func orNA(s string) string {
	return orDefault(s, "N/A")
}
