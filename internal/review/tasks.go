package review

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maxkimambo/revgraph/internal/errors"
	"github.com/maxkimambo/revgraph/internal/logger"
	"github.com/maxkimambo/revgraph/internal/report"
	"github.com/maxkimambo/revgraph/internal/source"
	"github.com/maxkimambo/revgraph/internal/taskmanager"
	"github.com/maxkimambo/revgraph/internal/tools"
)

// review is the per-run side of a Pipeline. It owns the scratch directories
// created while ingesting.
type review struct {
	p *Pipeline

	mu       sync.Mutex
	cleanups []func()
}

func (r *review) onCleanup(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanups = append(r.cleanups, fn)
}

// release runs the registered cleanups in reverse order.
func (r *review) release() {
	r.mu.Lock()
	fns := r.cleanups
	r.cleanups = nil
	r.mu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

func (r *review) ingest(rc *taskmanager.RunContext, state taskmanager.StateView) (taskmanager.Update, error) {
	const op = "review.ingest"
	input := strings.TrimSpace(stringValue(state, KeyInputPath))
	if input == "" {
		return nil, errors.NewValidationError(errors.CodeMissingInput, "no input path given", op).
			WithHint("Pass a directory or git repository URL with --path")
	}

	dir, sourceType := input, source.TypeLocal
	if source.IsGitURL(input) {
		cloned, release, err := r.p.cloner.Clone(rc, input, "")
		if err != nil {
			return nil, err
		}
		r.onCleanup(release)
		dir, sourceType = cloned, source.TypeGit
	}

	logger.User.Analyzef("Scanning %s", input)
	files, stats, err := source.Scan(dir, r.p.scan)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		logger.User.Warnf("No reviewable files found in %s", input)
	} else {
		logger.User.Successf("Found %d files (%.2f MB)", stats.TotalFiles, stats.TotalSizeMB())
	}

	return taskmanager.Update{
		KeySourceType: string(sourceType),
		KeyWorkDir:    dir,
		KeyFileList:   files,
		KeyTotalFiles: len(files),
		KeyFileStats:  stats,
	}, nil
}

func (r *review) security(rc *taskmanager.RunContext, state taskmanager.StateView) (taskmanager.Update, error) {
	files := fileList(state)
	workDir := stringValue(state, KeyWorkDir)
	var warnings []string

	issues, err := tools.NewBandit(r.p.runner).Scan(rc, workDir, relPaths(withExtension(files, ".py")))
	if err != nil {
		if rc.Err() != nil || errors.KindOf(err) == errors.KindCancelled {
			return nil, err
		}
		warnings = append(warnings, toolWarning(TaskSecurity, "bandit", err))
	}
	byFile := map[string][]tools.BanditIssue{}
	hits := map[string]int{}
	for _, issue := range issues {
		rel := relTo(workDir, issue.File)
		byFile[rel] = append(byFile[rel], issue)
		hits[rel]++
	}

	targets := prioritize(reviewable(files), hits, r.p.maxFiles)
	outcome, err := r.reviewFiles(rc, securityAnalyzer, targets, func(rel string) string {
		return formatBandit(byFile[rel])
	})
	if err != nil {
		return nil, err
	}

	findings := outcome.findings
	// the model validates bandit hits for the files it reviewed; keep the raw
	// hits for the rest
	for rel, fileIssues := range byFile {
		if outcome.reviewed[rel] {
			continue
		}
		for _, issue := range fileIssues {
			findings = append(findings, banditFinding(rel, issue))
		}
	}

	logger.User.Successf("Security analysis complete: %d findings", len(findings))
	return taskmanager.Update{
		KeyFindings:     findings,
		KeyAnalyzersRun: []string{TaskSecurity},
		KeyWarnings:     append(warnings, outcome.warnings...),
	}, nil
}

func (r *review) performance(rc *taskmanager.RunContext, state taskmanager.StateView) (taskmanager.Update, error) {
	files := fileList(state)
	workDir := stringValue(state, KeyWorkDir)
	var warnings []string

	blocks, err := tools.NewRadon(r.p.runner).Complexity(rc, workDir, relPaths(withExtension(files, ".py")))
	if err != nil {
		if rc.Err() != nil || errors.KindOf(err) == errors.KindCancelled {
			return nil, err
		}
		warnings = append(warnings, toolWarning(TaskPerformance, "radon", err))
	}
	byFile := map[string][]tools.ComplexityBlock{}
	hits := map[string]int{}
	for _, b := range blocks {
		rel := relTo(workDir, b.File)
		byFile[rel] = append(byFile[rel], b)
		hits[rel]++
	}

	targets := prioritize(reviewable(files), hits, r.p.maxFiles)
	outcome, err := r.reviewFiles(rc, performanceAnalyzer, targets, func(rel string) string {
		return formatRadon(byFile[rel])
	})
	if err != nil {
		return nil, err
	}

	findings := outcome.findings
	for rel, fileBlocks := range byFile {
		if outcome.reviewed[rel] {
			continue
		}
		for _, b := range fileBlocks {
			findings = append(findings, radonFinding(rel, b))
		}
	}

	logger.User.Successf("Performance analysis complete: %d findings", len(findings))
	return taskmanager.Update{
		KeyFindings:     findings,
		KeyAnalyzersRun: []string{TaskPerformance},
		KeyWarnings:     append(warnings, outcome.warnings...),
	}, nil
}

func (r *review) style(rc *taskmanager.RunContext, state taskmanager.StateView) (taskmanager.Update, error) {
	targets := prioritize(reviewable(fileList(state)), nil, r.p.maxFiles)
	outcome, err := r.reviewFiles(rc, styleAnalyzer, targets, nil)
	if err != nil {
		return nil, err
	}

	logger.User.Successf("Style analysis complete: %d findings", len(outcome.findings))
	return taskmanager.Update{
		KeyFindings:     outcome.findings,
		KeyAnalyzersRun: []string{TaskStyle},
		KeyWarnings:     outcome.warnings,
	}, nil
}

func (r *review) aggregate(rc *taskmanager.RunContext, state taskmanager.StateView) (taskmanager.Update, error) {
	stats, _ := taskmanager.Value[source.Stats](state, KeyFileStats)
	total, _ := taskmanager.Value[int](state, KeyTotalFiles)

	warnings := taskmanager.Elements[string](state, KeyWarnings)
	for _, d := range state.Diagnostics() {
		warnings = append(warnings, formatDiagnostic(d))
	}

	rep := report.Build(report.Input{
		RunID:          rc.RunID(),
		InputPath:      stringValue(state, KeyInputPath),
		SourceType:     stringValue(state, KeySourceType),
		TotalFiles:     total,
		TotalSizeBytes: stats.TotalSizeBytes,
		Extensions:     stats.Extensions,
		Findings:       taskmanager.Elements[report.Finding](state, KeyFindings),
		AnalyzersRun:   taskmanager.Elements[string](state, KeyAnalyzersRun),
		Warnings:       warnings,
		GeneratedAt:    time.Now(),
	})

	logger.User.Reportf("Report built: %d findings, health score %d/100 (%s)",
		rep.Summary.Total, rep.Summary.HealthScore, rep.Summary.HealthLabel)
	return taskmanager.Update{KeyReport: rep}, nil
}

func formatDiagnostic(d taskmanager.Diagnostic) string {
	if d.TaskID == "" {
		return d.Message
	}
	return d.TaskID + ": " + d.Message
}

// relTo makes a tool-reported path relative to the scan root.
func relTo(root, p string) string {
	if filepath.IsAbs(p) {
		if rel, err := filepath.Rel(root, p); err == nil {
			p = rel
		}
	}
	return filepath.ToSlash(filepath.Clean(p))
}

func formatBandit(issues []tools.BanditIssue) string {
	if len(issues) == 0 {
		return "No issues detected by the scanner."
	}
	var b strings.Builder
	for _, i := range issues {
		fmt.Fprintf(&b, "- Line %d: %s %s (severity %s, confidence %s): %s\n",
			i.Line, i.TestID, i.TestName, i.Severity, i.Confidence, i.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func banditFinding(rel string, i tools.BanditIssue) report.Finding {
	f := report.Finding{
		Category:       report.CategorySecurity,
		Source:         "bandit",
		File:           rel,
		Line:           i.Line,
		Severity:       report.NormalizeSeverity(i.Severity, report.SeverityMedium),
		Confidence:     report.NormalizeSeverity(i.Confidence, ""),
		IssueType:      i.TestName,
		Description:    i.Text,
		Recommendation: fmt.Sprintf("See the bandit documentation for %s.", i.TestID),
	}
	if i.CWE > 0 {
		f.CWEID = fmt.Sprintf("CWE-%d", i.CWE)
	}
	return f
}

func formatRadon(blocks []tools.ComplexityBlock) string {
	if len(blocks) == 0 {
		return "No complex blocks reported."
	}
	var b strings.Builder
	for _, block := range blocks {
		fmt.Fprintf(&b, "- Line %d: %s\n", block.Line, block.Description())
	}
	return strings.TrimRight(b.String(), "\n")
}

func radonFinding(rel string, b tools.ComplexityBlock) report.Finding {
	return report.Finding{
		Category:          report.CategoryPerformance,
		Source:            "radon",
		File:              rel,
		Line:              b.Line,
		Severity:          b.Impact(),
		Impact:            b.Impact(),
		IssueType:         "High Cyclomatic Complexity",
		Description:       b.Description(),
		CurrentComplexity: fmt.Sprintf("CC %d (grade %s)", b.Complexity, b.Rank),
		Recommendation:    "Split the block into smaller functions with a single responsibility.",
	}
}
