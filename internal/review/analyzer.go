package review

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/maxkimambo/revgraph/internal/errors"
	"github.com/maxkimambo/revgraph/internal/llm"
	"github.com/maxkimambo/revgraph/internal/logger"
	"github.com/maxkimambo/revgraph/internal/report"
	"github.com/maxkimambo/revgraph/internal/source"
	"github.com/maxkimambo/revgraph/internal/taskmanager"
)

//go:embed prompts/*.md
var promptFS embed.FS

func mustPrompt(name string) string {
	data, err := promptFS.ReadFile("prompts/" + name + ".md")
	if err != nil {
		panic(fmt.Sprintf("missing embedded prompt %s: %v", name, err))
	}
	return string(data)
}

// languages maps reviewable extensions to their code fence language.
var languages = map[string]string{
	".py": "python", ".js": "javascript", ".jsx": "jsx", ".ts": "typescript", ".tsx": "tsx",
	".java": "java", ".c": "c", ".h": "c", ".cpp": "cpp", ".hpp": "cpp", ".cs": "csharp",
	".go": "go", ".rb": "ruby", ".php": "php", ".swift": "swift", ".kt": "kotlin",
	".rs": "rust", ".scala": "scala", ".sh": "bash", ".bash": "bash", ".zsh": "zsh", ".sql": "sql",
}

// analyzer describes one model-backed review.
type analyzer struct {
	name     string
	category report.Category
	system   string
	focus    string
	// toolTitle heads the static analysis section of the prompt.
	toolTitle    string
	defaultIssue string
	// defaultLevel is used when the model leaves severity or impact empty.
	defaultLevel string
}

var (
	securityAnalyzer = analyzer{
		name:         TaskSecurity,
		category:     report.CategorySecurity,
		system:       mustPrompt("security"),
		focus:        "security vulnerabilities",
		toolTitle:    "Bandit Static Analysis Results",
		defaultIssue: "Security Issue",
		defaultLevel: report.SeverityMedium,
	}
	performanceAnalyzer = analyzer{
		name:         TaskPerformance,
		category:     report.CategoryPerformance,
		system:       mustPrompt("performance"),
		focus:        "performance problems",
		toolTitle:    "Radon Complexity Metrics",
		defaultIssue: "Performance Issue",
		defaultLevel: report.SeverityMedium,
	}
	styleAnalyzer = analyzer{
		name:         TaskStyle,
		category:     report.CategoryStyle,
		system:       mustPrompt("style"),
		focus:        "code quality and style problems",
		defaultIssue: "Style Issue",
		defaultLevel: report.SeverityMedium,
	}
)

func reviewable(files []source.FileInfo) []source.FileInfo {
	var out []source.FileInfo
	for _, f := range files {
		if _, ok := languages[f.Extension]; ok {
			out = append(out, f)
		}
	}
	return out
}

func withExtension(files []source.FileInfo, ext string) []source.FileInfo {
	var out []source.FileInfo
	for _, f := range files {
		if f.Extension == ext {
			out = append(out, f)
		}
	}
	return out
}

func relPaths(files []source.FileInfo) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.RelPath
	}
	return out
}

// prioritize puts files with the most tool hits first and keeps at most limit.
// A limit of zero keeps everything.
func prioritize(files []source.FileInfo, hits map[string]int, limit int) []source.FileInfo {
	out := append([]source.FileInfo(nil), files...)
	sort.SliceStable(out, func(i, j int) bool {
		if hits[out[i].RelPath] != hits[out[j].RelPath] {
			return hits[out[i].RelPath] > hits[out[j].RelPath]
		}
		return out[i].RelPath < out[j].RelPath
	})
	if limit > 0 && len(out) > limit {
		logger.Op.Debugf("Limiting review to %d of %d files", limit, len(out))
		out = out[:limit]
	}
	return out
}

func buildPrompt(a analyzer, f source.FileInfo, content, toolContext string) string {
	lang := languages[f.Extension]
	var b strings.Builder
	fmt.Fprintf(&b, "Review this %s file for %s.\n\n", lang, a.focus)
	b.WriteString("## File\n")
	fmt.Fprintf(&b, "- Path: %s\n", f.RelPath)
	fmt.Fprintf(&b, "- Lines: %d\n\n", strings.Count(content, "\n")+1)
	if a.toolTitle != "" {
		fmt.Fprintf(&b, "## %s\n%s\n\n", a.toolTitle, toolContext)
	}
	fmt.Fprintf(&b, "## Source\n```%s\n%s\n```\n\n", lang, content)
	b.WriteString("Return the findings as a JSON array. Return [] if there are none.\n")
	return b.String()
}

// flexString accepts a JSON string, number or null.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = ""
	case len(data) > 0 && data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(v))
	default:
		*s = flexString(data)
	}
	return nil
}

// flexInt accepts a JSON number, a numeric string or null.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	if s == "" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = flexInt(f)
	return nil
}

type modelFinding struct {
	Line                flexInt    `json:"line"`
	Severity            flexString `json:"severity"`
	Impact              flexString `json:"impact"`
	Confidence          flexString `json:"confidence"`
	IssueType           flexString `json:"issue_type"`
	Description         flexString `json:"description"`
	Recommendation      flexString `json:"recommendation"`
	CWEID               flexString `json:"cwe_id"`
	OWASPCategory       flexString `json:"owasp_category"`
	CurrentComplexity   flexString `json:"current_complexity"`
	OptimizedComplexity flexString `json:"optimized_complexity"`
	PrincipleViolated   flexString `json:"principle_violated"`
}

func (a analyzer) toFinding(rel string, m modelFinding) report.Finding {
	f := report.Finding{
		Category:            a.category,
		Source:              "llm",
		File:                rel,
		Line:                int(m.Line),
		Confidence:          report.NormalizeSeverity(string(m.Confidence), ""),
		IssueType:           string(m.IssueType),
		Description:         string(m.Description),
		Recommendation:      string(m.Recommendation),
		OWASPCategory:       string(m.OWASPCategory),
		CurrentComplexity:   string(m.CurrentComplexity),
		OptimizedComplexity: string(m.OptimizedComplexity),
		PrincipleViolated:   string(m.PrincipleViolated),
	}
	if f.IssueType == "" {
		f.IssueType = a.defaultIssue
	}
	if cwe := string(m.CWEID); cwe != "" {
		if _, err := strconv.Atoi(cwe); err == nil {
			cwe = "CWE-" + cwe
		}
		f.CWEID = cwe
	}
	if a.category == report.CategoryPerformance {
		level := string(m.Impact)
		if level == "" {
			level = string(m.Severity)
		}
		f.Impact = report.NormalizeSeverity(level, a.defaultLevel)
		f.Severity = f.Impact
	} else {
		f.Severity = report.NormalizeSeverity(string(m.Severity), a.defaultLevel)
	}
	return f
}

type fileResult struct {
	findings []report.Finding
	err      error
	warning  string
}

// reviewOutcome collects what the model said about a set of files.
type reviewOutcome struct {
	findings []report.Finding
	// reviewed holds the files the model answered for.
	reviewed map[string]bool
	warnings []string
}

// reviewFiles asks the model about each file, at most p.fileConcurrency at a
// time. Per-file failures become warnings; the call fails only when the run is
// cancelled or every request failed.
func (r *review) reviewFiles(ctx context.Context, a analyzer, files []source.FileInfo, toolContext func(rel string) string) (*reviewOutcome, error) {
	out := &reviewOutcome{reviewed: map[string]bool{}}
	if len(files) == 0 {
		return out, nil
	}

	results := make([]fileResult, len(files))
	g := new(errgroup.Group)
	g.SetLimit(r.p.fileConcurrency)
	for i, f := range files {
		g.Go(func() error {
			res := r.reviewFile(ctx, a, f, toolContext)
			if errors.KindOf(res.err) == errors.KindCancelled {
				return res.err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, errors.NewCancelledError("review."+a.name, context.Cause(ctx))
	}

	var firstErr error
	failed := 0
	for i, res := range results {
		rel := files[i].RelPath
		if res.err != nil {
			failed++
			if firstErr == nil {
				firstErr = res.err
			}
			out.warnings = append(out.warnings, fmt.Sprintf("%s: review of %s failed: %v", a.name, rel, res.err))
			continue
		}
		out.reviewed[rel] = true
		out.findings = append(out.findings, res.findings...)
		if res.warning != "" {
			out.warnings = append(out.warnings, res.warning)
		}
	}
	if failed == len(files) {
		return nil, firstErr
	}
	return out, nil
}

func (r *review) reviewFile(ctx context.Context, a analyzer, f source.FileInfo, toolContext func(string) string) fileResult {
	content, err := source.ReadFile(f.Path, r.p.scan.MaxFileSize)
	if err != nil {
		return fileResult{warning: fmt.Sprintf("%s: could not read %s: %v", a.name, f.RelPath, err)}
	}
	if strings.TrimSpace(content) == "" {
		return fileResult{}
	}

	tc := ""
	if toolContext != nil {
		tc = toolContext(f.RelPath)
	}
	req := llm.Request{
		System:      a.system,
		Prompt:      buildPrompt(a, f, content, tc),
		Temperature: r.p.temperature,
		MaxTokens:   r.p.maxTokens,
	}

	logger.User.Analyzef("%s: reviewing %s", a.name, f.RelPath)
	text, err := taskmanager.Retry(ctx, r.p.retry, "llm."+a.name, func(ctx context.Context) (string, error) {
		return r.p.llm.Generate(ctx, req)
	})
	if err != nil {
		return fileResult{err: err}
	}

	parsed, err := llm.ParseList[modelFinding](text)
	if err != nil {
		return fileResult{warning: fmt.Sprintf("%s: unreadable model output for %s: %v", a.name, f.RelPath, err)}
	}
	findings := make([]report.Finding, 0, len(parsed))
	for _, m := range parsed {
		findings = append(findings, a.toFinding(f.RelPath, m))
	}
	logger.Op.WithFields(map[string]interface{}{
		"analyzer": a.name,
		"file":     f.RelPath,
		"findings": len(findings),
	}).Debug("File reviewed")
	return fileResult{findings: findings}
}

// toolWarning renders a static analyzer failure for the report.
func toolWarning(analyzerName, tool string, err error) string {
	msg := err.Error()
	var hints []string
	if pe, ok := asPipelineError(err); ok {
		msg = pe.Message
		hints = pe.Hints
	}
	if len(hints) > 0 {
		return fmt.Sprintf("%s: %s skipped: %s (%s)", analyzerName, tool, msg, strings.Join(hints, "; "))
	}
	return fmt.Sprintf("%s: %s skipped: %s", analyzerName, tool, msg)
}

func asPipelineError(err error) (*errors.PipelineError, bool) {
	var pe *errors.PipelineError
	ok := stderrors.As(err, &pe)
	return pe, ok
}
