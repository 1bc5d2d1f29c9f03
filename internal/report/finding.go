// Package report turns review findings into the markdown review report.
package report

import (
	"path"
	"sort"
	"strings"
)

// Category is the analyzer that produced a finding.
type Category string

const (
	CategorySecurity    Category = "security"
	CategoryPerformance Category = "performance"
	CategoryStyle       Category = "style"
)

// Severity levels, also used for performance impact.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
)

var severityRank = map[string]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
}

// NormalizeSeverity upper-cases s and maps anything unrecognized to fallback.
func NormalizeSeverity(s, fallback string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if _, ok := severityRank[s]; ok {
		return s
	}
	return fallback
}

// Finding is one issue reported by an analyzer.
type Finding struct {
	Category       Category `json:"category"`
	Source         string   `json:"source"`
	File           string   `json:"file"`
	Line           int      `json:"line,omitempty"`
	Severity       string   `json:"severity"`
	Confidence     string   `json:"confidence,omitempty"`
	IssueType      string   `json:"issue_type"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation,omitempty"`

	// security
	CWEID         string `json:"cwe_id,omitempty"`
	OWASPCategory string `json:"owasp_category,omitempty"`

	// performance
	Impact              string `json:"impact,omitempty"`
	CurrentComplexity   string `json:"current_complexity,omitempty"`
	OptimizedComplexity string `json:"optimized_complexity,omitempty"`

	// style
	PrincipleViolated string `json:"principle_violated,omitempty"`
}

// Level is the impact of a performance finding and the severity otherwise.
func (f Finding) Level() string {
	if f.Category == CategoryPerformance && f.Impact != "" {
		return f.Impact
	}
	return f.Severity
}

// FileName is the base name of the finding's file.
func (f Finding) FileName() string {
	if f.File == "" {
		return "unknown"
	}
	return path.Base(strings.ReplaceAll(f.File, "\\", "/"))
}

func (f Finding) location() string {
	if f.Line > 0 {
		return "`" + f.FileName() + "` (Line " + itoa(f.Line) + ")"
	}
	return "`" + f.FileName() + "`"
}

// SortFindings orders findings by category, level, file and line so reports
// do not depend on the order analyzers finished in.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Category != b.Category {
			return categoryRank(a.Category) < categoryRank(b.Category)
		}
		if ra, rb := rank(a.Level()), rank(b.Level()); ra != rb {
			return ra < rb
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
}

func rank(level string) int {
	if r, ok := severityRank[level]; ok {
		return r
	}
	return len(severityRank)
}

func categoryRank(c Category) int {
	switch c {
	case CategorySecurity:
		return 0
	case CategoryPerformance:
		return 1
	case CategoryStyle:
		return 2
	default:
		return 3
	}
}

// ByCategory returns the findings of category c in their current order.
func ByCategory(findings []Finding, c Category) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Category == c {
			out = append(out, f)
		}
	}
	return out
}
