package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/maxkimambo/revgraph/internal/errors"
	"github.com/maxkimambo/revgraph/internal/logger"
)

// BanditIssue is one result of a bandit scan.
type BanditIssue struct {
	File       string `json:"file"`
	Line       int    `json:"line"`
	Severity   string `json:"severity"`
	Confidence string `json:"confidence"`
	TestID     string `json:"test_id"`
	TestName   string `json:"test_name"`
	Text       string `json:"text"`
	Code       string `json:"code,omitempty"`
	CWE        int    `json:"cwe,omitempty"`
}

// Bandit scans Python files for security issues.
type Bandit struct {
	runner Runner
}

func NewBandit(r Runner) *Bandit {
	return &Bandit{runner: r}
}

type banditReport struct {
	Results []struct {
		Filename        string `json:"filename"`
		LineNumber      int    `json:"line_number"`
		IssueSeverity   string `json:"issue_severity"`
		IssueConfidence string `json:"issue_confidence"`
		TestID          string `json:"test_id"`
		TestName        string `json:"test_name"`
		IssueText       string `json:"issue_text"`
		Code            string `json:"code"`
		IssueCWE        *struct {
			ID int `json:"id"`
		} `json:"issue_cwe"`
	} `json:"results"`
	Errors []struct {
		Filename string `json:"filename"`
		Reason   string `json:"reason"`
	} `json:"errors"`
}

// Scan runs `bandit -f json -ll` over files, reporting medium severity and up.
// Exit status 1 means issues were found and is not a failure.
func (b *Bandit) Scan(ctx context.Context, dir string, files []string) ([]BanditIssue, error) {
	const op = "bandit.scan"
	if len(files) == 0 {
		return nil, nil
	}
	if err := RequireTool(b.runner, "bandit", InstallBandit); err != nil {
		return nil, err
	}

	args := append([]string{"-f", "json", "-ll", "-q"}, files...)
	res, err := b.runner.Run(ctx, dir, "bandit", args...)
	if err != nil {
		return nil, err
	}
	if res.ExitCode > 1 {
		return nil, errors.NewToolExecutionError(errors.CodeToolFailed,
			fmt.Sprintf("bandit exited with status %d", res.ExitCode), op).
			WithContext("stderr", stderrSummary(res))
	}
	return ParseBandit(res.Stdout)
}

// ParseBandit decodes bandit's JSON report.
func ParseBandit(data []byte) ([]BanditIssue, error) {
	var report banditReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, errors.NewToolExecutionError(errors.CodeToolOutput,
			"bandit produced invalid JSON", "bandit.parse").WithCause(err)
	}

	issues := make([]BanditIssue, 0, len(report.Results))
	for _, r := range report.Results {
		issue := BanditIssue{
			File:       r.Filename,
			Line:       r.LineNumber,
			Severity:   r.IssueSeverity,
			Confidence: r.IssueConfidence,
			TestID:     r.TestID,
			TestName:   r.TestName,
			Text:       r.IssueText,
			Code:       r.Code,
		}
		if r.IssueCWE != nil {
			issue.CWE = r.IssueCWE.ID
		}
		issues = append(issues, issue)
	}
	for _, e := range report.Errors {
		logger.Op.WithFields(map[string]interface{}{
			"file":   e.Filename,
			"reason": e.Reason,
		}).Warn("Bandit could not scan file")
	}
	return issues, nil
}
