package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/maxkimambo/revgraph/internal/errors"
	"github.com/maxkimambo/revgraph/internal/logger"
)

// ComplexityBlock is a function, method or class scored by radon.
type ComplexityBlock struct {
	File       string `json:"file"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Line       int    `json:"line"`
	Complexity int    `json:"complexity"`
	Rank       string `json:"rank"`
}

var rankNotes = map[string]string{
	"A": "simple",
	"B": "well structured",
	"C": "slightly complex, consider refactoring",
	"D": "complex, refactoring recommended",
	"E": "too complex, needs immediate refactoring",
	"F": "unmaintainable, critical maintenance cost",
}

// Description renders a one-line summary of the block.
func (b ComplexityBlock) Description() string {
	return fmt.Sprintf("%s %s has cyclomatic complexity %d (grade %s: %s)",
		b.Type, b.Name, b.Complexity, b.Rank, rankNotes[b.Rank])
}

// Impact maps the radon rank to a finding impact.
func (b ComplexityBlock) Impact() string {
	switch b.Rank {
	case "F":
		return "CRITICAL"
	case "E", "D":
		return "HIGH"
	case "C":
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// Radon measures cyclomatic complexity.
type Radon struct {
	runner Runner
	// MinRank drops blocks graded better than it.
	MinRank string
}

func NewRadon(r Runner) *Radon {
	return &Radon{runner: r, MinRank: "C"}
}

// Complexity runs `radon cc -j -s` and returns the blocks at MinRank or worse,
// most complex first.
func (r *Radon) Complexity(ctx context.Context, dir string, files []string) ([]ComplexityBlock, error) {
	const op = "radon.cc"
	if len(files) == 0 {
		return nil, nil
	}
	if err := RequireTool(r.runner, "radon", InstallRadon); err != nil {
		return nil, err
	}

	args := append([]string{"cc", "-j", "-s", "-n", r.MinRank}, files...)
	res, err := r.runner.Run(ctx, dir, "radon", args...)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, errors.NewToolExecutionError(errors.CodeToolFailed,
			fmt.Sprintf("radon exited with status %d", res.ExitCode), op).
			WithContext("stderr", stderrSummary(res))
	}

	blocks, err := ParseRadon(res.Stdout)
	if err != nil {
		return nil, err
	}
	kept := blocks[:0]
	for _, b := range blocks {
		if b.Rank >= r.MinRank {
			kept = append(kept, b)
		}
	}
	return kept, nil
}

// ParseRadon decodes `radon cc -j` output. Files radon could not parse are
// logged and skipped.
func ParseRadon(data []byte) ([]ComplexityBlock, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.NewToolExecutionError(errors.CodeToolOutput,
			"radon produced invalid JSON", "radon.parse").WithCause(err)
	}

	var blocks []ComplexityBlock
	for file, msg := range raw {
		var entries []struct {
			Type       string `json:"type"`
			Name       string `json:"name"`
			Classname  string `json:"classname"`
			Lineno     int    `json:"lineno"`
			Complexity int    `json:"complexity"`
			Rank       string `json:"rank"`
		}
		if err := json.Unmarshal(msg, &entries); err != nil {
			var failure struct {
				Error string `json:"error"`
			}
			_ = json.Unmarshal(msg, &failure)
			logger.Op.WithFields(map[string]interface{}{
				"file":  file,
				"error": failure.Error,
			}).Warn("Radon could not analyze file")
			continue
		}
		for _, e := range entries {
			name := e.Name
			if e.Classname != "" {
				name = e.Classname + "." + e.Name
			}
			blocks = append(blocks, ComplexityBlock{
				File:       file,
				Name:       name,
				Type:       e.Type,
				Line:       e.Lineno,
				Complexity: e.Complexity,
				Rank:       e.Rank,
			})
		}
	}

	sort.SliceStable(blocks, func(i, j int) bool {
		if blocks[i].Complexity != blocks[j].Complexity {
			return blocks[i].Complexity > blocks[j].Complexity
		}
		if blocks[i].File != blocks[j].File {
			return blocks[i].File < blocks[j].File
		}
		return blocks[i].Line < blocks[j].Line
	})
	return blocks, nil
}
