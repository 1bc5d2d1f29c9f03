// Package tools runs the external static analyzers used by the review.
package tools

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/maxkimambo/revgraph/internal/errors"
	"github.com/maxkimambo/revgraph/internal/logger"
)

// Result is the captured outcome of one command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Runner executes external commands. A non-zero exit status is reported in
// Result, not as an error; err is set only when the command could not run.
type Runner interface {
	LookPath(name string) (string, error)
	Run(ctx context.Context, dir, name string, args ...string) (*Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (*Result, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Duration: time.Since(start)}

	logger.Op.WithFields(map[string]interface{}{
		"command":  name,
		"args":     len(args),
		"duration": res.Duration.Round(time.Millisecond).String(),
	}).Debug("External command finished")

	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, errors.NewCancelledError(name, ctx.Err())
	}
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, errors.NewToolExecutionError(errors.CodeToolFailed,
		fmt.Sprintf("failed to start %s", name), name).WithCause(err)
}

// Install hints for the executables the review shells out to.
const (
	InstallBandit = "Install it with 'pip install bandit'"
	InstallRadon  = "Install it with 'pip install radon'"
	InstallGit    = "Install git from https://git-scm.com/downloads"
)

// RequireTool resolves name or returns a ToolMissing error with an install hint.
func RequireTool(r Runner, name, install string) error {
	if _, err := r.LookPath(name); err != nil {
		return errors.NewToolExecutionError(errors.CodeToolMissing,
			fmt.Sprintf("%s is not installed", name), name).
			WithCause(err).
			WithHint(install)
	}
	return nil
}

func stderrSummary(res *Result) string {
	s := string(bytes.TrimSpace(res.Stderr))
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}
