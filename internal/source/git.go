// Package source acquires the code under review: a local directory or a
// shallow clone of a git repository, and the list of files worth analyzing.
package source

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/maxkimambo/revgraph/internal/errors"
	"github.com/maxkimambo/revgraph/internal/logger"
	"github.com/maxkimambo/revgraph/internal/taskmanager"
	"github.com/maxkimambo/revgraph/internal/tools"
)

// Type tells where the reviewed code came from.
type Type string

const (
	TypeLocal Type = "local"
	TypeGit   Type = "git"
)

var gitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^https?://(www\.)?(github\.com|gitlab\.com|bitbucket\.org)/`),
	regexp.MustCompile(`(?i)^git@[\w.-]+:`),
	regexp.MustCompile(`(?i)^(ssh|git)://`),
	regexp.MustCompile(`(?i)\.git/?$`),
}

// IsGitURL reports whether input names a remote repository rather than a
// local directory.
func IsGitURL(input string) bool {
	for _, p := range gitPatterns {
		if p.MatchString(input) {
			return true
		}
	}
	u, err := url.Parse(input)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// RepoName extracts the repository name from a git URL.
func RepoName(repoURL string) string {
	name := strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git")
	if i := strings.LastIndexAny(name, "/:"); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return "unknown_repo"
	}
	return name
}

// Cloner makes shallow clones with the git executable.
type Cloner struct {
	Runner tools.Runner
	Retry  *taskmanager.RetryPolicy
	// Depth is passed to --depth; zero clones the full history.
	Depth int
	// TempDir is the parent of scratch directories; empty means os.TempDir.
	TempDir string
}

func NewCloner(runner tools.Runner, retry *taskmanager.RetryPolicy) *Cloner {
	return &Cloner{Runner: runner, Retry: retry, Depth: 1}
}

// Clone checks out repoURL into a fresh scratch directory. The returned release
// function removes it and must be called on every path once the files are no
// longer needed; on error nothing is left behind.
func (c *Cloner) Clone(ctx context.Context, repoURL, branch string) (dir string, release func(), err error) {
	const op = "source.clone"
	if !IsGitURL(repoURL) {
		return "", nil, errors.NewValidationError(errors.CodeMissingInput,
			fmt.Sprintf("not a git repository URL: %s", repoURL), op)
	}
	if _, err := c.Runner.LookPath("git"); err != nil {
		return "", nil, errors.NewToolExecutionError(errors.CodeToolMissing, "git is not installed", op).
			WithCause(err).
			WithHint("Install git or review a local directory instead")
	}

	scratch, err := os.MkdirTemp(c.TempDir, "code_review_")
	if err != nil {
		return "", nil, errors.NewInternalFault(fmt.Sprintf("failed to create scratch directory: %v", err))
	}
	release = func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Op.WithFields(map[string]interface{}{
				"dir":   scratch,
				"error": err.Error(),
			}).Warn("Failed to remove scratch directory")
			return
		}
		logger.User.Cleanupf("Removed scratch directory %s", scratch)
	}

	target := filepath.Join(scratch, RepoName(repoURL))
	args := []string{"clone", "--quiet"}
	if c.Depth > 0 {
		args = append(args, "--depth", fmt.Sprint(c.Depth))
	}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, repoURL, target)

	logger.User.Infof("Cloning %s", repoURL)
	policy := c.Retry
	if policy == nil {
		policy = taskmanager.DefaultRetryPolicy()
	}
	err = policy.Do(ctx, op, func(ctx context.Context) error {
		// git refuses to clone into a non-empty directory left by a failed attempt.
		if err := os.RemoveAll(target); err != nil {
			return errors.NewInternalFault(fmt.Sprintf("failed to reset clone target: %v", err))
		}
		res, err := c.Runner.Run(ctx, scratch, "git", args...)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return cloneError(op, repoURL, res)
		}
		return nil
	})
	if err != nil {
		release()
		return "", nil, err
	}

	logger.Op.WithFields(map[string]interface{}{
		"url":   repoURL,
		"dir":   target,
		"depth": c.Depth,
	}).Info("Repository cloned")
	return target, release, nil
}

var transientGitFailures = []string{
	"could not resolve host",
	"connection timed out",
	"connection reset",
	"connection refused",
	"operation timed out",
	"early eof",
	"the remote end hung up unexpectedly",
	"rpc failed",
	"temporary failure",
	"http 5",
	"returned error: 5",
}

// cloneError classifies a failed git clone; network trouble is retryable, a
// missing repository or bad credentials is not.
func cloneError(op, repoURL string, res *tools.Result) error {
	stderr := strings.TrimSpace(string(res.Stderr))
	lower := strings.ToLower(stderr)

	retryable := false
	for _, s := range transientGitFailures {
		if strings.Contains(lower, s) {
			retryable = true
			break
		}
	}

	code := errors.CodeServiceRequest
	if strings.Contains(lower, "authentication failed") || strings.Contains(lower, "permission denied") {
		code = errors.CodeServiceAuth
	}

	if len(stderr) > 300 {
		stderr = stderr[:300] + "..."
	}
	perr := errors.NewExternalServiceError(code,
		fmt.Sprintf("git clone exited with status %d", res.ExitCode), op, retryable).
		WithContext("url", repoURL).
		WithContext("stderr", stderr)
	if !retryable {
		perr.WithHint("Check that the repository exists and is accessible")
	}
	return perr
}
