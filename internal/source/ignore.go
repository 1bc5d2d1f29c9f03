package source

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// DefaultIgnorePatterns are skipped in every scan.
var DefaultIgnorePatterns = []string{
	".git/", ".svn/", ".hg/",
	"__pycache__/", "*.pyc", "*.pyo", "*.pyd",
	"venv/", ".venv/", "env/", "ENV/", ".eggs/", "*.egg-info/",
	"node_modules/", "vendor/", "dist/", "build/",
	"*.min.js",
	".vscode/", ".idea/", "*.swp", "*.swo", ".DS_Store",
	"*.so", "*.dylib", "*.dll", "*.exe",
	"*.jpg", "*.jpeg", "*.png", "*.gif", "*.mp3", "*.mp4",
	"*.zip", "*.tar", "*.gz",
	"*.log", "logs/",
}

// IgnoreMatcher evaluates gitignore patterns against paths relative to the scan
// root. The last matching pattern wins, so `!` re-includes.
type IgnoreMatcher struct {
	patterns []gitignore.Pattern
}

func NewIgnoreMatcher(patterns ...string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	m.Add(patterns...)
	return m
}

// Add appends patterns. Blank lines and comments are ignored.
func (m *IgnoreMatcher) Add(patterns ...string) {
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		m.patterns = append(m.patterns, gitignore.ParsePattern(p, nil))
	}
}

// Len returns the number of patterns.
func (m *IgnoreMatcher) Len() int {
	return len(m.patterns)
}

// LoadGitignore adds the patterns of dir/.gitignore, if present. It returns
// how many patterns were read.
func (m *IgnoreMatcher) LoadGitignore(dir string) (int, error) {
	f, err := os.Open(filepath.Join(dir, ".gitignore"))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	before := len(m.patterns)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m.Add(scanner.Text())
	}
	return len(m.patterns) - before, scanner.Err()
}

// Match reports whether rel, a slash-separated path relative to the scan root,
// is ignored.
func (m *IgnoreMatcher) Match(rel string, isDir bool) bool {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return false
	}
	return gitignore.NewMatcher(m.patterns).Match(strings.Split(rel, "/"), isDir)
}
