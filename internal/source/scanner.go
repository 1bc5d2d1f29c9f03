package source

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maxkimambo/revgraph/internal/errors"
	"github.com/maxkimambo/revgraph/internal/logger"
)

// CodeExtensions are the file types kept when ScanOptions.CodeOnly is set.
var CodeExtensions = map[string]bool{
	".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".java": true, ".c": true, ".h": true, ".cpp": true, ".hpp": true,
	".cs": true, ".go": true, ".rb": true, ".php": true, ".swift": true,
	".kt": true, ".rs": true, ".scala": true, ".r": true, ".m": true,
	".sh": true, ".bash": true, ".zsh": true, ".sql": true,
	".html": true, ".css": true, ".scss": true, ".sass": true,
	".json": true, ".yaml": true, ".yml": true, ".xml": true,
	".md": true, ".rst": true, ".txt": true,
}

// FileInfo describes one scanned file.
type FileInfo struct {
	Path      string `json:"path"`
	RelPath   string `json:"relative_path"`
	Name      string `json:"name"`
	Extension string `json:"extension"`
	SizeBytes int64  `json:"size_bytes"`
}

// Stats summarizes a scan.
type Stats struct {
	RootPath       string         `json:"root_path"`
	TotalFiles     int            `json:"total_files"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	Extensions     map[string]int `json:"extensions"`
}

// TotalSizeMB returns the total size in megabytes.
func (s Stats) TotalSizeMB() float64 {
	return float64(s.TotalSizeBytes) / (1 << 20)
}

// ScanOptions controls which files a scan keeps.
type ScanOptions struct {
	MaxFileSize int64
	CodeOnly    bool
	// Ignore is added after DefaultIgnorePatterns and the root .gitignore.
	Ignore []string
}

// Scan walks root and returns the files worth reviewing sorted by relative
// path. Ignored directories are not descended into.
func Scan(root string, opts ScanOptions) ([]FileInfo, Stats, error) {
	const op = "source.scan"

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, Stats{}, errors.NewValidationError(errors.CodeMissingInput,
			fmt.Sprintf("invalid path: %s", root), op).WithCause(err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, Stats{}, errors.NewValidationError(errors.CodeMissingInput,
			fmt.Sprintf("path does not exist: %s", abs), op).
			WithCause(err).
			WithHint("Pass an existing directory or a git repository URL with --path")
	}
	if !info.IsDir() {
		return nil, Stats{}, errors.NewValidationError(errors.CodeMissingInput,
			fmt.Sprintf("path is not a directory: %s", abs), op)
	}

	matcher := NewIgnoreMatcher(DefaultIgnorePatterns...)
	if n, err := matcher.LoadGitignore(abs); err != nil {
		logger.Op.WithFields(map[string]interface{}{"error": err.Error()}).Warn("Failed to read .gitignore")
	} else if n > 0 {
		logger.Op.Debugf("Loaded %d patterns from .gitignore", n)
	}
	matcher.Add(opts.Ignore...)

	stats := Stats{RootPath: abs, Extensions: map[string]int{}}
	var files []FileInfo

	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			logger.Op.WithFields(map[string]interface{}{
				"path":  p,
				"error": walkErr.Error(),
			}).Warn("Skipping unreadable path")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if p == abs {
			return nil
		}
		rel, err := filepath.Rel(abs, p)
		if err != nil {
			return nil
		}
		if matcher.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		fi, ok := keep(p, d, opts)
		if !ok {
			return nil
		}
		fi.RelPath = filepath.ToSlash(rel)
		files = append(files, fi)
		stats.TotalSizeBytes += fi.SizeBytes
		ext := fi.Extension
		if ext == "" {
			ext = "no_extension"
		}
		stats.Extensions[ext]++
		return nil
	})
	if err != nil {
		return nil, Stats{}, errors.NewInternalFault(fmt.Sprintf("scan of %s failed: %v", abs, err))
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	stats.TotalFiles = len(files)

	logger.Op.WithFields(map[string]interface{}{
		"root":       abs,
		"files":      stats.TotalFiles,
		"size_mb":    fmt.Sprintf("%.2f", stats.TotalSizeMB()),
		"extensions": len(stats.Extensions),
	}).Info("Scan completed")
	return files, stats, nil
}

func keep(p string, d fs.DirEntry, opts ScanOptions) (FileInfo, bool) {
	ext := strings.ToLower(filepath.Ext(p))
	if opts.CodeOnly && !CodeExtensions[ext] {
		return FileInfo{}, false
	}
	info, err := d.Info()
	if err != nil {
		return FileInfo{}, false
	}
	if opts.MaxFileSize > 0 && info.Size() > opts.MaxFileSize {
		logger.Op.Debugf("Skipping large file (%d bytes): %s", info.Size(), p)
		return FileInfo{}, false
	}
	if isBinary(p) {
		logger.Op.Debugf("Skipping binary file: %s", p)
		return FileInfo{}, false
	}
	return FileInfo{
		Path:      p,
		Name:      d.Name(),
		Extension: ext,
		SizeBytes: info.Size(),
	}, true
}

// isBinary sniffs the first kilobyte for a NUL byte. Unreadable files count as
// binary.
func isBinary(p string) bool {
	f, err := os.Open(p)
	if err != nil {
		return true
	}
	defer f.Close()
	buf := make([]byte, 1024)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return true
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}

// ReadFile returns the content of a scanned file, capped at limit bytes when
// limit is positive.
func ReadFile(p string, limit int64) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, limit)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
