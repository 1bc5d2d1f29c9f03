// Package review assembles the code-review pipeline: ingest fans out to the
// security, performance and style analyzers, which converge on aggregate.
package review

import (
	"github.com/maxkimambo/revgraph/internal/report"
	"github.com/maxkimambo/revgraph/internal/source"
	"github.com/maxkimambo/revgraph/internal/taskmanager"
)

// Shared state keys.
const (
	KeyInputPath    = "input_path"    // string, seeded
	KeyOutputDir    = "output_dir"    // string, seeded
	KeySourceType   = "source_type"   // string, ingest
	KeyWorkDir      = "work_dir"      // string, ingest
	KeyFileList     = "file_list"     // []source.FileInfo, ingest
	KeyTotalFiles   = "total_files"   // int, ingest
	KeyFileStats    = "file_stats"    // source.Stats, ingest
	KeyFindings     = "findings"      // report.Finding, every analyzer
	KeyAnalyzersRun = "analyzers_run" // string, every analyzer
	KeyWarnings     = "warnings"      // string, any task
	KeyReport       = "report"        // *report.Report, aggregate
)

// Task ids.
const (
	TaskIngest      = "ingest"
	TaskSecurity    = "security"
	TaskPerformance = "performance"
	TaskStyle       = "style"
	TaskAggregate   = "aggregate"
)

var schema = map[string]taskmanager.MergeStrategy{
	KeyInputPath:    taskmanager.Overwrite,
	KeyOutputDir:    taskmanager.Overwrite,
	KeySourceType:   taskmanager.Overwrite,
	KeyWorkDir:      taskmanager.Overwrite,
	KeyFileList:     taskmanager.Overwrite,
	KeyTotalFiles:   taskmanager.Overwrite,
	KeyFileStats:    taskmanager.Overwrite,
	KeyFindings:     taskmanager.Append,
	KeyAnalyzersRun: taskmanager.Append,
	KeyWarnings:     taskmanager.Append,
	KeyReport:       taskmanager.Overwrite,
}

// hasFiles routes the analyzers: they run only when ingest found something.
func hasFiles(state taskmanager.StateView) bool {
	n, _ := taskmanager.Value[int](state, KeyTotalFiles)
	return n > 0
}

func fileList(state taskmanager.StateView) []source.FileInfo {
	files, _ := taskmanager.Value[[]source.FileInfo](state, KeyFileList)
	return files
}

func stringValue(state taskmanager.StateView, key string) string {
	s, _ := taskmanager.Value[string](state, key)
	return s
}

// ReportFrom returns the report committed by aggregate, if any.
func ReportFrom(state taskmanager.StateView) *report.Report {
	r, _ := taskmanager.Value[*report.Report](state, KeyReport)
	return r
}
