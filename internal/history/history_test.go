package history

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxkimambo/revgraph/internal/errors"
	"github.com/maxkimambo/revgraph/internal/taskmanager"
)

var started = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func sampleRun() Run {
	return Run{
		RunID:       "run-1",
		InputPath:   "/src/app",
		SourceType:  "local",
		Outcome:     "succeeded",
		StartedAt:   started,
		FinishedAt:  started.Add(90 * time.Second),
		HealthScore: 85,
		TotalFiles:  12,
		Findings:    4,
		Tasks: []taskmanager.LedgerEntry{
			{TaskID: "ingest", Status: taskmanager.StatusSucceeded, Attempts: 1,
				StartTime: started, EndTime: started.Add(time.Second), Duration: time.Second},
			{TaskID: "style", Status: taskmanager.StatusFailed, Attempts: 3,
				Error: &taskmanager.ErrorInfo{Kind: errors.KindExhaustedRetries, Message: "gave up"}},
			{TaskID: "security", Status: taskmanager.StatusSkipped, SkipReason: taskmanager.SkipRouteNotTaken},
		},
	}
}

func TestRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	run := sampleRun()
	score := 85

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO revgraph_runs").
		WithArgs("run-1", "/src/app", "local", "succeeded", false, false,
			run.StartedAt, run.FinishedAt, &score, 12, 4).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO revgraph_tasks").
		WithArgs("run-1", "ingest", "Succeeded", 1, "", "", "",
			pgxmock.AnyArg(), pgxmock.AnyArg(), int64(1000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO revgraph_tasks").
		WithArgs("run-1", "style", "Failed", 3, "", "EXHAUSTED_RETRIES", "gave up",
			pgxmock.AnyArg(), pgxmock.AnyArg(), int64(0)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO revgraph_tasks").
		WithArgs("run-1", "security", "Skipped", 0, "route_not_taken", "", "",
			pgxmock.AnyArg(), pgxmock.AnyArg(), int64(0)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, New(mock).Record(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_NoScore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	run := sampleRun()
	run.HealthScore = -1
	run.Tasks = nil

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO revgraph_runs").
		WithArgs("run-1", "/src/app", "local", "succeeded", false, false,
			run.StartedAt, run.FinishedAt, (*int)(nil), 12, 4).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, New(mock).Record(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_RollsBackOnFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO revgraph_runs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(fmt.Errorf("duplicate key"))
	mock.ExpectRollback()

	err = New(mock).Record(context.Background(), sampleRun())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_BeginFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(fmt.Errorf("connection lost"))

	err = New(mock).Record(context.Background(), sampleRun())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	columns := []string{"run_id", "input_path", "outcome", "started_at", "finished_at", "health_score", "findings"}
	mock.ExpectQuery("SELECT run_id, input_path, outcome").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("run-2", "https://github.com/user/repo", "fatal", started.Add(time.Hour), started.Add(time.Hour+time.Minute), -1, 0).
			AddRow("run-1", "/src/app", "succeeded", started, started.Add(90*time.Second), 85, 4))

	runs, err := New(mock).Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, -1, runs[0].HealthScore)
	assert.Equal(t, time.Minute, runs[0].Duration)
	assert.Equal(t, 85, runs[1].HealthScore)
	assert.Equal(t, 4, runs[1].Findings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecent_ZeroLimit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := New(mock).Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS revgraph_runs")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS revgraph_tasks")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS idx_revgraph_runs_started")).
		WillReturnError(fmt.Errorf("permission denied"))

	err = New(mock).EnsureSchema(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create started index")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFromResult(t *testing.T) {
	g, err := taskmanager.NewGraphBuilder("g").
		AddTask(taskmanager.Task{ID: "only", Handler: func(*taskmanager.RunContext, taskmanager.StateView) (taskmanager.Update, error) {
			return nil, nil
		}}).
		Build()
	require.NoError(t, err)
	state, err := g.NewState(nil)
	require.NoError(t, err)

	rc := taskmanager.NewRunContext(context.Background(), taskmanager.WithRunID("run-9"))
	defer rc.Release()
	result, err := taskmanager.NewScheduler(g, nil).Run(rc, state)
	require.NoError(t, err)

	run := FromResult(result)
	assert.Equal(t, "run-9", run.RunID)
	assert.Equal(t, "succeeded", run.Outcome)
	assert.Equal(t, -1, run.HealthScore)
	require.Len(t, run.Tasks, 1)
	assert.Equal(t, taskmanager.StatusSucceeded, run.Tasks[0].Status)
}
