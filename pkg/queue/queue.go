package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hexclaw/hexclaw/pkg/log"
	"github.com/hexclaw/hexclaw/pkg/types"
)

// ErrNotFound is returned when a job ID does not exist.
var ErrNotFound = errors.New("job not found")

// ErrBadTransition is returned for an illegal status transition.
var ErrBadTransition = errors.New("illegal status transition")

// Queue is the durable FIFO of jobs, backed by a SQLite file. A job row is
// written by at most one worker at a time; readers may run concurrently. The
// storage engine's own locking is the only synchronization.
type Queue struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	skill TEXT NOT NULL,
	params TEXT NOT NULL DEFAULT '{}',
	target TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TEXT NOT NULL,
	started_at TEXT,
	finished_at TEXT,
	result TEXT,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
`

// Open opens (creating if necessary) the job queue database at path.
func Open(path string) (*Queue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open job queue: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init job queue schema: %w", err)
	}
	return &Queue{db: db}, nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue inserts a new pending job and returns it. The target is
// denormalized out of params for quick filtering.
func (q *Queue) Enqueue(skill string, params map[string]any) (types.Job, error) {
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return types.Job{}, fmt.Errorf("encode job params: %w", err)
	}

	job := types.Job{
		ID:        strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		SkillName: skill,
		Params:    params,
		Target:    targetOf(params),
		Status:    types.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	_, err = q.db.Exec(
		`INSERT INTO jobs (id, skill, params, target, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.SkillName, string(paramsJSON), job.Target, string(job.Status),
		job.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return types.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// Get returns one job by ID.
func (q *Queue) Get(id string) (types.Job, error) {
	row := q.db.QueryRow(selectCols+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job, err
}

// Pending returns all pending jobs, oldest first.
func (q *Queue) Pending() ([]types.Job, error) {
	return q.list(selectCols+` FROM jobs WHERE status = ? ORDER BY created_at ASC`, string(types.JobStatusPending))
}

// Recent returns the n newest jobs, newest first.
func (q *Queue) Recent(n int) ([]types.Job, error) {
	return q.list(selectCols+` FROM jobs ORDER BY created_at DESC LIMIT ?`, n)
}

// UpdateStatus transitions a job, stamping started_at on running and
// finished_at on any terminal status. Illegal transitions are rejected with
// ErrBadTransition; result applies only to done, errMsg only to failed.
func (q *Queue) UpdateStatus(id string, status types.JobStatus, result map[string]any, errMsg string) error {
	current, err := q.Get(id)
	if err != nil {
		return err
	}
	if !current.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s (job %s)", ErrBadTransition, current.Status, status, id)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	switch {
	case status == types.JobStatusRunning:
		_, err = q.db.Exec(`UPDATE jobs SET status = ?, started_at = ? WHERE id = ?`,
			string(status), now, id)
	case status == types.JobStatusDone:
		var resultJSON []byte
		if result != nil {
			if resultJSON, err = json.Marshal(result); err != nil {
				return fmt.Errorf("encode job result: %w", err)
			}
		}
		_, err = q.db.Exec(`UPDATE jobs SET status = ?, finished_at = ?, result = ? WHERE id = ?`,
			string(status), now, nullable(string(resultJSON)), id)
	case status.Terminal():
		_, err = q.db.Exec(`UPDATE jobs SET status = ?, finished_at = ?, error = ? WHERE id = ?`,
			string(status), now, errMsg, id)
	default:
		_, err = q.db.Exec(`UPDATE jobs SET status = ? WHERE id = ?`, string(status), id)
	}
	if err != nil {
		return fmt.Errorf("update job %s to %s: %w", id, status, err)
	}
	return nil
}

// ResumeInterrupted re-marks jobs left running by a previous lifetime as
// pending. Must run before any dispatch begins. Returns the number of jobs
// resumed.
func (q *Queue) ResumeInterrupted() (int, error) {
	res, err := q.db.Exec(`UPDATE jobs SET status = ?, started_at = NULL WHERE status = ?`,
		string(types.JobStatusPending), string(types.JobStatusRunning))
	if err != nil {
		return 0, fmt.Errorf("resume interrupted jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	if n > 0 {
		logger := log.WithComponent("queue")
		logger.Info().Int64("jobs", n).Msg("Resumed interrupted jobs")
	}
	return int(n), nil
}

// CountByStatus returns how many jobs sit in each status.
func (q *Queue) CountByStatus() (map[types.JobStatus]int, error) {
	rows, err := q.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[types.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

const selectCols = `SELECT id, skill, params, target, status, created_at, started_at, finished_at, result, error`

func (q *Queue) list(query string, args ...any) ([]types.Job, error) {
	rows, err := q.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (types.Job, error) {
	var job types.Job
	var params, status, createdAt string
	var startedAt, finishedAt, result sql.NullString

	err := row.Scan(&job.ID, &job.SkillName, &params, &job.Target, &status,
		&createdAt, &startedAt, &finishedAt, &result, &job.Error)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Job{}, err
		}
		return types.Job{}, fmt.Errorf("scan job: %w", err)
	}

	job.Status = types.JobStatus(status)
	if err := json.Unmarshal([]byte(params), &job.Params); err != nil {
		job.Params = map[string]any{}
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if t, ok := parseNullTime(startedAt); ok {
		job.StartedAt = &t
	}
	if t, ok := parseNullTime(finishedAt); ok {
		job.FinishedAt = &t
	}
	if result.Valid && result.String != "" {
		_ = json.Unmarshal([]byte(result.String), &job.Result)
	}
	return job, nil
}

func parseNullTime(s sql.NullString) (time.Time, bool) {
	if !s.Valid || s.String == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	return t, err == nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func targetOf(params map[string]any) string {
	for _, key := range []string{"target", "domain", "host", "url"} {
		if v, ok := params[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
