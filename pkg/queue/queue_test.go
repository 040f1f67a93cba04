package queue

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexclaw/hexclaw/pkg/types"
)

func testQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

// TestEnqueueAndGet tests the insert path and target denormalization.
func TestEnqueueAndGet(t *testing.T) {
	q := testQueue(t)

	job, err := q.Enqueue("recon_osint", map[string]any{"target": "example.com", "depth": 2.0})
	require.NoError(t, err)
	assert.Len(t, job.ID, 8)
	assert.Equal(t, "example.com", job.Target)
	assert.Equal(t, types.JobStatusPending, job.Status)

	got, err := q.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "recon_osint", got.SkillName)
	assert.Equal(t, "example.com", got.Params["target"])
	assert.Equal(t, 2.0, got.Params["depth"])
	assert.Nil(t, got.StartedAt)
}

// TestGetNotFound tests the sentinel error.
func TestGetNotFound(t *testing.T) {
	q := testQueue(t)
	_, err := q.Get("deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestLifecycle walks pending -> running -> done and checks the timestamps
// and result land.
func TestLifecycle(t *testing.T) {
	q := testQueue(t)
	job, err := q.Enqueue("recon_osint", map[string]any{"target": "example.com"})
	require.NoError(t, err)

	require.NoError(t, q.UpdateStatus(job.ID, types.JobStatusRunning, nil, ""))
	running, err := q.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusRunning, running.Status)
	require.NotNil(t, running.StartedAt)
	assert.False(t, running.StartedAt.Before(running.CreatedAt))

	result := map[string]any{"findings": 3.0}
	require.NoError(t, q.UpdateStatus(job.ID, types.JobStatusDone, result, ""))
	done, err := q.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusDone, done.Status)
	require.NotNil(t, done.FinishedAt)
	assert.Equal(t, 3.0, done.Result["findings"])
	assert.Empty(t, done.Error)
}

// TestFailedSetsError tests that failure stores the error message.
func TestFailedSetsError(t *testing.T) {
	q := testQueue(t)
	job, _ := q.Enqueue("recon_osint", map[string]any{"target": "example.com"})

	require.NoError(t, q.UpdateStatus(job.ID, types.JobStatusRunning, nil, ""))
	require.NoError(t, q.UpdateStatus(job.ID, types.JobStatusFailed, nil, "skill file missing"))

	failed, err := q.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, failed.Status)
	assert.Equal(t, "skill file missing", failed.Error)
	assert.Nil(t, failed.Result)
}

// TestStatusMonotonicity tests that illegal transitions are rejected so the
// observed status sequence stays a subsequence of the legal lifecycle.
func TestStatusMonotonicity(t *testing.T) {
	q := testQueue(t)
	job, _ := q.Enqueue("recon_osint", nil)

	require.NoError(t, q.UpdateStatus(job.ID, types.JobStatusRunning, nil, ""))
	require.NoError(t, q.UpdateStatus(job.ID, types.JobStatusDone, nil, ""))

	for _, next := range []types.JobStatus{
		types.JobStatusPending, types.JobStatusRunning,
		types.JobStatusFailed, types.JobStatusCancelled,
	} {
		err := q.UpdateStatus(job.ID, next, nil, "")
		assert.ErrorIs(t, err, ErrBadTransition, "done -> %s must be rejected", next)
	}

	// A queued job may not skip running on its way to done or failed.
	queued, _ := q.Enqueue("recon_osint", nil)
	for _, next := range []types.JobStatus{types.JobStatusDone, types.JobStatusFailed} {
		err := q.UpdateStatus(queued.ID, next, nil, "")
		assert.ErrorIs(t, err, ErrBadTransition, "pending -> %s must be rejected", next)
	}
}

// TestPendingOrder tests FIFO-by-creation ordering.
func TestPendingOrder(t *testing.T) {
	q := testQueue(t)
	first, _ := q.Enqueue("recon_osint", map[string]any{"target": "a.com"})
	second, _ := q.Enqueue("recon_osint", map[string]any{"target": "b.com"})

	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)

	recent, err := q.Recent(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, second.ID, recent[0].ID)
}

// TestResumeInterrupted tests the crash-resume sweep.
func TestResumeInterrupted(t *testing.T) {
	q := testQueue(t)
	interrupted, _ := q.Enqueue("recon_osint", map[string]any{"target": "a.com"})
	finished, _ := q.Enqueue("recon_osint", map[string]any{"target": "b.com"})

	require.NoError(t, q.UpdateStatus(interrupted.ID, types.JobStatusRunning, nil, ""))
	require.NoError(t, q.UpdateStatus(finished.ID, types.JobStatusRunning, nil, ""))
	require.NoError(t, q.UpdateStatus(finished.ID, types.JobStatusDone, nil, ""))

	n, err := q.ResumeInterrupted()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := q.Get(interrupted.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, job.Status)
	assert.Nil(t, job.StartedAt)

	done, err := q.Get(finished.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusDone, done.Status)
}

// TestCountByStatus tests the rollup used by the status command and metrics.
func TestCountByStatus(t *testing.T) {
	q := testQueue(t)
	a, _ := q.Enqueue("recon_osint", nil)
	q.Enqueue("recon_osint", nil)
	require.NoError(t, q.UpdateStatus(a.ID, types.JobStatusRunning, nil, ""))

	counts, err := q.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.JobStatusPending])
	assert.Equal(t, 1, counts[types.JobStatusRunning])
}
