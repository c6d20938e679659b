package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"anvil/internal/models"
	"anvil/internal/sandbox"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runnerFunc adapts a function to the Runner interface.
type runnerFunc func(ctx context.Context, jobID, task, workdir string) (*sandbox.Result, error)

func (f runnerFunc) Run(ctx context.Context, jobID, task, workdir string) (*sandbox.Result, error) {
	return f(ctx, jobID, task, workdir)
}

func noopRunner() Runner {
	return runnerFunc(func(ctx context.Context, jobID, task, workdir string) (*sandbox.Result, error) {
		return &sandbox.Result{OutputPath: workdir}, nil
	})
}

func newTestQueue(t *testing.T, opts Options, r Runner) *Queue {
	t.Helper()

	if opts.JobsDir == "" {
		opts.JobsDir = t.TempDir()
	}
	q, err := New(opts, r, nil, nil)
	require.NoError(t, err)
	return q
}

func waitForStatus(t *testing.T, q *Queue, id, status string) models.Job {
	t.Helper()

	var job models.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = q.GetStatus(id)
		return err == nil && job.Status == status
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", id, status)
	return job
}

func TestSubmitReturnsUniqueIDs(t *testing.T) {
	q := newTestQueue(t, Options{Workers: 1, QueueLimit: 64}, noopRunner())
	defer q.Close()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		id, err := q.Submit(fmt.Sprintf("task %d", i))
		require.NoError(t, err)
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate job id %s", id)
		seen[id] = true
	}
}

func TestSubmitRejectsInvalidTasks(t *testing.T) {
	q := newTestQueue(t, Options{Workers: 1, QueueLimit: 4, MaxTaskBytes: 10}, noopRunner())
	defer q.Close()

	_, err := q.Submit("")
	assert.ErrorIs(t, err, ErrInvalidTask)

	_, err = q.Submit("   \n\t ")
	assert.ErrorIs(t, err, ErrInvalidTask)

	_, err = q.Submit("this task is longer than ten bytes")
	assert.ErrorIs(t, err, ErrInvalidTask)
}

func TestFreshJobIsPending(t *testing.T) {
	// Workers never started, so the job must stay observably pending.
	q := newTestQueue(t, Options{Workers: 1, QueueLimit: 4}, noopRunner())

	id, err := q.Submit("do a thing")
	require.NoError(t, err)

	job, err := q.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, job.Status)
	assert.Equal(t, "do a thing", job.Task)
	assert.NotEmpty(t, job.OutputPath)
	assert.Nil(t, job.StartedAt)
}

func TestGetStatusUnknownID(t *testing.T) {
	q := newTestQueue(t, Options{Workers: 1, QueueLimit: 4}, noopRunner())

	_, err := q.GetStatus("no-such-job")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueueFullRejectsSubmission(t *testing.T) {
	// No workers running: the pending channel fills up.
	q := newTestQueue(t, Options{Workers: 1, QueueLimit: 2}, noopRunner())

	_, err := q.Submit("one")
	require.NoError(t, err)
	_, err = q.Submit("two")
	require.NoError(t, err)

	_, err = q.Submit("three")
	assert.ErrorIs(t, err, ErrQueueFull)

	// The rejected submission left no record behind.
	assert.Len(t, q.List(), 2)
}

func TestConcurrencyBoundedByWorkerCount(t *testing.T) {
	const workers = 2
	const jobs = 6

	release := make(chan struct{})
	var mu sync.Mutex
	running := 0
	maxRunning := 0

	r := runnerFunc(func(ctx context.Context, jobID, task, workdir string) (*sandbox.Result, error) {
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()

		<-release

		mu.Lock()
		running--
		mu.Unlock()
		return &sandbox.Result{OutputPath: workdir}, nil
	})

	q := newTestQueue(t, Options{Workers: workers, QueueLimit: jobs}, r)
	q.Start()

	ids := make([]string, 0, jobs)
	for i := 0; i < jobs; i++ {
		id, err := q.Submit(fmt.Sprintf("task %d", i))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// Wait until the pool is saturated.
	require.Eventually(t, func() bool {
		return q.Stats()[models.StatusRunning] == workers
	}, 5*time.Second, 10*time.Millisecond)

	// With all workers busy the rest stay pending.
	stats := q.Stats()
	assert.Equal(t, workers, stats[models.StatusRunning])
	assert.Equal(t, jobs-workers, stats[models.StatusPending])

	close(release)

	for _, id := range ids {
		waitForStatus(t, q, id, models.StatusCompleted)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxRunning, workers)
	q.Close()
}

func TestDispatchIsFIFO(t *testing.T) {
	var mu sync.Mutex
	var order []string

	r := runnerFunc(func(ctx context.Context, jobID, task, workdir string) (*sandbox.Result, error) {
		mu.Lock()
		order = append(order, task)
		mu.Unlock()
		return &sandbox.Result{OutputPath: workdir}, nil
	})

	// Single worker: execution order must match submission order.
	q := newTestQueue(t, Options{Workers: 1, QueueLimit: 16}, r)

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := q.Submit(fmt.Sprintf("task %d", i))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	q.Start()
	for _, id := range ids {
		waitForStatus(t, q, id, models.StatusCompleted)
	}
	q.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"task 0", "task 1", "task 2", "task 3", "task 4"}, order)
}

func TestFailedRunnerMarksJobFailed(t *testing.T) {
	r := runnerFunc(func(ctx context.Context, jobID, task, workdir string) (*sandbox.Result, error) {
		if task == "bad" {
			return nil, errors.New("all 1 capability calls failed: exit status 3")
		}
		return &sandbox.Result{OutputPath: workdir}, nil
	})

	q := newTestQueue(t, Options{Workers: 1, QueueLimit: 8}, r)
	q.Start()
	defer q.Close()

	badID, err := q.Submit("bad")
	require.NoError(t, err)
	goodID, err := q.Submit("good")
	require.NoError(t, err)

	bad := waitForStatus(t, q, badID, models.StatusFailed)
	assert.NotEmpty(t, bad.Error)
	assert.NotNil(t, bad.FinishedAt)

	// Failure of one job leaves the other untouched.
	good := waitForStatus(t, q, goodID, models.StatusCompleted)
	assert.Empty(t, good.Error)
}

func TestPanickingRunnerIsContained(t *testing.T) {
	r := runnerFunc(func(ctx context.Context, jobID, task, workdir string) (*sandbox.Result, error) {
		if task == "boom" {
			panic("runner exploded")
		}
		return &sandbox.Result{OutputPath: workdir}, nil
	})

	q := newTestQueue(t, Options{Workers: 1, QueueLimit: 8}, r)
	q.Start()
	defer q.Close()

	boomID, err := q.Submit("boom")
	require.NoError(t, err)
	okID, err := q.Submit("fine")
	require.NoError(t, err)

	boom := waitForStatus(t, q, boomID, models.StatusFailed)
	assert.Contains(t, boom.Error, "worker panic")

	waitForStatus(t, q, okID, models.StatusCompleted)
}

func TestJobTimeoutFailsJob(t *testing.T) {
	r := runnerFunc(func(ctx context.Context, jobID, task, workdir string) (*sandbox.Result, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("task aborted: %w", ctx.Err())
	})

	q := newTestQueue(t, Options{Workers: 1, QueueLimit: 4, JobTimeout: 50 * time.Millisecond}, r)
	q.Start()
	defer q.Close()

	id, err := q.Submit("slow")
	require.NoError(t, err)

	job := waitForStatus(t, q, id, models.StatusFailed)
	assert.Contains(t, job.Error, "timed out")
}

func TestJobsGetPrivateWorkdirs(t *testing.T) {
	dir := t.TempDir()
	q := newTestQueue(t, Options{JobsDir: dir, Workers: 2, QueueLimit: 8}, noopRunner())
	q.Start()
	defer q.Close()

	id1, err := q.Submit("first")
	require.NoError(t, err)
	id2, err := q.Submit("second")
	require.NoError(t, err)

	j1 := waitForStatus(t, q, id1, models.StatusCompleted)
	j2 := waitForStatus(t, q, id2, models.StatusCompleted)

	assert.NotEqual(t, j1.OutputPath, j2.OutputPath)
	assert.Equal(t, filepath.Join(dir, id1, "output"), j1.OutputPath)
	assert.Equal(t, filepath.Join(dir, id2, "output"), j2.OutputPath)

	// Each job dir keeps its own task.txt.
	data, err := os.ReadFile(filepath.Join(dir, id1, "task.txt"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestTerminalJobsAreRecorded(t *testing.T) {
	rec := &captureRecorder{}
	q, err := New(Options{JobsDir: t.TempDir(), Workers: 1, QueueLimit: 4}, noopRunner(), rec, nil)
	require.NoError(t, err)
	q.Start()
	defer q.Close()

	id, err := q.Submit("archive me")
	require.NoError(t, err)
	waitForStatus(t, q, id, models.StatusCompleted)

	require.Eventually(t, func() bool {
		return len(rec.records()) == 1
	}, time.Second, 10*time.Millisecond)

	got := rec.records()[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "archive me", got.Task)
}

func TestSubmitAfterCloseFails(t *testing.T) {
	q := newTestQueue(t, Options{Workers: 1, QueueLimit: 4}, noopRunner())
	q.Start()
	q.Close()

	_, err := q.Submit("late")
	assert.ErrorIs(t, err, ErrClosed)
}

type captureRecorder struct {
	mu   sync.Mutex
	recs []models.HistoryJob
}

func (c *captureRecorder) Record(job models.HistoryJob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, job)
	return nil
}

func (c *captureRecorder) records() []models.HistoryJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.HistoryJob(nil), c.recs...)
}
