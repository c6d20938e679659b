package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"anvil/internal/models"
	"anvil/internal/sandbox"

	"github.com/google/uuid"
)

// Runner executes one task inside an isolated workdir. Implemented by
// sandbox.Agent; swapped for fakes in tests.
type Runner interface {
	Run(ctx context.Context, jobID, task, workdir string) (*sandbox.Result, error)
}

// Recorder persists terminal jobs. Implemented by archive.Archive.
type Recorder interface {
	Record(job models.HistoryJob) error
}

// Publisher pushes job lifecycle events to observers (the websocket hub).
type Publisher interface {
	Broadcast(message interface{})
}

// Event is broadcast on every job state transition.
type Event struct {
	Type   string `json:"type"`
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Options configures the queue.
type Options struct {
	JobsDir       string
	Workers       int
	QueueLimit    int
	MaxTaskBytes  int
	JobTimeout    time.Duration
	Retention     time.Duration
	SweepInterval time.Duration
}

// Queue owns the job records and their state transitions. A single mutex
// guards the job map so transitions are atomic and globally ordered; workers
// block only inside Run, never while holding the lock.
type Queue struct {
	opts     Options
	runner   Runner
	recorder Recorder
	events   Publisher

	mu      sync.Mutex
	jobs    map[string]*models.Job
	pending chan string
	closed  bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates the queue. recorder and events may be nil.
func New(opts Options, runner Runner, recorder Recorder, events Publisher) (*Queue, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueLimit < 1 {
		opts.QueueLimit = 1
	}
	if err := os.MkdirAll(opts.JobsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create jobs directory: %w", err)
	}

	return &Queue{
		opts:     opts,
		runner:   runner,
		recorder: recorder,
		events:   events,
		jobs:     make(map[string]*models.Job),
		pending:  make(chan string, opts.QueueLimit),
		quit:     make(chan struct{}),
	}, nil
}

// Start launches the worker pool and the retention janitor.
func (q *Queue) Start() {
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	if q.opts.SweepInterval > 0 && q.opts.Retention > 0 {
		q.wg.Add(1)
		go q.janitor()
	}
	log.Printf("Queue started with %d workers (limit %d pending)", q.opts.Workers, q.opts.QueueLimit)
}

// Close stops intake, waits for in-flight and already-queued jobs to drain,
// then returns. Safe to call once.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.pending)
	q.mu.Unlock()

	close(q.quit)
	q.wg.Wait()
}

// Submit validates the task, creates the job record in pending state and
// enqueues it FIFO. It returns the new id immediately and never blocks on
// execution.
func (q *Queue) Submit(task string) (string, error) {
	if strings.TrimSpace(task) == "" {
		return "", fmt.Errorf("%w: task description is empty", ErrInvalidTask)
	}
	if q.opts.MaxTaskBytes > 0 && len(task) > q.opts.MaxTaskBytes {
		return "", fmt.Errorf("%w: task exceeds %d bytes", ErrInvalidTask, q.opts.MaxTaskBytes)
	}

	id := uuid.New().String()
	jobDir := filepath.Join(q.opts.JobsDir, id)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(jobDir, "task.txt"), []byte(task), 0644); err != nil {
		os.RemoveAll(jobDir)
		return "", fmt.Errorf("failed to store task: %w", err)
	}

	job := &models.Job{
		ID:         id,
		Task:       task,
		Status:     models.StatusPending,
		OutputPath: filepath.Join(jobDir, "output"),
		CreatedAt:  time.Now(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		os.RemoveAll(jobDir)
		return "", ErrClosed
	}
	q.jobs[id] = job
	select {
	case q.pending <- id:
	default:
		delete(q.jobs, id)
		q.mu.Unlock()
		os.RemoveAll(jobDir)
		return "", fmt.Errorf("%w: %d jobs pending", ErrQueueFull, q.opts.QueueLimit)
	}
	q.mu.Unlock()

	q.publish(Event{Type: "job_state", JobID: id, Status: models.StatusPending})
	return id, nil
}

// GetStatus returns a snapshot of the job, or ErrNotFound.
func (q *Queue) GetStatus(id string) (models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return job.Snapshot(), nil
}

// List returns snapshots of all live jobs, newest first.
func (q *Queue) List() []models.Job {
	q.mu.Lock()
	out := make([]models.Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		out = append(out, job.Snapshot())
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Stats counts live jobs by status.
func (q *Queue) Stats() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := map[string]int{
		models.StatusPending:   0,
		models.StatusRunning:   0,
		models.StatusCompleted: 0,
		models.StatusFailed:    0,
	}
	for _, job := range q.jobs {
		stats[job.Status]++
	}
	return stats
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for id := range q.pending {
		q.runJob(id)
	}
}

func (q *Queue) runJob(id string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.Status != models.StatusPending {
		// Swept or already handled; nothing to do.
		q.mu.Unlock()
		return
	}
	now := time.Now()
	job.Status = models.StatusRunning
	job.StartedAt = &now
	task := job.Task
	workdir := job.OutputPath
	q.mu.Unlock()

	q.publish(Event{Type: "job_state", JobID: id, Status: models.StatusRunning})

	ctx := context.Background()
	var cancel context.CancelFunc
	if q.opts.JobTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, q.opts.JobTimeout)
		defer cancel()
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("worker panic: %v", r)
			}
		}()
		_, runErr = q.runner.Run(ctx, id, task, workdir)
	}()

	if runErr != nil && errors.Is(runErr, context.DeadlineExceeded) {
		runErr = fmt.Errorf("task timed out after %s", q.opts.JobTimeout)
	}

	q.finish(id, runErr)
}

// finish applies the terminal transition exactly once and fans out to the
// archive and event hub.
func (q *Queue) finish(id string, runErr error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || models.Terminal(job.Status) {
		q.mu.Unlock()
		return
	}
	now := time.Now()
	job.FinishedAt = &now
	if runErr != nil {
		job.Status = models.StatusFailed
		job.Error = runErr.Error()
	} else {
		job.Status = models.StatusCompleted
	}
	snap := job.Snapshot()
	q.mu.Unlock()

	q.publish(Event{Type: "job_state", JobID: id, Status: snap.Status, Error: snap.Error})

	if q.recorder != nil {
		record := models.HistoryJob{
			ID:         snap.ID,
			Task:       snap.Task,
			Status:     snap.Status,
			OutputPath: snap.OutputPath,
			Error:      snap.Error,
			CreatedAt:  snap.CreatedAt,
			FinishedAt: now,
		}
		if snap.StartedAt != nil {
			record.DurationMS = now.Sub(*snap.StartedAt).Milliseconds()
		}
		if err := q.recorder.Record(record); err != nil {
			log.Printf("Failed to archive job %s: %v", id, err)
		}
	}
}

func (q *Queue) publish(ev Event) {
	if q.events != nil {
		q.events.Broadcast(ev)
	}
}

// janitor drops terminal jobs past the retention age and removes their
// directories.
func (q *Queue) janitor() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.quit:
			return
		case <-ticker.C:
			q.sweep()
		}
	}
}

func (q *Queue) sweep() {
	cutoff := time.Now().Add(-q.opts.Retention)

	q.mu.Lock()
	var expired []string
	for id, job := range q.jobs {
		if models.Terminal(job.Status) && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			expired = append(expired, id)
			delete(q.jobs, id)
		}
	}
	q.mu.Unlock()

	for _, id := range expired {
		dir := filepath.Join(q.opts.JobsDir, id)
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("Failed to remove expired job dir %s: %v", dir, err)
		}
	}
	if len(expired) > 0 {
		log.Printf("Swept %d expired jobs", len(expired))
	}
}
