package models

import (
	"time"
)

// Job states. Transitions are monotonic: pending -> running -> completed|failed.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Terminal reports whether a job state is final.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Job is the in-memory record of one scheduled task. The queue owns every
// Job and is the only writer; handlers get copies via Snapshot.
type Job struct {
	ID         string     `json:"id"`
	Task       string     `json:"task"`
	Status     string     `json:"status"`
	OutputPath string     `json:"output_path,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Snapshot returns a copy safe to hand out without the queue lock.
func (j *Job) Snapshot() Job {
	out := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
