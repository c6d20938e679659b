package models

import (
	"time"
)

// HistoryJob is the archived row written for every job that reaches a
// terminal state. The live queue stays in memory; this table survives
// restarts for observability.
type HistoryJob struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Task       string    `gorm:"not null;type:text" json:"task"`
	Status     string    `gorm:"not null;type:varchar(50);index" json:"status"`
	OutputPath string    `gorm:"type:varchar(500)" json:"output_path"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
	FinishedAt time.Time `gorm:"not null;index" json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
}

func (HistoryJob) TableName() string {
	return "history_jobs"
}
