package model

import "time"

// IngestJob is the queue payload carrying documents to index.
type IngestJob struct {
	ID          string     `json:"id"`
	Documents   []Document `json:"documents"`
	SubmittedAt time.Time  `json:"submitted_at"`
}

const (
	IngestStatusQueued    = "queued"
	IngestStatusCompleted = "completed"
	IngestStatusFailed    = "failed"
)

type IngestRecord struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	JobID      string     `gorm:"size:64;not null;uniqueIndex" json:"job_id"`
	Submitted  int        `gorm:"not null" json:"submitted"`
	Indexed    int        `gorm:"not null" json:"indexed"`
	Status     string     `gorm:"size:16;not null;index" json:"status"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
