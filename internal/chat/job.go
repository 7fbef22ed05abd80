package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// ReconcileJob records one request to repair a conversation's index
// entries. It is created by the API and executed by cmd/worker.
type ReconcileJob struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	ConversationID string `gorm:"size:160;index;not null"`
	Reason         string `gorm:"type:varchar(255);not null"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when succeeded
	Repaired int `gorm:"not null;default:0"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ReconcileJob) TableName() string { return "chat_reconcile_jobs" }
