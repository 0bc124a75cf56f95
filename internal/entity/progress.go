package entity

import (
	"time"

	"github.com/google/uuid"
)

// ProgressSnapshot is the cached, poll-friendly view of a running job.
// It is derived from the job record and may lag behind it, never lead it:
// a snapshot is only written after the stage it describes has been persisted.
type ProgressSnapshot struct {
	JobID            uuid.UUID        `json:"job_id"`
	Status           JobStatus        `json:"status"`
	PercentComplete  int              `json:"percent_complete"`
	StageDescription string           `json:"stage_description"`
	ElementsDetected map[string]int64 `json:"elements_detected,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
}
