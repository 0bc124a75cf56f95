package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether the job can never run another stage.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ConversionRequest is the payload a job starts from. It is also the input
// of the first pipeline stage.
type ConversionRequest struct {
	SourceURL   string `json:"source_url"`
	ContentType string `json:"content_type"`
}

// FailureReason is stored when a job fails. Message is sanitized before it
// gets here: stage name, error class and a short description only, never raw
// provider payloads or credentials.
type FailureReason struct {
	Stage    string `json:"stage"`
	Class    string `json:"class"`
	Message  string `json:"message"`
	Category string `json:"category"`
}

type Job struct {
	ID           uuid.UUID                  `json:"id"`
	OwnerID      string                     `json:"owner_id"`
	Status       JobStatus                  `json:"status"`
	CurrentStage *string                    `json:"current_stage,omitempty"`
	Input        json.RawMessage            `json:"input"`
	StageOutputs map[string]json.RawMessage `json:"stage_outputs,omitempty"`
	Failure      *FailureReason             `json:"failure,omitempty"`
	Canceled     bool                       `json:"canceled"`
	CreatedAt    time.Time                  `json:"created_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
}

// StageOutput returns the persisted output of a completed stage.
func (j *Job) StageOutput(stage string) (json.RawMessage, bool) {
	out, ok := j.StageOutputs[stage]
	return out, ok
}
