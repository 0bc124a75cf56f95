// Package pipeline composes an ordered list of stages into a resumable job
// execution with durable state transitions.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Stage is one discrete, ordered step of the conversion pipeline. Run
// receives exactly the persisted output of the previous stage (the job input
// for the first stage) and returns its own output plus any detected-element
// counters for progress reporting.
type Stage interface {
	Name() string
	Description() string
	Run(ctx context.Context, in json.RawMessage) (out json.RawMessage, counters map[string]int64, err error)
}

// ContractError signals a stage input/output shape mismatch. It is a
// programming defect in the pipeline declaration, always permanent, never
// retried.
type ContractError struct {
	Stage string
	Err   error
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("stage %s: contract violation: %v", e.Stage, e.Err)
}

func (e *ContractError) Unwrap() error { return e.Err }

// decodeInput strictly decodes the previous stage's output into the stage's
// declared input type. Unknown fields mean the declared pipeline order and
// the persisted outputs disagree, so they are rejected.
func decodeInput[T any](stage string, raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, &ContractError{Stage: stage, Err: fmt.Errorf("missing input payload")}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, &ContractError{Stage: stage, Err: err}
	}
	return v, nil
}

func encodeOutput[T any](stage string, v T) (json.RawMessage, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, &ContractError{Stage: stage, Err: err}
	}
	return out, nil
}
