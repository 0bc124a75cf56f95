package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"epub-converter-service/internal/entity"
	"epub-converter-service/internal/provider"
)

// JobStore is the durable source of truth for job state. Rows are only ever
// mutated by the worker currently holding the job's queue claim.
type JobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	MarkRunning(ctx context.Context, id uuid.UUID, stage string) error
	SaveStageOutput(ctx context.Context, id uuid.UUID, stage string, output json.RawMessage) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason entity.FailureReason) error
}

// ProgressPublisher receives progress updates. Writes are best-effort and
// must never fail a job.
type ProgressPublisher interface {
	Publish(ctx context.Context, job *entity.Job, percent int, description string, counters map[string]int64)
}

// Orchestrator drives a job through the declared stage order. Stage-level
// retries and provider fallback are resolved below it; any error that reaches
// the orchestrator is terminal for the job.
type Orchestrator struct {
	store    JobStore
	stages   []Stage
	exec     *Executor
	progress ProgressPublisher
	log      zerolog.Logger
}

func NewOrchestrator(store JobStore, stages []Stage, exec *Executor, progress ProgressPublisher, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		stages:   stages,
		exec:     exec,
		progress: progress,
		log:      log.With().Str("component", "orchestrator").Logger(),
	}
}

// StageNames returns the declared stage order.
func (o *Orchestrator) StageNames() []string {
	names := make([]string, len(o.stages))
	for i, st := range o.stages {
		names[i] = st.Name()
	}
	return names
}

// Run executes the job's remaining stages in order. Re-invoking Run on a
// completed or failed job is a no-op; after a crash it resumes at the first
// stage without a persisted output, never re-executing a completed stage.
func (o *Orchestrator) Run(ctx context.Context, jobID uuid.UUID) error {
	job, err := o.store.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	log := o.log.With().Stringer("job_id", jobID).Logger()

	if job.Status.Terminal() {
		log.Debug().Str("status", string(job.Status)).Msg("job already terminal, nothing to do")
		return nil
	}

	start, err := o.resumeIndex(job)
	if err != nil {
		reason := failureReason(o.stages[0].Name(), err)
		if start >= 0 && start < len(o.stages) {
			reason = failureReason(o.stages[start].Name(), err)
		}
		return o.fail(ctx, job, reason)
	}
	if start > 0 {
		log.Info().Str("stage", o.stages[start].Name()).Msg("resuming job")
	}

	for i := start; i < len(o.stages); i++ {
		st := o.stages[i]

		// cancellation is cooperative and checked at stage boundaries only
		canceled, err := o.refreshCanceled(ctx, job)
		if err != nil {
			return fmt.Errorf("job %s: refresh state: %w", jobID, err)
		}
		if canceled {
			return o.fail(ctx, job, entity.FailureReason{
				Stage:    st.Name(),
				Class:    "canceled",
				Message:  "conversion canceled before stage " + st.Name(),
				Category: "canceled by user",
			})
		}

		if err := o.store.MarkRunning(ctx, job.ID, st.Name()); err != nil {
			return fmt.Errorf("job %s: mark running: %w", jobID, err)
		}
		job.Status = entity.StatusRunning

		prev := job.Input
		if i > 0 {
			prev, _ = job.StageOutput(o.stages[i-1].Name())
		}

		out, counters, err := o.exec.Execute(ctx, job, st, prev)
		if err != nil {
			return o.fail(ctx, job, failureReason(st.Name(), err))
		}

		// persistence happens before the stage counts as done; a crash after
		// this write resumes at the next stage
		if err := o.store.SaveStageOutput(ctx, job.ID, st.Name(), out); err != nil {
			return fmt.Errorf("job %s: persist stage %s: %w", jobID, st.Name(), err)
		}
		if job.StageOutputs == nil {
			job.StageOutputs = map[string]json.RawMessage{}
		}
		job.StageOutputs[st.Name()] = out

		// the snapshot may lag the durable record but never lead it, so the
		// publish happens only after the output write above returned
		o.progress.Publish(ctx, job, stagePercent(i, len(o.stages)), st.Description(), counters)
	}

	if err := o.store.MarkCompleted(ctx, job.ID); err != nil {
		return fmt.Errorf("job %s: mark completed: %w", jobID, err)
	}
	job.Status = entity.StatusCompleted
	o.progress.Publish(ctx, job, 100, "completed", nil)
	log.Info().Msg("job completed")
	return nil
}

// resumeIndex finds the first stage without a persisted output and verifies
// the outputs form a strict prefix of the declared order.
func (o *Orchestrator) resumeIndex(job *entity.Job) (int, error) {
	first := len(o.stages)
	for i, st := range o.stages {
		if _, ok := job.StageOutput(st.Name()); !ok {
			first = i
			break
		}
	}
	for i := first; i < len(o.stages); i++ {
		if _, ok := job.StageOutput(o.stages[i].Name()); ok {
			return first, &ContractError{
				Stage: o.stages[i].Name(),
				Err:   fmt.Errorf("output present for stage %q but stage %q never completed", o.stages[i].Name(), o.stages[first].Name()),
			}
		}
	}
	return first, nil
}

func (o *Orchestrator) refreshCanceled(ctx context.Context, job *entity.Job) (bool, error) {
	if job.Canceled {
		return true, nil
	}
	fresh, err := o.store.GetByID(ctx, job.ID)
	if err != nil {
		return false, err
	}
	job.Canceled = fresh.Canceled
	return fresh.Canceled, nil
}

func (o *Orchestrator) fail(ctx context.Context, job *entity.Job, reason entity.FailureReason) error {
	if err := o.store.MarkFailed(ctx, job.ID, reason); err != nil {
		return fmt.Errorf("job %s: mark failed: %w", job.ID, err)
	}
	job.Status = entity.StatusFailed
	job.Failure = &reason
	// percent 0 is clamped to the last published value; only the terminal
	// status and description change
	o.progress.Publish(ctx, job, 0, reason.Category, nil)
	o.log.Warn().
		Stringer("job_id", job.ID).
		Str("stage", reason.Stage).
		Str("class", reason.Class).
		Str("category", reason.Category).
		Msg("job failed")
	return nil
}

const maxReasonLen = 500

// failureReason maps a terminal stage error onto the sanitized record the
// out-of-scope UI consumes: stage, class and a human-readable category, no
// internal payloads.
func failureReason(stage string, err error) entity.FailureReason {
	reason := entity.FailureReason{
		Stage:   stage,
		Message: truncate(err.Error(), maxReasonLen),
	}

	var ce *ContractError
	if errors.As(err, &ce) {
		reason.Class = "contract"
		reason.Category = "internal error"
		return reason
	}

	switch provider.ClassOf(err) {
	case provider.ClassPermanent:
		reason.Class = provider.ClassPermanent.String()
		reason.Category = "document rejected"
	case provider.ClassTransient:
		reason.Class = provider.ClassTransient.String()
		reason.Category = stage + " service unavailable"
	default:
		reason.Class = provider.ClassUnknown.String()
		reason.Category = "internal error"
	}
	return reason
}

func stagePercent(index, total int) int {
	if total <= 0 {
		return 0
	}
	return (index + 1) * 100 / total
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
