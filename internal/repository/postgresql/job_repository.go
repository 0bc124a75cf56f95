package postgresql

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"epub-converter-service/internal/entity"
)

var ErrNotFound = errors.New("not found")

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, ownerID string, input json.RawMessage) (uuid.UUID, error) {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}

	const q = `
INSERT INTO conversion_jobs (owner_id, status, input)
VALUES ($1, 'queued', $2)
RETURNING id;
`
	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, q, ownerID, input).Scan(&id); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	const q = `
SELECT id, owner_id, status, current_stage, input, stage_outputs,
       failure_stage, failure_class, failure_message, failure_category,
       canceled, created_at, updated_at
FROM conversion_jobs
WHERE id = $1;
`

	var (
		job          entity.Job
		statusText   string
		inputBytes   []byte
		outputsBytes []byte
		failStage    *string
		failClass    *string
		failMessage  *string
		failCategory *string
	)

	if err := r.pool.QueryRow(ctx, q, id).Scan(
		&job.ID,
		&job.OwnerID,
		&statusText,
		&job.CurrentStage,
		&inputBytes,
		&outputsBytes,
		&failStage,
		&failClass,
		&failMessage,
		&failCategory,
		&job.Canceled,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	job.Status = entity.JobStatus(statusText)
	job.Input = json.RawMessage(inputBytes)
	if len(outputsBytes) > 0 {
		if err := json.Unmarshal(outputsBytes, &job.StageOutputs); err != nil {
			return nil, err
		}
	}
	if failStage != nil {
		job.Failure = &entity.FailureReason{
			Stage:    *failStage,
			Class:    deref(failClass),
			Message:  deref(failMessage),
			Category: deref(failCategory),
		}
	}

	return &job, nil
}

// MarkRunning moves the job into running for the given stage. Terminal jobs
// are left untouched; the WHERE clause makes re-entry after a crash safe.
func (r *JobRepository) MarkRunning(ctx context.Context, id uuid.UUID, stage string) error {
	const q = `
UPDATE conversion_jobs
SET status='running', current_stage=$2, updated_at=now()
WHERE id=$1 AND status IN ('queued','running');
`
	tag, err := r.pool.Exec(ctx, q, id, stage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveStageOutput records a completed stage's output in a single atomic
// update; the stage only counts as done once this write returns.
func (r *JobRepository) SaveStageOutput(ctx context.Context, id uuid.UUID, stage string, output json.RawMessage) error {
	if len(output) == 0 {
		output = json.RawMessage(`{}`)
	}
	const q = `
UPDATE conversion_jobs
SET stage_outputs = stage_outputs || jsonb_build_object($2::text, $3::jsonb),
    current_stage = $2,
    updated_at = now()
WHERE id=$1;
`
	tag, err := r.pool.Exec(ctx, q, id, stage, output)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *JobRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	const q = `
UPDATE conversion_jobs
SET status='completed', updated_at=now()
WHERE id=$1 AND status='running';
`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *JobRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason entity.FailureReason) error {
	const q = `
UPDATE conversion_jobs
SET status='failed',
    failure_stage=$2, failure_class=$3, failure_message=$4, failure_category=$5,
    updated_at=now()
WHERE id=$1 AND status IN ('queued','running');
`
	tag, err := r.pool.Exec(ctx, q, id, reason.Stage, reason.Class, reason.Message, reason.Category)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Cancel flags a non-terminal job; the worker observes the flag at the next
// stage boundary.
func (r *JobRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	const q = `
UPDATE conversion_jobs
SET canceled=TRUE, updated_at=now()
WHERE id=$1 AND status IN ('queued','running');
`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
