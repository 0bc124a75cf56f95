// Package progress maintains the cached, poll-friendly view of running jobs.
// The cache is derived from the durable job record and may lag it, never lead
// it: snapshots are written only after the stage they describe is persisted.
package progress

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"epub-converter-service/internal/cache"
	"epub-converter-service/internal/entity"
)

const keyPrefix = "progress:"

// Publisher writes progress snapshots. A job has exactly one writer (the
// worker owning its claim); the publisher additionally clamps percent and
// counters so they never decrease within a job.
type Publisher struct {
	cache cache.Client
	ttl   time.Duration
	log   zerolog.Logger

	mu   sync.Mutex
	last map[uuid.UUID]entity.ProgressSnapshot
}

func NewPublisher(c cache.Client, ttl time.Duration, log zerolog.Logger) *Publisher {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Publisher{
		cache: c,
		ttl:   ttl,
		log:   log.With().Str("component", "progress").Logger(),
		last:  make(map[uuid.UUID]entity.ProgressSnapshot),
	}
}

// Publish overwrites the job's snapshot. Cache failures are logged and
// swallowed; progress is never allowed to fail a stage.
func (p *Publisher) Publish(ctx context.Context, job *entity.Job, percent int, description string, counters map[string]int64) {
	snap := p.merge(job, percent, description, counters)

	data, err := json.Marshal(snap)
	if err != nil {
		p.log.Error().Err(err).Stringer("job_id", job.ID).Msg("marshal progress snapshot")
		return
	}
	if err := p.cache.Set(ctx, keyPrefix+job.ID.String(), data, p.ttl); err != nil {
		p.log.Warn().Err(err).Stringer("job_id", job.ID).Msg("progress cache write failed")
	}

	if snap.Status.Terminal() {
		p.forget(job.ID)
	}
}

// merge applies the monotonicity rules against the last published snapshot.
func (p *Publisher) merge(job *entity.Job, percent int, description string, counters map[string]int64) entity.ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.last[job.ID]
	if percent < prev.PercentComplete {
		percent = prev.PercentComplete
	}

	merged := make(map[string]int64, len(prev.ElementsDetected)+len(counters))
	for name, count := range prev.ElementsDetected {
		merged[name] = count
	}
	for name, count := range counters {
		if count > merged[name] {
			merged[name] = count
		}
	}

	snap := entity.ProgressSnapshot{
		JobID:            job.ID,
		Status:           job.Status,
		PercentComplete:  percent,
		StageDescription: description,
		ElementsDetected: merged,
		Timestamp:        time.Now().UTC(),
	}
	p.last[job.ID] = snap
	return snap
}

func (p *Publisher) forget(jobID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.last, jobID)
}

// Reader serves progress polls from the cache.
type Reader struct {
	cache cache.Client
}

func NewReader(c cache.Client) *Reader {
	return &Reader{cache: c}
}

// Get returns the cached snapshot or cache.ErrCacheMiss; callers fall back
// to deriving a snapshot from the job record.
func (r *Reader) Get(ctx context.Context, jobID uuid.UUID) (*entity.ProgressSnapshot, error) {
	data, err := r.cache.Get(ctx, keyPrefix+jobID.String())
	if err != nil {
		return nil, err
	}
	var snap entity.ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Derive rebuilds a snapshot from the durable job record, used when the
// cache has no entry (expired TTL, restart, cache outage).
func Derive(job *entity.Job, stageNames []string) *entity.ProgressSnapshot {
	done := 0
	for _, name := range stageNames {
		if _, ok := job.StageOutput(name); ok {
			done++
		}
	}

	percent := 0
	if len(stageNames) > 0 {
		percent = done * 100 / len(stageNames)
	}
	if job.Status == entity.StatusCompleted {
		percent = 100
	}

	description := "waiting"
	switch {
	case job.Status == entity.StatusCompleted:
		description = "completed"
	case job.Status == entity.StatusFailed:
		description = "failed"
		if job.Failure != nil {
			description = job.Failure.Category
		}
	case job.CurrentStage != nil:
		description = *job.CurrentStage
	}

	return &entity.ProgressSnapshot{
		JobID:            job.ID,
		Status:           job.Status,
		PercentComplete:  percent,
		StageDescription: description,
		Timestamp:        job.UpdatedAt,
	}
}
