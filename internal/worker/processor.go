package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"epub-converter-service/internal/pipeline"
)

// Processor runs one claimed job through the pipeline orchestrator. Job-level
// failure handling lives in the orchestrator; errors returned here are
// infrastructure failures (bad id, durable store down).
type Processor struct {
	orchestrator *pipeline.Orchestrator
	log          zerolog.Logger
}

func NewProcessor(orchestrator *pipeline.Orchestrator, log zerolog.Logger) *Processor {
	return &Processor{
		orchestrator: orchestrator,
		log:          log.With().Str("component", "processor").Logger(),
	}
}

func (p *Processor) Process(ctx context.Context, jobID string) error {
	start := time.Now()

	id, err := uuid.Parse(jobID)
	if err != nil {
		// a malformed id can never succeed; report it processed so the pool
		// acks it off the queue instead of redelivering it forever
		p.log.Error().Str("job_id", jobID).Err(err).Msg("malformed job id on queue, dropping")
		return nil
	}

	if err := p.orchestrator.Run(ctx, id); err != nil {
		p.log.Error().Stringer("job_id", id).Err(err).Dur("duration", time.Since(start)).Msg("run failed")
		return err
	}

	p.log.Info().Stringer("job_id", id).Dur("duration", time.Since(start)).Msg("run finished")
	return nil
}
