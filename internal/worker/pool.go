package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"epub-converter-service/internal/service"
)

// JobProcessor runs one claimed job to a durable outcome. A nil return means
// the claim can be released; an error means the job record may still be
// non-terminal and the claim must survive for redelivery.
type JobProcessor interface {
	Process(ctx context.Context, jobID string) error
}

// Pool runs N workers over the claim queue. Jobs run in parallel across
// workers; within one worker a job's stages run strictly sequentially.
type Pool struct {
	queue      service.Queue
	processor  JobProcessor
	workers    int
	claimDelay time.Duration
	log        zerolog.Logger
}

func NewPool(queue service.Queue, processor JobProcessor, workers int, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		queue:      queue,
		processor:  processor,
		workers:    workers,
		claimDelay: 5 * time.Second,
		log:        log.With().Str("component", "worker_pool").Logger(),
	}
}

func (p *Pool) Run(ctx context.Context) {
	p.log.Info().Int("workers", p.workers).Msg("worker pool started")

	jobCh := make(chan string)

	for i := 0; i < p.workers; i++ {
		go func(n int) {
			log := p.log.With().Int("worker", n).Logger()
			for jobID := range jobCh {
				if err := p.processor.Process(ctx, jobID); err != nil {
					// the job record may be stuck non-terminal; keep the
					// claim so RequeueStale redelivers it
					log.Error().Str("job_id", jobID).Err(err).Msg("process job, leaving claim for the reaper")
					continue
				}

				// the job row is terminal; release the claim
				if ackErr := p.queue.Ack(ctx, jobID); ackErr != nil {
					log.Error().Str("job_id", jobID).Err(ackErr).Msg("ack job")
				}
			}
		}(i + 1)
	}

	// claim loop: atomically move queue -> processing, then hand off
	for {
		select {
		case <-ctx.Done():
			close(jobCh)
			p.log.Info().Msg("worker pool stopped")
			return
		default:
			jobID, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
			if err != nil {
				// timeout / redis.Nil / ctx cancel, nothing to claim
				continue
			}
			select {
			case jobCh <- jobID:
			case <-ctx.Done():
				close(jobCh)
				return
			}
		}
	}
}
