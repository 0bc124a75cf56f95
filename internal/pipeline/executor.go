package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"epub-converter-service/internal/entity"
	"epub-converter-service/internal/provider"
)

// Executor runs a single stage: it hands the stage a soft-deadline context
// and abandons it at the hard deadline. Progress publication is the
// orchestrator's job, after the stage output is durably persisted.
type Executor struct {
	soft time.Duration
	hard time.Duration
	log  zerolog.Logger
}

func NewExecutor(soft, hard time.Duration, log zerolog.Logger) *Executor {
	if soft <= 0 {
		soft = 3 * time.Minute
	}
	if hard <= soft {
		hard = soft + time.Minute
	}
	return &Executor{
		soft: soft,
		hard: hard,
		log:  log.With().Str("component", "stage_executor").Logger(),
	}
}

type stageResult struct {
	out      json.RawMessage
	counters map[string]int64
	err      error
}

// Execute runs one stage against the previous stage's persisted output.
func (e *Executor) Execute(ctx context.Context, job *entity.Job, st Stage, prev json.RawMessage) (json.RawMessage, map[string]int64, error) {
	start := time.Now()
	log := e.log.With().Stringer("job_id", job.ID).Str("stage", st.Name()).Logger()

	// soft timeout: graceful cancellation handed to the collaborator
	sctx, cancel := context.WithTimeout(ctx, e.soft)
	defer cancel()

	done := make(chan stageResult, 1)
	go func() {
		out, counters, err := st.Run(sctx, prev)
		done <- stageResult{out: out, counters: counters, err: err}
	}()

	var res stageResult
	select {
	case res = <-done:
	case <-time.After(e.hard):
		// hard timeout: the in-flight call is abandoned, its goroutine exits
		// once its own deadline fires
		log.Error().Dur("hard_timeout", e.hard).Msg("stage abandoned at hard timeout")
		return nil, nil, provider.Transient(st.Name(), "execute", fmt.Errorf("stage exceeded hard timeout %s", e.hard))
	}

	if res.err != nil {
		log.Warn().Err(res.err).Dur("duration", time.Since(start)).Msg("stage failed")
		return nil, nil, res.err
	}

	log.Info().Dur("duration", time.Since(start)).Msg("stage completed")
	return res.out, res.counters, nil
}
