package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epub-converter-service/internal/worker"
)

type fakeQueue struct {
	mu      sync.Mutex
	pending []string
	acked   []string
}

func (q *fakeQueue) Enqueue(ctx context.Context, jobID string, priority int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, jobID)
	return nil
}

func (q *fakeQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		time.Sleep(time.Millisecond)
		return "", redis.Nil
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	q.mu.Unlock()
	return id, nil
}

func (q *fakeQueue) Ack(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, jobID)
	return nil
}

func (q *fakeQueue) RequeueStale(ctx context.Context, maxPerLane int64) (int64, error) {
	return 0, nil
}

type scriptedProcessor struct {
	mu     sync.Mutex
	failID string
	seen   []string
}

func (p *scriptedProcessor) Process(ctx context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, jobID)
	if jobID == p.failID {
		return errors.New("durable store down")
	}
	return nil
}

func TestRun_AcksOnlySuccessfullyProcessedJobs(t *testing.T) {
	q := &fakeQueue{pending: []string{"job-ok", "job-broken"}}
	proc := &scriptedProcessor{failID: "job-broken"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := worker.NewPool(q, proc, 2, zerolog.Nop())
	go pool.Run(ctx)

	require.Eventually(t, func() bool {
		proc.mu.Lock()
		defer proc.mu.Unlock()
		return len(proc.seen) == 2
	}, 2*time.Second, 10*time.Millisecond, "both jobs processed")

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.acked) == 1
	}, 2*time.Second, 10*time.Millisecond, "successful job acked")

	cancel()

	// the failed job keeps its claim so the reaper can redeliver it
	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Equal(t, []string{"job-ok"}, q.acked)
}

func TestProcess_MalformedJobIDIsDropped(t *testing.T) {
	proc := worker.NewProcessor(nil, zerolog.Nop())

	// a malformed id must be reported processed so it gets acked away
	// instead of redelivered forever
	assert.NoError(t, proc.Process(context.Background(), "not-a-uuid"))
}
