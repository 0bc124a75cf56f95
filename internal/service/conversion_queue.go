package service

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue is the claim/lease mechanism: a claimed job is owned by exactly one
// worker until acked, so no two workers ever run the same job concurrently.
type Queue interface {
	Enqueue(ctx context.Context, jobID string, priority int) error
	ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, jobID string) error
	RequeueStale(ctx context.Context, maxPerLane int64) (int64, error)
}

type Lane struct {
	QueueKey      string
	ProcessingKey string
}

// redisConversionQueue is a reliable queue with tier-based priority lanes on
// Redis lists.
// Claim: BRPOPLPUSH lane.queue -> lane.processing
// Ack:   LREM from the processing list recorded in the claim map hash
type redisConversionQueue struct {
	rdb      *redis.Client
	claimMap string

	low    Lane
	normal Lane
	high   Lane
}

func NewRedisConversionQueue(rdb *redis.Client, claimMap string, low, normal, high Lane) Queue {
	return &redisConversionQueue{
		rdb:      rdb,
		claimMap: claimMap,
		low:      low,
		normal:   normal,
		high:     high,
	}
}

func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > 2 {
		return 2
	}
	return p
}

func (q *redisConversionQueue) laneByPriority(p int) Lane {
	switch clampPriority(p) {
	case 2:
		return q.high
	case 1:
		return q.normal
	default:
		return q.low
	}
}

func (q *redisConversionQueue) Enqueue(ctx context.Context, jobID string, priority int) error {
	ln := q.laneByPriority(priority)
	return q.rdb.LPush(ctx, ln.QueueKey, jobID).Err()
}

// ClaimBlocking polls high->normal->low with short blocking slots so it
// stays mostly blocking while still respecting lane priority.
func (q *redisConversionQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	// timeout <= 0 means loop forever, worker-daemon style
	forever := timeout <= 0
	deadline := time.Now().Add(timeout)

	slot := 1 * time.Second
	if !forever && timeout < slot {
		slot = timeout
	}

	for {
		if !forever && time.Now().After(deadline) {
			return "", redis.Nil
		}

		for _, ln := range []Lane{q.high, q.normal, q.low} {
			wait := slot
			if !forever {
				remain := time.Until(deadline)
				if remain <= 0 {
					return "", redis.Nil
				}
				if remain < wait {
					wait = remain
				}
			}

			id, err := q.rdb.BRPopLPush(ctx, ln.QueueKey, ln.ProcessingKey, wait).Result()
			if err == nil {
				// record which processing list holds the claim so Ack can
				// release it
				if hErr := q.rdb.HSet(ctx, q.claimMap, id, ln.ProcessingKey).Err(); hErr != nil {
					return "", hErr
				}
				return id, nil
			}

			if errors.Is(err, redis.Nil) {
				continue
			}
			return "", err
		}
	}
}

func (q *redisConversionQueue) Ack(ctx context.Context, jobID string) error {
	processingKey, err := q.rdb.HGet(ctx, q.claimMap, jobID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// claim record missing; sweep every processing list instead
			_ = q.rdb.LRem(ctx, q.high.ProcessingKey, 1, jobID).Err()
			_ = q.rdb.LRem(ctx, q.normal.ProcessingKey, 1, jobID).Err()
			_ = q.rdb.LRem(ctx, q.low.ProcessingKey, 1, jobID).Err()
			return nil
		}
		return err
	}

	if err := q.rdb.LRem(ctx, processingKey, 1, jobID).Err(); err != nil {
		return err
	}
	_ = q.rdb.HDel(ctx, q.claimMap, jobID).Err()
	return nil
}

// RequeueStale moves claimed-but-unacked jobs back to their lane queue.
// At-least-once delivery: the orchestrator's resume logic makes re-delivery
// harmless.
func (q *redisConversionQueue) RequeueStale(ctx context.Context, maxPerLane int64) (int64, error) {
	var moved int64

	for _, ln := range []Lane{q.high, q.normal, q.low} {
		for i := int64(0); i < maxPerLane; i++ {
			id, err := q.rdb.RPopLPush(ctx, ln.ProcessingKey, ln.QueueKey).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					break
				}
				return moved, err
			}
			if id != "" {
				moved++
				_ = q.rdb.HDel(ctx, q.claimMap, id).Err()
			}
		}
	}

	return moved, nil
}
