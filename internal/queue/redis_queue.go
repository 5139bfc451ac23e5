package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the list the webhook receiver pushes submission ids onto.
const DefaultKey = "cs4all:grading_queue"

// ErrEmpty is returned by Dequeue when the wait elapsed without a message.
var ErrEmpty = errors.New("queue empty")

// Delivery is a message taken off the queue and parked on the processing list
// until it is acknowledged or requeued.
type Delivery struct {
	Raw string
}

// Depth reports the number of waiting and in-flight payloads.
type Depth struct {
	Waiting    int64
	Processing int64
}

// DefaultLeaseTTL is how long a consumer's claim on its in-flight list lasts
// without a heartbeat.
const DefaultLeaseTTL = 30 * time.Second

// Queue is the work queue contract used by the grading worker.
type Queue interface {
	Enqueue(ctx context.Context, message Message) error
	Dequeue(ctx context.Context, wait time.Duration) (Delivery, error)
	Ack(ctx context.Context, delivery Delivery) error
	Requeue(ctx context.Context, delivery Delivery, next Message) error
	Heartbeat(ctx context.Context) error
	Recover(ctx context.Context) (int, error)
	ReapExpired(ctx context.Context) (int, error)
	Depth(ctx context.Context) (Depth, error)
}

type redisQueue struct {
	client       *redis.Client
	key          string
	consumer     string
	consumersKey string
	leaseTTL     time.Duration
}

// NewRedisQueue builds a reliable list queue on top of BLMOVE. Each consumer
// parks its deliveries on its own processing list, guarded by a lease that
// Heartbeat keeps alive.
func NewRedisQueue(client *redis.Client, key, consumer string, leaseTTL time.Duration) Queue {
	if key == "" {
		key = DefaultKey
	}
	if consumer == "" {
		consumer = "default"
	}
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	return &redisQueue{
		client:       client,
		key:          key,
		consumer:     consumer,
		consumersKey: key + ":consumers",
		leaseTTL:     leaseTTL,
	}
}

func (q *redisQueue) processingKey(consumer string) string {
	return q.key + ":processing:" + consumer
}

func (q *redisQueue) leaseKey(consumer string) string {
	return q.key + ":lease:" + consumer
}

func (q *redisQueue) Enqueue(ctx context.Context, message Message) error {
	payload, err := message.Encode()
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", message.SubmissionID, err)
	}
	return nil
}

// Dequeue blocks for at most wait; a zero wait blocks indefinitely.
func (q *redisQueue) Dequeue(ctx context.Context, wait time.Duration) (Delivery, error) {
	raw, err := q.client.BLMove(ctx, q.key, q.processingKey(q.consumer), "RIGHT", "LEFT", wait).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Delivery{}, ErrEmpty
		}
		return Delivery{}, err
	}
	return Delivery{Raw: raw}, nil
}

func (q *redisQueue) Ack(ctx context.Context, delivery Delivery) error {
	return q.client.LRem(ctx, q.processingKey(q.consumer), 1, delivery.Raw).Err()
}

// Requeue swaps the in-flight payload for the next attempt in one transaction.
func (q *redisQueue) Requeue(ctx context.Context, delivery Delivery, next Message) error {
	payload, err := next.Encode()
	if err != nil {
		return err
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, q.key, payload)
		pipe.LRem(ctx, q.processingKey(q.consumer), 1, delivery.Raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("requeue %s: %w", next.SubmissionID, err)
	}
	return nil
}

// Heartbeat registers the consumer and extends its lease.
func (q *redisQueue) Heartbeat(ctx context.Context) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, q.consumersKey, q.consumer)
		pipe.Set(ctx, q.leaseKey(q.consumer), time.Now().UTC().Format(time.RFC3339), q.leaseTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", q.consumer, err)
	}
	return nil
}

// Recover runs at start: it returns this consumer's stranded deliveries and
// those of consumers whose lease expired. Live peers keep their in-flight work.
// Redelivery is safe because grading writes are conditional on the
// submission still being pending.
func (q *redisQueue) Recover(ctx context.Context) (int, error) {
	moved, err := q.drain(ctx, q.consumer)
	if err != nil {
		return moved, err
	}
	reaped, err := q.ReapExpired(ctx)
	return moved + reaped, err
}

// ReapExpired returns deliveries held by consumers whose lease lapsed and
// forgets those consumers.
func (q *redisQueue) ReapExpired(ctx context.Context) (int, error) {
	consumers, err := q.client.SMembers(ctx, q.consumersKey).Result()
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, consumer := range consumers {
		if consumer == q.consumer {
			continue
		}
		alive, err := q.client.Exists(ctx, q.leaseKey(consumer)).Result()
		if err != nil {
			return moved, err
		}
		if alive > 0 {
			continue
		}

		n, err := q.drain(ctx, consumer)
		moved += n
		if err != nil {
			return moved, err
		}
		if err := q.client.SRem(ctx, q.consumersKey, consumer).Err(); err != nil {
			return moved, err
		}
	}
	return moved, nil
}

func (q *redisQueue) drain(ctx context.Context, consumer string) (int, error) {
	moved := 0
	for {
		_, err := q.client.LMove(ctx, q.processingKey(consumer), q.key, "RIGHT", "RIGHT").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return moved, nil
			}
			return moved, err
		}
		moved++
	}
}

// Depth counts waiting payloads and in-flight payloads across every
// registered consumer.
func (q *redisQueue) Depth(ctx context.Context) (Depth, error) {
	consumers, err := q.client.SMembers(ctx, q.consumersKey).Result()
	if err != nil {
		return Depth{}, err
	}
	if !slices.Contains(consumers, q.consumer) {
		consumers = append(consumers, q.consumer)
	}

	var waiting *redis.IntCmd
	inFlight := make([]*redis.IntCmd, 0, len(consumers))
	_, err = q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.LLen(ctx, q.key)
		for _, consumer := range consumers {
			inFlight = append(inFlight, pipe.LLen(ctx, q.processingKey(consumer)))
		}
		return nil
	})
	if err != nil {
		return Depth{}, err
	}

	depth := Depth{Waiting: waiting.Val()}
	for _, cmd := range inFlight {
		depth.Processing += cmd.Val()
	}
	return depth, nil
}
