package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultKey = "payla:payout_jobs"

// claimScript pops the earliest member whose score is <= now.
var claimScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #items == 0 then
  return false
end
redis.call('ZREM', KEYS[1], items[1])
return items[1]
`)

// RedisQueue keeps jobs in a sorted set scored by ready time in
// milliseconds, so several workers can share one queue.
type RedisQueue struct {
	rdb *redis.Client
	key string
}

func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = defaultKey
	}
	return &RedisQueue{rdb: rdb, key: key}
}

type envelope struct {
	ID  string    `json:"id"`
	Job PayoutJob `json:"job"`
}

func (q *RedisQueue) Push(ctx context.Context, job PayoutJob, readyAt time.Time) error {
	member, err := json.Marshal(envelope{ID: uuid.NewString(), Job: job})
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.rdb.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: member,
	}).Err(); err != nil {
		return fmt.Errorf("push payout job %s: %w", job.Reference, err)
	}
	return nil
}

func (q *RedisQueue) Claim(ctx context.Context, now time.Time) (*PayoutJob, error) {
	res, err := claimScript.Run(ctx, q.rdb, []string{q.key}, strconv.FormatInt(now.UnixMilli(), 10)).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim payout job: %w", err)
	}
	var env envelope
	if err := json.Unmarshal([]byte(res), &env); err != nil {
		return nil, fmt.Errorf("decode payout job: %w", err)
	}
	return &env.Job, nil
}
