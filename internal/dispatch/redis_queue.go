package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyRank    = "dispatch:queue:rank"
	redisKeyEntries = "dispatch:queue:entries"

	// Ordering inside the sorted set is a composite float: priority score in
	// the high digits, entry-time recency inverted in the low digits so that
	// equal scores rank oldest first. The horizon keeps the time term
	// positive for any 32-bit-era unix timestamp.
	redisTimeHorizon = int64(10_000_000_000)
	redisScoreStride = float64(10_000_000_000)
)

// RedisQueue is a Queue shared across nodes via a redis sorted set plus an
// entry hash.
type RedisQueue struct {
	client *redis.Client
	clock  func() time.Time

	// Upsert is a read-modify-write; stripe locks guard it per chat within
	// this process, matching the Queue contract.
	locks [32]sync.Mutex
}

// NewRedisQueue creates a redis-backed queue.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	if client == nil {
		panic("dispatch: redis client cannot be nil")
	}
	return &RedisQueue{client: client, clock: time.Now}
}

var _ Queue = (*RedisQueue)(nil)

func (q *RedisQueue) lockFor(chatID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(chatID))
	return &q.locks[h.Sum32()%uint32(len(q.locks))]
}

func rankScore(priorityScore int, enteredAt time.Time) float64 {
	return float64(priorityScore)*redisScoreStride + float64(redisTimeHorizon-enteredAt.Unix())
}

func (q *RedisQueue) Upsert(ctx context.Context, entry Entry) (Entry, error) {
	mu := q.lockFor(entry.ChatID)
	mu.Lock()
	defer mu.Unlock()

	existing, ok, err := q.Get(ctx, entry.ChatID)
	if err != nil {
		return Entry{}, err
	}
	if ok {
		entry.EnteredQueueAt = existing.EnteredQueueAt
	} else if entry.EnteredQueueAt.IsZero() {
		entry.EnteredQueueAt = q.clock().UTC()
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("dispatch: failed to encode queue entry: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, redisKeyEntries, entry.ChatID, string(body))
		pipe.ZAdd(ctx, redisKeyRank, redis.Z{
			Score:  rankScore(entry.PriorityScore, entry.EnteredQueueAt),
			Member: entry.ChatID,
		})
		return nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("dispatch: failed to upsert queue entry: %w", err)
	}
	return entry, nil
}

func (q *RedisQueue) Get(ctx context.Context, chatID string) (Entry, bool, error) {
	raw, err := q.client.HGet(ctx, redisKeyEntries, chatID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("dispatch: failed to read queue entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return Entry{}, false, fmt.Errorf("dispatch: corrupt queue entry for chat %s: %w", chatID, err)
	}
	return entry, true, nil
}

// bumpAttemptsScript guards the read-modify-write server-side so a Remove by
// a concurrent winner can never interleave and resurrect the entry.
var bumpAttemptsScript = redis.NewScript(`
local raw = redis.call('HGET', KEYS[1], ARGV[1])
if not raw then
  return 0
end
local entry = cjson.decode(raw)
entry.attempts = (entry.attempts or 0) + 1
redis.call('HSET', KEYS[1], ARGV[1], cjson.encode(entry))
return 1
`)

// BumpAttempts increments the attempt counter for a still-queued chat. A
// missing entry is a no-op.
func (q *RedisQueue) BumpAttempts(ctx context.Context, chatID string) error {
	if err := bumpAttemptsScript.Run(ctx, q.client, []string{redisKeyEntries}, chatID).Err(); err != nil {
		return fmt.Errorf("dispatch: failed to bump queue attempts: %w", err)
	}
	return nil
}

func (q *RedisQueue) Remove(ctx context.Context, chatID string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, redisKeyEntries, chatID)
		pipe.ZRem(ctx, redisKeyRank, chatID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dispatch: failed to remove queue entry: %w", err)
	}
	return nil
}

func (q *RedisQueue) PeekTop(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}

	ids, err := q.client.ZRevRange(ctx, redisKeyRank, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("dispatch: failed to rank queue: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		entry, ok, err := q.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Entry removed between the rank read and the hash read.
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	raws, err := q.client.HVals(ctx, redisKeyEntries).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("dispatch: failed to read queue entries: %w", err)
	}

	entries := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return Stats{}, fmt.Errorf("dispatch: corrupt queue entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return computeStats(entries, q.clock().UTC()), nil
}
