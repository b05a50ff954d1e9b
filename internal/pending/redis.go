package pending

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fathima-sithara/delivery-service/internal/domain"
)

// removeByID deletes every list element whose JSON carries the given
// "id":"..." member. Entries are encoded by encoding/json, so the needle
// cannot occur inside another (escaped) string value.
var removeByID = redis.NewScript(`
local items = redis.call('LRANGE', KEYS[1], 0, -1)
local removed = 0
for _, v in ipairs(items) do
  if string.find(v, ARGV[1], 1, true) then
    removed = removed + redis.call('LREM', KEYS[1], 0, v)
  end
end
return removed
`)

type RedisQueue struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisQueue stores each (user, device) buffer as a Redis list. A
// positive ttl is refreshed on every enqueue.
func NewRedisQueue(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisQueue {
	return &RedisQueue{client: client, prefix: prefix, ttl: ttl}
}

func (q *RedisQueue) key(user string, device domain.DeviceClass) string {
	k := "pending_" + string(device) + "_" + user
	if q.prefix != "" {
		return q.prefix + ":" + k
	}
	return k
}

func (q *RedisQueue) Enqueue(ctx context.Context, user string, device domain.DeviceClass, entry domain.PendingEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := q.key(user, device)
	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, b)
		if q.ttl > 0 {
			p.Expire(ctx, key, q.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrEnqueue, key, err)
	}
	return nil
}

func (q *RedisQueue) DrainAll(ctx context.Context, user string, device domain.DeviceClass) ([]domain.PendingEntry, error) {
	key := q.key(user, device)
	var items *redis.StringSliceCmd
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		items = p.LRange(ctx, key, 0, -1)
		p.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain %s: %w", key, err)
	}
	return decode(items.Val())
}

func (q *RedisQueue) RemoveOne(ctx context.Context, user string, device domain.DeviceClass, messageID string) error {
	id, err := json.Marshal(messageID)
	if err != nil {
		return err
	}
	needle := `"id":` + string(id)
	return removeByID.Run(ctx, q.client, []string{q.key(user, device)}, needle).Err()
}

func (q *RedisQueue) List(ctx context.Context, user string, device domain.DeviceClass) ([]domain.PendingEntry, error) {
	items, err := q.client.LRange(ctx, q.key(user, device), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return decode(items)
}

func decode(items []string) ([]domain.PendingEntry, error) {
	out := make([]domain.PendingEntry, 0, len(items))
	for _, raw := range items {
		var e domain.PendingEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return out, fmt.Errorf("decode pending entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
