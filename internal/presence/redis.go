package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fathima-sithara/delivery-service/internal/domain"
	"github.com/fathima-sithara/delivery-service/internal/utils"
)

type record struct {
	FocusedPeer string `json:"focusedPeer"`
	LastSeen    int64  `json:"lastSeen"`
}

// RedisRegistry keeps one key per (user, device) with the lease as its TTL.
type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
	lease  time.Duration
}

func NewRedisRegistry(client redis.UniversalClient, prefix string, lease time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, prefix: prefix, lease: lease}
}

func (r *RedisRegistry) key(user string, device domain.DeviceClass) string {
	if r.prefix == "" {
		return Key(user, device)
	}
	return r.prefix + ":" + Key(user, device)
}

func (r *RedisRegistry) Register(ctx context.Context, user string, device domain.DeviceClass, focusedPeer string) error {
	b, err := json.Marshal(record{FocusedPeer: focusedPeer, LastSeen: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(user, device), b, r.lease).Err(); err != nil {
		return fmt.Errorf("presence register %s: %w", Key(user, device), err)
	}
	return nil
}

func (r *RedisRegistry) Lookup(ctx context.Context, user string, device domain.DeviceClass) (*domain.PresenceRecord, error) {
	key := r.key(user, device)
	pipe := r.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	_, err := pipe.Exec(ctx)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrPresenceLookup, Key(user, device), err)
	}

	var rec record
	if err := json.Unmarshal([]byte(getCmd.Val()), &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrPresenceLookup, Key(user, device), err)
	}
	out := &domain.PresenceRecord{
		UserID:      user,
		Device:      device,
		FocusedPeer: rec.FocusedPeer,
		LastSeen:    utils.FromMillis(rec.LastSeen),
	}
	if ttl := ttlCmd.Val(); ttl > 0 {
		out.ExpiresAt = time.Now().Add(ttl).UTC()
	}
	return out, nil
}

func (r *RedisRegistry) Clear(ctx context.Context, user string, device domain.DeviceClass) error {
	return r.client.Del(ctx, r.key(user, device)).Err()
}
