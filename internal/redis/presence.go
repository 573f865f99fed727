package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const (
	onlineKey   = "presence:online"
	pairingsKey = "call:pairings"
)

// PresenceMirror copies the relay's presence and pairing maps into Redis so
// other services can see who is online and who is in a call.
type PresenceMirror struct {
	rdb *redis.Client
}

// NewPresenceMirror wraps rdb. Stale keys from a previous run are cleared,
// since the relay keeps no state across restarts.
func NewPresenceMirror(ctx context.Context, rdb *redis.Client) (*PresenceMirror, error) {
	if err := rdb.Del(ctx, onlineKey, pairingsKey).Err(); err != nil {
		return nil, err
	}
	return &PresenceMirror{rdb: rdb}, nil
}

func (m *PresenceMirror) SetOnline(ctx context.Context, identity string) error {
	return m.rdb.SAdd(ctx, onlineKey, identity).Err()
}

func (m *PresenceMirror) SetOffline(ctx context.Context, identity string) error {
	return m.rdb.SRem(ctx, onlineKey, identity).Err()
}

// SetPairing writes both directions in one transaction
func (m *PresenceMirror) SetPairing(ctx context.Context, a, b string) error {
	_, err := m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, pairingsKey, a, b, b, a)
		return nil
	})
	return err
}

func (m *PresenceMirror) ClearPairing(ctx context.Context, a, b string) error {
	return m.rdb.HDel(ctx, pairingsKey, a, b).Err()
}
