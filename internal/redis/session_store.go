package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"datachat/internal/session"
)

// SessionStore keeps each state under <prefix><id> and indexes ids in a
// sorted set scored by last update, so idle sweeps need no SCAN.
type SessionStore struct {
	client *Client
	ttl    time.Duration
}

// NewSessionStore builds a store; ttl, when positive, also expires keys
// server-side in case the janitor is not running.
func NewSessionStore(client *Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) key(id string) string { return s.client.prefix + id }

func (s *SessionStore) indexKey() string { return s.client.prefix + "index" }

func (s *SessionStore) Load(ctx context.Context, id string) (*session.State, error) {
	if s.client.Raw() == nil {
		return nil, errNotInitialized
	}
	data, err := s.client.inner.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session.Unmarshal(data)
}

func (s *SessionStore) Save(ctx context.Context, state *session.State) error {
	if s.client.Raw() == nil {
		return errNotInitialized
	}
	data, err := session.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	_, err = s.client.inner.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key(state.ID), data, s.ttl)
		p.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(state.UpdatedAt.UnixNano()), Member: state.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if s.client.Raw() == nil {
		return errNotInitialized
	}
	_, err := s.client.inner.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.key(id))
		p.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List returns indexed ids whose key still exists, dropping index entries
// left behind by server-side expiry.
func (s *SessionStore) List(ctx context.Context) ([]string, error) {
	if s.client.Raw() == nil {
		return nil, errNotInitialized
	}
	ids, err := s.client.inner.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	live := make([]string, 0, len(ids))
	var gone []interface{}
	for _, id := range ids {
		n, err := s.client.inner.Exists(ctx, s.key(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		if n == 0 {
			gone = append(gone, id)
			continue
		}
		live = append(live, id)
	}
	if len(gone) > 0 {
		s.client.inner.ZRem(ctx, s.indexKey(), gone...)
	}
	return live, nil
}

func (s *SessionStore) DeleteIdle(ctx context.Context, cutoff time.Time) (int, error) {
	if s.client.Raw() == nil {
		return 0, errNotInitialized
	}
	upper := "(" + strconv.FormatInt(cutoff.UnixNano(), 10)
	ids, err := s.client.inner.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
		members[i] = id
	}
	_, err = s.client.inner.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, keys...)
		p.ZRem(ctx, s.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	return len(ids), nil
}
