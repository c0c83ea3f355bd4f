package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datachat/internal/config"
	"datachat/internal/session"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := NewFromClient(backend.NewClient(&backend.Options{Addr: mr.Addr()}), "test:session:")
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedisSessionStoreContract(t *testing.T) {
	client, _ := newTestClient(t)
	session.RunStoreContract(t, NewSessionStore(client, time.Hour))
}

func TestRedisSessionStoreTTL(t *testing.T) {
	client, mr := newTestClient(t)
	store := NewSessionStore(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, session.New("ttl", time.Now())))
	assert.True(t, mr.Exists("test:session:ttl"))

	mr.FastForward(2 * time.Minute)
	_, err := store.Load(ctx, "ttl")
	assert.ErrorIs(t, err, session.ErrNotFound)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	members, err := mr.ZMembers("test:session:index")
	if err == nil {
		assert.Empty(t, members, "stale index entries are pruned")
	}
}

func TestNewRedisClientPings(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cfg := &config.Config{Redis: config.RedisConfig{Host: mr.Host(), Port: port, Prefix: "p:"}}
	client, err := NewRedisClient(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, "p:", client.Prefix())

	mr.Close()
	_, err = NewRedisClient(context.Background(), cfg)
	assert.Error(t, err)
}
