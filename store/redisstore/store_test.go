package redisstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goRotate/store"
	"github.com/MrEthical07/goRotate/store/storetest"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisBackend(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		_, rdb := newTestRedis(t)
		return New(rdb)
	})
}

func TestKeyLayoutUsesPrefix(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := New(rdb, WithPrefix("app"))
	ctx := context.Background()

	f := storetest.NewFamily("f1", "u1")
	require.NoError(t, s.CreateFamily(ctx, f))
	require.NoError(t, s.Put(ctx, storetest.NewRecord(f, "t0", 0, f.CreatedAt)))

	assert.True(t, mr.Exists("app:fam:f1"))
	assert.True(t, mr.Exists("app:tok:t0"))
	members, err := mr.SMembers("app:user:u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, members)
	assert.Equal(t, "f1", mr.HGet("app:tok:t0", "family"))
}

func TestSweepRunsInBatches(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := New(rdb, WithSweepBatch(3))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		f := storetest.NewFamily(fmt.Sprintf("f%d", i), "u1")
		require.NoError(t, s.CreateFamily(ctx, f))
		require.NoError(t, s.Put(ctx, storetest.NewRecord(f, fmt.Sprintf("t%d", i), 0, f.CreatedAt)))
	}

	res, err := s.SweepOlderThan(ctx, storetest.Base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, store.SweepResult{Records: 10, Families: 10}, res)

	ids, err := s.ListFamilies(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCorruptRecordReportsUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := New(rdb)

	mr.HSet("rt:tok:bad", "gen", "not-a-number", "created", "0", "last_used", "0")
	_, err := s.Get(context.Background(), "bad")
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestUnavailableWhenRedisDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := New(rdb)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := s.GetFamily(ctx, "f1")
	assert.True(t, errors.Is(err, store.ErrUnavailable), "got %v", err)

	_, err = s.Rotate(ctx, store.RotateRequest{
		FamilyID: "f1", TokenID: "t0", ExpectedGeneration: 0,
		Next: store.RefreshRecord{TokenID: "t1", FamilyID: "f1", Generation: 1},
		At:   time.Now(),
	})
	assert.ErrorIs(t, err, store.ErrUnavailable)

	_, err = s.Ping(ctx)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}
