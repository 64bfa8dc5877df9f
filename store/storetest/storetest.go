// Package storetest is a behavioural suite every store.Backend implementation must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goRotate/store"
)

// Factory returns a fresh, empty backend.
type Factory func(t *testing.T) store.Backend

// Base is a millisecond-aligned instant so backends that store epoch millis round-trip exactly.
var Base = time.UnixMilli(1_700_000_000_000).UTC()

// Run executes the whole suite against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Run("FamilyLifecycle", func(t *testing.T) { testFamilyLifecycle(t, newBackend(t)) })
	t.Run("AdvanceGeneration", func(t *testing.T) { testAdvanceGeneration(t, newBackend(t)) })
	t.Run("RecordLifecycle", func(t *testing.T) { testRecordLifecycle(t, newBackend(t)) })
	t.Run("MarkConsumedOnce", func(t *testing.T) { testMarkConsumedOnce(t, newBackend(t)) })
	t.Run("RevokeCascades", func(t *testing.T) { testRevokeCascades(t, newBackend(t)) })
	t.Run("ListFamilies", func(t *testing.T) { testListFamilies(t, newBackend(t)) })
	t.Run("RotateSuccess", func(t *testing.T) { testRotateSuccess(t, newBackend(t)) })
	t.Run("RotateFailuresAreAtomic", func(t *testing.T) { testRotateFailures(t, newBackend(t)) })
	t.Run("RotateSingleWinner", func(t *testing.T) { testRotateSingleWinner(t, newBackend(t)) })
	t.Run("Sweep", func(t *testing.T) { testSweep(t, newBackend(t)) })
}

// NewFamily returns a generation-0 family owned by userID.
func NewFamily(familyID, userID string) store.Family {
	return store.Family{
		FamilyID:  familyID,
		UserID:    userID,
		DeviceID:  "dev-" + userID,
		Role:      "user",
		CreatedAt: Base,
	}
}

// NewRecord returns an unconsumed record for f at generation gen.
func NewRecord(f store.Family, tokenID string, gen uint64, createdAt time.Time) store.RefreshRecord {
	return store.RefreshRecord{
		TokenID:     tokenID,
		UserID:      f.UserID,
		DeviceID:    f.DeviceID,
		FamilyID:    f.FamilyID,
		Generation:  gen,
		CreatedAt:   createdAt,
		Fingerprint: "fp-" + f.FamilyID,
	}
}

func seed(t *testing.T, b store.Backend, f store.Family, tokenID string) store.RefreshRecord {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.CreateFamily(ctx, f))
	rec := NewRecord(f, tokenID, 0, f.CreatedAt)
	require.NoError(t, b.Put(ctx, rec))
	return rec
}

func testFamilyLifecycle(t *testing.T, b store.Backend) {
	ctx := context.Background()
	f := NewFamily("f1", "u1")
	require.NoError(t, b.CreateFamily(ctx, f))
	assert.ErrorIs(t, b.CreateFamily(ctx, f), store.ErrDuplicate)

	got, err := b.GetFamily(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, f.DeviceID, got.DeviceID)
	assert.Equal(t, "user", got.Role)
	assert.True(t, got.CreatedAt.Equal(Base))
	assert.Zero(t, got.CurrentGeneration)
	assert.Zero(t, got.MaxGeneration)
	assert.False(t, got.Revoked)

	_, err = b.GetFamily(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = b.Ping(ctx)
	assert.NoError(t, err)
}

func testAdvanceGeneration(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.CreateFamily(ctx, NewFamily("f1", "u1")))

	for want := uint64(1); want <= 3; want++ {
		got, err := b.AdvanceGeneration(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	fam, err := b.GetFamily(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), fam.CurrentGeneration)
	assert.Equal(t, uint64(3), fam.MaxGeneration)

	_, err = b.AdvanceGeneration(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, b.RevokeFamily(ctx, "f1", Base.Add(time.Minute)))
	_, err = b.AdvanceGeneration(ctx, "f1")
	assert.ErrorIs(t, err, store.ErrFamilyRevoked)
}

func testRecordLifecycle(t *testing.T, b store.Backend) {
	ctx := context.Background()
	f := NewFamily("f1", "u1")
	rec := seed(t, b, f, "t0")

	got, err := b.Get(ctx, "t0")
	require.NoError(t, err)
	assertRecord(t, rec, got)
	assert.True(t, got.LastUsedAt.IsZero())

	_, err = b.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testMarkConsumedOnce(t *testing.T, b store.Backend) {
	ctx := context.Background()
	seed(t, b, NewFamily("f1", "u1"), "t0")
	at := Base.Add(time.Hour)

	require.NoError(t, b.MarkConsumed(ctx, "t0", "t1", at))
	assert.ErrorIs(t, b.MarkConsumed(ctx, "t0", "t2", at.Add(time.Second)), store.ErrAlreadyConsumed)

	got, err := b.Get(ctx, "t0")
	require.NoError(t, err)
	assert.True(t, got.Consumed)
	assert.Equal(t, "t1", got.RotatedTo)
	assert.True(t, got.LastUsedAt.Equal(at))

	assert.ErrorIs(t, b.MarkConsumed(ctx, "missing", "x", at), store.ErrNotFound)
}

func testRevokeCascades(t *testing.T, b store.Backend) {
	ctx := context.Background()
	f := NewFamily("f1", "u1")
	seed(t, b, f, "t0")
	require.NoError(t, b.Put(ctx, NewRecord(f, "t1", 1, Base.Add(time.Minute))))
	other := seed(t, b, NewFamily("f2", "u1"), "x0")

	first := Base.Add(time.Hour)
	require.NoError(t, b.RevokeFamily(ctx, "f1", first))
	require.NoError(t, b.RevokeFamily(ctx, "f1", first.Add(time.Hour)))
	require.NoError(t, b.RevokeFamily(ctx, "unknown", first))

	fam, err := b.GetFamily(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, fam.Revoked)
	assert.True(t, fam.RevokedAt.Equal(first), "revocation time must not move")

	for _, id := range []string{"t0", "t1"} {
		rec, err := b.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.Revoked, "record %s must be revoked", id)
	}

	untouched, err := b.Get(ctx, other.TokenID)
	require.NoError(t, err)
	assert.False(t, untouched.Revoked)
}

func testListFamilies(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.CreateFamily(ctx, NewFamily("f1", "u1")))
	require.NoError(t, b.CreateFamily(ctx, NewFamily("f2", "u1")))
	require.NoError(t, b.CreateFamily(ctx, NewFamily("f3", "u2")))

	ids, err := b.ListFamilies(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"f1", "f2"}, ids)

	ids, err = b.ListFamilies(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func rotateReq(f store.Family, from, to string, expected uint64, at time.Time) store.RotateRequest {
	next := NewRecord(f, to, expected+1, at)
	return store.RotateRequest{
		FamilyID:           f.FamilyID,
		TokenID:            from,
		ExpectedGeneration: expected,
		Next:               next,
		At:                 at,
	}
}

func testRotateSuccess(t *testing.T, b store.Backend) {
	ctx := context.Background()
	f := NewFamily("f1", "u1")
	seed(t, b, f, "t0")
	at := Base.Add(time.Minute)

	gen, err := b.Rotate(ctx, rotateReq(f, "t0", "t1", 0, at))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)

	old, err := b.Get(ctx, "t0")
	require.NoError(t, err)
	assert.True(t, old.Consumed)
	assert.Equal(t, "t1", old.RotatedTo)
	assert.True(t, old.LastUsedAt.Equal(at))

	next, err := b.Get(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, next.Consumed)
	assert.Equal(t, uint64(1), next.Generation)

	fam, err := b.GetFamily(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), fam.CurrentGeneration)
	assert.Equal(t, uint64(1), fam.MaxGeneration)

	gen, err = b.Rotate(ctx, rotateReq(f, "t1", "t2", 1, at.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen)
}

func testRotateFailures(t *testing.T, b store.Backend) {
	ctx := context.Background()
	f := NewFamily("f1", "u1")
	seed(t, b, f, "t0")
	at := Base.Add(time.Minute)

	_, err := b.Rotate(ctx, rotateReq(f, "t0", "t0", 0, at))
	assert.ErrorIs(t, err, store.ErrInvalidRotation)

	_, err = b.Rotate(ctx, rotateReq(f, "t0", "bad-gen", 4, at))
	assert.ErrorIs(t, err, store.ErrGenerationConflict)
	rec, err := b.Get(ctx, "t0")
	require.NoError(t, err)
	assert.False(t, rec.Consumed, "failed rotate must not consume")
	_, err = b.Get(ctx, "bad-gen")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = b.Rotate(ctx, rotateReq(f, "missing", "x", 0, at))
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = b.Rotate(ctx, rotateReq(NewFamily("nofam", "u1"), "t0", "x", 0, at))
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = b.Rotate(ctx, rotateReq(f, "t0", "t1", 0, at))
	require.NoError(t, err)
	_, err = b.Rotate(ctx, rotateReq(f, "t0", "t1b", 0, at))
	assert.ErrorIs(t, err, store.ErrAlreadyConsumed)
	_, err = b.Get(ctx, "t1b")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, b.RevokeFamily(ctx, "f1", at))
	_, err = b.Rotate(ctx, rotateReq(f, "t1", "t2", 1, at))
	assert.ErrorIs(t, err, store.ErrFamilyRevoked)
	_, err = b.Get(ctx, "t2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testRotateSingleWinner(t *testing.T, b store.Backend) {
	ctx := context.Background()
	f := NewFamily("f1", "u1")
	seed(t, b, f, "t0")

	const n = 16
	var (
		wg      sync.WaitGroup
		success atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			req := rotateReq(f, "t0", fmt.Sprintf("t1-%d", i), 0, Base.Add(time.Minute))
			if _, err := b.Rotate(ctx, req); err == nil {
				success.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), success.Load())
	fam, err := b.GetFamily(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), fam.CurrentGeneration)
}

func testSweep(t *testing.T, b store.Backend) {
	ctx := context.Background()

	stale := NewFamily("stale", "u1")
	seed(t, b, stale, "s0")

	live := NewFamily("live", "u1")
	seed(t, b, live, "l0")
	_, err := b.Rotate(ctx, rotateReq(live, "l0", "l1", 0, Base.Add(48*time.Hour)))
	require.NoError(t, err)

	cutoff := Base.Add(24 * time.Hour)
	res, err := b.SweepOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Records)
	assert.Equal(t, 1, res.Families)

	_, err = b.Get(ctx, "s0")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = b.GetFamily(ctx, "stale")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// l0 was last used after the cutoff, so it stays as part of the audit chain.
	_, err = b.Get(ctx, "l0")
	assert.NoError(t, err)
	_, err = b.Get(ctx, "l1")
	assert.NoError(t, err)
	_, err = b.GetFamily(ctx, "live")
	assert.NoError(t, err)

	ids, err := b.ListFamilies(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, ids)

	res, err = b.SweepOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, store.SweepResult{}, res)
}

func assertRecord(t *testing.T, want, got store.RefreshRecord) {
	t.Helper()
	assert.Equal(t, want.TokenID, got.TokenID)
	assert.Equal(t, want.UserID, got.UserID)
	assert.Equal(t, want.DeviceID, got.DeviceID)
	assert.Equal(t, want.FamilyID, got.FamilyID)
	assert.Equal(t, want.Generation, got.Generation)
	assert.Equal(t, want.Fingerprint, got.Fingerprint)
	assert.Equal(t, want.Consumed, got.Consumed)
	assert.Equal(t, want.Revoked, got.Revoked)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", want.CreatedAt, got.CreatedAt)
}
