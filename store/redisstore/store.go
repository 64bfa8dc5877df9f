package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goRotate/store"
)

const defaultSweepBatch = 500

// Store is a Redis-backed store.Backend. Every state transition that touches more than
// one key runs as a Lua script, so Rotate and RevokeFamily are atomic. The scripts span
// families, users and the global activity sets, so Store needs a single-node (or
// Sentinel failover) client; Redis Cluster is not supported.
//
// Key layout (prefix "rt" by default):
//
//	rt:fam:{familyID}     hash  family state
//	rt:tok:{tokenID}      hash  refresh record
//	rt:famtok:{familyID}  set   token ids of the family
//	rt:user:{userID}      set   family ids of the user
//	rt:activity:tok       zset  token id -> last activity millis
//	rt:activity:fam       zset  family id -> last activity millis
type Store struct {
	redis      *redis.Client
	prefix     string
	sweepBatch int
}

var _ store.Backend = (*Store)(nil)

// Option tunes a Store.
type Option func(*Store)

// WithPrefix sets the key namespace.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithSweepBatch bounds how many keys one sweep script invocation touches.
func WithSweepBatch(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.sweepBatch = n
		}
	}
}

// New returns a Store using rdb. rdb must address one primary; see Store.
func New(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{redis: rdb, prefix: "rt", sweepBatch: defaultSweepBatch}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) familyKey(id string) string    { return s.prefix + ":fam:" + id }
func (s *Store) tokenKey(id string) string     { return s.prefix + ":tok:" + id }
func (s *Store) familySetKey(id string) string { return s.prefix + ":famtok:" + id }
func (s *Store) userKey(id string) string      { return s.prefix + ":user:" + id }
func (s *Store) tokenActivityKey() string      { return s.prefix + ":activity:tok" }
func (s *Store) familyActivityKey() string     { return s.prefix + ":activity:fam" }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

// CreateFamily writes the family hash and indexes it under its user.
func (s *Store) CreateFamily(ctx context.Context, f store.Family) error {
	code, err := createFamilyLua.Run(ctx, s.redis,
		[]string{s.familyKey(f.FamilyID), s.userKey(f.UserID), s.familyActivityKey()},
		f.FamilyID, f.UserID, f.DeviceID, f.Role, millis(f.CreatedAt),
	).Int64()
	if err != nil {
		return unavailable(err)
	}
	return statusError(code)
}

// GetFamily reads the family hash; a missing key is store.ErrNotFound.
func (s *Store) GetFamily(ctx context.Context, familyID string) (store.Family, error) {
	fields, err := s.redis.HGetAll(ctx, s.familyKey(familyID)).Result()
	if err != nil {
		return store.Family{}, unavailable(err)
	}
	if len(fields) == 0 {
		return store.Family{}, store.ErrNotFound
	}
	return decodeFamily(familyID, fields)
}

// AdvanceGeneration bumps the generation in a script that refuses revoked families.
func (s *Store) AdvanceGeneration(ctx context.Context, familyID string) (uint64, error) {
	res, err := advanceLua.Run(ctx, s.redis, []string{s.familyKey(familyID)}).Int64Slice()
	if err != nil {
		return 0, unavailable(err)
	}
	if len(res) == 0 {
		return 0, fmt.Errorf("%w: invalid advance script response", store.ErrUnavailable)
	}
	if err := statusError(res[0]); err != nil {
		return 0, err
	}
	if len(res) < 2 || res[1] < 0 {
		return 0, fmt.Errorf("%w: missing generation in advance response", store.ErrUnavailable)
	}
	return uint64(res[1]), nil
}

// RevokeFamily flags the family and cascades to its records in one script.
func (s *Store) RevokeFamily(ctx context.Context, familyID string, at time.Time) error {
	_, err := revokeLua.Run(ctx, s.redis,
		[]string{s.familyKey(familyID), s.familySetKey(familyID)},
		s.tokenKey(""), millis(at),
	).Int64()
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// ListFamilies returns the members of the user index, revoked families included.
func (s *Store) ListFamilies(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, unavailable(err)
	}
	return ids, nil
}

// Put writes a record and indexes it for its family and the sweeper.
func (s *Store) Put(ctx context.Context, r store.RefreshRecord) error {
	code, err := putRecordLua.Run(ctx, s.redis,
		[]string{s.tokenKey(r.TokenID), s.familySetKey(r.FamilyID), s.tokenActivityKey(), s.familyActivityKey()},
		r.TokenID, r.UserID, r.DeviceID, r.FamilyID,
		strconv.FormatUint(r.Generation, 10), millis(r.CreatedAt), r.Fingerprint,
	).Int64()
	if err != nil {
		return unavailable(err)
	}
	return statusError(code)
}

// Get reads the record hash; a missing key is store.ErrNotFound.
func (s *Store) Get(ctx context.Context, tokenID string) (store.RefreshRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.tokenKey(tokenID)).Result()
	if err != nil {
		return store.RefreshRecord{}, unavailable(err)
	}
	if len(fields) == 0 {
		return store.RefreshRecord{}, store.ErrNotFound
	}
	return decodeRecord(tokenID, fields)
}

// MarkConsumed flips consumed once; later calls return store.ErrAlreadyConsumed.
func (s *Store) MarkConsumed(ctx context.Context, tokenID, rotatedTo string, at time.Time) error {
	code, err := markConsumedLua.Run(ctx, s.redis,
		[]string{s.tokenKey(tokenID), s.tokenActivityKey(), s.familyActivityKey()},
		tokenID, rotatedTo, millis(at),
	).Int64()
	if err != nil {
		return unavailable(err)
	}
	return statusError(code)
}

// Rotate runs the consume/advance/put sequence inside one Lua script.
//
//	Performance: 1 EVALSHA.
//	Security: the script re-reads consumed and generation under Redis' single-threaded
//	execution, so two concurrent redemptions of one token cannot both succeed.
func (s *Store) Rotate(ctx context.Context, req store.RotateRequest) (uint64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	code, err := rotateLua.Run(ctx, s.redis,
		[]string{
			s.familyKey(req.FamilyID),
			s.tokenKey(req.TokenID),
			s.tokenKey(req.Next.TokenID),
			s.familySetKey(req.FamilyID),
			s.tokenActivityKey(),
			s.familyActivityKey(),
		},
		req.FamilyID,
		req.TokenID,
		strconv.FormatUint(req.ExpectedGeneration, 10),
		req.Next.TokenID,
		millis(req.At),
		req.Next.UserID,
		req.Next.DeviceID,
		req.Next.Fingerprint,
		millis(req.Next.CreatedAt),
	).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	if err := statusError(code); err != nil {
		return 0, err
	}
	return req.ExpectedGeneration + 1, nil
}

// SweepOlderThan runs the sweep script in batches until a pass makes no progress.
func (s *Store) SweepOlderThan(ctx context.Context, cutoff time.Time) (store.SweepResult, error) {
	var total store.SweepResult
	for {
		res, err := sweepLua.Run(ctx, s.redis,
			[]string{s.tokenActivityKey(), s.familyActivityKey()},
			millis(cutoff),
			s.tokenKey(""),
			s.familyKey(""),
			s.familySetKey(""),
			s.userKey(""),
			s.sweepBatch,
		).Int64Slice()
		if err != nil {
			return total, unavailable(err)
		}
		if len(res) != 4 {
			return total, fmt.Errorf("%w: invalid sweep script response", store.ErrUnavailable)
		}
		total.Records += int(res[0])
		total.Families += int(res[1])

		more := res[2] == int64(s.sweepBatch) || res[3] == int64(s.sweepBatch)
		if !more || res[0]+res[1] == 0 {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), unavailable(err)
	}
	return time.Since(start), nil
}

func statusError(code int64) error {
	switch code {
	case statusOK:
		return nil
	case statusNotFound:
		return store.ErrNotFound
	case statusRevoked:
		return store.ErrFamilyRevoked
	case statusConsumed:
		return store.ErrAlreadyConsumed
	case statusConflict:
		return store.ErrGenerationConflict
	case statusDuplicate:
		return store.ErrDuplicate
	default:
		return fmt.Errorf("%w: unknown script status %d", store.ErrUnavailable, code)
	}
}

// Name identifies the backend in security reports.
func (s *Store) Name() string { return "redis" }
