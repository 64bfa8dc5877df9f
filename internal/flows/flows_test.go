package flows

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goRotate/device"
	"github.com/MrEthical07/goRotate/internal/keylock"
	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/store"
	"github.com/MrEthical07/goRotate/store/memory"
)

type harness struct {
	now    time.Time
	codec  *jwt.Codec
	binder *device.Binder
	mem    *memory.Store
	seq    atomic.Int64
	device string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{now: time.Unix(1_700_000_000, 0).UTC(), mem: memory.New()}
	codec, err := jwt.NewCodec(jwt.Config{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("flows-test-signing-key-0123456789"),
		Now:           h.clock,
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	binder, err := device.NewBinder([]byte("flows-test-fingerprint-key"))
	if err != nil {
		t.Fatalf("new binder: %v", err)
	}
	h.codec = codec
	h.binder = binder
	return h
}

func (h *harness) clock() time.Time { return h.now }

func (h *harness) newID() string { return fmt.Sprintf("id-%d", h.seq.Add(1)) }

func (h *harness) loginDeps() LoginDeps {
	return LoginDeps{Now: h.clock, NewID: h.newID, Tokens: h.codec, Fingerprint: h.binder, Store: h.mem}
}

func (h *harness) refreshDeps() RefreshDeps {
	return RefreshDeps{
		Now:                 h.clock,
		NewID:               h.newID,
		ParseRefresh:        h.codec.ParseRefresh,
		Tokens:              h.codec,
		Fingerprint:         h.binder,
		Store:               h.mem,
		Locks:               keylock.New(8),
		GenerationTolerance: 2,
		DeviceIDFromContext: func(context.Context) string { return h.device },
	}
}

func (h *harness) revokeDeps() RevokeDeps {
	return RevokeDeps{Now: h.clock, ParseRefreshForRevocation: h.codec.ParseRefreshForRevocation, Store: h.mem}
}

func (h *harness) login(t *testing.T, user string) LoginResult {
	t.Helper()
	res := RunLogin(context.Background(), LoginRequest{UserID: user, Role: "user", DeviceID: "dev-1"}, h.loginDeps())
	if res.Failure != LoginFailureNone {
		t.Fatalf("login failed: %v", res.Err)
	}
	return res
}

func (h *harness) familyRevoked(t *testing.T, familyID string) bool {
	t.Helper()
	f, err := h.mem.GetFamily(context.Background(), familyID)
	if err != nil {
		t.Fatalf("get family: %v", err)
	}
	return f.Revoked
}

func TestLoginCreatesGenerationZero(t *testing.T) {
	h := newHarness(t)
	res := h.login(t, "u1")

	if res.RefreshClaims.Generation != 0 {
		t.Fatalf("expected generation 0, got %d", res.RefreshClaims.Generation)
	}
	if res.AccessClaims.SessionID != res.FamilyID {
		t.Fatalf("access sid %q does not name family %q", res.AccessClaims.SessionID, res.FamilyID)
	}
	rec, err := h.mem.Get(context.Background(), res.TokenID)
	if err != nil {
		t.Fatalf("stored record: %v", err)
	}
	if rec.Consumed || rec.Fingerprint != res.RefreshClaims.Fingerprint {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestLoginRejectsMissingIdentity(t *testing.T) {
	h := newHarness(t)
	res := RunLogin(context.Background(), LoginRequest{UserID: " ", DeviceID: "d"}, h.loginDeps())
	if res.Failure != LoginFailureInvalidRequest {
		t.Fatalf("expected invalid request, got %v", res.Failure)
	}
}

type failingPut struct{ *memory.Store }

func (failingPut) Put(context.Context, store.RefreshRecord) error { return store.ErrUnavailable }

func TestLoginPutFailureRevokesFamily(t *testing.T) {
	h := newHarness(t)
	deps := h.loginDeps()
	deps.Store = failingPut{h.mem}

	res := RunLogin(context.Background(), LoginRequest{UserID: "u1", DeviceID: "d"}, deps)
	if res.Failure != LoginFailureStore {
		t.Fatalf("expected store failure, got %v", res.Failure)
	}
	if !h.familyRevoked(t, res.FamilyID) {
		t.Fatal("family without a stored token should be revoked")
	}
}

func TestRefreshRotatesAndAdvances(t *testing.T) {
	h := newHarness(t)
	login := h.login(t, "u1")

	res := RunRefresh(context.Background(), login.RefreshToken, h.refreshDeps())
	if res.Failure != RefreshFailureNone {
		t.Fatalf("refresh failed: %v (%v)", res.Failure, res.Err)
	}
	if res.NewGeneration != 1 || res.RefreshClaims.Generation != 1 {
		t.Fatalf("expected generation 1, got %d/%d", res.NewGeneration, res.RefreshClaims.Generation)
	}
	if res.RefreshClaims.FamilyID != login.FamilyID || res.Role != "user" {
		t.Fatalf("rotation left the family: %+v", res.RefreshClaims)
	}
	old, _ := h.mem.Get(context.Background(), login.TokenID)
	if !old.Consumed || old.RotatedTo != res.RefreshClaims.TokenID {
		t.Fatalf("presented token not consumed: %+v", old)
	}
}

func TestRefreshReplayRevokesFamily(t *testing.T) {
	h := newHarness(t)
	login := h.login(t, "u1")
	deps := h.refreshDeps()

	first := RunRefresh(context.Background(), login.RefreshToken, deps)
	if first.Failure != RefreshFailureNone {
		t.Fatalf("first refresh: %v", first.Err)
	}
	h.now = h.now.Add(time.Minute)

	replay := RunRefresh(context.Background(), login.RefreshToken, deps)
	if replay.Failure != RefreshFailureReuse || !replay.Revoked {
		t.Fatalf("expected reuse with revocation, got %+v", replay)
	}
	if !replay.ConsumedAt.Equal(h.now.Add(-time.Minute)) {
		t.Fatalf("unexpected consumed-at %v", replay.ConsumedAt)
	}

	next := RunRefresh(context.Background(), first.RefreshToken, deps)
	if next.Failure != RefreshFailureFamilyRevoked {
		t.Fatalf("successor after reuse should be revoked, got %v", next.Failure)
	}

	again := RunRefresh(context.Background(), login.RefreshToken, deps)
	if again.Failure != RefreshFailureReuse || again.Revoked {
		t.Fatalf("second replay should report reuse without re-revoking, got %+v", again)
	}
}

func TestRefreshUnknownTokenRevokes(t *testing.T) {
	h := newHarness(t)
	login := h.login(t, "u1")

	forged, _, err := h.codec.IssueRefresh(jwt.RefreshSpec{
		UserID:      "u1",
		DeviceID:    "dev-1",
		FamilyID:    login.FamilyID,
		TokenID:     "never-stored",
		Generation:  0,
		Fingerprint: login.RefreshClaims.Fingerprint,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	res := RunRefresh(context.Background(), forged, h.refreshDeps())
	if res.Failure != RefreshFailureUnknownToken || !errors.Is(res.Err, store.ErrNotFound) {
		t.Fatalf("expected unknown token, got %+v", res)
	}
	if !h.familyRevoked(t, login.FamilyID) {
		t.Fatal("family should be revoked")
	}
}

func TestRefreshFingerprintMismatch(t *testing.T) {
	h := newHarness(t)
	login := h.login(t, "u1")

	// Same ids as the stored token, but a fingerprint for another device.
	tampered, _, err := h.codec.IssueRefresh(jwt.RefreshSpec{
		UserID:      "u1",
		DeviceID:    "dev-1",
		FamilyID:    login.FamilyID,
		TokenID:     login.TokenID,
		Generation:  0,
		Fingerprint: h.binder.Fingerprint("u1", "dev-2", login.FamilyID),
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	res := RunRefresh(context.Background(), tampered, h.refreshDeps())
	if res.Failure != RefreshFailureFingerprint {
		t.Fatalf("expected fingerprint failure, got %v", res.Failure)
	}
	if !h.familyRevoked(t, login.FamilyID) {
		t.Fatal("family should be revoked")
	}
}

func TestRefreshGenerationTolerance(t *testing.T) {
	for _, tc := range []struct {
		name    string
		advance int
		want    RefreshFailureKind
	}{
		{name: "within", advance: 2, want: RefreshFailureNone},
		{name: "beyond", advance: 3, want: RefreshFailureGeneration},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			login := h.login(t, "u1")
			for i := 0; i < tc.advance; i++ {
				if _, err := h.mem.AdvanceGeneration(context.Background(), login.FamilyID); err != nil {
					t.Fatalf("advance: %v", err)
				}
			}
			res := RunRefresh(context.Background(), login.RefreshToken, h.refreshDeps())
			if res.Failure != tc.want {
				t.Fatalf("expected %v, got %v (%v)", tc.want, res.Failure, res.Err)
			}
			if tc.want == RefreshFailureNone && res.GenerationDrift != -2 {
				t.Fatalf("expected drift -2, got %d", res.GenerationDrift)
			}
			if tc.want == RefreshFailureGeneration && !h.familyRevoked(t, login.FamilyID) {
				t.Fatal("family should be revoked")
			}
		})
	}
}

func TestRefreshDeviceBinding(t *testing.T) {
	h := newHarness(t)
	login := h.login(t, "u1")
	h.device = "dev-other"

	deps := h.refreshDeps()
	deps.DetectDeviceChange = true
	detected := RunRefresh(context.Background(), login.RefreshToken, deps)
	if detected.Failure != RefreshFailureNone || !detected.DeviceMismatch {
		t.Fatalf("detect mode should flag and allow, got %+v", detected)
	}

	deps.EnforceDeviceBinding = true
	enforced := RunRefresh(context.Background(), detected.RefreshToken, deps)
	if enforced.Failure != RefreshFailureDeviceBinding {
		t.Fatalf("expected binding rejection, got %v", enforced.Failure)
	}
	if !h.familyRevoked(t, login.FamilyID) {
		t.Fatal("family should be revoked")
	}
}

type racingRotate struct{ *memory.Store }

func (racingRotate) Rotate(context.Context, store.RotateRequest) (uint64, error) {
	return 0, store.ErrAlreadyConsumed
}

func TestRefreshLostRaceRevokes(t *testing.T) {
	h := newHarness(t)
	login := h.login(t, "u1")
	deps := h.refreshDeps()
	deps.Store = racingRotate{h.mem}

	res := RunRefresh(context.Background(), login.RefreshToken, deps)
	if res.Failure != RefreshFailureRotateRace || !res.Revoked {
		t.Fatalf("expected race failure with revocation, got %+v", res)
	}
	if !h.familyRevoked(t, login.FamilyID) {
		t.Fatal("family should be revoked")
	}
}

// cancelAwareRevoke fails revocation on a cancelled context, like a network backend would.
type cancelAwareRevoke struct{ *memory.Store }

func (s cancelAwareRevoke) RevokeFamily(ctx context.Context, familyID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.RevokeFamily(ctx, familyID, at)
}

func TestRefreshRevocationSurvivesCancelledContext(t *testing.T) {
	h := newHarness(t)
	login := h.login(t, "u1")
	deps := h.refreshDeps()
	deps.Store = cancelAwareRevoke{h.mem}
	if r := RunRefresh(context.Background(), login.RefreshToken, deps); r.Failure != RefreshFailureNone {
		t.Fatalf("first refresh: %v", r.Err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	replay := RunRefresh(ctx, login.RefreshToken, deps)
	if replay.Failure != RefreshFailureReuse {
		t.Fatalf("expected reuse, got %v", replay.Failure)
	}
	if replay.RevokeErr != nil || !h.familyRevoked(t, login.FamilyID) {
		t.Fatalf("revocation should complete: %v", replay.RevokeErr)
	}
}

func TestRefreshRejectsGarbage(t *testing.T) {
	h := newHarness(t)
	res := RunRefresh(context.Background(), "not-a-token", h.refreshDeps())
	if res.Failure != RefreshFailureInvalidToken {
		t.Fatalf("expected invalid token, got %v", res.Failure)
	}
}

func TestLogoutAcceptsExpiredToken(t *testing.T) {
	h := newHarness(t)
	login := h.login(t, "u1")
	h.now = h.now.Add(8 * 24 * time.Hour)

	res := RunLogout(context.Background(), login.RefreshToken, h.revokeDeps())
	if res.Err != nil || res.FamilyID != login.FamilyID {
		t.Fatalf("logout: %+v", res)
	}
	if !h.familyRevoked(t, login.FamilyID) {
		t.Fatal("family should be revoked")
	}
	if again := RunLogout(context.Background(), login.RefreshToken, h.revokeDeps()); again.Err != nil {
		t.Fatalf("second logout should be a no-op: %v", again.Err)
	}
}

func TestRevokeAllCoversEveryFamily(t *testing.T) {
	h := newHarness(t)
	a := h.login(t, "u1")
	b := h.login(t, "u1")
	other := h.login(t, "u2")

	n, err := RunRevokeAll(context.Background(), "u1", h.revokeDeps())
	if err != nil || n != 2 {
		t.Fatalf("revoke all: n=%d err=%v", n, err)
	}
	if !h.familyRevoked(t, a.FamilyID) || !h.familyRevoked(t, b.FamilyID) {
		t.Fatal("u1 families should be revoked")
	}
	if h.familyRevoked(t, other.FamilyID) {
		t.Fatal("u2 family must be untouched")
	}
}

func TestRevokeAllCountsOnlyLiveFamilies(t *testing.T) {
	h := newHarness(t)
	dead := h.login(t, "u1")
	live := h.login(t, "u1")

	if res := RunLogout(context.Background(), dead.RefreshToken, h.revokeDeps()); res.Err != nil {
		t.Fatalf("logout: %v", res.Err)
	}

	n, err := RunRevokeAll(context.Background(), "u1", h.revokeDeps())
	if err != nil || n != 1 {
		t.Fatalf("revoke all: n=%d err=%v, want 1", n, err)
	}
	if !h.familyRevoked(t, live.FamilyID) {
		t.Fatal("live family should be revoked")
	}

	n, err = RunRevokeAll(context.Background(), "u1", h.revokeDeps())
	if err != nil || n != 0 {
		t.Fatalf("second revoke all: n=%d err=%v, want 0", n, err)
	}
}

type failingPutStore struct {
	*memory.Store
	putErr    error
	revokeErr error
}

func (s failingPutStore) Put(context.Context, store.RefreshRecord) error { return s.putErr }

func (s failingPutStore) RevokeFamily(ctx context.Context, familyID string, at time.Time) error {
	if s.revokeErr != nil {
		return s.revokeErr
	}
	return s.Store.RevokeFamily(ctx, familyID, at)
}

func TestLoginRevokesFamilyWhenRecordWriteFails(t *testing.T) {
	putErr := errors.New("put failed")
	revokeErr := errors.New("revoke failed")

	for _, tc := range []struct {
		name      string
		revokeErr error
	}{
		{name: "compensation succeeds"},
		{name: "compensation fails", revokeErr: revokeErr},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			deps := h.loginDeps()
			deps.Store = failingPutStore{Store: h.mem, putErr: putErr, revokeErr: tc.revokeErr}

			res := RunLogin(context.Background(), LoginRequest{UserID: "u1", DeviceID: "dev-1"}, deps)
			if res.Failure != LoginFailureStore || !errors.Is(res.Err, putErr) {
				t.Fatalf("unexpected result %+v", res)
			}
			if tc.revokeErr != nil {
				if !errors.Is(res.Err, revokeErr) {
					t.Fatalf("compensation error lost: %v", res.Err)
				}
				return
			}
			if !h.familyRevoked(t, res.FamilyID) {
				t.Fatal("half-created family should be revoked")
			}
		})
	}
}
