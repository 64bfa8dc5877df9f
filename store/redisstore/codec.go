package redisstore

import (
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/goRotate/store"
)

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if ms == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms).UTC(), nil
}

func decodeFamily(id string, f map[string]string) (store.Family, error) {
	fam := store.Family{
		FamilyID: id,
		UserID:   f["user"],
		DeviceID: f["device"],
		Role:     f["role"],
		Revoked:  f["revoked"] == "1",
	}
	var err error
	if fam.CreatedAt, err = fromMillis(f["created"]); err != nil {
		return store.Family{}, corrupt("family", id, err)
	}
	if fam.RevokedAt, err = fromMillis(f["revoked_at"]); err != nil {
		return store.Family{}, corrupt("family", id, err)
	}
	if fam.CurrentGeneration, err = strconv.ParseUint(f["cur"], 10, 64); err != nil {
		return store.Family{}, corrupt("family", id, err)
	}
	if fam.MaxGeneration, err = strconv.ParseUint(f["max"], 10, 64); err != nil {
		return store.Family{}, corrupt("family", id, err)
	}
	return fam, nil
}

func decodeRecord(id string, f map[string]string) (store.RefreshRecord, error) {
	rec := store.RefreshRecord{
		TokenID:     id,
		UserID:      f["user"],
		DeviceID:    f["device"],
		FamilyID:    f["family"],
		Consumed:    f["consumed"] == "1",
		RotatedTo:   f["rotated_to"],
		Fingerprint: f["fp"],
		Revoked:     f["revoked"] == "1",
	}
	var err error
	if rec.Generation, err = strconv.ParseUint(f["gen"], 10, 64); err != nil {
		return store.RefreshRecord{}, corrupt("token", id, err)
	}
	if rec.CreatedAt, err = fromMillis(f["created"]); err != nil {
		return store.RefreshRecord{}, corrupt("token", id, err)
	}
	if rec.LastUsedAt, err = fromMillis(f["last_used"]); err != nil {
		return store.RefreshRecord{}, corrupt("token", id, err)
	}
	return rec, nil
}

func corrupt(kind, id string, err error) error {
	return fmt.Errorf("%w: corrupt %s %q: %v", store.ErrUnavailable, kind, id, err)
}
