package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goRotate/store"
)

// Store is a PostgreSQL-backed store.Backend.
//
// Rotate and RevokeFamily run in one transaction. Rotate takes row locks on the family
// and the presented token (SELECT ... FOR UPDATE), so concurrent redemptions serialise
// and only the first sees consumed = false.
type Store struct {
	db *sql.DB
}

var _ store.Backend = (*Store)(nil)

// New returns a Store over db. Call Migrate first on an empty database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

// CreateFamily inserts a family row at generation 0.
func (s *Store) CreateFamily(ctx context.Context, f store.Family) error {
	query := `
		INSERT INTO token_families (family_id, user_id, device_id, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (family_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, f.FamilyID, f.UserID, f.DeviceID, f.Role, f.CreatedAt)
	if err != nil {
		return unavailable(err)
	}
	return expectOne(res, store.ErrDuplicate)
}

// GetFamily selects one family; no row is store.ErrNotFound.
func (s *Store) GetFamily(ctx context.Context, familyID string) (store.Family, error) {
	query := `
		SELECT user_id, device_id, role, created_at, current_generation, max_generation, revoked, revoked_at
		FROM token_families
		WHERE family_id = $1
	`
	var (
		f         = store.Family{FamilyID: familyID}
		cur, top  int64
		revokedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, familyID).Scan(
		&f.UserID, &f.DeviceID, &f.Role, &f.CreatedAt, &cur, &top, &f.Revoked, &revokedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Family{}, store.ErrNotFound
		}
		return store.Family{}, unavailable(err)
	}
	f.CurrentGeneration = uint64(cur)
	f.MaxGeneration = uint64(top)
	if revokedAt.Valid {
		f.RevokedAt = revokedAt.Time
	}
	return f, nil
}

// AdvanceGeneration increments the generation of an unrevoked family.
func (s *Store) AdvanceGeneration(ctx context.Context, familyID string) (uint64, error) {
	query := `
		UPDATE token_families
		SET current_generation = current_generation + 1,
		    max_generation = GREATEST(max_generation, current_generation + 1)
		WHERE family_id = $1 AND revoked = FALSE
		RETURNING current_generation
	`
	var gen int64
	err := s.db.QueryRowContext(ctx, query, familyID).Scan(&gen)
	if err == nil {
		return uint64(gen), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, unavailable(err)
	}
	if _, err := s.GetFamily(ctx, familyID); err != nil {
		return 0, err
	}
	return 0, store.ErrFamilyRevoked
}

// RevokeFamily marks the family and its tokens revoked in one transaction.
func (s *Store) RevokeFamily(ctx context.Context, familyID string, at time.Time) error {
	err := withTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE token_families
			SET revoked = TRUE, revoked_at = COALESCE(revoked_at, $2)
			WHERE family_id = $1
		`, familyID, at); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE refresh_tokens
			SET revoked = TRUE
			WHERE family_id = $1 AND revoked = FALSE
		`, familyID)
		return err
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// ListFamilies returns the ids of every family userID owns.
func (s *Store) ListFamilies(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT family_id
		FROM token_families
		WHERE user_id = $1
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return ids, nil
}

// Put inserts a refresh token row; a key conflict is store.ErrDuplicate.
func (s *Store) Put(ctx context.Context, r store.RefreshRecord) error {
	return putRecord(ctx, s.db, r)
}

func putRecord(ctx context.Context, db DBTX, r store.RefreshRecord) error {
	query := `
		INSERT INTO refresh_tokens (token_id, family_id, user_id, device_id, generation, created_at, fingerprint)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (token_id) DO NOTHING
	`
	res, err := db.ExecContext(ctx, query,
		r.TokenID, r.FamilyID, r.UserID, r.DeviceID, int64(r.Generation), r.CreatedAt, r.Fingerprint,
	)
	if err != nil {
		return unavailable(err)
	}
	return expectOne(res, store.ErrDuplicate)
}

// Get selects one refresh token; no row is store.ErrNotFound.
func (s *Store) Get(ctx context.Context, tokenID string) (store.RefreshRecord, error) {
	query := `
		SELECT family_id, user_id, device_id, generation, created_at, last_used_at, consumed, rotated_to, fingerprint, revoked
		FROM refresh_tokens
		WHERE token_id = $1
	`
	var (
		r         = store.RefreshRecord{TokenID: tokenID}
		gen       int64
		lastUsed  sql.NullTime
		rotatedTo sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, tokenID).Scan(
		&r.FamilyID, &r.UserID, &r.DeviceID, &gen, &r.CreatedAt, &lastUsed, &r.Consumed, &rotatedTo, &r.Fingerprint, &r.Revoked,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.RefreshRecord{}, store.ErrNotFound
		}
		return store.RefreshRecord{}, unavailable(err)
	}
	r.Generation = uint64(gen)
	if lastUsed.Valid {
		r.LastUsedAt = lastUsed.Time
	}
	r.RotatedTo = rotatedTo.String
	return r, nil
}

const consumeQuery = `
		UPDATE refresh_tokens
		SET consumed = TRUE, rotated_to = $2, last_used_at = $3
		WHERE token_id = $1 AND consumed = FALSE
	`

// MarkConsumed sets consumed with a conditional UPDATE.
func (s *Store) MarkConsumed(ctx context.Context, tokenID, rotatedTo string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, consumeQuery, tokenID, rotatedTo, at)
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 1 {
		return nil
	}

	var consumed bool
	err = s.db.QueryRowContext(ctx, `SELECT consumed FROM refresh_tokens WHERE token_id = $1`, tokenID).Scan(&consumed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return unavailable(err)
	}
	return store.ErrAlreadyConsumed
}

// errRotateRejected carries a domain failure out of the transaction so withTx rolls back
// without the error being reported as a backend fault.
type errRotateRejected struct{ err error }

func (e errRotateRejected) Error() string { return e.err.Error() }
func (e errRotateRejected) Unwrap() error { return e.err }

// Rotate applies the conditional updates and the successor insert in one transaction.
func (s *Store) Rotate(ctx context.Context, req store.RotateRequest) (uint64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	next := req.ExpectedGeneration + 1

	err := withTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		var (
			cur        int64
			famRevoked bool
		)
		err := tx.QueryRowContext(ctx, `
			SELECT current_generation, revoked
			FROM token_families
			WHERE family_id = $1
			FOR UPDATE
		`, req.FamilyID).Scan(&cur, &famRevoked)
		if errors.Is(err, sql.ErrNoRows) {
			return errRotateRejected{store.ErrNotFound}
		}
		if err != nil {
			return err
		}
		if famRevoked {
			return errRotateRejected{store.ErrFamilyRevoked}
		}

		var (
			recFamily           string
			consumed, recRevoke bool
		)
		err = tx.QueryRowContext(ctx, `
			SELECT family_id, consumed, revoked
			FROM refresh_tokens
			WHERE token_id = $1
			FOR UPDATE
		`, req.TokenID).Scan(&recFamily, &consumed, &recRevoke)
		if errors.Is(err, sql.ErrNoRows) {
			return errRotateRejected{store.ErrNotFound}
		}
		if err != nil {
			return err
		}
		switch {
		case recFamily != req.FamilyID:
			return errRotateRejected{store.ErrNotFound}
		case recRevoke:
			return errRotateRejected{store.ErrFamilyRevoked}
		case consumed:
			return errRotateRejected{store.ErrAlreadyConsumed}
		case uint64(cur) != req.ExpectedGeneration:
			return errRotateRejected{store.ErrGenerationConflict}
		}

		res, err := tx.ExecContext(ctx, consumeQuery, req.TokenID, req.Next.TokenID, req.At)
		if err != nil {
			return err
		}
		if err := expectOne(res, errRotateRejected{store.ErrAlreadyConsumed}); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE token_families
			SET current_generation = $2, max_generation = GREATEST(max_generation, $2)
			WHERE family_id = $1 AND current_generation = $3
		`, req.FamilyID, int64(next), int64(req.ExpectedGeneration))
		if err != nil {
			return err
		}
		if err := expectOne(res, errRotateRejected{store.ErrGenerationConflict}); err != nil {
			return err
		}

		if err := putRecord(ctx, tx, req.Next); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return errRotateRejected{store.ErrDuplicate}
			}
			return err
		}
		return nil
	})
	if err != nil {
		var rejected errRotateRejected
		if errors.As(err, &rejected) {
			return 0, rejected.err
		}
		if errors.Is(err, store.ErrUnavailable) {
			return 0, err
		}
		return 0, unavailable(err)
	}
	return next, nil
}

// SweepOlderThan deletes idle tokens, then families with no tokens left.
func (s *Store) SweepOlderThan(ctx context.Context, cutoff time.Time) (store.SweepResult, error) {
	var out store.SweepResult
	err := withTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM refresh_tokens
			WHERE COALESCE(last_used_at, created_at) < $1
		`, cutoff)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		out.Records = int(n)

		res, err = tx.ExecContext(ctx, `
			DELETE FROM token_families f
			WHERE f.created_at < $1
			  AND NOT EXISTS (SELECT 1 FROM refresh_tokens r WHERE r.family_id = f.family_id)
		`, cutoff)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		if err != nil {
			return err
		}
		out.Families = int(n)
		return nil
	})
	if err != nil {
		return store.SweepResult{}, unavailable(err)
	}
	return out, nil
}

// Ping returns a point-in-time database availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.db.PingContext(ctx); err != nil {
		return time.Since(start), unavailable(err)
	}
	return time.Since(start), nil
}

func expectOne(res sql.Result, zero error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return zero
	}
	return nil
}

// Name identifies the backend in security reports.
func (s *Store) Name() string { return "postgres" }
