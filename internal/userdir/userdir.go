// Package userdir is the in-memory credential directory behind the reference server's
// /auth/login route.
package userdir

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrEthical07/goRotate/password"
)

// ErrInvalidCredentials hides whether the email or the password was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Identity is what a successful credential check yields.
type Identity struct {
	UserID string
	Role   string
}

type entry struct {
	Identity
	hash string
}

// Directory maps normalised emails to password hashes.
type Directory struct {
	hasher *password.Hasher

	mu    sync.RWMutex
	users map[string]entry
	// dummy is verified for unknown emails so both paths cost one hash.
	dummy string
}

// New returns an empty Directory that hashes with hasher.
func New(hasher *password.Hasher) (*Directory, error) {
	dummy, err := hasher.Hash("userdir-timing-equaliser")
	if err != nil {
		return nil, err
	}
	return &Directory{hasher: hasher, users: make(map[string]entry), dummy: dummy}, nil
}

// Add hashes plain and stores it under email.
func (d *Directory) Add(email, userID, role, plain string) error {
	hash, err := d.hasher.Hash(plain)
	if err != nil {
		return err
	}
	return d.AddHashed(email, userID, role, hash)
}

// AddHashed stores a precomputed Argon2id or bcrypt hash.
func (d *Directory) AddHashed(email, userID, role, hash string) error {
	email = normalise(email)
	if email == "" || strings.TrimSpace(userID) == "" {
		return errors.New("userdir: email and user id required")
	}
	if _, err := d.hasher.NeedsRehash(hash); err != nil {
		return fmt.Errorf("userdir: %s: %w", email, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[email] = entry{Identity: Identity{UserID: userID, Role: role}, hash: hash}
	return nil
}

// Verify checks the credentials. Outdated hashes are upgraded in place on success.
func (d *Directory) Verify(_ context.Context, email, plain string) (Identity, error) {
	email = normalise(email)

	d.mu.RLock()
	e, ok := d.users[email]
	d.mu.RUnlock()

	if !ok {
		_, _ = d.hasher.Verify(plain, d.dummy)
		return Identity{}, ErrInvalidCredentials
	}
	match, err := d.hasher.Verify(plain, e.hash)
	if err != nil {
		return Identity{}, err
	}
	if !match {
		return Identity{}, ErrInvalidCredentials
	}

	if stale, _ := d.hasher.NeedsRehash(e.hash); stale {
		if fresh, err := d.hasher.Hash(plain); err == nil {
			d.mu.Lock()
			if cur, ok := d.users[email]; ok && cur.hash == e.hash {
				cur.hash = fresh
				d.users[email] = cur
			}
			d.mu.Unlock()
		}
	}
	return e.Identity, nil
}

// Load parses "email:userID:role:hash" entries separated by semicolons.
func (d *Directory) Load(spec string) error {
	for _, item := range strings.Split(spec, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, ":", 4)
		if len(parts) != 4 {
			return fmt.Errorf("userdir: malformed entry %q", item)
		}
		if err := d.AddHashed(parts[0], parts[1], parts[2], parts[3]); err != nil {
			return err
		}
	}
	return nil
}

// Len reports how many users are loaded.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}

func normalise(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// VerifyCredentials adapts Verify to the HTTP layer's UserVerifier.
func (d *Directory) VerifyCredentials(ctx context.Context, email, plain string) (string, string, error) {
	id, err := d.Verify(ctx, email, plain)
	if err != nil {
		return "", "", err
	}
	return id.UserID, id.Role, nil
}
