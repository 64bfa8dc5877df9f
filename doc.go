// Package goRotate issues rotating refresh tokens grouped into families and detects
// refresh-token reuse.
//
// Every login opens a family at generation 0. Each successful refresh consumes the
// presented token and issues a successor one generation higher. Presenting a consumed
// token again is treated as theft: the whole family is revoked, so both the attacker
// and the legitimate client lose the session.
//
// Engine methods are safe for concurrent use after [Builder.Build]. Refreshes of one
// family are serialised in-process and committed through the backend's atomic Rotate,
// so at most one of several concurrent redemptions of a token can succeed.
//
// # Architecture boundaries
//
// goRotate is the public surface: [Engine], [Builder], [Config], [Sweeper] and value
// types. Flow orchestration, audit dispatch and locking live under internal/. Storage
// backends implement store.Backend (memory, Redis, Postgres).
//
// # What this package must NOT do
//
//   - Verify credentials. Login receives an already authenticated user id.
//   - Roll back a revocation once decided, even when the request context is cancelled.
//   - Perform storage I/O in ValidateAccess.
package goRotate
