// Package store defines the persistence port used by the rotation engine: the family
// ledger, the refresh-token record store and the atomic rotate operation that joins them.
//
// # Implementations
//
//   - store/memory: single-process maps behind one mutex
//   - store/redisstore: go-redis hashes with Lua compare-and-swap scripts
//   - store/postgres: database/sql over pgx with conditional UPDATE statements
//
// # What this package must NOT do
//
//   - Interpret or sign tokens.
//   - Decide policy (reuse handling, tolerance). Backends report facts; the engine decides.
package store
