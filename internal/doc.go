// Package internal contains helpers that are private to goRotate.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - config: environment-driven server configuration
//   - flows: login, refresh, logout and revoke-all orchestration
//   - keylock: striped per-family mutexes
//   - rate: Redis-backed fixed-window limiter
//   - security: posture report behind Engine.SecurityReport
//   - userdir: in-memory credential directory used by the reference server
//
// # What this package must NOT do
//
//   - Export types that appear in the public goRotate API.
//   - Be imported by any package outside the goRotate module.
package internal
