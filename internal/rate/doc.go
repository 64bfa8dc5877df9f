// Package rate implements the Redis fixed-window limiter in front of the login and
// refresh endpoints.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Keys under the
// configured prefix:
//   - login:<identifier>: failed logins per account
//   - loginip:<ip>: failed logins per client IP
//   - refresh:<ip>: refresh attempts per client IP
//
// # What this package must NOT do
//
//   - Decide token validity. Throttling happens before the engine is called.
//   - Be imported outside the goRotate module.
package rate
