// Package middleware verifies bearer access tokens in front of protected routes.
//
// [Guard] wraps net/http handlers and [Gin] wraps gin routes. Both call
// Engine.ValidateAccess, which checks signature and expiry only, and store the
// resulting [goRotate.AccessResult] for the handler.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly.
//   - Consult the token store.
package middleware
