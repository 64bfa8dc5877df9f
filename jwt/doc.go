// Package jwt signs and verifies the two token types handled by goRotate.
//
// Access tokens are stateless and verified by signature and expiry alone. Refresh tokens
// carry the family id, token id, generation and family fingerprint; whether a refresh token
// is still redeemable is decided by the rotation engine, not by this package.
//
// # What this package must NOT do
//
//   - Access Redis, SQL or any other I/O.
//   - Implement rotation or reuse detection.
package jwt
