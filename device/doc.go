// Package device derives device identifiers from request metadata and computes the keyed
// fingerprint that binds a refresh token to (user, device, family).
package device
