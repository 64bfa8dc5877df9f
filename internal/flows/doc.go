// Package flows holds the orchestration for every Engine operation as plain functions
// over explicit dependency structs. Flows never import the root package; they report a
// failure kind and the root maps it to sentinel errors, metrics and audit events.
package flows
