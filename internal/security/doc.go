// Package security builds the security posture report exposed by Engine.SecurityReport.
//
// It only reads configuration values; it never changes engine behaviour.
package security
