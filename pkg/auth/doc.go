// Package auth provides API token generation and validation plus the
// caller context consumed by the permission gate.
package auth
