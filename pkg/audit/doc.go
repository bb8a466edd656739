// Package audit records an audit trail of identity mutations and
// authorization failures, with scheduled retention cleanup.
package audit
