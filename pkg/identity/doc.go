// Package identity implements the core user lifecycle: creation with
// password hashing, profile and group membership updates, secondary
// index registration and lookup, and avatar storage with thumbnail
// rendering.
//
// All writes to a user record go through the service's per-user lock,
// which serializes concurrent read-modify-write cycles against the
// same identity. Authorization is decided by the permission gate: a
// caller passes with the required permission, or, on self-service
// routes, by targeting their own record.
//
// HTTP handlers for the /api/v1 surface live here as well, keeping
// route registration next to the operations they expose.
package identity
