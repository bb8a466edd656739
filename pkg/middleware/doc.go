// Package middleware provides HTTP middleware for authentication,
// request identification, logging, and rate limiting.
package middleware
