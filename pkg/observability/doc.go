// Package observability provides structured logging, Prometheus metrics,
// and health check endpoints for the warden identity service.
package observability
