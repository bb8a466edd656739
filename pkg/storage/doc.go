// Package storage provides database connection management for the
// identity store. It opens and pools the SQL connection for the
// configured driver (postgres or sqlite3) and carries the settings
// for the optional redis read-through cache.
package storage
