// Package stores persists benchmark runs and their phase results in SQLite.
// The schema is managed with embedded golang-migrate migrations.
package stores
