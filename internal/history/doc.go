// Package history persists sync run summaries to SQLite so past runs can
// be inspected after the fact.
package history
