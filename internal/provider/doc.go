// Package provider defines the source adapter contract for setup
// providers and shared payload materialization helpers: dedup-aware
// file writing, archive path sanitizing, and the standardized setup
// filename convention.
package provider
