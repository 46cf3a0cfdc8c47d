// Package preflight provides readiness checks for the directories,
// state files, and provider credentials a sync run depends on.
//
// The checks run in two contexts:
//   - The download command calls RunAll before starting a run. A failed
//     check aborts early instead of discovering a read-only setups
//     directory halfway through the catalog.
//   - The CLI "setupsync status" command uses the individual check
//     functions to display health.
package preflight
