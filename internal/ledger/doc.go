// Package ledger persists which setups have already been downloaded so
// repeated runs only fetch new or changed items.
package ledger
