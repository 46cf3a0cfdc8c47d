// Package dedup indexes setup files by content hash so identical payloads
// from different providers or seasons resolve to one file on disk.
package dedup
