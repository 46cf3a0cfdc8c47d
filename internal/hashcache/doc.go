// Package hashcache memoizes SHA-256 content hashes of setup files,
// invalidated by mtime and size so a moved or rewritten file is rehashed.
package hashcache
