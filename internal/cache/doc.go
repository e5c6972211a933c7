// Package cache provides the bounded on-disk audio cache: deterministic key
// derivation, a content-addressed file store with a metadata index, an
// optional in-memory hot layer, and an LRU/TTL eviction policy.
package cache
