package cache

import (
	"errors"
	"time"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when an item exceeds the hot layer capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrStoreClosed is returned when the store is used after Close
	ErrStoreClosed = errors.New("cache store is closed")

	// ErrInvalidKey is returned for keys that cannot name a cache file
	ErrInvalidKey = errors.New("invalid cache key")
)

// Entry is the metadata of one cached audio artifact.
type Entry struct {
	Key            string    `json:"key"`
	SizeBytes      uint64    `json:"size_bytes"` // Size on disk
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	HitCount       uint32    `json:"hit_count"`
	Provider       string    `json:"provider"`
	Voice          string    `json:"voice"`
	Format         string    `json:"format"`
	FilePath       string    `json:"file_path"`
	Compressed     bool      `json:"compressed"`
}

// Age returns how long ago the entry was created.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// Metadata describes the artifact being stored by Put.
type Metadata struct {
	Provider string
	Voice    string
	Format   string
}

// Stats holds cache metrics derived from the store state.
type Stats struct {
	EntryCount     int     `json:"entry_count"`
	TotalSizeBytes uint64  `json:"total_size_bytes"`
	CacheHits      uint64  `json:"cache_hits"`
	CacheMisses    uint64  `json:"cache_misses"`
	HitRate        float64 `json:"hit_rate"` // hits / (hits + misses)
}

// Limits bounds the store. Zero values are enforced literally except
// MaxAge, where zero disables the TTL sweep.
type Limits struct {
	MaxSizeBytes uint64
	MaxEntries   int
	MaxAge       time.Duration
}

// ReconcileReport summarizes a reconciliation sweep.
type ReconcileReport struct {
	MissingFiles int // Entries dropped because their file was gone
	Orphans      int // Files removed because no entry referenced them
	TempFiles    int // Leftover temp files removed
	SizeFixed    int // Entries whose recorded size was corrected
}

// Total returns the number of corrections made.
func (r ReconcileReport) Total() int {
	return r.MissingFiles + r.Orphans + r.TempFiles + r.SizeFixed
}
