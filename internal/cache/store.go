package cache

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"

	"github.com/dgnsrekt/hookvoice/internal/correlation"
	"github.com/dgnsrekt/hookvoice/internal/ttypes"
)

const (
	lockStripes = 64

	// Only compress payloads larger than this
	compressThreshold = 1024

	compressedSuffix = ".zst"

	// Stray files younger than this may belong to a write in progress in
	// another process and are left alone by Reconcile.
	strayFileGrace = 10 * time.Minute
)

// Options configures a Store.
type Options struct {
	// CompressionLevel enables zstd compression when > 0 (1-22).
	CompressionLevel int

	// MemoryCapacity bounds the in-memory hot layer in bytes; 0 disables it.
	MemoryCapacity int64

	Logger *log.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store is the persistent audio cache. Audio lives in content-addressed
// files named by key; metadata lives in an index file in the same directory.
//
// Lock order: key stripe, then mu. Mutations of one key are serialized by
// its stripe; the index and size accounting are guarded by mu.
type Store struct {
	dir    string
	logger *log.Logger
	now    func() time.Time

	// Compression
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	hot *MemoryCache

	mu        sync.RWMutex
	index     map[string]*Entry
	totalSize uint64
	hits      uint64
	misses    uint64
	closed    bool

	keyLocks [lockStripes]sync.Mutex
}

// Open opens (creating if needed) the cache directory, loads the index and
// reconciles it against the files on disk.
func Open(ctx context.Context, dir string, opts Options) (*Store, error) {
	if dir == "" {
		return nil, errors.New("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	s := &Store{
		dir:    dir,
		logger: opts.Logger,
		now:    opts.Now,
		index:  make(map[string]*Entry),
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.MemoryCapacity > 0 {
		s.hot = NewMemoryCache(opts.MemoryCapacity)
	}

	if opts.CompressionLevel > 0 {
		var err error
		s.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.CompressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	// The decoder is always available so entries written with compression
	// stay readable after compression is turned off.
	var err error
	s.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	if err := s.loadIndex(); err != nil {
		// Non-fatal: start empty, reconciliation removes the unreferenced files
		s.logger.Warn("Discarding unreadable cache index",
			"code", ttypes.CodeCacheReadCorruption, "path", s.indexPath(), "error", err)
		s.index = make(map[string]*Entry)
		s.totalSize, s.hits, s.misses = 0, 0, 0
	}

	report, err := s.Reconcile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile cache: %w", err)
	}
	if report.Total() > 0 {
		s.logger.Info("Reconciled cache directory",
			"dir", dir,
			"missing", report.MissingFiles,
			"orphans", report.Orphans,
			"temp", report.TempFiles,
			"resized", report.SizeFixed)
	}

	return s, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string {
	return s.dir
}

// Get returns the entry and its audio. A known key whose backing file is
// missing or unreadable is treated as a miss and removed from the index.
func (s *Store) Get(ctx context.Context, key string) (Entry, []byte, bool) {
	return s.get(ctx, key, true)
}

// Recheck is Get for a caller that already counted a miss for key: a hit is
// counted, a miss is not.
func (s *Store) Recheck(ctx context.Context, key string) (Entry, []byte, bool) {
	return s.get(ctx, key, false)
}

func (s *Store) get(ctx context.Context, key string, countMiss bool) (Entry, []byte, bool) {
	s.mu.RLock()
	e, ok := s.index[key]
	closed := s.closed
	var entry Entry
	if ok {
		entry = *e
	}
	s.mu.RUnlock()

	if closed || !ok {
		if countMiss {
			s.countMiss()
		}
		return Entry{}, nil, false
	}

	data, err := s.readEntry(entry)
	if err != nil {
		logger := correlation.Logger(ctx, s.logger)
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Cache file missing, dropping stale entry", "key", key, "path", entry.FilePath)
			s.dropEntry(key, entry, false)
		} else {
			logger.Warn("Cache file unreadable, dropping entry",
				"code", ttypes.CodeCacheReadCorruption, "key", key, "error", err)
			s.dropEntry(key, entry, true)
		}
		if countMiss {
			s.countMiss()
		}
		return Entry{}, nil, false
	}

	s.countHit()
	return entry, data, true
}

// Put writes audio for key and commits its metadata. If the metadata commit
// fails the written file is removed, so no unindexed file is left behind.
func (s *Store) Put(ctx context.Context, key string, audio []byte, meta Metadata) (Entry, error) {
	if !validKey(key) {
		return Entry{}, ttypes.NewError(ttypes.CodeCacheWrite, "", "invalid key", ErrInvalidKey)
	}
	if len(audio) == 0 {
		return Entry{}, ttypes.NewError(ttypes.CodeCacheWrite, "", "refusing to cache empty audio", nil)
	}

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	format := strings.ToLower(meta.Format)
	if format == "" {
		format = ttypes.DefaultFormat
	}

	data, compressed := s.encode(audio)
	name := key + "." + format
	if compressed {
		name += compressedSuffix
	}
	path := filepath.Join(s.dir, name)

	if err := writeFileAtomic(path, data); err != nil {
		return Entry{}, ttypes.NewError(ttypes.CodeCacheWrite, "", "write audio file", err)
	}

	now := s.now()
	entry := &Entry{
		Key:            key,
		SizeBytes:      uint64(len(data)),
		CreatedAt:      now,
		LastAccessedAt: now,
		Provider:       meta.Provider,
		Voice:          meta.Voice,
		Format:         format,
		FilePath:       path,
		Compressed:     compressed,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		os.Remove(path)
		return Entry{}, ttypes.NewError(ttypes.CodeCacheWrite, "", "store closed", ErrStoreClosed)
	}

	prev, existed := s.index[key]
	if existed {
		s.totalSize -= prev.SizeBytes
	}
	s.index[key] = entry
	s.totalSize += entry.SizeBytes

	if err := s.saveIndexLocked(); err != nil {
		// The file may have replaced the previous entry's file, so drop the
		// key entirely rather than restoring metadata that no longer matches.
		delete(s.index, key)
		s.totalSize -= entry.SizeBytes
		s.mu.Unlock()

		os.Remove(path)
		if existed && prev.FilePath != path {
			os.Remove(prev.FilePath)
		}
		if s.hot != nil {
			s.hot.Delete(key)
		}
		return Entry{}, ttypes.NewError(ttypes.CodeCacheWrite, "", "commit index", err)
	}
	s.mu.Unlock()

	if existed && prev.FilePath != path {
		if err := os.Remove(prev.FilePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			correlation.Logger(ctx, s.logger).Warn("Failed to remove replaced cache file", "path", prev.FilePath, "error", err)
		}
	}
	if s.hot != nil {
		_ = s.hot.Put(key, audio)
	}

	return *entry, nil
}

// RecordHit updates the access time and hit count of key.
func (s *Store) RecordHit(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[key]
	if !ok {
		return nil
	}
	e.LastAccessedAt = s.now()
	if e.HitCount < math.MaxUint32 {
		e.HitCount++
	}
	if err := s.saveIndexLocked(); err != nil {
		return ttypes.NewError(ttypes.CodeCacheWrite, "", "persist hit", err)
	}
	return nil
}

// Remove deletes key and its backing file.
func (s *Store) Remove(ctx context.Context, key string) error {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	e, ok := s.index[key]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.index, key)
	s.totalSize -= e.SizeBytes
	saveErr := s.saveIndexLocked()
	s.mu.Unlock()

	if s.hot != nil {
		s.hot.Delete(key)
	}
	if err := os.Remove(e.FilePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		// Left for the next reconciliation sweep
		correlation.Logger(ctx, s.logger).Warn("Failed to remove cache file", "path", e.FilePath, "error", err)
	}
	if saveErr != nil {
		return ttypes.NewError(ttypes.CodeCacheWrite, "", "persist removal", saveErr)
	}
	return nil
}

// List returns a snapshot of all entries, least recently used first.
func (s *Store) List() []Entry {
	s.mu.RLock()
	entries := make([]Entry, 0, len(s.index))
	for _, e := range s.index {
		entries = append(entries, *e)
	}
	s.mu.RUnlock()

	sortLRU(entries)
	return entries
}

// Stats returns statistics derived from the current store state.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		EntryCount:     len(s.index),
		TotalSizeBytes: s.totalSize,
		CacheHits:      s.hits,
		CacheMisses:    s.misses,
	}
	if stats.CacheHits+stats.CacheMisses > 0 {
		stats.HitRate = float64(stats.CacheHits) / float64(stats.CacheHits+stats.CacheMisses)
	}
	return stats
}

// Clear removes every entry and file and resets the counters. It returns
// the number of entries that were removed.
func (s *Store) Clear(ctx context.Context) (int, error) {
	s.lockAll()
	defer s.unlockAll()

	s.mu.Lock()
	removed := len(s.index)
	for _, e := range s.index {
		if err := os.Remove(e.FilePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			correlation.Logger(ctx, s.logger).Warn("Failed to remove cache file", "path", e.FilePath, "error", err)
		}
	}
	s.index = make(map[string]*Entry)
	s.totalSize = 0
	s.hits = 0
	s.misses = 0
	err := s.saveIndexLocked()
	s.mu.Unlock()

	if s.hot != nil {
		s.hot.Clear()
	}
	if err != nil {
		return removed, ttypes.NewError(ttypes.CodeCacheWrite, "", "persist clear", err)
	}
	return removed, nil
}

// Reconcile makes the index and the directory agree: entries without files
// are dropped, files without entries are deleted once they are older than
// strayFileGrace, and recorded sizes are corrected.
func (s *Store) Reconcile(ctx context.Context) (ReconcileReport, error) {
	s.lockAll()
	defer s.unlockAll()

	s.mu.Lock()
	defer s.mu.Unlock()

	var report ReconcileReport
	logger := correlation.Logger(ctx, s.logger)

	referenced := make(map[string]bool, len(s.index))
	for key, e := range s.index {
		info, err := os.Stat(e.FilePath)
		if err != nil || !info.Mode().IsRegular() {
			delete(s.index, key)
			s.totalSize -= e.SizeBytes
			report.MissingFiles++
			continue
		}
		if size := uint64(info.Size()); size != e.SizeBytes {
			s.totalSize = s.totalSize - e.SizeBytes + size
			e.SizeBytes = size
			report.SizeFixed++
		}
		referenced[filepath.Base(e.FilePath)] = true
	}

	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return report, fmt.Errorf("read cache directory: %w", err)
	}
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || name == indexFileName {
			continue
		}
		if referenced[name] {
			continue
		}
		if info, err := de.Info(); err == nil && time.Since(info.ModTime()) < strayFileGrace {
			continue
		}
		if strings.HasSuffix(name, tempSuffix) {
			report.TempFiles++
		} else {
			report.Orphans++
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Failed to remove unreferenced cache file", "file", name, "error", err)
		}
	}

	if s.hot != nil && report.MissingFiles+report.SizeFixed > 0 {
		s.hot.Clear()
	}

	if report.Total() > 0 {
		if err := s.saveIndexLocked(); err != nil {
			return report, ttypes.NewError(ttypes.CodeCacheWrite, "", "persist reconciliation", err)
		}
	}
	return report, nil
}

// Close persists the index and releases the codecs.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	err := s.saveIndexLocked()
	if s.encoder != nil {
		s.encoder.Close()
	}
	s.decoder.Close()
	return err
}

// readEntry reads and decodes the backing file of entry.
func (s *Store) readEntry(entry Entry) ([]byte, error) {
	if _, err := os.Stat(entry.FilePath); err != nil {
		return nil, err
	}
	if s.hot != nil {
		if data, ok := s.hot.Get(entry.Key); ok {
			return data, nil
		}
	}

	data, err := os.ReadFile(entry.FilePath)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty cache file")
	}
	if entry.Compressed {
		data, err = s.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress: %w", err)
		}
	}

	if s.hot != nil {
		_ = s.hot.Put(entry.Key, data)
	}
	return data, nil
}

// dropEntry removes key from the index if it still refers to entry.
func (s *Store) dropEntry(key string, entry Entry, removeFile bool) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	if cur, ok := s.index[key]; ok && cur.FilePath == entry.FilePath && cur.CreatedAt.Equal(entry.CreatedAt) {
		delete(s.index, key)
		s.totalSize -= cur.SizeBytes
		if err := s.saveIndexLocked(); err != nil {
			s.logger.Warn("Failed to persist index after dropping entry", "key", key, "error", err)
		}
	}
	s.mu.Unlock()

	if s.hot != nil {
		s.hot.Delete(key)
	}
	if removeFile {
		os.Remove(entry.FilePath)
	}
}

// encode compresses audio when compression is enabled and it helps.
func (s *Store) encode(audio []byte) ([]byte, bool) {
	if s.encoder == nil || len(audio) <= compressThreshold {
		return audio, false
	}
	compressed := s.encoder.EncodeAll(audio, nil)
	if len(compressed) >= len(audio) {
		return audio, false
	}
	return compressed, true
}

func (s *Store) countHit() {
	s.mu.Lock()
	s.hits++
	s.mu.Unlock()
}

func (s *Store) countMiss() {
	s.mu.Lock()
	s.misses++
	s.mu.Unlock()
}

func (s *Store) keyLock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.keyLocks[h.Sum32()%lockStripes]
}

func (s *Store) lockAll() {
	for i := range s.keyLocks {
		s.keyLocks[i].Lock()
	}
}

func (s *Store) unlockAll() {
	for i := len(s.keyLocks) - 1; i >= 0; i-- {
		s.keyLocks[i].Unlock()
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// sortLRU orders entries by last access, oldest first; ties by creation.
func sortLRU(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.LastAccessedAt.Equal(b.LastAccessedAt) {
			return a.LastAccessedAt.Before(b.LastAccessedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Key < b.Key
	})
}
