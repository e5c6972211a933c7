package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
)

const (
	indexFileName = "index.json"
	indexVersion  = 1
	tempSuffix    = ".tmp"
)

// indexFile is the on-disk schema of the metadata index.
type indexFile struct {
	Version int           `json:"version"`
	Hits    uint64        `json:"hits"`
	Misses  uint64        `json:"misses"`
	Entries []indexRecord `json:"entries"`
}

// indexRecord stores the file name relative to the cache directory so the
// directory can be moved without invalidating the index.
type indexRecord struct {
	Key            string    `json:"key"`
	File           string    `json:"file"`
	SizeBytes      uint64    `json:"size_bytes"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	HitCount       uint32    `json:"hit_count"`
	Provider       string    `json:"provider"`
	Voice          string    `json:"voice"`
	Format         string    `json:"format"`
	Compressed     bool      `json:"compressed,omitempty"`
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, indexFileName)
}

// loadIndex reads the index into s.index. A missing index is not an error.
func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	var idx indexFile
	if err := sonic.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("decode index: %w", err)
	}
	if idx.Version != indexVersion {
		return fmt.Errorf("unsupported index version %d", idx.Version)
	}

	s.hits = idx.Hits
	s.misses = idx.Misses
	for _, rec := range idx.Entries {
		if !validKey(rec.Key) || rec.File == "" || filepath.Base(rec.File) != rec.File {
			continue
		}
		s.index[rec.Key] = &Entry{
			Key:            rec.Key,
			SizeBytes:      rec.SizeBytes,
			CreatedAt:      rec.CreatedAt,
			LastAccessedAt: rec.LastAccessedAt,
			HitCount:       rec.HitCount,
			Provider:       rec.Provider,
			Voice:          rec.Voice,
			Format:         rec.Format,
			FilePath:       filepath.Join(s.dir, rec.File),
			Compressed:     rec.Compressed,
		}
		s.totalSize += rec.SizeBytes
	}
	return nil
}

// saveIndexLocked persists the index. Caller must hold s.mu for writing.
func (s *Store) saveIndexLocked() error {
	idx := indexFile{
		Version: indexVersion,
		Hits:    s.hits,
		Misses:  s.misses,
		Entries: make([]indexRecord, 0, len(s.index)),
	}
	for _, e := range s.index {
		idx.Entries = append(idx.Entries, indexRecord{
			Key:            e.Key,
			File:           filepath.Base(e.FilePath),
			SizeBytes:      e.SizeBytes,
			CreatedAt:      e.CreatedAt,
			LastAccessedAt: e.LastAccessedAt,
			HitCount:       e.HitCount,
			Provider:       e.Provider,
			Voice:          e.Voice,
			Format:         e.Format,
			Compressed:     e.Compressed,
		})
	}

	data, err := sonic.Marshal(&idx)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	return writeFileAtomic(s.indexPath(), data)
}

// writeFileAtomic writes to a uniquely named temp file first, then renames
// it into place. Unique names keep concurrent writers from sharing one.
func writeFileAtomic(path string, data []byte) error {
	file, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*"+tempSuffix)
	if err != nil {
		return err
	}
	tempPath := file.Name()

	_, err = file.Write(data)
	if err == nil {
		err = file.Sync()
	}
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return err
	}
	return nil
}
