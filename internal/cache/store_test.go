package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/hookvoice/internal/ttypes"
)

// fakeClock hands out strictly increasing timestamps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func quietLogger() *log.Logger {
	return log.NewWithOptions(&bytes.Buffer{}, log.Options{})
}

func openTestStore(t *testing.T, dir string, opts Options) *Store {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	store, err := Open(context.Background(), dir, opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testKey(i int) string {
	return ComputeKey(ttypes.Request{Text: fmt.Sprintf("phrase %d", i)})
}

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), Options{})

	key := testKey(1)
	audio := []byte("fake mp3 bytes")

	entry, err := store.Put(ctx, key, audio, Metadata{Provider: "openai", Voice: "nova", Format: "mp3"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if entry.SizeBytes != uint64(len(audio)) {
		t.Errorf("SizeBytes = %d, want %d", entry.SizeBytes, len(audio))
	}
	if filepath.Base(entry.FilePath) != key+".mp3" {
		t.Errorf("FilePath = %s, want %s.mp3", entry.FilePath, key)
	}

	got, data, ok := store.Get(ctx, key)
	if !ok {
		t.Fatal("Get() miss after Put")
	}
	if !bytes.Equal(data, audio) {
		t.Errorf("Get() audio = %q, want %q", data, audio)
	}
	if got.Provider != "openai" || got.Voice != "nova" {
		t.Errorf("metadata = %+v", got)
	}

	stats := store.Stats()
	if stats.EntryCount != 1 || stats.TotalSizeBytes != uint64(len(audio)) {
		t.Errorf("Stats() = %+v", stats)
	}
	if stats.CacheHits != 1 || stats.CacheMisses != 0 {
		t.Errorf("hits/misses = %d/%d, want 1/0", stats.CacheHits, stats.CacheMisses)
	}
}

func TestStore_Miss(t *testing.T) {
	store := openTestStore(t, t.TempDir(), Options{})

	if _, _, ok := store.Get(context.Background(), testKey(1)); ok {
		t.Fatal("Get() hit on empty store")
	}
	if stats := store.Stats(); stats.CacheMisses != 1 || stats.HitRate != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestStore_RecheckCountsOnlyHits(t *testing.T) {
	store := openTestStore(t, t.TempDir(), Options{})
	ctx := context.Background()
	key := testKey(1)

	if _, _, ok := store.Get(ctx, key); ok {
		t.Fatal("Get() hit on empty store")
	}
	if _, _, ok := store.Recheck(ctx, key); ok {
		t.Fatal("Recheck() hit on empty store")
	}
	if stats := store.Stats(); stats.CacheMisses != 1 || stats.CacheHits != 0 {
		t.Fatalf("Stats() after recheck miss = %+v, want 1 miss", stats)
	}

	if _, err := store.Put(ctx, key, []byte("audio"), Metadata{Provider: "p"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, _, ok := store.Recheck(ctx, key); !ok {
		t.Fatal("Recheck() missed a stored key")
	}
	stats := store.Stats()
	if stats.CacheMisses != 1 || stats.CacheHits != 1 || stats.HitRate != 0.5 {
		t.Errorf("Stats() = %+v, want 1 hit, 1 miss", stats)
	}
}

func TestStore_PutRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), Options{})

	if _, err := store.Put(ctx, "../escape", []byte("x"), Metadata{}); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Put(invalid key) error = %v, want ErrInvalidKey", err)
	}
	_, err := store.Put(ctx, testKey(1), nil, Metadata{})
	if ttypes.CodeOf(err) != ttypes.CodeCacheWrite {
		t.Errorf("Put(empty audio) code = %s, want %s", ttypes.CodeOf(err), ttypes.CodeCacheWrite)
	}
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(ctx, dir, Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	key := testKey(1)
	if _, err := store.Put(ctx, key, []byte("audio"), Metadata{Provider: "local", Format: "wav"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	store.Get(ctx, key)
	store.Get(ctx, testKey(2))
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened := openTestStore(t, dir, Options{})
	entry, data, ok := reopened.Get(ctx, key)
	if !ok {
		t.Fatal("entry lost across reopen")
	}
	if string(data) != "audio" || entry.Format != "wav" || entry.Provider != "local" {
		t.Errorf("reopened entry = %+v data=%q", entry, data)
	}

	stats := reopened.Stats()
	if stats.CacheHits != 2 || stats.CacheMisses != 1 {
		t.Errorf("persisted hits/misses = %d/%d, want 2/1", stats.CacheHits, stats.CacheMisses)
	}
}

func TestStore_MissingFileIsMiss(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), Options{})

	key := testKey(1)
	entry, err := store.Put(ctx, key, []byte("audio"), Metadata{})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := os.Remove(entry.FilePath); err != nil {
		t.Fatal(err)
	}

	if _, _, ok := store.Get(ctx, key); ok {
		t.Fatal("Get() hit for missing file")
	}
	if stats := store.Stats(); stats.EntryCount != 0 || stats.TotalSizeBytes != 0 {
		t.Errorf("stale entry not dropped: %+v", stats)
	}
}

func TestStore_CorruptCompressedFile(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), Options{CompressionLevel: 3})

	key := testKey(1)
	audio := bytes.Repeat([]byte("abcdefgh"), 1024)
	entry, err := store.Put(ctx, key, audio, Metadata{Format: "wav"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !entry.Compressed {
		t.Fatal("expected compressible payload to be compressed")
	}
	if err := os.WriteFile(entry.FilePath, []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, _, ok := store.Get(ctx, key); ok {
		t.Fatal("Get() hit for corrupt file")
	}
	if _, err := os.Stat(entry.FilePath); !os.IsNotExist(err) {
		t.Error("corrupt file was not removed")
	}
}

func TestStore_Compression(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), Options{CompressionLevel: 3})

	tests := []struct {
		name           string
		audio          []byte
		wantCompressed bool
	}{
		{"small payload", []byte("short"), false},
		{"compressible payload", bytes.Repeat([]byte{0, 1, 2, 3}, 4096), true},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := testKey(i)
			entry, err := store.Put(ctx, key, tt.audio, Metadata{Format: "pcm"})
			if err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if entry.Compressed != tt.wantCompressed {
				t.Errorf("Compressed = %v, want %v", entry.Compressed, tt.wantCompressed)
			}
			_, data, ok := store.Get(ctx, key)
			if !ok || !bytes.Equal(data, tt.audio) {
				t.Error("round trip through the store changed the audio")
			}
		})
	}
}

func TestStore_IndexCommitFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := openTestStore(t, dir, Options{})

	// A non-empty directory in place of the index makes the rename fail.
	index := filepath.Join(dir, indexFileName)
	if err := os.Remove(index); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(index, "blocker"), 0o755); err != nil {
		t.Fatal(err)
	}

	key := testKey(1)
	_, err := store.Put(ctx, key, []byte("audio"), Metadata{})
	if ttypes.CodeOf(err) != ttypes.CodeCacheWrite {
		t.Fatalf("Put() error = %v, want CACHE_WRITE", err)
	}
	if _, err := os.Stat(filepath.Join(dir, key+".mp3")); !os.IsNotExist(err) {
		t.Error("audio file left behind after failed commit")
	}
	if stats := store.Stats(); stats.EntryCount != 0 || stats.TotalSizeBytes != 0 {
		t.Errorf("index not rolled back: %+v", stats)
	}
}

func TestStore_RecordHit(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := openTestStore(t, t.TempDir(), Options{Now: clock.Now})

	key := testKey(1)
	created, _ := store.Put(ctx, key, []byte("audio"), Metadata{})
	if err := store.RecordHit(ctx, key); err != nil {
		t.Fatalf("RecordHit() error = %v", err)
	}
	if err := store.RecordHit(ctx, "unknown"); err != nil {
		t.Fatalf("RecordHit(unknown) error = %v", err)
	}

	entries := store.List()
	if len(entries) != 1 {
		t.Fatalf("List() = %d entries", len(entries))
	}
	if entries[0].HitCount != 1 {
		t.Errorf("HitCount = %d, want 1", entries[0].HitCount)
	}
	if !entries[0].LastAccessedAt.After(created.LastAccessedAt) {
		t.Error("LastAccessedAt did not advance")
	}
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := openTestStore(t, dir, Options{MemoryCapacity: 1 << 20})

	for i := 0; i < 3; i++ {
		if _, err := store.Put(ctx, testKey(i), []byte("audio"), Metadata{}); err != nil {
			t.Fatal(err)
		}
	}
	store.Get(ctx, testKey(0))
	store.Get(ctx, testKey(9))

	n, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Clear() = %d, want 3", n)
	}
	if stats := store.Stats(); stats != (Stats{}) {
		t.Errorf("Stats() after Clear = %+v, want zero", stats)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "*.mp3"))
	if len(files) != 0 {
		t.Errorf("audio files left after Clear: %v", files)
	}
}

func TestStore_ReconcileOnOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(ctx, dir, Options{Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	keep, _ := store.Put(ctx, testKey(1), []byte("keep"), Metadata{})
	gone, _ := store.Put(ctx, testKey(2), []byte("gone"), Metadata{})
	store.Close()

	os.Remove(gone.FilePath)
	orphan := filepath.Join(dir, testKey(3)+".mp3")
	leftover := filepath.Join(dir, "leftover.mp3.123.tmp")
	os.WriteFile(orphan, []byte("orphan"), 0o644)
	os.WriteFile(leftover, []byte("partial"), 0o644)
	os.WriteFile(keep.FilePath, []byte("keep but longer"), 0o644)
	ageFiles(t, time.Hour, orphan, leftover)

	reopened := openTestStore(t, dir, Options{})

	entries := reopened.List()
	if len(entries) != 1 || entries[0].Key != testKey(1) {
		t.Fatalf("List() after reconcile = %+v", entries)
	}
	if entries[0].SizeBytes != uint64(len("keep but longer")) {
		t.Errorf("size drift not fixed: %d", entries[0].SizeBytes)
	}

	files, _ := os.ReadDir(dir)
	var names []string
	for _, f := range files {
		names = append(names, f.Name())
	}
	if len(names) != 2 {
		t.Errorf("directory after reconcile = %v, want entry file and index", names)
	}
}

func TestStore_ReconcileKeepsFreshStrays(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// Files another process may still be writing or about to index
	inflight := filepath.Join(dir, testKey(1)+".mp3.456.tmp")
	unindexed := filepath.Join(dir, testKey(2)+".mp3")
	old := filepath.Join(dir, testKey(3)+".mp3")
	for _, path := range []string{inflight, unindexed, old} {
		if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	ageFiles(t, strayFileGrace+time.Minute, old)

	store := openTestStore(t, dir, Options{})
	report, err := store.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if report.Orphans != 0 || report.TempFiles != 0 {
		t.Errorf("second Reconcile() = %+v, want nothing left to remove", report)
	}

	for _, path := range []string{inflight, unindexed} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("fresh file %s removed: %v", filepath.Base(path), err)
		}
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("old orphan %s kept", filepath.Base(old))
	}
}

// ageFiles moves the modification time of paths d into the past.
func ageFiles(t *testing.T, d time.Duration, paths ...string) {
	t.Helper()
	past := time.Now().Add(-d)
	for _, path := range paths {
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatal(err)
		}
	}
}

func TestStore_CorruptIndex(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, indexFileName), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, testKey(1)+".mp3"), []byte("orphan"), 0o644)

	store := openTestStore(t, dir, Options{})
	if stats := store.Stats(); stats.EntryCount != 0 {
		t.Errorf("Stats() = %+v, want empty store", stats)
	}
	if _, err := os.Stat(filepath.Join(dir, testKey(1)+".mp3")); !os.IsNotExist(err) {
		t.Error("orphan file not removed after index reset")
	}
}

func TestStore_ConcurrentPuts(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				key := testKey(j)
				if _, err := store.Put(ctx, key, []byte(fmt.Sprintf("audio-%d", id)), Metadata{}); err != nil {
					t.Errorf("Put() error = %v", err)
				}
				store.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	stats := store.Stats()
	if stats.EntryCount != 10 {
		t.Errorf("EntryCount = %d, want 10", stats.EntryCount)
	}
	var total uint64
	for _, e := range store.List() {
		total += e.SizeBytes
	}
	if total != stats.TotalSizeBytes {
		t.Errorf("TotalSizeBytes = %d, sum of entries = %d", stats.TotalSizeBytes, total)
	}
}

func TestStore_HandleExternalRemoval(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), Options{})

	key := testKey(1)
	entry, _ := store.Put(ctx, key, []byte("audio"), Metadata{})
	os.Remove(entry.FilePath)

	store.handleExternalRemoval(ctx, filepath.Base(entry.FilePath))
	if stats := store.Stats(); stats.EntryCount != 0 {
		t.Errorf("entry not dropped after external removal: %+v", stats)
	}
}
