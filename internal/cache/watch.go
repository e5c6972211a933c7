package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/dgnsrekt/hookvoice/internal/correlation"
)

// Watch drops index entries whose files are removed or renamed by another
// process. It blocks until ctx is cancelled or the watcher fails.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			s.handleExternalRemoval(ctx, filepath.Base(event.Name))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Cache watcher error", "error", err)
		}
	}
}

// handleExternalRemoval drops the entry backed by the file name, if any.
// Our own atomic renames only remove temp names, which never match.
func (s *Store) handleExternalRemoval(ctx context.Context, name string) {
	if name == indexFileName || strings.HasSuffix(name, tempSuffix) {
		return
	}
	key, _, _ := strings.Cut(name, ".")

	s.mu.RLock()
	e, ok := s.index[key]
	var entry Entry
	if ok {
		entry = *e
	}
	s.mu.RUnlock()

	if !ok || filepath.Base(entry.FilePath) != name {
		return
	}
	if fileExists(entry.FilePath) {
		// Replaced in place, still valid
		return
	}

	correlation.Logger(ctx, s.logger).Info("Cache file removed externally", "key", key)
	s.dropEntry(key, entry, false)
}
