package mapping

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads a Store when its files change on disk.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
	files   map[string]string // absolute path -> table
}

// NewWatcher watches the directories holding the store's files. Directories
// are watched rather than files so that editors replacing a file by rename
// are still seen.
func NewWatcher(store *Store, logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	w := &Watcher{store: store, watcher: fw, logger: logger, files: map[string]string{}}

	dirs := map[string]bool{}
	for table, path := range map[string]string{TableRegions: store.regionPath, TableExamTypes: store.examTypePath} {
		if path == "" {
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("resolve %s: %w", path, err)
		}
		w.files[abs] = table
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// Run processes file events until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.handle(ev.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("mapping watcher error")
		}
	}
}

func (w *Watcher) handle(name string) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return
	}
	table, ok := w.files[abs]
	if !ok {
		return
	}

	switch table {
	case TableRegions:
		err = w.store.ReloadRegions()
	case TableExamTypes:
		err = w.store.ReloadExamTypes()
	}
	if err != nil {
		w.logger.Error().Err(err).Str("table", table).Msg("mapping reload failed, keeping previous table")
	}
}
