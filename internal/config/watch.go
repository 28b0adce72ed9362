package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchTables reloads the table file whenever it is written and hands the
// new tables to onChange. Invalid edits are logged and the previous tables
// stay in effect. WatchTables blocks until ctx is done.
func WatchTables(ctx context.Context, path string, onChange func(*Tables)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create tables watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file are still seen.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			tables, err := LoadTables(path)
			if err != nil {
				log.Printf("[config] ignoring table reload: %v", err)
				continue
			}
			log.Printf("[config] reloaded tables from %s", path)
			onChange(tables)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[config] tables watcher error: %v", err)
		}
	}
}
