package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultWatchDelay debounces bursts of file events into one reload.
const DefaultWatchDelay = 500 * time.Millisecond

// WatchOptions configures WatchTopology.
type WatchOptions struct {
	Logger zerolog.Logger
	Delay  time.Duration
}

// WatchTopology reloads the topology at path whenever a topology file under it
// is written or created, and hands the result to onChange. It returns once the
// watcher is set up; watching stops when ctx is done.
func WatchTopology(ctx context.Context, loader *TopologyLoader, path string, opts WatchOptions, onChange func(*Topology, error)) error {
	if opts.Delay == 0 {
		opts.Delay = DefaultWatchDelay
	}
	logger := opts.Logger.With().Str("component", "topology-watcher").Logger()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to stat topology %s: %w", path, err)
	}

	if info.IsDir() {
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return watcher.Add(p)
			}
			return nil
		})
	} else {
		// Editors replace files on save, so watch the parent directory.
		err = watcher.Add(filepath.Dir(path))
	}
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()

		var reloadTimer *time.Timer
		for {
			select {
			case <-ctx.Done():
				if reloadTimer != nil {
					reloadTimer.Stop()
				}
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if !isTopologyFile(event.Name) {
					continue
				}
				if !info.IsDir() && filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}

				logger.Debug().
					Str("file", event.Name).
					Str("op", event.Op.String()).
					Msg("Topology file changed")

				if reloadTimer != nil {
					reloadTimer.Stop()
				}
				reloadTimer = time.AfterFunc(opts.Delay, func() {
					if ctx.Err() != nil {
						return
					}
					t, err := loader.Load(ctx, path)
					onChange(t, err)
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error().Err(err).Msg("Watcher error")
			}
		}
	}()

	logger.Info().Str("path", path).Msg("Watching topology")
	return nil
}
