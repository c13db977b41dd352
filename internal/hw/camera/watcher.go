package camera

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cjeanneret/PointGo/internal/debug"
	"github.com/fsnotify/fsnotify"
)

// ImageWatcher reports image files appearing in a directory, e.g. the
// download folder of a tethered camera.
type ImageWatcher struct {
	dir     string
	quiet   time.Duration
	watcher *fsnotify.Watcher
}

// WatchImages starts watching dir. quiet is how long a new file must go
// without further writes before it is considered complete.
func WatchImages(dir string, quiet time.Duration) (*ImageWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	debug.Verbose("Watching %s for new frames", dir)
	return &ImageWatcher{dir: dir, quiet: quiet, watcher: w}, nil
}

// Next blocks until a new image file has been created and has stopped
// changing, then returns its path.
func (iw *ImageWatcher) Next(ctx context.Context) (string, error) {
	var (
		pending string
		settle  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if pending != "" {
				return "", fmt.Errorf("frame %s still being written: %w", pending, ctx.Err())
			}
			return "", fmt.Errorf("no frame appeared in %s: %w", iw.dir, ctx.Err())

		case event, ok := <-iw.watcher.Events:
			if !ok {
				return "", fmt.Errorf("watcher closed")
			}
			if !isImageFile(event.Name) {
				continue
			}
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create, event.Op&fsnotify.Write == fsnotify.Write:
			default:
				continue // removals, renames away and chmods
			}
			if pending == "" {
				pending = event.Name
				debug.Trace("Frame appeared: %s", pending)
			}
			if event.Name == pending {
				settle = time.After(iw.quiet)
			}

		case err, ok := <-iw.watcher.Errors:
			if !ok {
				return "", fmt.Errorf("watcher closed")
			}
			debug.Warn("Image watcher error: %v", err)

		case <-settle:
			return pending, nil
		}
	}
}

// Close stops watching.
func (iw *ImageWatcher) Close() error {
	return iw.watcher.Close()
}

// isImageFile checks the extension against the formats a camera or a
// solver can produce.
func isImageFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fits", ".fit", ".fts":
		return true
	case ".jpg", ".jpeg", ".png", ".tiff", ".tif":
		return true
	case ".nef", ".cr2", ".cr3", ".arw", ".dng", ".raf", ".orf":
		return true
	default:
		return false
	}
}
