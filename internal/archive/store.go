// Package archive keeps the frames of acquisition searches: solved frames
// are filed by night, unsolved ones discarded, and every session is
// written to a SQLite ledger.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cjeanneret/PointGo/internal/debug"
)

// Store files frames on the local disk.
type Store struct {
	dir      string
	trashDir string // empty: discarded frames are deleted
	now      func() time.Time
}

// NewStore creates the archive (and trash) directories if needed.
func NewStore(dir, trashDir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("archive dir is required")
	}
	for _, d := range []string{dir, trashDir} {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", d, err)
		}
	}
	return &Store{dir: dir, trashDir: trashDir, now: time.Now}, nil
}

// Archive moves a frame to <dir>/<YYYY-MM-DD>/ and returns its new path.
func (s *Store) Archive(path string) (string, error) {
	day := filepath.Join(s.dir, s.now().Format("2006-01-02"))
	if err := os.MkdirAll(day, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", day, err)
	}
	dst, err := move(path, day)
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", path, err)
	}
	debug.Live("Archived %s", dst)
	return dst, nil
}

// Discard moves a frame to the trash dir, or deletes it when there is none.
func (s *Store) Discard(path string) error {
	if s.trashDir == "" {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("discard %s: %w", path, err)
		}
		debug.Verbose("Deleted %s", path)
		return nil
	}
	dst, err := move(path, s.trashDir)
	if err != nil {
		return fmt.Errorf("discard %s: %w", path, err)
	}
	debug.Verbose("Discarded %s to %s", path, dst)
	return nil
}

// move renames path into dir without overwriting, copying when the
// rename crosses file systems.
func move(path, dir string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	dst := freeName(dir, filepath.Base(path))
	if err := os.Rename(path, dst); err == nil {
		return dst, nil
	}
	if err := copyFile(path, dst); err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	return dst, os.Remove(path)
}

func freeName(dir, name string) string {
	dst := filepath.Join(dir, name)
	ext := filepath.Ext(name)
	stem := name[:len(name)-len(ext)]
	for i := 1; ; i++ {
		if _, err := os.Stat(dst); errors.Is(err, os.ErrNotExist) {
			return dst
		}
		dst = filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
