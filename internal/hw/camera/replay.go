package camera

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cjeanneret/PointGo/internal/debug"
)

// Replay is a Camera that hands out copies of frames recorded earlier,
// in name order, wrapping around at the end. It lets the acquisition
// run on a bench without sky or camera.
type Replay struct {
	mu      sync.Mutex
	frames  []string
	workDir string
	next    int
	shots   int
}

// NewReplay lists the image files of srcDir. Copies are written to workDir
// because the archive moves or deletes every frame it is given.
func NewReplay(srcDir, workDir string) (*Replay, error) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return nil, fmt.Errorf("read replay dir: %w", err)
	}
	var frames []string
	for _, e := range entries {
		if !e.IsDir() && isImageFile(e.Name()) {
			frames = append(frames, filepath.Join(srcDir, e.Name()))
		}
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames in %s", srcDir)
	}
	sort.Strings(frames)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create replay work dir: %w", err)
	}
	return &Replay{frames: frames, workDir: workDir}, nil
}

// Expose returns a fresh copy of the next frame. The exposure time is
// only honoured as a delay.
func (r *Replay) Expose(ctx context.Context, exposure time.Duration) (string, error) {
	if err := sleep(ctx, exposure); err != nil {
		return "", err
	}

	r.mu.Lock()
	src := r.frames[r.next]
	r.next = (r.next + 1) % len(r.frames)
	r.shots++
	dst := filepath.Join(r.workDir, fmt.Sprintf("%04d_%s", r.shots, filepath.Base(src)))
	r.mu.Unlock()

	if err := copyFile(src, dst); err != nil {
		return "", err
	}
	debug.Live("Camera: replayed %s as %s", filepath.Base(src), dst)
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
