// Package recfiles implements the Recording File Store: it materializes a
// fresh, timestamped path on disk for every file:// output destination and
// reclaims directories for outputs that have disappeared from the declared
// state.
package recfiles

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/restreamer-go/restreamer/internal/state"
)

// Store allocates and reclaims recording directories under Root, one
// per-output-UUID subdirectory at a time.
type Store struct {
	Root string
	Log  *slog.Logger

	mu        sync.Mutex
	allocated map[string]string // dst -> last allocated path, for logging only
}

// New creates a Store rooted at root, creating it if necessary.
func New(root string, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create recordings root %s: %w", root, err)
	}
	return &Store{Root: root, Log: log, allocated: make(map[string]string)}, nil
}

// Allocate implements descriptor.FileAllocator: given a file:///NAME.EXT
// destination, it ensures outputID's directory exists and returns a fresh
// timestamped path inside it carrying NAME.EXT's extension. outputID keys
// the directory since the destination URL itself only ever carries a bare
// filename (state.ValidateOutputDstURL rejects subdirectories).
func (s *Store) Allocate(outputID uuid.UUID, dst string) (string, error) {
	u, err := url.Parse(dst)
	if err != nil {
		return "", fmt.Errorf("parse destination %s: %w", dst, err)
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return "", fmt.Errorf("file destination %s missing a filename", dst)
	}

	dir := filepath.Join(s.Root, outputID.String())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create recording dir %s: %w", dir, err)
	}

	ts := time.Now().UTC().Format("20060102_150405")
	ext := filepath.Ext(name)
	base := name[:len(name)-len(ext)]
	path := filepath.Join(dir, fmt.Sprintf("%s_%s%s", base, ts, ext))

	s.mu.Lock()
	s.allocated[dst] = path
	s.mu.Unlock()

	if s.Log != nil {
		s.Log.Info("allocated recording file", "destination", dst, "path", path)
	}
	return path, nil
}

// Cleanup removes every per-output directory under Root whose UUID is not
// referenced by any file:// output in restreams. Callers should invoke it
// once per restreams snapshot after a short settling delay, so a
// mid-flight reconcile doesn't race a directory's own allocation.
func (s *Store) Cleanup(restreams []*state.Restream) error {
	live := make(map[string]struct{})
	for _, rs := range restreams {
		for _, out := range rs.Outputs {
			u, err := url.Parse(out.Dst)
			if err != nil || u.Scheme != "file" {
				continue
			}
			live[out.ID.String()] = struct{}{}
		}
	}

	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return fmt.Errorf("read recordings root %s: %w", s.Root, err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, ok := live[e.Name()]; ok {
			continue
		}
		full := filepath.Join(s.Root, e.Name())
		if err := os.RemoveAll(full); err != nil {
			if s.Log != nil {
				s.Log.Error("removing orphaned recording directory", "path", full, "error", err)
			}
			continue
		}
		if s.Log != nil {
			s.Log.Info("removed orphaned recording directory", "path", full)
		}
	}
	return nil
}

// CleanupAfterSettle schedules a single Cleanup call after the standard
// 1-second settling delay, matching §4.9's "called once per snapshot after
// a 1-second settling delay" rule. It does not block the caller.
func (s *Store) CleanupAfterSettle(restreams []*state.Restream) {
	time.AfterFunc(time.Second, func() {
		if err := s.Cleanup(restreams); err != nil && s.Log != nil {
			s.Log.Error("recording cleanup failed", "error", err)
		}
	})
}
