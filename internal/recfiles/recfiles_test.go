package recfiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/restreamer-go/restreamer/internal/state"
)

func TestAllocateCreatesTimestampedFileUnderOutputDir(t *testing.T) {
	root := t.TempDir()
	s, err := New(root, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	outputID := uuid.New()
	path, err := s.Allocate(outputID, "file:///recording.flv")
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}

	if filepath.Dir(path) != filepath.Join(root, outputID.String()) {
		t.Fatalf("path = %q, want directory keyed by output id", path)
	}
	if filepath.Ext(path) != ".flv" {
		t.Fatalf("path = %q, want .flv extension preserved", path)
	}
}

func TestCleanupRemovesOrphanedDirectoriesOnly(t *testing.T) {
	root := t.TempDir()
	s, err := New(root, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	keepID := uuid.New()
	orphanID := uuid.New()
	if err := os.MkdirAll(filepath.Join(root, keepID.String()), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, orphanID.String()), 0o750); err != nil {
		t.Fatal(err)
	}

	restreams := []*state.Restream{
		{
			Outputs: []*state.Output{
				{ID: keepID, Dst: "file:///rec.flv"},
			},
		},
	}

	if err := s.Cleanup(restreams); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, keepID.String())); err != nil {
		t.Fatal("expected referenced output directory to survive cleanup")
	}
	if _, err := os.Stat(filepath.Join(root, orphanID.String())); !os.IsNotExist(err) {
		t.Fatal("expected orphaned output directory to be removed")
	}
}
