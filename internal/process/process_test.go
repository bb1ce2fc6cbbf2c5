package process

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// statusRecorder collects every status transition, safe for concurrent use
// from the Supervised goroutine under test.
type statusRecorder struct {
	mu   sync.Mutex
	seen []Status
}

func (r *statusRecorder) record(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, s)
}

func (r *statusRecorder) snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, len(r.seen))
	copy(out, r.seen)
	return out
}

func (r *statusRecorder) waitFor(t *testing.T, want Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, s := range r.snapshot() {
			if s == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status %v not observed within %v, saw %v", want, timeout, r.snapshot())
}

func TestSupervisedReSpawnsAfterImmediateExit(t *testing.T) {
	rec := &statusRecorder{}
	spawns := 0
	var mu sync.Mutex

	p := &Supervised{
		ID:     uuid.New(),
		Binary: "/bin/true",
		Args: func() ([]string, error) {
			mu.Lock()
			spawns++
			mu.Unlock()
			return nil, nil
		},
		OnStatus: rec.record,
	}

	// Long enough for the first exit plus respawnPause, so a second spawn
	// is due before the context ends.
	ctx, cancel := context.WithTimeout(context.Background(), respawnPause+500*time.Millisecond)
	defer cancel()

	_ = p.Serve(ctx)

	mu.Lock()
	defer mu.Unlock()
	if spawns < 2 {
		t.Fatalf("spawns = %d, want a respawn after the first exit", spawns)
	}
}

func TestSupervisedStopsOnContextCancel(t *testing.T) {
	rec := &statusRecorder{}
	p := &Supervised{
		ID:     uuid.New(),
		Binary: "/bin/sleep",
		Args: func() ([]string, error) {
			return []string{"5"}, nil
		},
		OnStatus: rec.record,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v, want nil on graceful cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return promptly after ctx cancellation")
	}
}

func TestFifoPathIsStableForSameID(t *testing.T) {
	id := uuid.New()
	if FifoPath(id) != FifoPath(id) {
		t.Fatal("FifoPath should be deterministic for a given mixin id")
	}
}
