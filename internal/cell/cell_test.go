package cell

import (
	"testing"
	"time"
)

func TestSnapshotReturnsInitialValue(t *testing.T) {
	c := New(42)
	if got := c.Snapshot(); got != 42 {
		t.Fatalf("Snapshot() = %d, want 42", got)
	}
}

func TestSubscribeSeedsCurrentValue(t *testing.T) {
	c := New("hello")
	ch, cancel := c.Subscribe()
	defer cancel()

	select {
	case v := <-ch:
		if v != "hello" {
			t.Fatalf("got %q, want %q", v, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for seed value")
	}
}

func TestUpdateNotifiesOnChange(t *testing.T) {
	c := New(0)
	ch, cancel := c.Subscribe()
	defer cancel()
	<-ch // drain seed

	c.Update(func(v *int) { *v = 1 })

	select {
	case v := <-ch:
		if v != 1 {
			t.Fatalf("got %d, want 1", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
	}
}

func TestUpdateDoesNotNotifyOnNoChange(t *testing.T) {
	c := New(5)
	ch, cancel := c.Subscribe()
	defer cancel()
	<-ch // drain seed

	c.Update(func(v *int) { *v = 5 })

	select {
	case v := <-ch:
		t.Fatalf("unexpected notification %d for unchanged value", v)
	case <-time.After(50 * time.Millisecond):
		// expected: no notification
	}
}

func TestSlowSubscriberSeesLatestNotStale(t *testing.T) {
	c := New(0)
	ch, cancel := c.Subscribe()
	defer cancel()
	<-ch // drain seed

	for i := 1; i <= 5; i++ {
		c.Update(func(v *int) { *v = i })
	}

	select {
	case v := <-ch:
		if v != 5 {
			t.Fatalf("slow subscriber got %d, want latest value 5", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for latest snapshot")
	}
}

// item is a pointer-holding payload, the shape every subscriber of the
// Restreams cell actually deals with ([]*Restream): Update is expected to
// mutate the pointed-to struct in place, not just reassign the slice header.
type item struct {
	Name string
}

func TestUpdateNotifiesOnInPlacePointerMutation(t *testing.T) {
	original := &item{Name: "a"}
	c := New([]*item{original})
	ch, cancel := c.Subscribe()
	defer cancel()
	<-ch // drain seed

	c.Update(func(list *[]*item) {
		(*list)[0].Name = "b" // mutate through the pointer, not *list itself
	})

	select {
	case got := <-ch:
		if len(got) != 1 || got[0].Name != "b" {
			t.Fatalf("got %+v, want a single item named %q", got, "b")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification of an in-place pointer mutation")
	}

	// The caller's own pointer must be untouched by the cell's internal
	// bookkeeping, and mutating it further must not leak into the cell.
	if original.Name != "b" {
		t.Fatalf("caller's pointer = %q, want %q", original.Name, "b")
	}
}

func TestSnapshotAndDeliveredValuesDoNotAliasCellStorage(t *testing.T) {
	c := New([]*item{{Name: "a"}})

	ch, cancel := c.Subscribe()
	defer cancel()
	seed := <-ch

	// Mutating a value handed out by Subscribe/Snapshot must not be visible
	// to a later Snapshot/Update — it must be an independent deep copy.
	seed[0].Name = "mutated-by-subscriber"

	snap := c.Snapshot()
	if snap[0].Name != "a" {
		t.Fatalf("Snapshot() = %q after external mutation of a delivered copy, want %q unaffected", snap[0].Name, "a")
	}

	snap[0].Name = "mutated-via-snapshot"
	c.Update(func(list *[]*item) {
		if (*list)[0].Name != "a" {
			t.Fatalf("cell storage observed %q, want %q unaffected by a mutated snapshot", (*list)[0].Name, "a")
		}
	})
}

func TestCancelStopsDelivery(t *testing.T) {
	c := New(0)
	ch, cancel := c.Subscribe()
	<-ch
	cancel()
	cancel() // idempotent

	c.Update(func(v *int) { *v = 1 })

	select {
	case v, ok := <-ch:
		if ok {
			t.Fatalf("unexpected delivery %d after cancel", v)
		}
	case <-time.After(50 * time.Millisecond):
		// expected: channel not closed but nothing delivered either
	}
}
