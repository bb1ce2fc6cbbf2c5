package descriptor

import (
	"testing"

	"github.com/google/uuid"

	"github.com/restreamer-go/restreamer/internal/state"
)

func TestNeedsRestartFalseForCopyWithSameURLs(t *testing.T) {
	id := uuid.New()
	old := &Descriptor{ID: id, Kind: KindCopy, FromURL: "rtmp://a", ToURL: "rtmp://b"}
	new := &Descriptor{ID: id, Kind: KindCopy, FromURL: "rtmp://a", ToURL: "rtmp://b"}
	if NeedsRestart(old, new) {
		t.Fatal("expected no restart for identical Copy descriptors")
	}
}

func TestNeedsRestartTrueWhenURLChanges(t *testing.T) {
	id := uuid.New()
	old := &Descriptor{ID: id, Kind: KindCopy, FromURL: "rtmp://a", ToURL: "rtmp://b"}
	new := &Descriptor{ID: id, Kind: KindCopy, FromURL: "rtmp://changed", ToURL: "rtmp://b"}
	if !NeedsRestart(old, new) {
		t.Fatal("expected restart when from_url changes")
	}
}

func TestMixNeedsRestartFalseForVolumeOnlyChangeAndAbsorbsIt(t *testing.T) {
	id := uuid.New()
	mixinID := uuid.New()
	old := &Descriptor{
		ID: id, Kind: KindMix, FromURL: "rtmp://a", ToURL: "rtmp://b",
		OrigVolume: state.Volume{Level: 100},
		Mixins: []MixinDesc{
			{ID: mixinID, URL: "ts://vc/room", Volume: state.Volume{Level: 100}, ControlPort: 20001},
		},
	}
	newDesc := &Descriptor{
		ID: id, Kind: KindMix, FromURL: "rtmp://a", ToURL: "rtmp://b",
		OrigVolume: state.Volume{Level: 50},
		Mixins: []MixinDesc{
			{ID: mixinID, URL: "ts://vc/room", Volume: state.Volume{Level: 70}},
		},
	}

	if NeedsRestart(old, newDesc) {
		t.Fatal("expected no restart for a volume-only difference")
	}
	if old.OrigVolume.Level != 50 {
		t.Fatalf("old.OrigVolume not absorbed: got %v", old.OrigVolume)
	}
	if old.Mixins[0].Volume.Level != 70 {
		t.Fatalf("old mixin volume not absorbed: got %v", old.Mixins[0].Volume)
	}
	if newDesc.Mixins[0].ControlPort != 20001 {
		t.Fatalf("expected control port carried forward into new descriptor, got %d", newDesc.Mixins[0].ControlPort)
	}
}

func TestMixNeedsRestartTrueWhenMixinURLChanges(t *testing.T) {
	id := uuid.New()
	mixinID := uuid.New()
	old := &Descriptor{
		ID: id, Kind: KindMix, FromURL: "rtmp://a", ToURL: "rtmp://b",
		Mixins: []MixinDesc{{ID: mixinID, URL: "ts://vc/room"}},
	}
	newDesc := &Descriptor{
		ID: id, Kind: KindMix, FromURL: "rtmp://a", ToURL: "rtmp://b",
		Mixins: []MixinDesc{{ID: mixinID, URL: "ts://vc/other-room"}},
	}
	if !NeedsRestart(old, newDesc) {
		t.Fatal("expected restart when a mixin's source url changes")
	}
}

func TestBuildArgsCopyToRTMP(t *testing.T) {
	d := &Descriptor{Kind: KindCopy, FromURL: "rtmp://src/a", ToURL: "rtmp://dst/b"}
	args, err := d.BuildArgs(nil)
	if err != nil {
		t.Fatalf("BuildArgs() error = %v", err)
	}
	if args[len(args)-1] != "rtmp://dst/b" || args[len(args)-2] != "flv" || args[len(args)-3] != "-f" {
		t.Fatalf("expected trailing -f flv url, got %v", args)
	}
}

func TestBuildArgsFileRequiresAllocator(t *testing.T) {
	d := &Descriptor{Kind: KindCopy, FromURL: "rtmp://src/a", ToURL: "file:///rec.flv"}
	called := false
	alloc := func(outputID uuid.UUID, dst string) (string, error) {
		called = true
		return "/var/recordings/out-123.flv", nil
	}
	args, err := d.BuildArgs(alloc)
	if err != nil {
		t.Fatalf("BuildArgs() error = %v", err)
	}
	if !called {
		t.Fatal("expected file allocator to be invoked for file:// destination")
	}
	if args[len(args)-1] != "/var/recordings/out-123.flv" {
		t.Fatalf("expected allocated path as final arg, got %v", args)
	}
}
