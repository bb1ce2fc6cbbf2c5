package voicechat

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestParseURLDefaultsNameToLabelAndGeneratesIdentity(t *testing.T) {
	mixinID := uuid.New()
	params, err := ParseURL("ts://vc.example:9987/room", mixinID, "Main Show")
	if err != nil {
		t.Fatalf("ParseURL() error = %v", err)
	}
	if params.Addr != "vc.example:9987" {
		t.Errorf("Addr = %q, want vc.example:9987", params.Addr)
	}
	if params.Channel != "room" {
		t.Errorf("Channel = %q, want room", params.Channel)
	}
	if params.Name != "🤖 Main Show" {
		t.Errorf("Name = %q, want label-derived default", params.Name)
	}
	if params.Identity == "" {
		t.Error("Identity = \"\", want a generated identity")
	}
}

func TestParseURLHonoursExplicitNameAndIdentity(t *testing.T) {
	mixinID := uuid.New()
	params, err := ParseURL("ts://vc.example/room?name=Bot&identity=abc123", mixinID, "")
	if err != nil {
		t.Fatalf("ParseURL() error = %v", err)
	}
	if params.Name != "Bot" {
		t.Errorf("Name = %q, want Bot", params.Name)
	}
	if params.Identity != "abc123" {
		t.Errorf("Identity = %q, want abc123", params.Identity)
	}
}

func TestParseURLRejectsNonVoiceChatScheme(t *testing.T) {
	if _, err := ParseURL("https://example.com/a.mp3", uuid.New(), ""); err == nil {
		t.Error("ParseURL() error = nil, want rejection of non-ts scheme")
	}
}

func TestManagerAcquireReusesExistingHandleForSameMixin(t *testing.T) {
	mgr := NewManager(nil, func() Codec { return &noopCodec{} })
	mixinID := uuid.New()

	// Acquire will attempt to open the FIFO in its capture loop and retry
	// silently when absent; we only need the handle itself to be returned
	// and reused here, so no FIFO is created in this test.
	h1, err := mgr.Acquire(context.Background(), mixinID, "ts://vc.example/room", "")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	h2, err := mgr.Acquire(context.Background(), mixinID, "ts://vc.example/room", "")
	if err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	if h1 != h2 {
		t.Error("Acquire() returned a new handle for an already-connected mixin")
	}

	mgr.Release(mixinID)
}

func TestManagerReleaseIsIdempotent(t *testing.T) {
	mgr := NewManager(nil, func() Codec { return &noopCodec{} })
	mixinID := uuid.New()
	mgr.Release(mixinID) // no handle yet; must not panic
	mgr.Release(mixinID) // repeating it is also a no-op
}
