package reconciler

import (
	"testing"

	"github.com/google/uuid"

	"github.com/restreamer-go/restreamer/internal/descriptor"
	"github.com/restreamer-go/restreamer/internal/state"
	"github.com/restreamer-go/restreamer/internal/voicechat"
)

func newTestReconciler() *Reconciler {
	return New(state.New(nil), "/bin/true", nil, nil, nil)
}

func simpleRestream(key string, mainStatus state.EndpointStatus) *state.Restream {
	return &state.Restream{
		ID:  uuid.New(),
		Key: key,
		Input: &state.Input{
			ID:      uuid.New(),
			Key:     "in",
			Enabled: true,
			Src:     &state.InputSrc{Kind: state.SrcRemote, RemoteURL: "rtmp://origin/live"},
			Endpoints: []*state.InputEndpoint{
				{ID: uuid.New(), Kind: state.KindRTMP, Status: mainStatus},
			},
		},
	}
}

func TestDeriveInputDescriptorProducesCopyFromRemoteSource(t *testing.T) {
	r := newTestReconciler()
	rs := simpleRestream("live1", state.StatusOffline)

	desired := r.deriveDescriptors([]*state.Restream{rs})

	epID := rs.Input.Endpoints[0].ID
	desc, ok := desired[epID]
	if !ok {
		t.Fatal("expected a descriptor for the RTMP endpoint")
	}
	if desc.Kind != descriptor.KindCopy {
		t.Fatalf("kind = %v, want Copy", desc.Kind)
	}
	if desc.FromURL != "rtmp://origin/live" {
		t.Fatalf("FromURL = %q, want the remote source url", desc.FromURL)
	}
	if desc.ToURL != "rtmp://127.0.0.1:1935/live1/in" {
		t.Fatalf("ToURL = %q, want the internal rtmp url", desc.ToURL)
	}
}

func TestDeriveHLSDescriptorOnlyWhenReadyToServe(t *testing.T) {
	r := newTestReconciler()
	rs := simpleRestream("live1", state.StatusOffline)
	hlsEP := &state.InputEndpoint{ID: uuid.New(), Kind: state.KindHLS}
	rs.Input.Endpoints = append(rs.Input.Endpoints, hlsEP)

	desired := r.deriveDescriptors([]*state.Restream{rs})
	if _, ok := desired[hlsEP.ID]; ok {
		t.Fatal("HLS descriptor should be absent while no RTMP endpoint is Online")
	}

	rs.Input.Endpoints[0].Status = state.StatusOnline
	desired = r.deriveDescriptors([]*state.Restream{rs})
	desc, ok := desired[hlsEP.ID]
	if !ok {
		t.Fatal("expected an HLS transcode descriptor once ready to serve")
	}
	if desc.Kind != descriptor.KindTranscode {
		t.Fatalf("kind = %v, want Transcode", desc.Kind)
	}
	if desc.ToURL != "rtmp://127.0.0.1:1935/live1?vhost=hls/in" {
		t.Fatalf("ToURL = %q, want vhost=hls inserted between restream and input keys", desc.ToURL)
	}
}

func TestDeriveOutputDescriptorCopyWithNoMixins(t *testing.T) {
	r := newTestReconciler()
	rs := simpleRestream("live1", state.StatusOnline)
	rs.Outputs = []*state.Output{
		{ID: uuid.New(), Dst: "rtmp://dst/a", Enabled: true},
		{ID: uuid.New(), Dst: "rtmp://dst/b", Enabled: false},
	}

	desired := r.deriveDescriptors([]*state.Restream{rs})

	if _, ok := desired[rs.Outputs[1].ID]; ok {
		t.Fatal("disabled output must not produce a descriptor")
	}
	desc, ok := desired[rs.Outputs[0].ID]
	if !ok {
		t.Fatal("expected a descriptor for the enabled output")
	}
	if desc.Kind != descriptor.KindCopy || desc.ToURL != "rtmp://dst/a" {
		t.Fatalf("got %+v, want a Copy descriptor to rtmp://dst/a", desc)
	}
}

func TestDeriveOutputDescriptorMixWithMixins(t *testing.T) {
	r := newTestReconciler()
	rs := simpleRestream("live1", state.StatusOnline)
	rs.Outputs = []*state.Output{
		{
			ID: uuid.New(), Dst: "rtmp://dst/a", Enabled: true,
			Mixins: []*state.Mixin{{ID: uuid.New(), Src: "ts://vc/room"}},
		},
	}

	desired := r.deriveDescriptors([]*state.Restream{rs})
	desc, ok := desired[rs.Outputs[0].ID]
	if !ok {
		t.Fatal("expected a descriptor for the mixed output")
	}
	if desc.Kind != descriptor.KindMix {
		t.Fatalf("kind = %v, want Mix", desc.Kind)
	}
	if len(desc.Mixins) != 1 || desc.Mixins[0].ControlPort == 0 {
		t.Fatalf("expected one mixin with an allocated control port, got %+v", desc.Mixins)
	}
}

func TestStartEntryAcquiresVoiceChatHandleForTsMixin(t *testing.T) {
	r := New(state.New(nil), "/bin/true", nil, voicechat.NewManager(nil, nil), nil)

	mixinID := uuid.New()
	desc := &descriptor.Descriptor{
		ID:   uuid.New(),
		Kind: descriptor.KindMix,
		Mixins: []descriptor.MixinDesc{
			{ID: mixinID, URL: "ts://vc.example/room"},
		},
	}

	r.startEntry(desc.ID, desc)
	defer r.stopEntry(desc.ID, r.pool[desc.ID], nil)

	if desc.Mixins[0].VoiceHandleID == "" {
		t.Fatal("expected startEntry to populate VoiceHandleID for a ts:// mixin")
	}
}

func TestFailoverPicksFirstOnlineChild(t *testing.T) {
	r := newTestReconciler()
	rs := simpleRestream("live1", state.StatusOffline)

	offlineChild := &state.Input{
		ID: uuid.New(), Key: "backup-a", Enabled: true,
		Endpoints: []*state.InputEndpoint{{ID: uuid.New(), Kind: state.KindRTMP, Status: state.StatusOffline}},
	}
	onlineChild := &state.Input{
		ID: uuid.New(), Key: "backup-b", Enabled: true,
		Endpoints: []*state.InputEndpoint{{ID: uuid.New(), Kind: state.KindRTMP, Status: state.StatusOnline}},
	}
	rs.Input.Src = &state.InputSrc{Kind: state.SrcFailover, FailoverInputs: []*state.Input{offlineChild, onlineChild}}

	desired := r.deriveDescriptors([]*state.Restream{rs})
	epID := rs.Input.Endpoints[0].ID
	desc, ok := desired[epID]
	if !ok {
		t.Fatal("expected a descriptor once a failover child is Online")
	}
	if desc.FromURL != "rtmp://127.0.0.1:1935/live1/backup-b" {
		t.Fatalf("FromURL = %q, want the online child's internal url", desc.FromURL)
	}
}
