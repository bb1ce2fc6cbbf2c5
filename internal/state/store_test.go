package state

import (
	"log/slog"
	"testing"
)

func newTestStore() *Store {
	return New(slog.Default())
}

func simpleRestreamSpec(key string) RestreamSpec {
	return RestreamSpec{
		Key: key,
		Input: InputSpec{
			Key:     "in",
			Enabled: true,
			Endpoints: []EndpointSpec{
				{Kind: KindRTMP},
			},
		},
	}
}

func TestAddRestreamSucceedsAndRejectsDuplicateKey(t *testing.T) {
	st := newTestStore()

	r, err := st.AddRestream(simpleRestreamSpec("live1"))
	if err != nil {
		t.Fatalf("AddRestream() error = %v", err)
	}
	if r.Key != "live1" {
		t.Fatalf("got key %q, want live1", r.Key)
	}

	if _, err := st.AddRestream(simpleRestreamSpec("live1")); err != ErrDuplicateKey {
		t.Fatalf("second AddRestream() error = %v, want ErrDuplicateKey", err)
	}
}

func TestAddRestreamRejectsInvalidKey(t *testing.T) {
	st := newTestStore()
	if _, err := st.AddRestream(simpleRestreamSpec("Has Spaces")); err == nil {
		t.Fatal("expected error for invalid key")
	}
}

func TestAddRestreamRequiresRTMPEndpoint(t *testing.T) {
	st := newTestStore()
	spec := simpleRestreamSpec("live1")
	spec.Input.Endpoints = []EndpointSpec{{Kind: KindHLS}}
	if _, err := st.AddRestream(spec); err == nil {
		t.Fatal("expected error for missing RTMP endpoint")
	}
}

func TestDisableRestreamClearsEndpointHandles(t *testing.T) {
	st := newTestStore()
	r, err := st.AddRestream(simpleRestreamSpec("live1"))
	if err != nil {
		t.Fatalf("AddRestream() error = %v", err)
	}

	r.Input.Endpoints[0].Status = StatusOnline
	r.Input.Endpoints[0].PublisherHandle = "handle-1"

	changed, ok := st.DisableRestream(r.ID)
	if !ok || !changed {
		t.Fatalf("DisableRestream() = (%v, %v), want (true, true)", changed, ok)
	}

	got := st.Restreams.Snapshot()[0]
	if got.Input.Endpoints[0].Status != StatusOffline {
		t.Fatalf("endpoint status = %v, want Offline", got.Input.Endpoints[0].Status)
	}
	if got.Input.Endpoints[0].PublisherHandle != "" {
		t.Fatal("expected publisher handle cleared")
	}
}

func TestAddOutputRejectsDuplicateDst(t *testing.T) {
	st := newTestStore()
	r, _ := st.AddRestream(simpleRestreamSpec("live1"))

	if _, _, ok := st.AddOutput(r.ID, OutputSpec{Dst: "rtmp://dst/a", Enabled: true}); !ok {
		t.Fatal("expected restream to be found")
	}
	if _, err, ok := st.AddOutput(r.ID, OutputSpec{Dst: "rtmp://dst/a", Enabled: true}); !ok || err != ErrDuplicateOutputURL {
		t.Fatalf("AddOutput() = (err=%v, ok=%v), want ErrDuplicateOutputURL", err, ok)
	}
}

func TestTuneVolumeReportsChangeOnlyWhenValueDiffers(t *testing.T) {
	st := newTestStore()
	r, _ := st.AddRestream(simpleRestreamSpec("live1"))
	out, _, _ := st.AddOutput(r.ID, OutputSpec{Dst: "rtmp://dst/a", Enabled: true})

	changed, ok := st.TuneVolume(r.ID, out.ID, nil, Volume{Level: 50})
	if !ok || !changed {
		t.Fatalf("TuneVolume() = (%v, %v), want (true, true)", changed, ok)
	}

	changed, ok = st.TuneVolume(r.ID, out.ID, nil, Volume{Level: 50})
	if !ok || changed {
		t.Fatalf("repeat TuneVolume() = (%v, %v), want (false, true)", changed, ok)
	}
}

func TestApplyReplaceRemovesOrphans(t *testing.T) {
	st := newTestStore()
	if _, err := st.AddRestream(simpleRestreamSpec("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := st.AddRestream(simpleRestreamSpec("b")); err != nil {
		t.Fatal(err)
	}

	if err := st.Apply([]RestreamSpec{simpleRestreamSpec("a")}, true); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	got := st.Restreams.Snapshot()
	if len(got) != 1 || got[0].Key != "a" {
		t.Fatalf("got %d restreams, want exactly [a]", len(got))
	}
}

func TestApplyPreservesIDsAndEnabledOnMatch(t *testing.T) {
	st := newTestStore()
	r, _ := st.AddRestream(simpleRestreamSpec("a"))
	st.DisableRestream(r.ID)

	if err := st.Apply([]RestreamSpec{simpleRestreamSpec("a")}, false); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	got := st.Restreams.Snapshot()[0]
	if got.ID != r.ID {
		t.Fatal("expected id to be preserved across apply")
	}
	if got.Input.Enabled {
		t.Fatal("expected enabled flag to remain false; apply must not overwrite it")
	}
}

func TestVolumeDisplayAsFraction(t *testing.T) {
	cases := []struct {
		level VolumeLevel
		muted bool
		want  string
	}{
		{1, false, "0.01"},
		{10, false, "0.10"},
		{200, false, "2.00"},
		{107, false, "1.07"},
		{170, false, "1.70"},
		{1000, false, "10.00"},
		{0, false, "0.00"},
		{200, true, "0.00"},
	}
	for _, c := range cases {
		v := Volume{Level: c.level, Muted: c.muted}
		if got := v.DisplayAsFraction(); got != c.want {
			t.Errorf("Volume{%d,%v}.DisplayAsFraction() = %q, want %q", c.level, c.muted, got, c.want)
		}
	}
}
