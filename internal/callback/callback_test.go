package callback

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/restreamer-go/restreamer/internal/state"
)

func newTestHandler(t *testing.T) (*Handler, *state.Store) {
	t.Helper()
	st := state.New(nil)
	_, err := st.AddRestream(state.RestreamSpec{
		Key: "live1",
		Input: state.InputSpec{
			Key:     "in",
			Enabled: true,
			Endpoints: []state.EndpointSpec{
				{Kind: state.KindRTMP},
			},
		},
	})
	if err != nil {
		t.Fatalf("AddRestream() error = %v", err)
	}
	return &Handler{Store: st}, st
}

func postEvent(h *Handler, ev Event) *httptest.ResponseRecorder {
	body, _ := json.Marshal(ev)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestOnPublishSetsEndpointOnlineAndRecordsHandle(t *testing.T) {
	h, st := newTestHandler(t)

	rec := postEvent(h, Event{Action: OnPublish, App: "live1", Stream: "in", IP: "203.0.113.7", ClientID: "A"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	ep := st.Restreams.Snapshot()[0].Input.Endpoints[0]
	if ep.Status != state.StatusOnline {
		t.Fatalf("endpoint status = %v, want Online", ep.Status)
	}
	if ep.PublisherHandle != "A" {
		t.Fatalf("publisher handle = %q, want A", ep.PublisherHandle)
	}
}

func TestOnUnpublishClearsHandleAndSetsOffline(t *testing.T) {
	h, st := newTestHandler(t)
	postEvent(h, Event{Action: OnPublish, App: "live1", Stream: "in", IP: "203.0.113.7", ClientID: "A"})

	rec := postEvent(h, Event{Action: OnUnpublish, App: "live1", Stream: "in", ClientID: "A"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	ep := st.Restreams.Snapshot()[0].Input.Endpoints[0]
	if ep.Status != state.StatusOffline || ep.PublisherHandle != "" {
		t.Fatalf("endpoint = %+v, want cleared and Offline", ep)
	}
}

func TestOnConnectRejectsUnknownApp(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := postEvent(h, Event{Action: OnConnect, App: "nope"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestOnHlsRejectsWhenEndpointNotOnline(t *testing.T) {
	h, st := newTestHandler(t)
	r := st.Restreams.Snapshot()[0]
	st.Restreams.Update(func(rs *[]*state.Restream) {
		for _, restream := range *rs {
			if restream.ID == r.ID {
				restream.Input.Endpoints = append(restream.Input.Endpoints, &state.InputEndpoint{Kind: state.KindHLS})
			}
		}
	})

	rec := postEvent(h, Event{Action: OnHls, App: "live1", Stream: "in", Vhost: "hls", ClientID: "viewer-1"})
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418 (not ready)", rec.Code)
	}
}
