// Package callback implements the HTTP endpoint the embedded media server
// calls back into on every connect/publish/play lifecycle event, the sole
// writer of InputEndpoint.Status = Online.
package callback

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/restreamer-go/restreamer/internal/state"
)

// Action is one of the six lifecycle events the media server reports.
type Action string

const (
	OnConnect   Action = "OnConnect"
	OnPublish   Action = "OnPublish"
	OnUnpublish Action = "OnUnpublish"
	OnPlay      Action = "OnPlay"
	OnStop      Action = "OnStop"
	OnHls       Action = "OnHls"
)

// Event is the JSON body POSTed by the media server.
type Event struct {
	Action   Action `json:"action"`
	App      string `json:"app"`
	Stream   string `json:"stream"`
	Vhost    string `json:"vhost"`
	IP       string `json:"ip"`
	ClientID string `json:"client_id"`
}

// Handler serves the single callback POST endpoint.
type Handler struct {
	Store *state.Store
	Log   *slog.Logger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var ev Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	status, err := h.handle(ev)
	if err != nil {
		if h.Log != nil {
			h.Log.Warn("callback rejected", "action", ev.Action, "app", ev.App, "stream", ev.Stream, "error", err)
		}
		w.WriteHeader(status)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("0"))
}

func (h *Handler) handle(ev Event) (int, error) {
	kind := endpointKindFromVhost(ev.Vhost)

	switch ev.Action {
	case OnConnect:
		return h.onConnect(ev)
	case OnPublish:
		return h.onPublish(ev, kind)
	case OnUnpublish:
		return h.onUnpublish(ev, kind)
	case OnPlay:
		return h.onPlay(ev, kind)
	case OnStop:
		return h.onStop(ev, kind)
	case OnHls:
		return h.onHls(ev)
	default:
		return http.StatusNotFound, errUnknownAction
	}
}

func endpointKindFromVhost(vhost string) state.EndpointKind {
	if vhost == "hls" {
		return state.KindHLS
	}
	return state.KindRTMP
}

func isLoopback(ip string) bool {
	host := ip
	if h, _, err := net.SplitHostPort(ip); err == nil {
		host = h
	}
	parsed := net.ParseIP(host)
	return parsed != nil && parsed.IsLoopback()
}

var (
	errUnknownAction  = httpError("unknown action")
	errNotFound       = httpError("not found")
	errForbidden      = httpError("forbidden")
	errNotReady       = httpError("not ready")
)

type httpError string

func (e httpError) Error() string { return string(e) }

func (h *Handler) onConnect(ev Event) (int, error) {
	rs := findRestreamEnabled(h.Store, ev.App)
	if rs == nil {
		return http.StatusNotFound, errNotFound
	}
	return http.StatusOK, nil
}

func (h *Handler) onPublish(ev Event, kind state.EndpointKind) (int, error) {
	status := http.StatusNotFound
	var outerErr error = errNotFound

	h.Store.Restreams.Update(func(restreams *[]*state.Restream) {
		rs, in := findEnabledInputByKey(*restreams, ev.App, ev.Stream)
		if rs == nil || in == nil {
			return
		}
		ep := endpointOf(in, kind)
		if ep == nil {
			status, outerErr = http.StatusNotFound, errNotFound
			return
		}
		if !isLoopback(ev.IP) && (in.Src != nil || kind == state.KindHLS) {
			status, outerErr = http.StatusForbidden, errForbidden
			return
		}
		ep.PublisherHandle = ev.ClientID
		ep.Status = state.StatusOnline
		status, outerErr = http.StatusOK, nil
	})

	return status, outerErr
}

func (h *Handler) onUnpublish(ev Event, kind state.EndpointKind) (int, error) {
	status := http.StatusNotFound
	var outerErr error = errNotFound

	h.Store.Restreams.Update(func(restreams *[]*state.Restream) {
		rs, in := findInputByKey(*restreams, ev.App, ev.Stream)
		if rs == nil || in == nil {
			return
		}
		ep := endpointOf(in, kind)
		if ep == nil {
			return
		}
		ep.PublisherHandle = ""
		ep.Status = state.StatusOffline
		status, outerErr = http.StatusOK, nil
	})

	return status, outerErr
}

func (h *Handler) onPlay(ev Event, kind state.EndpointKind) (int, error) {
	status := http.StatusNotFound
	var outerErr error = errNotFound

	h.Store.Restreams.Update(func(restreams *[]*state.Restream) {
		rs, in := findEnabledInputByKey(*restreams, ev.App, ev.Stream)
		if rs == nil || in == nil {
			return
		}
		ep := endpointOf(in, kind)
		if ep == nil {
			return
		}
		if ep.PlayerHandles == nil {
			ep.PlayerHandles = make(map[string]struct{})
		}
		ep.PlayerHandles[ev.ClientID] = struct{}{}
		status, outerErr = http.StatusOK, nil
	})

	return status, outerErr
}

func (h *Handler) onStop(ev Event, kind state.EndpointKind) (int, error) {
	status := http.StatusNotFound
	var outerErr error = errNotFound

	h.Store.Restreams.Update(func(restreams *[]*state.Restream) {
		rs, in := findInputByKey(*restreams, ev.App, ev.Stream)
		if rs == nil || in == nil {
			return
		}
		ep := endpointOf(in, kind)
		if ep == nil {
			return
		}
		delete(ep.PlayerHandles, ev.ClientID)
		status, outerErr = http.StatusOK, nil
	})

	return status, outerErr
}

func (h *Handler) onHls(ev Event) (int, error) {
	status := http.StatusNotFound
	var outerErr error = errNotFound

	h.Store.Restreams.Update(func(restreams *[]*state.Restream) {
		rs, in := findEnabledInputByKey(*restreams, ev.App, ev.Stream)
		if rs == nil || in == nil {
			return
		}
		ep := endpointOf(in, state.KindHLS)
		if ep == nil {
			return
		}
		if ep.Status != state.StatusOnline {
			status, outerErr = http.StatusTeapot, errNotReady
			return
		}
		if ep.PlayerHandles == nil {
			ep.PlayerHandles = make(map[string]struct{})
		}
		ep.PlayerHandles[ev.ClientID] = struct{}{}
		status, outerErr = http.StatusOK, nil
	})

	return status, outerErr
}

// findRestreamEnabled finds a restream by key with its top-level input
// enabled, without requiring a specific stream key match (OnConnect only
// checks the app-level restream).
func findRestreamEnabled(store *state.Store, app string) *state.Restream {
	for _, rs := range store.Restreams.Snapshot() {
		if rs.Key == app && rs.Input != nil && rs.Input.Enabled {
			return rs
		}
	}
	return nil
}

// findInputByKey recursively locates the input matching streamKey anywhere
// in app's input tree (including failover children), without an enabled
// filter.
func findInputByKey(restreams []*state.Restream, app, streamKey string) (*state.Restream, *state.Input) {
	for _, rs := range restreams {
		if rs.Key != app {
			continue
		}
		if in := searchInput(rs.Input, streamKey); in != nil {
			return rs, in
		}
	}
	return nil, nil
}

// findEnabledInputByKey is findInputByKey restricted to inputs that are
// themselves enabled.
func findEnabledInputByKey(restreams []*state.Restream, app, streamKey string) (*state.Restream, *state.Input) {
	rs, in := findInputByKey(restreams, app, streamKey)
	if in == nil || !in.Enabled {
		return nil, nil
	}
	return rs, in
}

func searchInput(in *state.Input, key string) *state.Input {
	if in == nil {
		return nil
	}
	if in.Key == key {
		return in
	}
	if in.Src != nil {
		for _, child := range in.Src.FailoverInputs {
			if found := searchInput(child, key); found != nil {
				return found
			}
		}
	}
	return nil
}

func endpointOf(in *state.Input, kind state.EndpointKind) *state.InputEndpoint {
	for _, ep := range in.Endpoints {
		if ep.Kind == kind {
			return ep
		}
	}
	return nil
}
