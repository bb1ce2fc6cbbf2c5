package peers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/restreamer-go/restreamer/internal/state"
)

func TestPollRecordsSuccessfulStatistics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api-statistics" {
			t.Errorf("request path = %q, want /api-statistics", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"serverInfo": map[string]any{"cpuUsage": 12.5, "memUsage": 33.0},
			},
		})
	}))
	defer srv.Close()

	st := state.New(slog.Default())
	if _, err := st.AddClient(srv.URL); err != nil {
		t.Fatalf("AddClient() error = %v", err)
	}

	p := &Poller{PeerURL: srv.URL, Store: st}
	p.poll(context.Background(), srv.Client())

	clients := st.Clients.Snapshot()
	if len(clients) != 1 || clients[0].LastStatistics == nil {
		t.Fatal("expected statistics to be recorded")
	}
	if clients[0].LastStatistics.Error != "" {
		t.Fatalf("unexpected error recorded: %s", clients[0].LastStatistics.Error)
	}
	if clients[0].LastStatistics.CPUUsage != 12.5 {
		t.Fatalf("cpu usage = %v, want 12.5", clients[0].LastStatistics.CPUUsage)
	}
}

func TestPollRecordsTransportErrors(t *testing.T) {
	st := state.New(slog.Default())
	if _, err := st.AddClient("http://127.0.0.1:1"); err != nil {
		t.Fatalf("AddClient() error = %v", err)
	}

	p := &Poller{PeerURL: "http://127.0.0.1:1", Store: st}
	p.poll(context.Background(), &http.Client{Timeout: time.Second})

	clients := st.Clients.Snapshot()
	if clients[0].LastStatistics == nil || clients[0].LastStatistics.Error == "" {
		t.Fatal("expected an error to be recorded for an unreachable peer")
	}
}
