// Package peers polls sibling restreamer instances' statistics schema and
// folds the results back into the declared Client entries, one supervised
// coroutine per peer.
package peers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/restreamer-go/restreamer/internal/state"
)

const (
	pollInterval = 2 * time.Second
	pollTimeout  = 5 * time.Second
)

// statsQuery is the fixed GraphQL query POSTed to every peer's
// /api-statistics schema.
const statsQuery = `{"query":"{ serverInfo { cpuUsage memUsage } }"}`

type statsResponse struct {
	Data struct {
		ServerInfo struct {
			CPUUsage float64 `json:"cpuUsage"`
			MemUsage float64 `json:"memUsage"`
		} `json:"serverInfo"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

// Poller is a suture.Service polling one peer URL forever until its Serve
// context is cancelled.
type Poller struct {
	PeerURL string
	Store   *state.Store
	HTTP    *http.Client
	Log     *slog.Logger
}

// Name satisfies suture.Service.
func (p *Poller) Name() string { return "peer:" + p.PeerURL }

// Serve implements suture.Service: POST the statistics query every
// pollInterval, recording either the decoded result or the failure itself
// into the peer's Client.LastStatistics slot.
func (p *Poller) Serve(ctx context.Context) error {
	client := p.HTTP
	if client == nil {
		client = &http.Client{Timeout: pollTimeout}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	p.poll(ctx, client)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.poll(ctx, client)
		}
	}
}

func (p *Poller) poll(ctx context.Context, client *http.Client) {
	stats, err := p.fetch(ctx, client)

	p.Store.Clients.Update(func(clients *[]*state.Client) {
		for _, c := range *clients {
			if c.ID != p.PeerURL {
				continue
			}
			if err != nil {
				c.LastStatistics = &state.ClientStatistics{Timestamp: time.Now(), Error: err.Error()}
			} else {
				c.LastStatistics = stats
			}
			return
		}
	})

	if err != nil && p.Log != nil {
		p.Log.Warn("peer poll failed", "peer", p.PeerURL, "error", err)
	}
}

func (p *Poller) fetch(ctx context.Context, client *http.Client) (stats *state.ClientStatistics, err error) {
	defer func() {
		if r := recover(); r != nil {
			// A panic inside fetch (e.g. a buggy decode path) is folded
			// into the same error-carrying slot rather than crashing the
			// poller; it will retry on the next tick.
			stats, err = nil, fmt.Errorf("panic polling %s: %v", p.PeerURL, r)
		}
	}()

	reqCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	url := p.PeerURL + "/api-statistics"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewBufferString(statsQuery))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}

	var parsed statsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("%s: %s", url, parsed.Errors[0].Message)
	}

	return &state.ClientStatistics{
		CPUUsage:  parsed.Data.ServerInfo.CPUUsage,
		MemUsage:  parsed.Data.ServerInfo.MemUsage,
		Timestamp: time.Now(),
	}, nil
}
