// Command restreamer runs the Reactive Configuration → Process Pool
// Reconciliation Engine: it loads declared restream state, reconciles a
// pool of supervised ffmpeg processes against it, and serves the GraphQL
// control surface and the embedded media server's callback endpoint.
//
// Usage:
//
//	restreamer [options]
//
// Options:
//
//	--config=PATH   Path to YAML configuration file (optional)
//	--lock-file=PATH Single-instance guard file (default: /var/run/restreamer.lock)
//	--log-level=LEVEL debug, info, warn, error (default: info)
//	--init          Run an interactive configuration wizard, write --config, and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/restreamer-go/restreamer/internal/bootstrap"
	"github.com/restreamer-go/restreamer/internal/callback"
	"github.com/restreamer-go/restreamer/internal/graphqlapi"
	"github.com/restreamer-go/restreamer/internal/lock"
	"github.com/restreamer-go/restreamer/internal/peers"
	"github.com/restreamer-go/restreamer/internal/recfiles"
	"github.com/restreamer-go/restreamer/internal/reconciler"
	"github.com/restreamer-go/restreamer/internal/state"
	"github.com/restreamer-go/restreamer/internal/util"
	"github.com/restreamer-go/restreamer/internal/voicechat"
)

var (
	configPath = flag.String("config", "", "Path to YAML configuration file")
	lockFile   = flag.String("lock-file", "/var/run/restreamer.lock", "Single-instance guard file")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	showHelp   = flag.Bool("help", false, "Show help message")
	runWizard  = flag.Bool("init", false, "Run the interactive configuration wizard and exit")
)

func main() {
	flag.Parse()
	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if *runWizard {
		path := *configPath
		if path == "" {
			path = "restreamer.yaml"
		}
		if err := runInit(path); err != nil {
			fmt.Fprintf(os.Stderr, "restreamer --init: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	log := newLogger(*logLevel)

	if err := run(log); err != nil {
		log.Error("restreamer exited with error", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	fl, err := lock.NewFileLock(*lockFile)
	if err != nil {
		return fmt.Errorf("build single-instance lock: %w", err)
	}
	if err := fl.Acquire(10 * time.Second); err != nil {
		return fmt.Errorf("another restreamer instance is already running: %w", err)
	}
	defer func() { _ = fl.Release() }()

	kc, err := bootstrap.NewKoanfConfig(bootstrap.WithYAMLFile(*configPath))
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cfg, err := kc.Load()
	if err != nil {
		return fmt.Errorf("validate configuration: %w", err)
	}
	log.Info("configuration loaded", "ffmpeg", cfg.FFmpegPath, "state_file", cfg.StateFile)

	store := state.New(log)
	persister := state.NewPersister(cfg.StateFile, log)
	if err := persister.Load(store); err != nil {
		return fmt.Errorf("load persisted state: %w", err)
	}

	recStore, err := recfiles.New(cfg.RecordingsDir, log)
	if err != nil {
		return fmt.Errorf("initialize recording file store: %w", err)
	}

	voice := voicechat.NewManager(log, nil)
	rec := reconciler.New(store, cfg.FFmpegPath, recStore.Allocate, voice, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := suture.New("restreamer", suture.Spec{FailureBackoff: 2 * time.Second})
	sup.Add(rec)
	sup.Add(voice)
	sup.Add(persisterService{persister: persister, store: store})
	sup.Add(recordingsCleanupService{store: store, recfiles: recStore})
	sup.Add(peerRosterService{store: store, log: log})

	callbackSrv := &http.Server{
		Addr:    cfg.CallbackAddr,
		Handler: &callback.Handler{Store: store, Log: log},
	}
	sup.Add(httpServerService{name: "callback", srv: callbackSrv, log: log})

	mux := http.NewServeMux()
	if err := graphqlapi.Mount(mux, store); err != nil {
		return fmt.Errorf("mount graphql surface: %w", err)
	}
	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	sup.Add(httpServerService{name: "graphql", srv: apiSrv, log: log})

	log.Info("restreamer starting", "callback_addr", cfg.CallbackAddr, "http_addr", cfg.HTTPAddr)
	if err := sup.Serve(ctx); err != nil && err != context.Canceled {
		return err
	}
	log.Info("restreamer shutdown complete")
	return nil
}

// logWriter adapts a *slog.Logger to io.Writer so util.SafeGo can log
// recovered panics through the same structured logger as everything else.
// A nil Log is silently dropped, matching slog.Logger's own nil-safety.
type logWriter struct {
	log *slog.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	if w.log != nil {
		w.log.Error(string(p))
	}
	return len(p), nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// persisterService adapts state.Persister.WatchAndPersist (a stop-channel
// API) to suture.Service (a context API).
type persisterService struct {
	persister *state.Persister
	store     *state.Store
}

func (persisterService) Name() string { return "state-persister" }

func (s persisterService) Serve(ctx context.Context) error {
	stop := make(chan struct{})
	util.SafeGo("persister-stop-watch", nil, func() {
		<-ctx.Done()
		close(stop)
	}, nil)
	s.persister.WatchAndPersist(s.store, stop)
	return nil
}

// recordingsCleanupService prunes orphaned per-output recording
// directories once per restreams snapshot, after the 1-second settling
// delay recfiles.CleanupAfterSettle schedules internally.
type recordingsCleanupService struct {
	store    *state.Store
	recfiles *recfiles.Store
}

func (recordingsCleanupService) Name() string { return "recordings-cleanup" }

func (s recordingsCleanupService) Serve(ctx context.Context) error {
	ch, cancel := s.store.Restreams.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case restreams := <-ch:
			s.recfiles.CleanupAfterSettle(restreams)
		}
	}
}

// peerRosterService starts and stops a peers.Poller for every Client as
// the declared client roster changes.
type peerRosterService struct {
	store *state.Store
	log   *slog.Logger
}

func (peerRosterService) Name() string { return "peer-roster" }

func (s peerRosterService) Serve(ctx context.Context) error {
	sup := suture.New("peers", suture.Spec{FailureBackoff: 2 * time.Second})
	supDone := make(chan error, 1)
	util.SafeGo("peer-roster-supervisor", logWriter{s.log}, func() { supDone <- sup.Serve(ctx) }, nil)

	tokens := make(map[string]suture.ServiceToken)

	ch, cancel := s.store.Clients.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			<-supDone
			return nil
		case clients := <-ch:
			seen := make(map[string]bool, len(clients))
			for _, c := range clients {
				seen[c.ID] = true
				if _, ok := tokens[c.ID]; ok {
					continue
				}
				p := &peers.Poller{PeerURL: c.ID, Store: s.store, Log: s.log}
				tokens[c.ID] = sup.Add(p)
			}
			for id, token := range tokens {
				if !seen[id] {
					_ = sup.Remove(token)
					delete(tokens, id)
				}
			}
		}
	}
}

// httpServerService binds srv synchronously (surfacing bind errors
// immediately rather than inside a detached goroutine) and shuts it down
// via srv.Shutdown(ctx) on cancellation, the same pattern the reference
// health-check server uses.
type httpServerService struct {
	name string
	srv  *http.Server
	log  *slog.Logger
}

func (s httpServerService) Name() string { return s.name }

func (s httpServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	util.SafeGo(s.name+"-listen", logWriter{s.log}, func() { errCh <- s.srv.ListenAndServe() }, nil)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("%s server: %w", s.name, err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("server shutdown error", "server", s.name, "error", err)
		}
		return nil
	}
}
