// Package process runs one ffmpeg child process on behalf of a process
// descriptor and keeps it alive, classifying every exit as unstable or
// offline and reporting each status change through the OnStatus callback.
//
// A Supervised is a suture.Service: Serve blocks until its context is
// cancelled, internally looping spawn -> wait -> classify -> pause -> respawn
// forever. The timing is fixed by the pool reconciliation engine's contract,
// not by suture's own backoff, so Serve never returns an error for suture to
// act on; it only returns (nil) once ctx is done.
package process

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Status is the supervised process's externally visible lifecycle state.
type Status int

const (
	StatusInitializing Status = iota
	StatusOnline
	StatusUnstable
	StatusOffline
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusOnline:
		return "online"
	case StatusUnstable:
		return "unstable"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

const (
	// onlineAfter is how long a freshly spawned process must keep running
	// before it is considered Online.
	onlineAfter = 10 * time.Second
	// unstableWindow: an exit within this long of the previous exit is
	// classified Unstable rather than Offline.
	unstableWindow = 15 * time.Second
	// respawnPause is the unconditional pause between an exit (of any
	// classification) and the next spawn attempt.
	respawnPause = 2 * time.Second
	// termGap separates the two SIGTERMs sent during graceful stop.
	termGap = time.Millisecond
	// killDeadline is how long graceful stop waits after the second SIGTERM
	// before escalating to SIGKILL.
	killDeadline = 5 * time.Second
)

// ArgsFunc renders the ffmpeg argv for one spawn, excluding the binary name.
// It is called fresh on every spawn so hot-tuned values picked up by the
// caller between restarts are reflected (though most tuning happens without
// a restart at all, via the hot-tune channel).
type ArgsFunc func() ([]string, error)

// Supervised manages one ffmpeg child process for descriptor ID, forever,
// until its Serve context is cancelled.
type Supervised struct {
	ID          uuid.UUID
	Binary      string
	Args        ArgsFunc
	Log         *slog.Logger
	OnStatus    func(Status)
	Stdout      *os.File
	Stderr      *os.File

	mu       sync.Mutex
	cmd      *exec.Cmd
	lastExit time.Time
	haveExit bool
}

// Name satisfies suture's optional naming convention and aids log
// correlation across restarts.
func (p *Supervised) Name() string { return p.ID.String() }

// Serve implements suture.Service. It loops spawning the process until ctx
// is cancelled, applying the fixed classify/pause/respawn timing. It only
// returns once ctx.Done() fires, after a graceful stop of any running child.
func (p *Supervised) Serve(ctx context.Context) error {
	p.setStatus(StatusInitializing)
	for {
		if ctx.Err() != nil {
			return nil
		}

		exitErr := p.runOnce(ctx)

		if ctx.Err() != nil {
			return nil
		}

		now := time.Now()
		p.mu.Lock()
		unstable := p.haveExit && now.Sub(p.lastExit) < unstableWindow
		p.lastExit = now
		p.haveExit = true
		p.mu.Unlock()

		if unstable {
			p.setStatus(StatusUnstable)
			p.logExit("unstable", exitErr)
		} else {
			p.setStatus(StatusOffline)
			p.logExit("offline", exitErr)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(respawnPause):
		}

		p.setStatus(StatusInitializing)
	}
}

func (p *Supervised) logExit(class string, err error) {
	if p.Log == nil {
		return
	}
	p.Log.Warn("process exited", "id", p.ID, "classification", class, "error", err)
}

// runOnce spawns the child once, flips to Online after onlineAfter unless it
// has already exited, and blocks until it exits or ctx is cancelled (in
// which case it performs a graceful stop before returning).
func (p *Supervised) runOnce(ctx context.Context) error {
	args, err := p.Args()
	if err != nil {
		if p.Log != nil {
			p.Log.Error("building process args", "id", p.ID, "error", err)
		}
		return err
	}

	cmd := exec.Command(p.Binary, args...)
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	// Ensure the child gets its own process group so a single SIGTERM/SIGKILL
	// targets the whole ffmpeg tree, not just the exec'd leader.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		if p.Log != nil {
			p.Log.Error("starting process", "id", p.ID, "binary", p.Binary, "error", err)
		}
		return err
	}

	p.mu.Lock()
	p.cmd = cmd
	p.mu.Unlock()

	onlineTimer := time.AfterFunc(onlineAfter, func() { p.setStatus(StatusOnline) })
	defer onlineTimer.Stop()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		p.gracefulStop(cmd)
		err := <-done
		p.mu.Lock()
		p.cmd = nil
		p.mu.Unlock()
		return err
	case err := <-done:
		p.mu.Lock()
		p.cmd = nil
		p.mu.Unlock()
		return err
	}
}

// gracefulStop sends two SIGTERMs roughly termGap apart, then escalates to
// SIGKILL if the process has not exited within killDeadline.
func (p *Supervised) gracefulStop(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	proc := cmd.Process

	_ = signalGroup(proc.Pid, syscall.SIGTERM)
	time.Sleep(termGap)
	_ = signalGroup(proc.Pid, syscall.SIGTERM)

	time.AfterFunc(killDeadline, func() {
		// Once Wait has reaped the leader, Signal reports ErrProcessDone and
		// the group is left alone.
		if proc.Signal(syscall.Signal(0)) == nil {
			_ = signalGroup(proc.Pid, syscall.SIGKILL)
		}
	})
}

// signalGroup signals the process group rooted at pid (negative pid), which
// is how ffmpeg's own children (if any) are reached along with ffmpeg
// itself. ESRCH (already exited) is an expected, benign race.
func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if err != nil && err != syscall.ESRCH {
		return fmt.Errorf("signal process group %d: %w", pid, err)
	}
	return nil
}

func (p *Supervised) setStatus(s Status) {
	if p.OnStatus != nil {
		p.OnStatus(s)
	}
}
