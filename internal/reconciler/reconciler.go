// Package reconciler derives the desired set of child media processes from
// the declared restream tree and keeps a pool of supervised processes
// aligned with it, preserving unchanged processes, restarting changed ones,
// and tearing down processes no longer desired.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/thejerf/suture/v4"

	"github.com/restreamer-go/restreamer/internal/descriptor"
	"github.com/restreamer-go/restreamer/internal/process"
	"github.com/restreamer-go/restreamer/internal/state"
	"github.com/restreamer-go/restreamer/internal/voicechat"
)

// internalURL derives the loopback media-server URL an endpoint is reached
// through. HLS endpoints are distinguished by a vhost query parameter
// appended to the restream key segment, before the input key, since the
// embedded media server routes the HLS vhost off the app segment:
// rtmp://127.0.0.1:1935/{restream_key}[?vhost=hls]/{input_key}.
func internalURL(restreamKey, inputKey string, kind state.EndpointKind) string {
	app := restreamKey
	if kind == state.KindHLS {
		app += "?vhost=hls"
	}
	return fmt.Sprintf("rtmp://127.0.0.1:1935/%s/%s", app, inputKey)
}

// poolEntry is one running (or starting) supervised process.
type poolEntry struct {
	desc  *descriptor.Descriptor
	token suture.ServiceToken
}

// Reconciler owns the suture tree of supervised processes and keeps it
// aligned with every new restreams snapshot.
type Reconciler struct {
	store     *state.Store
	ffmpeg    string
	fileAlloc descriptor.FileAllocator
	ports     *descriptor.PortAllocator
	voice     *voicechat.Manager
	log       *slog.Logger

	sup  *suture.Supervisor
	pool map[uuid.UUID]*poolEntry
}

// New creates a Reconciler. ffmpegPath is the ffmpeg binary to spawn;
// fileAlloc materializes file:// destinations (Recording File Store, C9);
// voice manages ts:// mixin connections (Auxiliary Audio Ingest, C8) — pass
// nil to run with silent placeholder audio (voicechat.NewManager(log, nil)).
func New(store *state.Store, ffmpegPath string, fileAlloc descriptor.FileAllocator, voice *voicechat.Manager, log *slog.Logger) *Reconciler {
	if voice == nil {
		voice = voicechat.NewManager(log, nil)
	}
	return &Reconciler{
		store:     store,
		ffmpeg:    ffmpegPath,
		fileAlloc: fileAlloc,
		ports:     descriptor.NewPortAllocator(),
		voice:     voice,
		log:       log,
		sup: suture.New("process-pool", suture.Spec{
			// Our own Supervised.Serve never returns an error to suture
			// except via panic; there is nothing for suture itself to
			// backoff-restart, but a short failure backoff is a safe
			// default should that assumption ever be violated.
			FailureBackoff: 2 * time.Second,
		}),
		pool: make(map[uuid.UUID]*poolEntry),
	}
}

// Run subscribes to the restreams cell and reconciles the process pool on
// every snapshot until ctx is cancelled. It also runs the suture tree that
// owns every supervised process, so callers should run it as its own
// long-lived goroutine (or suture.Service).
func (r *Reconciler) Run(ctx context.Context) error {
	sub, cancel := r.store.Restreams.Subscribe()
	defer cancel()

	supDone := make(chan error, 1)
	go func() { supDone <- r.sup.Serve(ctx) }()

	for {
		select {
		case <-ctx.Done():
			<-supDone
			return nil
		case snapshot, ok := <-sub:
			if !ok {
				<-supDone
				return nil
			}
			r.reconcile(snapshot)
		}
	}
}

// Name satisfies suture.Service for Reconcilers embedded in an outer tree.
func (r *Reconciler) Name() string { return "reconciler" }

// Serve is an alias for Run so Reconciler itself can be added to a parent
// suture.Supervisor.
func (r *Reconciler) Serve(ctx context.Context) error { return r.Run(ctx) }

// reconcile derives the desired descriptor set from restreams and diffs it
// against the running pool. It runs on the single goroutine driving Run, so
// no additional locking around pool/desired comparisons is required.
func (r *Reconciler) reconcile(restreams []*state.Restream) {
	desired := r.deriveDescriptors(restreams)

	for id, desc := range desired {
		existing, running := r.pool[id]
		if running && !descriptor.NeedsRestart(existing.desc, desc) {
			// Unchanged (or volume-only tuned, absorbed in place by
			// NeedsRestart itself); keep the running supervisor.
			continue
		}
		if running {
			// The mixin set carries forward across a restart of the same
			// output (mergeMixinRuntime already preserved VoiceHandleID
			// onto desc); keep those voice-chat connections alive rather
			// than tearing down and immediately reconnecting.
			r.stopEntry(id, existing, mixinIDSet(desc))
		}
		r.startEntry(id, desc)
	}

	for id, existing := range r.pool {
		if _, stillDesired := desired[id]; !stillDesired {
			r.stopEntry(id, existing, nil)
		}
	}
}

func mixinIDSet(desc *descriptor.Descriptor) map[uuid.UUID]bool {
	keep := make(map[uuid.UUID]bool, len(desc.Mixins))
	for _, m := range desc.Mixins {
		keep[m.ID] = true
	}
	return keep
}

func (r *Reconciler) startEntry(id uuid.UUID, desc *descriptor.Descriptor) {
	if desc.Kind == descriptor.KindMix {
		for i, m := range desc.Mixins {
			if err := process.EnsureFifo(m.ID); err != nil && r.log != nil {
				r.log.Error("creating mixin fifo", "mixin", m.ID, "error", err)
			}
			if !isVoiceChatSrc(m.URL) {
				continue
			}
			h, err := r.voice.Acquire(context.Background(), m.ID, m.URL, "")
			if err != nil {
				if r.log != nil {
					r.log.Error("connecting voice-chat mixin", "mixin", m.ID, "error", err)
				}
				continue
			}
			desc.Mixins[i].VoiceHandleID = h.ID
		}
	}

	d := desc // capture for the closure below
	sp := &process.Supervised{
		ID:     id,
		Binary: r.ffmpeg,
		Args:   func() ([]string, error) { return d.BuildArgs(r.fileAlloc) },
		Log:    r.log,
	}
	token := r.sup.Add(sp)
	r.pool[id] = &poolEntry{desc: desc, token: token}
}

// stopEntry tears down a running process and its FIFOs. keepVoice lists
// mixin IDs whose voice-chat connection must survive (a restart of the
// same output that still uses that mixin); nil releases every mixin's
// connection.
func (r *Reconciler) stopEntry(id uuid.UUID, entry *poolEntry, keepVoice map[uuid.UUID]bool) {
	_ = r.sup.Remove(entry.token)
	delete(r.pool, id)
	if entry.desc.Kind == descriptor.KindMix {
		for _, m := range entry.desc.Mixins {
			_ = process.RemoveFifo(m.ID)
			if !keepVoice[m.ID] {
				r.voice.Release(m.ID)
			}
		}
	}
}

func isVoiceChatSrc(raw string) bool {
	return strings.HasPrefix(raw, "ts://")
}

// deriveDescriptors implements §4.6's rules: input-side descriptors (one
// per eligible InputEndpoint, recursing through failover) plus output-side
// descriptors (one per enabled Output), keyed by the entity UUID that
// induces each process.
func (r *Reconciler) deriveDescriptors(restreams []*state.Restream) map[uuid.UUID]*descriptor.Descriptor {
	desired := make(map[uuid.UUID]*descriptor.Descriptor)

	for _, rs := range restreams {
		ready := isReadyToServe(rs.Input)
		r.deriveInputDescriptors(desired, rs.Key, rs.Input, ready)

		mainURL, ok := mainRTMPURL(rs.Key, rs.Input)
		if !ok {
			continue
		}
		for _, out := range rs.Outputs {
			if !out.Enabled {
				continue
			}
			desired[out.ID] = r.deriveOutputDescriptor(out, mainURL)
		}
	}

	return desired
}

// mainRTMPURL is the internal URL of the restream's own (non-failover-child)
// RTMP endpoint, the pull source for all of its outputs.
func mainRTMPURL(restreamKey string, in *state.Input) (string, bool) {
	if in == nil || !in.Enabled {
		return "", false
	}
	for _, ep := range in.Endpoints {
		if ep.Kind == state.KindRTMP {
			return internalURL(restreamKey, in.Key, state.KindRTMP), true
		}
	}
	return "", false
}

// isReadyToServe reports whether at least one RTMP endpoint anywhere in the
// input tree (including failover children) is Online.
func isReadyToServe(in *state.Input) bool {
	if in == nil {
		return false
	}
	for _, ep := range in.Endpoints {
		if ep.Kind == state.KindRTMP && ep.Status == state.StatusOnline {
			return true
		}
	}
	if in.Src != nil {
		for _, child := range in.Src.FailoverInputs {
			if isReadyToServe(child) {
				return true
			}
		}
	}
	return false
}

func (r *Reconciler) deriveInputDescriptors(desired map[uuid.UUID]*descriptor.Descriptor, restreamKey string, in *state.Input, ready bool) {
	if in == nil || !in.Enabled {
		return
	}

	for _, ep := range in.Endpoints {
		switch ep.Kind {
		case state.KindRTMP:
			if desc := r.deriveRTMPDescriptor(ep, restreamKey, in); desc != nil {
				desired[ep.ID] = desc
			}
		case state.KindHLS:
			if ready {
				desired[ep.ID] = &descriptor.Descriptor{
					ID:       ep.ID,
					Kind:     descriptor.KindTranscode,
					FromURL:  internalURL(restreamKey, in.Key, state.KindRTMP),
					ToURL:    internalURL(restreamKey, in.Key, state.KindHLS),
					VCodec:   "libx264",
					VProfile: "baseline",
					VPreset:  "superfast",
					ACodec:   "libfdk_aac",
				}
			}
		}
	}

	if in.Src != nil {
		for _, child := range in.Src.FailoverInputs {
			r.deriveInputDescriptors(desired, restreamKey, child, ready)
		}
	}
}

func (r *Reconciler) deriveRTMPDescriptor(ep *state.InputEndpoint, restreamKey string, in *state.Input) *descriptor.Descriptor {
	toURL := internalURL(restreamKey, in.Key, state.KindRTMP)

	if in.Src == nil {
		// Push-only input: clients publish directly, no pull process needed.
		return nil
	}

	switch in.Src.Kind {
	case state.SrcRemote:
		return &descriptor.Descriptor{
			ID:      ep.ID,
			Kind:    descriptor.KindCopy,
			FromURL: in.Src.RemoteURL,
			ToURL:   toURL,
		}
	case state.SrcFailover:
		for _, child := range in.Src.FailoverInputs {
			childEP := rtmpEndpointOf(child)
			if childEP != nil && childEP.Status == state.StatusOnline {
				return &descriptor.Descriptor{
					ID:      ep.ID,
					Kind:    descriptor.KindCopy,
					FromURL: internalURL(restreamKey, child.Key, state.KindRTMP),
					ToURL:   toURL,
				}
			}
		}
		return nil
	default:
		return nil
	}
}

func rtmpEndpointOf(in *state.Input) *state.InputEndpoint {
	for _, ep := range in.Endpoints {
		if ep.Kind == state.KindRTMP {
			return ep
		}
	}
	return nil
}

func (r *Reconciler) deriveOutputDescriptor(out *state.Output, mainURL string) *descriptor.Descriptor {
	if len(out.Mixins) == 0 {
		return &descriptor.Descriptor{
			ID:      out.ID,
			Kind:    descriptor.KindCopy,
			FromURL: mainURL,
			ToURL:   out.Dst,
		}
	}

	mixins := make([]descriptor.MixinDesc, len(out.Mixins))
	for i, m := range out.Mixins {
		mixins[i] = descriptor.MixinDesc{
			ID:          m.ID,
			URL:         m.Src,
			Delay:       m.Delay,
			Volume:      m.Volume,
			Sidechain:   m.Sidechain,
			ControlPort: r.ports.Next(),
		}
	}

	prev, wasMix := r.pool[out.ID]
	desc := &descriptor.Descriptor{
		ID:              out.ID,
		Kind:            descriptor.KindMix,
		FromURL:         mainURL,
		ToURL:           out.Dst,
		OrigVolume:      out.Volume,
		OrigControlPort: r.ports.Next(),
		Mixins:          mixins,
	}

	if wasMix && prev.desc.Kind == descriptor.KindMix {
		// Preserve control ports / voice handles across a reconcile pass
		// that doesn't otherwise need a restart; NeedsRestart itself will
		// reconcile and absorb when the only delta is volumes.
		mergeMixinRuntime(prev.desc, desc)
	}

	return desc
}

// mergeMixinRuntime copies control ports and voice-chat handle ids from the
// previous Mix descriptor's mixins into the freshly derived one, matched by
// mixin ID, so a reconcile pass that turns out not to need a restart
// doesn't spuriously reassign control ports or force a voice-chat
// reconnect.
func mergeMixinRuntime(prev, next *descriptor.Descriptor) {
	byID := make(map[uuid.UUID]descriptor.MixinDesc, len(prev.Mixins))
	for _, m := range prev.Mixins {
		byID[m.ID] = m
	}
	for i, m := range next.Mixins {
		if old, ok := byID[m.ID]; ok {
			next.Mixins[i].ControlPort = old.ControlPort
			next.Mixins[i].VoiceHandleID = old.VoiceHandleID
		}
	}
	next.OrigControlPort = prev.OrigControlPort
}
