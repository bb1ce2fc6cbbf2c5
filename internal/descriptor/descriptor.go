// Package descriptor computes the immutable per-process parameters that
// would require restarting a child media process if changed, and renders
// them into an FFmpeg argument vector.
package descriptor

import (
	"time"

	"github.com/google/uuid"

	"github.com/restreamer-go/restreamer/internal/state"
)

// Kind distinguishes the three process shapes the engine may spawn.
type Kind int

const (
	KindCopy Kind = iota
	KindTranscode
	KindMix
)

// MixinDesc is one mixin folded into a Mix descriptor.
type MixinDesc struct {
	ID          uuid.UUID
	URL         string
	Delay       time.Duration
	Volume      state.Volume
	Sidechain   bool
	ControlPort uint16
	// VoiceHandleID identifies a shared voice-chat connection (C8), kept
	// stable across successive descriptors for the same mixin to avoid
	// reconnect churn; empty for non-ts:// mixins.
	VoiceHandleID string
}

// Descriptor is the immutable (restart-relevant) snapshot of one child
// process's parameters.
type Descriptor struct {
	ID       uuid.UUID
	Kind     Kind
	FromURL  string
	ToURL    string

	// Transcode-only.
	VCodec   string
	VProfile string
	VPreset  string
	ACodec   string

	// Mix-only.
	OrigVolume      state.Volume
	OrigControlPort uint16
	Mixins          []MixinDesc
}

// NeedsRestart reports whether new's parameters differ from old's in a way
// that requires killing and respawning the child process.
//
// For Mix descriptors this has a side effect, mirroring the upstream
// behavior exactly: when the only differences are volume levels (on the
// origin or any mixin), NeedsRestart returns false AND writes the new
// volumes into old in place, so the running descriptor's cached values stay
// current for the next comparison and for the hot-tune channel. This
// mutate-during-compare shape is intentional, not an oversight — see the
// design notes.
func NeedsRestart(old, new *Descriptor) bool {
	if old == nil {
		return true
	}
	if old.Kind != new.Kind || old.ID != new.ID {
		return true
	}
	if old.FromURL != new.FromURL || old.ToURL != new.ToURL {
		return true
	}

	switch new.Kind {
	case KindCopy:
		return false
	case KindTranscode:
		return old.VCodec != new.VCodec ||
			old.VProfile != new.VProfile ||
			old.VPreset != new.VPreset ||
			old.ACodec != new.ACodec
	case KindMix:
		return mixNeedsRestart(old, new)
	default:
		return true
	}
}

func mixNeedsRestart(old, new *Descriptor) bool {
	if len(old.Mixins) != len(new.Mixins) {
		return true
	}
	for i, nm := range new.Mixins {
		om := old.Mixins[i]
		if om.ID != nm.ID || om.URL != nm.URL || om.Delay != nm.Delay || om.Sidechain != nm.Sidechain {
			return true
		}
	}
	// Only volumes (origin and/or mixins) may differ at this point: absorb
	// them into old and report no restart needed.
	old.OrigVolume = new.OrigVolume
	for i := range old.Mixins {
		old.Mixins[i].Volume = new.Mixins[i].Volume
		// Preserve the running process's control port and voice handle;
		// these are never part of `new` until merged by the reconciler.
		new.Mixins[i].ControlPort = old.Mixins[i].ControlPort
		new.Mixins[i].VoiceHandleID = old.Mixins[i].VoiceHandleID
	}
	new.OrigControlPort = old.OrigControlPort
	return false
}
