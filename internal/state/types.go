// Package state holds the declarative configuration tree of the
// restreamer: restreams, inputs, endpoints, outputs and mixins, together
// with the mutation API that keeps it consistent and persisted.
package state

import (
	"time"

	"github.com/google/uuid"
)

// EndpointStatus is the runtime liveness of an InputEndpoint, Output or
// Mixin, driven by the supervised-process state machine (and, for
// InputEndpoint Online transitions only, by the callback endpoint).
type EndpointStatus string

const (
	StatusOffline      EndpointStatus = "OFFLINE"
	StatusInitializing EndpointStatus = "INITIALIZING"
	StatusOnline       EndpointStatus = "ONLINE"
	StatusUnstable     EndpointStatus = "UNSTABLE"
)

// EndpointKind distinguishes the two concrete protocol surfaces an input
// exposes.
type EndpointKind string

const (
	KindRTMP EndpointKind = "RTMP"
	KindHLS  EndpointKind = "HLS"
)

// VolumeLevel is a percentage in [0,1000], 100 being the unmodified source
// level.
type VolumeLevel uint16

const (
	VolumeOff    VolumeLevel = 0
	VolumeOrigin VolumeLevel = 100
	VolumeMax    VolumeLevel = 1000
)

// NewVolumeLevel clamps-validates num into a VolumeLevel, returning false if
// it falls outside [VolumeOff, VolumeMax].
func NewVolumeLevel(num int) (VolumeLevel, bool) {
	if num < int(VolumeOff) || num > int(VolumeMax) {
		return 0, false
	}
	return VolumeLevel(num), true
}

// Volume is an audio track's gain and mute flag.
type Volume struct {
	Level VolumeLevel `json:"level"`
	Muted bool        `json:"muted"`
}

// VolumeOriginValue is the Volume value corresponding to an untouched source.
var VolumeOriginValue = Volume{Level: VolumeOrigin, Muted: false}

// IsOrigin reports whether v is the unmodified-source volume.
func (v Volume) IsOrigin() bool { return v == VolumeOriginValue }

// DisplayAsFraction renders v as a decimal fraction of 1, e.g. 100% -> "1.00",
// 50% -> "0.50"; a muted volume always renders as "0.00". This exact format
// is what the hot-tune control channel sends to a running child process.
func (v Volume) DisplayAsFraction() string {
	if v.Muted {
		return "0.00"
	}
	return fmtFraction(uint16(v.Level))
}

func fmtFraction(level uint16) string {
	whole := level / 100
	frac := level % 100
	// Equivalent to fmt.Sprintf("%d.%02d", whole, frac) without pulling in
	// fmt for a single hot path call; kept simple and allocation-light.
	digits := [2]byte{'0' + byte(frac/10), '0' + byte(frac%10)}
	return itoa(whole) + "." + string(digits[:])
}

func itoa(n uint16) string {
	if n == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Settings are server-wide, persisted configuration values.
type Settings struct {
	Title               string `json:"title,omitempty"`
	PasswordHash        string `json:"password_hash,omitempty"`
	PasswordOutputHash  string `json:"password_output_hash,omitempty"`
	DeleteConfirmation  bool   `json:"delete_confirmation"`
	EnableConfirmation  bool   `json:"enable_confirmation"`
}

// ServerInfo is read-only aggregate information surfaced on the statistics
// schema.
type ServerInfo struct {
	PublicHost     string    `json:"public_host,omitempty"`
	RestreamsCount uint      `json:"restreams_count"`
	CPUUsage       float64   `json:"cpu_usage"`
	MemUsage       float64   `json:"mem_usage"`
	SampledAt      time.Time `json:"sampled_at"`
}

// ClientStatistics is the last statistics payload fetched from a peer.
type ClientStatistics struct {
	CPUUsage  float64   `json:"cpu_usage"`
	MemUsage  float64   `json:"mem_usage"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Client is a sibling restreamer polled by the peer stats poller.
type Client struct {
	ID              string            `json:"id"` // URL of the peer
	LastStatistics  *ClientStatistics `json:"last_statistics,omitempty"`
}

// InputSrcKind tags the InputSrc union.
type InputSrcKind string

const (
	SrcRemote   InputSrcKind = "REMOTE"
	SrcFailover InputSrcKind = "FAILOVER"
)

// InputSrc is either a single pull URL (Remote) or an ordered list of
// alternative sub-inputs (Failover), the first Online one winning.
type InputSrc struct {
	Kind         InputSrcKind `json:"kind"`
	RemoteURL    string       `json:"remote_url,omitempty"`
	FailoverInputs []*Input   `json:"failover_inputs,omitempty"`
}

// InputEndpoint is a concrete protocol surface of an Input.
type InputEndpoint struct {
	ID    uuid.UUID    `json:"id"`
	Kind  EndpointKind `json:"kind"`
	Label string       `json:"label,omitempty"`

	// Runtime-only fields; excluded from persistence and from spec export.
	Status          EndpointStatus `json:"-"`
	PublisherHandle string         `json:"-"`
	PlayerHandles   map[string]struct{} `json:"-"`
}

// Input is the pull-or-receive side of a Restream.
type Input struct {
	ID        uuid.UUID        `json:"id"`
	Key       string           `json:"key"`
	Endpoints []*InputEndpoint `json:"endpoints"`
	Src       *InputSrc        `json:"src,omitempty"`
	Enabled   bool             `json:"enabled"`
}

// Mixin is an auxiliary audio source folded into an Output.
type Mixin struct {
	ID        uuid.UUID     `json:"id"`
	Src       string        `json:"src"`
	Volume    Volume        `json:"volume"`
	Delay     time.Duration `json:"delay"`
	Sidechain bool          `json:"sidechain"`

	Status EndpointStatus `json:"-"`
}

// Output is a push-side destination, optionally post-mixed.
type Output struct {
	ID         uuid.UUID `json:"id"`
	Dst        string    `json:"dst"`
	Label      string    `json:"label,omitempty"`
	PreviewURL string    `json:"preview_url,omitempty"`
	Volume     Volume    `json:"volume"`
	Mixins     []*Mixin  `json:"mixins,omitempty"`
	Enabled    bool      `json:"enabled"`

	Status EndpointStatus `json:"-"`
}

// Restream is a named logical pipeline from one input to many outputs.
type Restream struct {
	ID      uuid.UUID `json:"id"`
	Key     string    `json:"key"`
	Label   string    `json:"label,omitempty"`
	Input   *Input    `json:"input"`
	Outputs []*Output `json:"outputs,omitempty"`
}
