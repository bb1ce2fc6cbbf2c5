// Package voicechat manages client connections to a voice-chat server for
// ts:// mixins and feeds captured audio into the per-mixin FIFO that the
// mixing ffmpeg process reads from.
package voicechat

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/restreamer-go/restreamer/internal/process"
)

// FrameSize is the number of float32 samples per channel carried in one
// audio frame exchanged with a Client, matching the mixing ffmpeg process's
// expectation of raw 48kHz stereo f32 little-endian input.
const FrameSize = 960

// SampleRate is the PCM sample rate captured from and delivered to the
// voice-chat server; ffmpeg's FIFO reader is configured for the same rate.
const SampleRate = 48000

// Codec captures and decodes audio frames to and from a voice-chat server.
// The network/codec layer (Opus encode/decode, echo cancellation, jitter
// buffering) is provided by a collaborator implementation; Codec is the
// boundary C8 consumes. A working Opus/portaudio implementation is
// demonstrated standalone in cmd/restreamer-voice-probe rather than wired
// into the server, since the core contract here is only the reader of raw
// PCM frames.
type Codec interface {
	// Connect dials the voice-chat server at addr, joins channel, announces
	// as name, and authenticates as identity (a persisted or freshly
	// generated private identity string).
	Connect(ctx context.Context, addr, channel, name, identity string) error
	// ReadFrame blocks until one FrameSize*2 (stereo) float32 frame of
	// 48kHz audio is available, writing it little-endian into dst.
	ReadFrame(ctx context.Context, dst []byte) error
	Close() error
}

// Handle is a live voice-chat connection shared across successive Mix
// descriptors for the same mixin, to avoid reconnect churn when only
// unrelated mixin parameters change between reconciles.
type Handle struct {
	ID       string
	MixinID  uuid.UUID
	Identity string

	log    *slog.Logger
	codec  Codec
	fifo   string
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// Params describes how to dial and announce to the voice-chat server,
// parsed from a mixin's ts:// source URL.
type Params struct {
	Addr     string
	Channel  string
	Name     string
	Identity string
}

// ParseURL extracts connection Params from a ts://host[:port]/channel
// mixin source URL. name defaults to a 🤖-prefixed label (or the mixin id
// if no label is available) when the URL carries no name query parameter;
// identity defaults to a fresh one when the URL carries no identity query
// parameter.
func ParseURL(raw string, mixinID uuid.UUID, label string) (Params, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Params{}, fmt.Errorf("parse mixin source url: %w", err)
	}
	if u.Scheme != "ts" {
		return Params{}, fmt.Errorf("not a voice-chat url: %s", raw)
	}

	addr := u.Host
	channel := strings.TrimPrefix(u.Path, "/")

	q := u.Query()
	name := q.Get("name")
	if name == "" {
		if label != "" {
			name = "🤖 " + label
		} else {
			name = "🤖 " + mixinID.String()
		}
	}

	identity := q.Get("identity")
	if identity == "" {
		identity = uuid.NewString()
	}

	return Params{Addr: addr, Channel: channel, Name: name, Identity: identity}, nil
}

// Manager owns the set of live Handles, keyed by mixin id, and the
// suture-style supervision of their per-connection capture loops.
type Manager struct {
	log     *slog.Logger
	newCode func() Codec

	mu      sync.Mutex
	handles map[uuid.UUID]*Handle
}

// NewManager builds a Manager. newCodec constructs a fresh Codec for each
// new connection (nil selects noopCodec, a silence generator useful when
// no collaborator voice-chat codec is configured).
func NewManager(log *slog.Logger, newCodec func() Codec) *Manager {
	if newCodec == nil {
		newCodec = func() Codec { return &noopCodec{} }
	}
	return &Manager{log: log, newCode: newCodec, handles: make(map[uuid.UUID]*Handle)}
}

// Acquire returns the existing Handle for mixinID if one is already
// connected (the prev-descriptor reuse path), or starts a new one.
func (m *Manager) Acquire(ctx context.Context, mixinID uuid.UUID, rawURL, label string) (*Handle, error) {
	m.mu.Lock()
	if h, ok := m.handles[mixinID]; ok {
		m.mu.Unlock()
		return h, nil
	}
	m.mu.Unlock()

	params, err := ParseURL(rawURL, mixinID, label)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		ID:       uuid.NewString(),
		MixinID:  mixinID,
		Identity: params.Identity,
		log:      m.log,
		codec:    m.newCode(),
		fifo:     process.FifoPath(mixinID),
		done:     make(chan struct{}),
	}

	hctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	if err := h.codec.Connect(hctx, params.Addr, params.Channel, params.Name, params.Identity); err != nil {
		cancel()
		return nil, fmt.Errorf("connect to voice-chat server %s: %w", params.Addr, err)
	}

	m.mu.Lock()
	m.handles[mixinID] = h
	m.mu.Unlock()

	go h.runCaptureLoop(hctx)

	return h, nil
}

// Release stops and forgets the connection for mixinID, if any is live.
// Called when a mixin is dropped from the desired pool (no Mix descriptor
// references it any longer).
func (m *Manager) Release(mixinID uuid.UUID) {
	m.mu.Lock()
	h, ok := m.handles[mixinID]
	if ok {
		delete(m.handles, mixinID)
	}
	m.mu.Unlock()

	if ok {
		h.close()
	}
}

// Name identifies this manager as a suture.Service for the top-level
// supervision tree; actual connection lifecycle is managed per-Handle.
func (m *Manager) Name() string { return "voicechat-manager" }

// Serve blocks until ctx is cancelled, then releases every live handle.
func (m *Manager) Serve(ctx context.Context) error {
	<-ctx.Done()

	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.handles = make(map[uuid.UUID]*Handle)
	m.mu.Unlock()

	for _, h := range handles {
		h.close()
	}
	return nil
}

func (h *Handle) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	<-h.done
	if err := h.codec.Close(); err != nil {
		h.logf("close voice-chat codec: %v", err)
	}
}

// runCaptureLoop reads frames from the codec and writes them into the
// mixin's FIFO for ffmpeg to consume, reopening the FIFO writer whenever
// ffmpeg (the reader side) is not yet attached — open(2) on a FIFO blocks
// until both ends are present, so this call itself provides the wait.
func (h *Handle) runCaptureLoop(ctx context.Context) {
	defer close(h.done)

	frame := make([]byte, FrameSize*2*4) // stereo, 4 bytes per float32

	var f *os.File
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if f == nil {
			var err error
			f, err = os.OpenFile(h.fifo, os.O_WRONLY, 0o600)
			if err != nil {
				h.logf("open fifo %s: %v", h.fifo, err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
					continue
				}
			}
		}

		if err := h.codec.ReadFrame(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logf("read voice-chat frame: %v", err)
			continue
		}

		if _, err := f.Write(frame); err != nil {
			h.logf("write fifo %s: %v", h.fifo, err)
			f.Close()
			f = nil
		}
	}
}

func (h *Handle) logf(format string, args ...any) {
	if h.log == nil {
		return
	}
	h.log.Warn(fmt.Sprintf(format, args...), "mixin_id", h.MixinID)
}

// noopCodec generates silence; used when no collaborator voice-chat codec
// implementation is configured, so the FIFO still has a live writer feeding
// ffmpeg valid (silent) PCM rather than leaving it unopened.
type noopCodec struct{}

func (noopCodec) Connect(ctx context.Context, addr, channel, name, identity string) error {
	return nil
}

func (noopCodec) ReadFrame(ctx context.Context, dst []byte) error {
	for i := range dst {
		dst[i] = 0
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(FrameSize * time.Second / SampleRate):
		return nil
	}
}

func (noopCodec) Close() error { return nil }
