package state

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/restreamer-go/restreamer/internal/cell"
)

// Store holds Settings, Restreams, Clients and ServerInfo each in their own
// Reactive Cell, plus the mutation API that keeps the tree's invariants.
// Every exported mutator commits its whole change atomically under the
// target cell's internal lock; there is no partial-apply path.
type Store struct {
	Settings   *cell.Cell[Settings]
	Restreams  *cell.Cell[[]*Restream]
	Clients    *cell.Cell[[]*Client]
	ServerInfo *cell.Cell[ServerInfo]

	persist *Persister
	log     *slog.Logger
}

// New creates an empty Store. Callers typically follow with Load to
// populate it from a persisted snapshot, then WithPersistence to start
// writing changes back out.
func New(log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		Settings:   cell.New(Settings{}),
		Restreams:  cell.New([]*Restream{}),
		Clients:    cell.New([]*Client{}),
		ServerInfo: cell.New(ServerInfo{}),
		log:        log,
	}
}

// RestreamSpec is the mutation-facing shape of a Restream: everything but
// runtime fields and (for edits) the id, which is supplied separately.
type RestreamSpec struct {
	Key     string
	Label   string
	Input   InputSpec
	Outputs []OutputSpec
}

// InputSpec mirrors Input without runtime/id fields.
type InputSpec struct {
	Key       string
	Endpoints []EndpointSpec
	SrcURL    string // set iff this input pulls from a single remote URL
	Failover  []InputSpec
	Enabled   bool
}

// EndpointSpec mirrors InputEndpoint without runtime/id fields.
type EndpointSpec struct {
	Kind  EndpointKind
	Label string
}

// OutputSpec mirrors Output without runtime/id fields.
type OutputSpec struct {
	Dst        string
	Label      string
	PreviewURL string
	Volume     Volume
	Mixins     []MixinSpec
	Enabled    bool
}

// MixinSpec mirrors Mixin without runtime/id fields.
type MixinSpec struct {
	Src       string
	Volume    Volume
	Delay     time.Duration
	Sidechain bool
}

func validateRestreamSpec(s RestreamSpec) error {
	if !ValidKey(s.Key) {
		return ErrInvalidShape
	}
	if err := validateInputSpec(s.Input); err != nil {
		return err
	}
	seenDst := make(map[string]struct{}, len(s.Outputs))
	for _, o := range s.Outputs {
		if err := ValidateOutputDstURL(o.Dst); err != nil {
			return err
		}
		if _, dup := seenDst[o.Dst]; dup {
			return ErrDuplicateOutputURL
		}
		seenDst[o.Dst] = struct{}{}
		if err := validateOutputSpec(o); err != nil {
			return err
		}
	}
	return nil
}

func validateInputSpec(s InputSpec) error {
	if !ValidKey(s.Key) {
		return ErrInvalidShape
	}
	hasRTMP := false
	seenKind := make(map[EndpointKind]struct{}, len(s.Endpoints))
	for _, e := range s.Endpoints {
		if _, dup := seenKind[e.Kind]; dup {
			return ErrInvalidShape
		}
		seenKind[e.Kind] = struct{}{}
		if e.Kind == KindRTMP {
			hasRTMP = true
		}
	}
	if !hasRTMP || len(s.Endpoints) == 0 {
		return ErrInvalidShape
	}
	if s.SrcURL != "" {
		if err := ValidateInputSrcURL(s.SrcURL); err != nil {
			return err
		}
	}
	for _, f := range s.Failover {
		if err := validateInputSpec(f); err != nil {
			return err
		}
	}
	return nil
}

func validateOutputSpec(o OutputSpec) error {
	for _, m := range o.Mixins {
		if err := ValidateMixinSrcURL(m.Src); err != nil {
			return err
		}
		if m.Volume.Level > VolumeMax {
			return ErrInvalidShape
		}
	}
	mixins := make([]*Mixin, len(o.Mixins))
	for i, m := range o.Mixins {
		mixins[i] = &Mixin{Src: m.Src, Sidechain: m.Sidechain}
	}
	return ValidateOutputMixins(mixins)
}

func buildInput(s InputSpec) *Input {
	in := &Input{
		ID:      uuid.New(),
		Key:     s.Key,
		Enabled: s.Enabled,
	}
	for _, e := range s.Endpoints {
		in.Endpoints = append(in.Endpoints, &InputEndpoint{
			ID:    uuid.New(),
			Kind:  e.Kind,
			Label: e.Label,
			PlayerHandles: make(map[string]struct{}),
		})
	}
	if s.SrcURL != "" {
		in.Src = &InputSrc{Kind: SrcRemote, RemoteURL: s.SrcURL}
	} else if len(s.Failover) > 0 {
		in.Src = &InputSrc{Kind: SrcFailover}
		for _, f := range s.Failover {
			in.Src.FailoverInputs = append(in.Src.FailoverInputs, buildInput(f))
		}
	}
	return in
}

func buildOutput(s OutputSpec) *Output {
	out := &Output{
		ID:         uuid.New(),
		Dst:        s.Dst,
		Label:      s.Label,
		PreviewURL: s.PreviewURL,
		Volume:     s.Volume,
		Enabled:    s.Enabled,
	}
	for _, m := range s.Mixins {
		out.Mixins = append(out.Mixins, &Mixin{
			ID:        uuid.New(),
			Src:       m.Src,
			Volume:    m.Volume,
			Delay:     m.Delay,
			Sidechain: m.Sidechain,
		})
	}
	return out
}

func buildRestream(s RestreamSpec) *Restream {
	r := &Restream{
		ID:    uuid.New(),
		Key:   s.Key,
		Label: s.Label,
		Input: buildInput(s.Input),
	}
	for _, o := range s.Outputs {
		r.Outputs = append(r.Outputs, buildOutput(o))
	}
	return r
}

// AddRestream appends a new restream with a freshly assigned id. It fails
// with ErrDuplicateKey if s.Key is already in use.
func (st *Store) AddRestream(s RestreamSpec) (*Restream, error) {
	if err := validateRestreamSpec(s); err != nil {
		return nil, err
	}
	var created *Restream
	var failErr error
	st.Restreams.Update(func(list *[]*Restream) {
		for _, r := range *list {
			if r.Key == s.Key {
				failErr = ErrDuplicateKey
				return
			}
		}
		created = buildRestream(s)
		*list = append(*list, created)
	})
	if failErr != nil {
		return nil, failErr
	}
	return created, nil
}

// EditRestream applies s in place over the restream identified by id.
// Returns (nil, nil, false) if id is absent (the "absent" contract).
func (st *Store) EditRestream(id uuid.UUID, s RestreamSpec) (*Restream, error, bool) {
	if err := validateRestreamSpec(s); err != nil {
		return nil, err, true
	}
	var result *Restream
	var failErr error
	found := false
	st.Restreams.Update(func(list *[]*Restream) {
		for _, r := range *list {
			if r.ID != id {
				continue
			}
			found = true
			for _, other := range *list {
				if other.ID != id && other.Key == s.Key {
					failErr = ErrDuplicateKey
					return
				}
			}
			r.Key = s.Key
			r.Label = s.Label
			r.Input = mergeInput(r.Input, s.Input)
			r.Outputs = mergeOutputs(r.Outputs, s.Outputs)
			result = r
			return
		}
	})
	if !found {
		return nil, nil, false
	}
	if failErr != nil {
		return nil, failErr, true
	}
	return result, nil, true
}

// RemoveRestream removes the restream identified by id. Returns false if
// absent.
func (st *Store) RemoveRestream(id uuid.UUID) bool {
	removed := false
	st.Restreams.Update(func(list *[]*Restream) {
		out := (*list)[:0:0]
		for _, r := range *list {
			if r.ID == id {
				removed = true
				continue
			}
			out = append(out, r)
		}
		*list = out
	})
	return removed
}

// findRestream returns a pointer into the live slice held by the cell.
// Callers must only invoke this from inside an Update closure.
func findRestream(list []*Restream, id uuid.UUID) *Restream {
	for _, r := range list {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// findInput searches r's input tree (recursively through failover) for the
// input with the given id.
func findInput(root *Input, id uuid.UUID) *Input {
	if root == nil {
		return nil
	}
	if root.ID == id {
		return root
	}
	if root.Src != nil && root.Src.Kind == SrcFailover {
		for _, f := range root.Src.FailoverInputs {
			if got := findInput(f, id); got != nil {
				return got
			}
		}
	}
	return nil
}

// setInputEnabledRecursive toggles enabled through the whole failover
// subtree, matching the spec's "recursively through failover children"
// contract for whole-restream enable/disable.
func setInputEnabledRecursive(in *Input, enabled bool) (changed bool) {
	if in.Enabled != enabled {
		in.Enabled = enabled
		changed = true
	}
	if in.Src != nil && in.Src.Kind == SrcFailover {
		for _, f := range in.Src.FailoverInputs {
			if setInputEnabledRecursive(f, enabled) {
				changed = true
			}
		}
	}
	return changed
}

// disableInputCascade clears runtime handles and forces endpoints Offline
// immediately, per §4.2's "disabling an Input must also clear..." rule.
func disableInputCascade(in *Input) {
	for _, e := range in.Endpoints {
		e.PublisherHandle = ""
		e.PlayerHandles = make(map[string]struct{})
		e.Status = StatusOffline
	}
	if in.Src != nil && in.Src.Kind == SrcFailover {
		for _, f := range in.Src.FailoverInputs {
			disableInputCascade(f)
		}
	}
}

// EnableRestream / DisableRestream toggle the top-level Input.enabled
// recursively through failover children. Returns (changed, ok).
func (st *Store) EnableRestream(id uuid.UUID) (changed, ok bool) { return st.setRestreamEnabled(id, true) }
func (st *Store) DisableRestream(id uuid.UUID) (changed, ok bool) {
	return st.setRestreamEnabled(id, false)
}

func (st *Store) setRestreamEnabled(id uuid.UUID, enabled bool) (changed, ok bool) {
	st.Restreams.Update(func(list *[]*Restream) {
		r := findRestream(*list, id)
		if r == nil {
			return
		}
		ok = true
		changed = setInputEnabledRecursive(r.Input, enabled)
		if !enabled {
			disableInputCascade(r.Input)
		}
	})
	return
}

// EnableInput / DisableInput toggle a specific input (possibly a failover
// child) within a restream.
func (st *Store) EnableInput(restreamID, inputID uuid.UUID) (ok bool) {
	return st.setInputEnabled(restreamID, inputID, true)
}
func (st *Store) DisableInput(restreamID, inputID uuid.UUID) (ok bool) {
	return st.setInputEnabled(restreamID, inputID, false)
}

func (st *Store) setInputEnabled(restreamID, inputID uuid.UUID, enabled bool) (ok bool) {
	st.Restreams.Update(func(list *[]*Restream) {
		r := findRestream(*list, restreamID)
		if r == nil {
			return
		}
		in := findInput(r.Input, inputID)
		if in == nil {
			return
		}
		ok = true
		in.Enabled = enabled
		if !enabled {
			disableInputCascade(in)
		}
	})
	return
}

// AddOutput appends a new output to restreamID. Fails with
// ErrDuplicateOutputURL if s.Dst is already used within that restream.
func (st *Store) AddOutput(restreamID uuid.UUID, s OutputSpec) (*Output, error, bool) {
	if err := ValidateOutputDstURL(s.Dst); err != nil {
		return nil, err, true
	}
	if err := validateOutputSpec(s); err != nil {
		return nil, err, true
	}
	var created *Output
	var failErr error
	found := false
	st.Restreams.Update(func(list *[]*Restream) {
		r := findRestream(*list, restreamID)
		if r == nil {
			return
		}
		found = true
		for _, o := range r.Outputs {
			if o.Dst == s.Dst {
				failErr = ErrDuplicateOutputURL
				return
			}
		}
		created = buildOutput(s)
		r.Outputs = append(r.Outputs, created)
	})
	if !found {
		return nil, nil, false
	}
	if failErr != nil {
		return nil, failErr, true
	}
	return created, nil, true
}

func findOutput(r *Restream, outputID uuid.UUID) *Output {
	for _, o := range r.Outputs {
		if o.ID == outputID {
			return o
		}
	}
	return nil
}

// EditOutput applies s in place over the output identified by outputID.
func (st *Store) EditOutput(restreamID, outputID uuid.UUID, s OutputSpec) (*Output, error, bool) {
	if err := ValidateOutputDstURL(s.Dst); err != nil {
		return nil, err, true
	}
	if err := validateOutputSpec(s); err != nil {
		return nil, err, true
	}
	var result *Output
	var failErr error
	found := false
	st.Restreams.Update(func(list *[]*Restream) {
		r := findRestream(*list, restreamID)
		if r == nil {
			return
		}
		o := findOutput(r, outputID)
		if o == nil {
			return
		}
		found = true
		for _, other := range r.Outputs {
			if other.ID != outputID && other.Dst == s.Dst {
				failErr = ErrDuplicateOutputURL
				return
			}
		}
		o.Dst = s.Dst
		o.Label = s.Label
		o.PreviewURL = s.PreviewURL
		o.Volume = s.Volume
		o.Enabled = s.Enabled
		o.Mixins = mergeMixins(o.Mixins, s.Mixins)
		result = o
	})
	if !found {
		return nil, nil, false
	}
	if failErr != nil {
		return nil, failErr, true
	}
	return result, nil, true
}

// EnableOutput / DisableOutput toggle a single output. Returns (changed, ok).
func (st *Store) EnableOutput(restreamID, outputID uuid.UUID) (changed, ok bool) {
	return st.setOutputEnabled(restreamID, outputID, true)
}
func (st *Store) DisableOutput(restreamID, outputID uuid.UUID) (changed, ok bool) {
	return st.setOutputEnabled(restreamID, outputID, false)
}

func (st *Store) setOutputEnabled(restreamID, outputID uuid.UUID, enabled bool) (changed, ok bool) {
	st.Restreams.Update(func(list *[]*Restream) {
		r := findRestream(*list, restreamID)
		if r == nil {
			return
		}
		o := findOutput(r, outputID)
		if o == nil {
			return
		}
		ok = true
		if o.Enabled != enabled {
			o.Enabled = enabled
			changed = true
		}
	})
	return
}

// EnableAllOutputs / DisableAllOutputs applies to every output of
// restreamID. Returns (changed, ok) where changed is true iff any output
// flipped.
func (st *Store) EnableAllOutputs(restreamID uuid.UUID) (changed, ok bool) {
	return st.setAllOutputsEnabled(restreamID, true)
}
func (st *Store) DisableAllOutputs(restreamID uuid.UUID) (changed, ok bool) {
	return st.setAllOutputsEnabled(restreamID, false)
}

func (st *Store) setAllOutputsEnabled(restreamID uuid.UUID, enabled bool) (changed, ok bool) {
	st.Restreams.Update(func(list *[]*Restream) {
		r := findRestream(*list, restreamID)
		if r == nil {
			return
		}
		ok = true
		for _, o := range r.Outputs {
			if o.Enabled != enabled {
				o.Enabled = enabled
				changed = true
			}
		}
	})
	return
}

// EnableAllOutputsOfRestreams / DisableAllOutputsOfRestreams apply across
// every restream. Returns true iff any output flipped.
func (st *Store) EnableAllOutputsOfRestreams() bool { return st.setAllOutputsOfAllRestreams(true) }
func (st *Store) DisableAllOutputsOfRestreams() bool { return st.setAllOutputsOfAllRestreams(false) }

func (st *Store) setAllOutputsOfAllRestreams(enabled bool) bool {
	changed := false
	st.Restreams.Update(func(list *[]*Restream) {
		for _, r := range *list {
			for _, o := range r.Outputs {
				if o.Enabled != enabled {
					o.Enabled = enabled
					changed = true
				}
			}
		}
	})
	return changed
}

// findMixin searches an output's mixins for the given id.
func findMixin(o *Output, mixinID uuid.UUID) *Mixin {
	for _, m := range o.Mixins {
		if m.ID == mixinID {
			return m
		}
	}
	return nil
}

// TuneVolume mutates the volume on an output, or on one of its mixins if
// mixinID is non-nil. Returns (changed, ok).
func (st *Store) TuneVolume(restreamID, outputID uuid.UUID, mixinID *uuid.UUID, volume Volume) (changed, ok bool) {
	st.Restreams.Update(func(list *[]*Restream) {
		r := findRestream(*list, restreamID)
		if r == nil {
			return
		}
		o := findOutput(r, outputID)
		if o == nil {
			return
		}
		if mixinID == nil {
			ok = true
			if o.Volume != volume {
				o.Volume = volume
				changed = true
			}
			return
		}
		m := findMixin(o, *mixinID)
		if m == nil {
			return
		}
		ok = true
		if m.Volume != volume {
			m.Volume = volume
			changed = true
		}
	})
	return
}

// TuneDelay mutates a mixin's delay. Returns (changed, ok).
func (st *Store) TuneDelay(restreamID, outputID, mixinID uuid.UUID, delay time.Duration) (changed, ok bool) {
	st.Restreams.Update(func(list *[]*Restream) {
		r := findRestream(*list, restreamID)
		if r == nil {
			return
		}
		o := findOutput(r, outputID)
		if o == nil {
			return
		}
		m := findMixin(o, mixinID)
		if m == nil {
			return
		}
		ok = true
		if m.Delay != delay {
			m.Delay = delay
			changed = true
		}
	})
	return
}

// TuneSidechain mutates a mixin's sidechain flag. Returns (changed, ok).
func (st *Store) TuneSidechain(restreamID, outputID, mixinID uuid.UUID, sidechain bool) (changed, ok bool) {
	st.Restreams.Update(func(list *[]*Restream) {
		r := findRestream(*list, restreamID)
		if r == nil {
			return
		}
		o := findOutput(r, outputID)
		if o == nil {
			return
		}
		m := findMixin(o, mixinID)
		if m == nil {
			return
		}
		ok = true
		if m.Sidechain != sidechain {
			m.Sidechain = sidechain
			changed = true
		}
	})
	return
}

// ChangeEndpointLabel sets or clears the label of an endpoint identified by
// inputID/endpointID within restreamID.
func (st *Store) ChangeEndpointLabel(restreamID, inputID, endpointID uuid.UUID, label string) (ok bool) {
	st.Restreams.Update(func(list *[]*Restream) {
		r := findRestream(*list, restreamID)
		if r == nil {
			return
		}
		in := findInput(r.Input, inputID)
		if in == nil {
			return
		}
		for _, e := range in.Endpoints {
			if e.ID == endpointID {
				e.Label = label
				ok = true
				return
			}
		}
	})
	return
}

// AddClient registers a new peer. Fails with ErrDuplicateClient if id is
// already registered.
func (st *Store) AddClient(id string) (*Client, error) {
	var created *Client
	var failErr error
	st.Clients.Update(func(list *[]*Client) {
		for _, c := range *list {
			if c.ID == id {
				failErr = ErrDuplicateClient
				return
			}
		}
		created = &Client{ID: id}
		*list = append(*list, created)
	})
	if failErr != nil {
		return nil, failErr
	}
	return created, nil
}

// RemoveClient unregisters a peer. Returns false if absent.
func (st *Store) RemoveClient(id string) bool {
	removed := false
	st.Clients.Update(func(list *[]*Client) {
		out := (*list)[:0:0]
		for _, c := range *list {
			if c.ID == id {
				removed = true
				continue
			}
			out = append(out, c)
		}
		*list = out
	})
	return removed
}

// SetClientStatistics records the latest poll result for a peer, used by
// the peer stats poller (C12).
func (st *Store) SetClientStatistics(id string, stats ClientStatistics) {
	st.Clients.Update(func(list *[]*Client) {
		for _, c := range *list {
			if c.ID == id {
				cp := stats
				c.LastStatistics = &cp
				return
			}
		}
	})
}
