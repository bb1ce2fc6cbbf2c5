// Package specimport implements the versioned external (JSON) shape of the
// state store's restream tree. Export and Marshal back the GraphQL export
// query; Import and Unmarshal have no caller inside the server.
package specimport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/restreamer-go/restreamer/internal/state"
)

// DocVersion is the only wire version this implementation understands.
const DocVersion = "v1"

// Doc is the external shape: structurally similar to the runtime tree but
// stripped of runtime-only fields. Ids are included on export for
// readability but are never required on import — matching is always by
// natural key (Restream.key, Input.key, InputEndpoint.kind, Output.dst,
// Mixin.src), which is what actually makes Import(Export(state)) = state
// hold up to uuid assignment of newly created items.
type Doc struct {
	Version   string         `json:"version"`
	Restreams []RestreamSpec `json:"restreams"`
}

type RestreamSpec struct {
	ID      string       `json:"id,omitempty"`
	Key     string       `json:"key"`
	Label   string       `json:"label,omitempty"`
	Input   InputSpec    `json:"input"`
	Outputs []OutputSpec `json:"outputs,omitempty"`
}

type InputSpec struct {
	ID        string         `json:"id,omitempty"`
	Key       string         `json:"key"`
	Endpoints []EndpointSpec `json:"endpoints"`
	SrcURL    string         `json:"src_url,omitempty"`
	Failover  []InputSpec    `json:"failover,omitempty"`
	Enabled   bool           `json:"enabled"`
}

type EndpointSpec struct {
	Kind  string `json:"kind"`
	Label string `json:"label,omitempty"`
}

type OutputSpec struct {
	ID         string      `json:"id,omitempty"`
	Dst        string      `json:"dst"`
	Label      string      `json:"label,omitempty"`
	PreviewURL string      `json:"preview_url,omitempty"`
	Volume     VolumeSpec  `json:"volume"`
	Mixins     []MixinSpec `json:"mixins,omitempty"`
	Enabled    bool        `json:"enabled"`
}

type MixinSpec struct {
	ID        string     `json:"id,omitempty"`
	Src       string     `json:"src"`
	Volume    VolumeSpec `json:"volume"`
	DelayMs   int64      `json:"delay_ms"`
	Sidechain bool       `json:"sidechain"`
}

type VolumeSpec struct {
	Level uint16 `json:"level"`
	Muted bool   `json:"muted"`
}

// Export renders st's current restreams as a v1 Doc.
func Export(st *state.Store) Doc {
	restreams := st.Restreams.Snapshot()
	doc := Doc{Version: DocVersion, Restreams: make([]RestreamSpec, 0, len(restreams))}
	for _, r := range restreams {
		doc.Restreams = append(doc.Restreams, exportRestream(r))
	}
	return doc
}

func exportRestream(r *state.Restream) RestreamSpec {
	spec := RestreamSpec{
		ID:    r.ID.String(),
		Key:   r.Key,
		Label: r.Label,
		Input: exportInput(r.Input),
	}
	for _, o := range r.Outputs {
		spec.Outputs = append(spec.Outputs, exportOutput(o))
	}
	return spec
}

func exportInput(in *state.Input) InputSpec {
	spec := InputSpec{
		ID:      in.ID.String(),
		Key:     in.Key,
		Enabled: in.Enabled,
	}
	for _, e := range in.Endpoints {
		spec.Endpoints = append(spec.Endpoints, EndpointSpec{Kind: string(e.Kind), Label: e.Label})
	}
	if in.Src != nil {
		switch in.Src.Kind {
		case state.SrcRemote:
			spec.SrcURL = in.Src.RemoteURL
		case state.SrcFailover:
			for _, f := range in.Src.FailoverInputs {
				spec.Failover = append(spec.Failover, exportInput(f))
			}
		}
	}
	return spec
}

func exportOutput(o *state.Output) OutputSpec {
	spec := OutputSpec{
		ID:         o.ID.String(),
		Dst:        o.Dst,
		Label:      o.Label,
		PreviewURL: o.PreviewURL,
		Volume:     VolumeSpec{Level: uint16(o.Volume.Level), Muted: o.Volume.Muted},
		Enabled:    o.Enabled,
	}
	for _, m := range o.Mixins {
		spec.Mixins = append(spec.Mixins, MixinSpec{
			ID:        m.ID.String(),
			Src:       m.Src,
			Volume:    VolumeSpec{Level: uint16(m.Volume.Level), Muted: m.Volume.Muted},
			DelayMs:   m.Delay.Milliseconds(),
			Sidechain: m.Sidechain,
		})
	}
	return spec
}

// Marshal renders doc as indented JSON, the format Unmarshal parses.
func Marshal(doc Doc) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// Unmarshal parses a JSON byte slice into a Doc, rejecting unknown
// versions.
func Unmarshal(data []byte) (Doc, error) {
	var doc Doc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Doc{}, fmt.Errorf("parse spec document: %w", err)
	}
	if doc.Version != "" && doc.Version != DocVersion {
		return Doc{}, fmt.Errorf("unsupported spec document version %q", doc.Version)
	}
	return doc, nil
}

// Import merges (or, if replace, replaces) doc's restreams into st, via the
// store's own Apply mutation so invariants are enforced and ids/runtime
// status are preserved for already-existing matched items.
func Import(st *state.Store, doc Doc, replace bool) error {
	specs := make([]state.RestreamSpec, 0, len(doc.Restreams))
	for _, r := range doc.Restreams {
		specs = append(specs, toStoreRestreamSpec(r))
	}
	return st.Apply(specs, replace)
}

func toStoreRestreamSpec(r RestreamSpec) state.RestreamSpec {
	spec := state.RestreamSpec{
		Key:   r.Key,
		Label: r.Label,
		Input: toStoreInputSpec(r.Input),
	}
	for _, o := range r.Outputs {
		spec.Outputs = append(spec.Outputs, toStoreOutputSpec(o))
	}
	return spec
}

func toStoreInputSpec(in InputSpec) state.InputSpec {
	spec := state.InputSpec{
		Key:     in.Key,
		SrcURL:  in.SrcURL,
		Enabled: in.Enabled,
	}
	for _, e := range in.Endpoints {
		spec.Endpoints = append(spec.Endpoints, state.EndpointSpec{
			Kind:  state.EndpointKind(e.Kind),
			Label: e.Label,
		})
	}
	for _, f := range in.Failover {
		spec.Failover = append(spec.Failover, toStoreInputSpec(f))
	}
	return spec
}

func toStoreOutputSpec(o OutputSpec) state.OutputSpec {
	spec := state.OutputSpec{
		Dst:        o.Dst,
		Label:      o.Label,
		PreviewURL: o.PreviewURL,
		Volume:     state.Volume{Level: state.VolumeLevel(o.Volume.Level), Muted: o.Volume.Muted},
		Enabled:    o.Enabled,
	}
	for _, m := range o.Mixins {
		spec.Mixins = append(spec.Mixins, state.MixinSpec{
			Src:       m.Src,
			Volume:    state.Volume{Level: state.VolumeLevel(m.Volume.Level), Muted: m.Volume.Muted},
			Delay:     time.Duration(m.DelayMs) * time.Millisecond,
			Sidechain: m.Sidechain,
		})
	}
	return spec
}
