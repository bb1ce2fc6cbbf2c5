package state

import "github.com/google/uuid"

// mergeInput applies spec over old, matching by the input's natural key.
// The matched input keeps its id, its endpoints' ids/runtime status, and its
// Enabled flag (enabled is intentionally never overwritten by a merge — see
// design notes on Apply/apply semantics).
func mergeInput(old *Input, spec InputSpec) *Input {
	if old == nil || old.Key != spec.Key {
		return buildInput(spec)
	}

	oldEndpoints := old.Endpoints
	old.Endpoints = nil
	for _, es := range spec.Endpoints {
		var matched *InputEndpoint
		for _, oe := range oldEndpoints {
			if oe.Kind == es.Kind {
				matched = oe
				break
			}
		}
		if matched != nil {
			matched.Label = es.Label
			old.Endpoints = append(old.Endpoints, matched)
		} else {
			old.Endpoints = append(old.Endpoints, &InputEndpoint{
				ID:            uuid.New(),
				Kind:          es.Kind,
				Label:         es.Label,
				PlayerHandles: make(map[string]struct{}),
			})
		}
	}

	switch {
	case spec.SrcURL != "":
		if old.Src != nil && old.Src.Kind == SrcRemote {
			old.Src.RemoteURL = spec.SrcURL
		} else {
			old.Src = &InputSrc{Kind: SrcRemote, RemoteURL: spec.SrcURL}
		}
	case len(spec.Failover) > 0:
		var oldChildren []*Input
		if old.Src != nil && old.Src.Kind == SrcFailover {
			oldChildren = old.Src.FailoverInputs
		}
		merged := &InputSrc{Kind: SrcFailover}
		for _, fs := range spec.Failover {
			var match *Input
			for _, oc := range oldChildren {
				if oc.Key == fs.Key {
					match = oc
					break
				}
			}
			merged.FailoverInputs = append(merged.FailoverInputs, mergeInput(match, fs))
		}
		old.Src = merged
	default:
		old.Src = nil
	}

	// Input.enabled is intentionally not overwritten by a merge.
	old.Key = spec.Key
	return old
}

// mergeOutputs merges specs over old by matching on Dst, preserving matched
// outputs' ids, runtime status and Enabled flag.
func mergeOutputs(old []*Output, specs []OutputSpec) []*Output {
	result := make([]*Output, 0, len(specs))
	for _, s := range specs {
		var matched *Output
		for _, o := range old {
			if o.Dst == s.Dst {
				matched = o
				break
			}
		}
		if matched == nil {
			result = append(result, buildOutput(s))
			continue
		}
		matched.Label = s.Label
		matched.PreviewURL = s.PreviewURL
		matched.Volume = s.Volume
		matched.Mixins = mergeMixins(matched.Mixins, s.Mixins)
		// Enabled is intentionally not overwritten by a merge.
		result = append(result, matched)
	}
	return result
}

// mergeMixins merges specs over old by matching on Src, preserving matched
// mixins' ids and runtime status.
func mergeMixins(old []*Mixin, specs []MixinSpec) []*Mixin {
	result := make([]*Mixin, 0, len(specs))
	for _, s := range specs {
		var matched *Mixin
		for _, m := range old {
			if m.Src == s.Src {
				matched = m
				break
			}
		}
		if matched == nil {
			result = append(result, &Mixin{
				ID:        uuid.New(),
				Src:       s.Src,
				Volume:    s.Volume,
				Delay:     s.Delay,
				Sidechain: s.Sidechain,
			})
			continue
		}
		matched.Volume = s.Volume
		matched.Delay = s.Delay
		matched.Sidechain = s.Sidechain
		result = append(result, matched)
	}
	return result
}

// Apply performs a bulk upsert of specs into the store: existing restreams
// are matched by Key and merged in place (preserving id, runtime status and
// enabled flags); restreams absent from specs are left alone unless replace
// is true, in which case they are removed. Unmatched specs are inserted as
// new restreams.
func (st *Store) Apply(specs []RestreamSpec, replace bool) error {
	for _, s := range specs {
		if err := validateRestreamSpec(s); err != nil {
			return err
		}
	}

	st.Restreams.Update(func(list *[]*Restream) {
		present := make(map[string]struct{}, len(specs))
		for _, s := range specs {
			present[s.Key] = struct{}{}

			var matched *Restream
			for _, r := range *list {
				if r.Key == s.Key {
					matched = r
					break
				}
			}
			if matched == nil {
				*list = append(*list, buildRestream(s))
				continue
			}
			matched.Label = s.Label
			matched.Input = mergeInput(matched.Input, s.Input)
			matched.Outputs = mergeOutputs(matched.Outputs, s.Outputs)
		}

		if replace {
			kept := (*list)[:0:0]
			for _, r := range *list {
				if _, ok := present[r.Key]; ok {
					kept = append(kept, r)
				}
			}
			*list = kept
		}
	})
	return nil
}
