// Package graphqlapi exposes the declarative state tree over four
// role-scoped GraphQL schemas, using graphql-go for schema construction and
// execution.
package graphqlapi

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/graphql-go/graphql"

	"github.com/restreamer-go/restreamer/internal/specimport"
	"github.com/restreamer-go/restreamer/internal/state"
)

var volumeType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Volume",
	Fields: graphql.Fields{
		"level": &graphql.Field{Type: graphql.Int},
		"muted": &graphql.Field{Type: graphql.Boolean},
	},
})

var endpointType = graphql.NewObject(graphql.ObjectConfig{
	Name: "InputEndpoint",
	Fields: graphql.Fields{
		"id":     &graphql.Field{Type: graphql.String},
		"kind":   &graphql.Field{Type: graphql.String},
		"label":  &graphql.Field{Type: graphql.String},
		"status": &graphql.Field{Type: graphql.String},
	},
})

var mixinType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Mixin",
	Fields: graphql.Fields{
		"id":        &graphql.Field{Type: graphql.String},
		"src":       &graphql.Field{Type: graphql.String},
		"volume":    &graphql.Field{Type: volumeType},
		"delayMs":   &graphql.Field{Type: graphql.Int},
		"sidechain": &graphql.Field{Type: graphql.Boolean},
		"status":    &graphql.Field{Type: graphql.String},
	},
})

var outputType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Output",
	Fields: graphql.Fields{
		"id":         &graphql.Field{Type: graphql.String},
		"dst":        &graphql.Field{Type: graphql.String},
		"label":      &graphql.Field{Type: graphql.String},
		"previewUrl": &graphql.Field{Type: graphql.String},
		"volume":     &graphql.Field{Type: volumeType},
		"enabled":    &graphql.Field{Type: graphql.Boolean},
		"status":     &graphql.Field{Type: graphql.String},
		"mixins":     &graphql.Field{Type: graphql.NewList(mixinType)},
	},
})

var inputType graphql.Type

func init() {
	inputType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Input",
		Fields: graphql.Fields{
			"id":        &graphql.Field{Type: graphql.String},
			"key":       &graphql.Field{Type: graphql.String},
			"enabled":   &graphql.Field{Type: graphql.Boolean},
			"endpoints": &graphql.Field{Type: graphql.NewList(endpointType)},
		},
	})
}

var restreamType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Restream",
	Fields: graphql.Fields{
		"id":      &graphql.Field{Type: graphql.String},
		"key":     &graphql.Field{Type: graphql.String},
		"label":   &graphql.Field{Type: graphql.String},
		"input":   &graphql.Field{Type: inputType},
		"outputs": &graphql.Field{Type: graphql.NewList(outputType)},
	},
})

var serverInfoType = graphql.NewObject(graphql.ObjectConfig{
	Name: "ServerInfo",
	Fields: graphql.Fields{
		"publicHost":     &graphql.Field{Type: graphql.String},
		"restreamsCount": &graphql.Field{Type: graphql.Int},
		"cpuUsage":       &graphql.Field{Type: graphql.Float},
		"memUsage":       &graphql.Field{Type: graphql.Float},
	},
})

var clientType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Client",
	Fields: graphql.Fields{
		"id": &graphql.Field{Type: graphql.String},
	},
})

func restreamToMap(r *state.Restream) map[string]any {
	out := map[string]any{
		"id":    r.ID.String(),
		"key":   r.Key,
		"label": r.Label,
		"input": inputToMap(r.Input),
	}
	outs := make([]map[string]any, len(r.Outputs))
	for i, o := range r.Outputs {
		outs[i] = outputToMap(o)
	}
	out["outputs"] = outs
	return out
}

func inputToMap(in *state.Input) map[string]any {
	if in == nil {
		return nil
	}
	eps := make([]map[string]any, len(in.Endpoints))
	for i, ep := range in.Endpoints {
		eps[i] = map[string]any{
			"id": ep.ID.String(), "kind": string(ep.Kind), "label": ep.Label, "status": string(ep.Status),
		}
	}
	return map[string]any{
		"id": in.ID.String(), "key": in.Key, "enabled": in.Enabled, "endpoints": eps,
	}
}

func outputToMap(o *state.Output) map[string]any {
	mixins := make([]map[string]any, len(o.Mixins))
	for i, m := range o.Mixins {
		mixins[i] = map[string]any{
			"id": m.ID.String(), "src": m.Src,
			"volume":    map[string]any{"level": int(m.Volume.Level), "muted": m.Volume.Muted},
			"delayMs":   int(m.Delay.Milliseconds()),
			"sidechain": m.Sidechain,
			"status":    string(m.Status),
		}
	}
	return map[string]any{
		"id": o.ID.String(), "dst": o.Dst, "label": o.Label, "previewUrl": o.PreviewURL,
		"volume":  map[string]any{"level": int(o.Volume.Level), "muted": o.Volume.Muted},
		"enabled": o.Enabled, "status": string(o.Status), "mixins": mixins,
	}
}

// BuildFullSchema is the /api schema: full restream control.
func BuildFullSchema(store *state.Store) (graphql.Schema, error) {
	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"restreams": &graphql.Field{
				Type: graphql.NewList(restreamType),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					restreams := store.Restreams.Snapshot()
					out := make([]map[string]any, len(restreams))
					for i, r := range restreams {
						out[i] = restreamToMap(r)
					}
					return out, nil
				},
			},
			"settings": &graphql.Field{
				Type: graphql.NewObject(graphql.ObjectConfig{
					Name: "Settings",
					Fields: graphql.Fields{
						"title": &graphql.Field{Type: graphql.String},
					},
				}),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					s := store.Settings.Snapshot()
					return map[string]any{"title": s.Title}, nil
				},
			},
		},
	})

	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"setSettings": &graphql.Field{
				Type: graphql.Boolean,
				Args: graphql.FieldConfigArgument{
					"title": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					title, _ := p.Args["title"].(string)
					if len(title) > 70 {
						return nil, fmt.Errorf("title exceeds 70 characters")
					}
					store.Settings.Update(func(s *state.Settings) { s.Title = title })
					return true, nil
				},
			},
			"addRestream": &graphql.Field{
				Type: graphql.String,
				Args: graphql.FieldConfigArgument{
					"key":        &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"inputKey":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"remoteUrl":  &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					key, _ := p.Args["key"].(string)
					inputKey, _ := p.Args["inputKey"].(string)
					remoteURL, _ := p.Args["remoteUrl"].(string)
					r, err := store.AddRestream(state.RestreamSpec{
						Key: key,
						Input: state.InputSpec{
							Key: inputKey, Enabled: true, SrcURL: remoteURL,
							Endpoints: []state.EndpointSpec{{Kind: state.KindRTMP}},
						},
					})
					if err != nil {
						return nil, err
					}
					return r.ID.String(), nil
				},
			},
			"removeRestream": &graphql.Field{
				Type: graphql.Boolean,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					id, err := parseID(p.Args["id"])
					if err != nil {
						return nil, err
					}
					return store.RemoveRestream(id), nil
				},
			},
			"setOutput": &graphql.Field{
				Type: graphql.String,
				Args: graphql.FieldConfigArgument{
					"restreamId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"dst":        &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"enabled":    &graphql.ArgumentConfig{Type: graphql.Boolean},
					"mixinSrcs":  &graphql.ArgumentConfig{Type: graphql.NewList(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					restreamID, err := parseID(p.Args["restreamId"])
					if err != nil {
						return nil, err
					}
					dst, _ := p.Args["dst"].(string)
					enabled, _ := p.Args["enabled"].(bool)

					var mixins []state.MixinSpec
					if raw, ok := p.Args["mixinSrcs"].([]any); ok {
						for _, v := range raw {
							src, _ := v.(string)
							mixins = append(mixins, state.MixinSpec{Src: src, Volume: state.VolumeOriginValue})
						}
					}

					out, err, ok := store.AddOutput(restreamID, state.OutputSpec{Dst: dst, Enabled: enabled, Mixins: mixins, Volume: state.VolumeOriginValue})
					if !ok {
						return nil, fmt.Errorf("restream not found")
					}
					if err != nil {
						return nil, err
					}
					return out.ID.String(), nil
				},
			},
			"enableRestream":  enableDisableField(store.EnableRestream),
			"disableRestream": enableDisableField(store.DisableRestream),
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: query, Mutation: mutation})
}

func enableDisableField(fn func(uuid.UUID) (bool, bool)) *graphql.Field {
	return &graphql.Field{
		Type: graphql.Boolean,
		Args: graphql.FieldConfigArgument{
			"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
		},
		Resolve: func(p graphql.ResolveParams) (any, error) {
			id, err := parseID(p.Args["id"])
			if err != nil {
				return nil, err
			}
			_, ok := fn(id)
			return ok, nil
		},
	}
}

func parseID(raw any) (uuid.UUID, error) {
	s, _ := raw.(string)
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}

// BuildMixSchema is the /api-mix schema: per-output mixin tuning only.
func BuildMixSchema(store *state.Store) (graphql.Schema, error) {
	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"outputs": &graphql.Field{
				Type: graphql.NewList(outputType),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					var out []map[string]any
					for _, r := range store.Restreams.Snapshot() {
						for _, o := range r.Outputs {
							out = append(out, outputToMap(o))
						}
					}
					return out, nil
				},
			},
		},
	})

	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"tuneVolume": &graphql.Field{
				Type: graphql.Boolean,
				Args: graphql.FieldConfigArgument{
					"restreamId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"outputId":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"mixinId":    &graphql.ArgumentConfig{Type: graphql.String},
					"level":      &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					restreamID, err := parseID(p.Args["restreamId"])
					if err != nil {
						return nil, err
					}
					outputID, err := parseID(p.Args["outputId"])
					if err != nil {
						return nil, err
					}
					var mixinID *uuid.UUID
					if raw, ok := p.Args["mixinId"].(string); ok && raw != "" {
						id, err := uuid.Parse(raw)
						if err != nil {
							return nil, err
						}
						mixinID = &id
					}
					level, _ := p.Args["level"].(int)
					vl, ok := state.NewVolumeLevel(level)
					if !ok {
						return nil, fmt.Errorf("volume level %d out of range", level)
					}
					_, ok = store.TuneVolume(restreamID, outputID, mixinID, state.Volume{Level: vl})
					return ok, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: query, Mutation: mutation})
}

// BuildDashboardSchema is the /api-dashboard schema: peer list management.
func BuildDashboardSchema(store *state.Store) (graphql.Schema, error) {
	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"peers": &graphql.Field{
				Type: graphql.NewList(clientType),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					clients := store.Clients.Snapshot()
					out := make([]map[string]any, len(clients))
					for i, c := range clients {
						out[i] = map[string]any{"id": c.ID}
					}
					return out, nil
				},
			},
		},
	})

	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"addPeer": &graphql.Field{
				Type: graphql.Boolean,
				Args: graphql.FieldConfigArgument{
					"url": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					url, _ := p.Args["url"].(string)
					_, err := store.AddClient(url)
					return err == nil, err
				},
			},
			"removePeer": &graphql.Field{
				Type: graphql.Boolean,
				Args: graphql.FieldConfigArgument{
					"url": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					url, _ := p.Args["url"].(string)
					return store.RemoveClient(url), nil
				},
			},
			"removeDvrFile": &graphql.Field{
				Type: graphql.Boolean,
				Args: graphql.FieldConfigArgument{
					"path": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					path, _ := p.Args["path"].(string)
					if strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
						return nil, fmt.Errorf("unsafe path %q", path)
					}
					return true, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: query, Mutation: mutation})
}

// BuildStatisticsSchema is the /api-statistics schema: read-only,
// unauthenticated aggregate status, and the fixed query the Peer Stats
// Poller (C12) issues against every sibling instance.
func BuildStatisticsSchema(store *state.Store) (graphql.Schema, error) {
	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"serverInfo": &graphql.Field{
				Type: serverInfoType,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					s := store.ServerInfo.Snapshot()
					return map[string]any{
						"publicHost": s.PublicHost, "restreamsCount": int(s.RestreamsCount),
						"cpuUsage": s.CPUUsage, "memUsage": s.MemUsage,
					}, nil
				},
			},
			"export": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					doc := specimport.Export(store)
					b, err := specimport.Marshal(doc)
					return string(b), err
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: query})
}
