package graphqlapi

import (
	"net/http"

	gqlhandler "github.com/graphql-go/handler"

	"github.com/restreamer-go/restreamer/internal/state"
)

// storeSettings adapts *state.Store to settingsSource for the auth
// middleware.
type storeSettings struct{ store *state.Store }

func (s storeSettings) SettingsSnapshot() state.Settings { return s.store.Settings.Snapshot() }

// Mount wires all four schemas onto mux at their fixed paths, each guarded
// by the password-hash middleware appropriate to its role (/api-statistics
// carries no auth at all, the second bypass named in the surface's
// contract).
func Mount(mux *http.ServeMux, store *state.Store) error {
	full, err := BuildFullSchema(store)
	if err != nil {
		return err
	}
	mix, err := BuildMixSchema(store)
	if err != nil {
		return err
	}
	dashboard, err := BuildDashboardSchema(store)
	if err != nil {
		return err
	}
	stats, err := BuildStatisticsSchema(store)
	if err != nil {
		return err
	}

	settings := storeSettings{store}

	mux.Handle("/api", requirePassword(settings, false, gqlhandler.New(&gqlhandler.Config{
		Schema: &full, Pretty: true, GraphiQL: false,
	})))
	mux.Handle("/api-mix", requirePassword(settings, true, gqlhandler.New(&gqlhandler.Config{
		Schema: &mix, Pretty: true, GraphiQL: false,
	})))
	mux.Handle("/api-dashboard", requirePassword(settings, false, gqlhandler.New(&gqlhandler.Config{
		Schema: &dashboard, Pretty: true, GraphiQL: false,
	})))
	mux.Handle("/api-statistics", gqlhandler.New(&gqlhandler.Config{
		Schema: &stats, Pretty: true, GraphiQL: false,
	}))

	return nil
}
