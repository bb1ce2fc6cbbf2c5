package graphqlapi

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/restreamer-go/restreamer/internal/state"
)

func TestMountServesStatisticsWithoutAuth(t *testing.T) {
	st := state.New(slog.Default())
	mux := http.NewServeMux()
	if err := Mount(mux, st); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api-statistics?query={serverInfo{cpuUsage}}", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestMountRequiresAuthOnFullSchemaOnceMainPasswordSet(t *testing.T) {
	st := state.New(slog.Default())
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	st.Settings.Update(func(s *state.Settings) { s.PasswordHash = hash })

	mux := http.NewServeMux()
	if err := Mount(mux, st); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api?query={settings{title}}", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without credentials", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api?query={settings{title}}", nil)
	req2.SetBasicAuth("ignored", "secret")
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with correct password, body=%s", rec2.Code, rec2.Body.String())
	}
}

func TestSetSettingsRejectsLongTitle(t *testing.T) {
	st := state.New(slog.Default())
	schema, err := BuildFullSchema(st)
	if err != nil {
		t.Fatalf("BuildFullSchema() error = %v", err)
	}

	longTitle := strings.Repeat("x", 71)
	result := executeMutation(t, schema, `mutation($t: String!){ setSettings(title: $t) }`, map[string]any{"t": longTitle})
	if len(result.Errors) == 0 {
		t.Fatal("expected an error for a title over 70 characters")
	}
}
