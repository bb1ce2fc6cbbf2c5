package graphqlapi

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/restreamer-go/restreamer/internal/state"
)

// HashPassword returns a bcrypt verifier hash suitable for
// Settings.PasswordHash / Settings.PasswordOutputHash.
func HashPassword(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	return string(h), err
}

// checkPassword reports whether plain matches hash; an empty hash (no
// password configured yet) always matches, which is the instance's
// "wide open until a password is set" bootstrap bypass.
func checkPassword(hash, plain string) bool {
	if hash == "" {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// passwordOf selects which of Settings' two password hashes guards a given
// schema: the main password for /api and /api-dashboard, the output
// password for /api-mix. /api-statistics carries no auth at all (the
// second bypass), so it never calls this.
func passwordOf(s state.Settings, mix bool) string {
	if mix {
		return s.PasswordOutputHash
	}
	return s.PasswordHash
}

// requirePassword wraps next with HTTP Basic auth checked against the
// schema-appropriate password hash in store's Settings. The username is
// ignored, matching the upstream's verifier-only contract.
func requirePassword(store settingsSource, mix bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pass, ok := r.BasicAuth()
		hash := passwordOf(store.SettingsSnapshot(), mix)
		if hash != "" && (!ok || !checkPassword(hash, pass)) {
			w.Header().Set("WWW-Authenticate", `Basic realm="restreamer"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// settingsSource is the narrow Store view auth needs; kept as an interface
// so auth tests don't need a whole Store.
type settingsSource interface {
	SettingsSnapshot() state.Settings
}
