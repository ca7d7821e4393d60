package handlers

import (
	"net/http"

	"github.com/tasktrack/apiserver/internal/auth"
)

// RequireAuth resolves the bearer token to the current user record and
// injects it into the request context.
func RequireAuth(guard *auth.Guard, opts Options) func(http.Handler) http.Handler {
	opts = opts.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := guard.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				respondError(w, r, opts, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
		})
	}
}
