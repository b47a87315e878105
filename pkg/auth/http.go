package auth

import (
	"encoding/json"
	"net/http"

	"github.com/pesio-ai/be-exp-expenses/pkg/errors"
)

// Middleware authenticates every request passing through it and rejects the
// rest with 401.
func Middleware(v *Verifier, load UserLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uc, err := v.Authenticate(r.Context(), r.Header.Get("Authorization"), load)
			if err != nil {
				status := http.StatusUnauthorized
				msg := err.Error()
				if errors.CodeOf(err) == errors.ErrCodeInternal {
					status = http.StatusInternalServerError
					msg = "failed to authenticate"
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"code":    string(errors.CodeOf(err)),
					"message": msg,
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserContext(r.Context(), uc)))
		})
	}
}
