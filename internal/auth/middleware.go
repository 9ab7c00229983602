package auth

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func deny(w http.ResponseWriter, status int, code string, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Code: code, Message: err.Error()})
}

// Middleware authenticates the bearer token and stores its role and subject
// on the request context. A nil verifier lets every request through with
// the admin role, which is how an unsecured deployment behaves.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				next.ServeHTTP(w, r.WithContext(WithRole(r.Context(), RoleAdmin)))
				return
			}
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				deny(w, http.StatusUnauthorized, "unauthorized", ErrMissingToken)
				return
			}
			claims, err := v.Parse(strings.TrimPrefix(h, "Bearer "))
			if err != nil {
				deny(w, http.StatusUnauthorized, "unauthorized", ErrInvalidToken)
				return
			}
			ctx := WithSubject(WithRole(r.Context(), claims.Role), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Require rejects requests whose role is not one of roles.
func Require(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if role == "" || !slices.Contains(roles, role) {
				deny(w, http.StatusForbidden, "forbidden", ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
