package rbac

import (
	"context"
	"net/http"
	"strings"

	"github.com/pavilion-host/pavilion/internal/caperr"
)

type ctxKey struct{}

// rolesHeader carries the caller's assigned role names, resolved by whatever
// authentication layer fronts the gateway.
const rolesHeader = "X-Pavilion-Roles"

// WithRoles attaches resolved roles to a request context.
func WithRoles(ctx context.Context, roles []Role) context.Context {
	return context.WithValue(ctx, ctxKey{}, roles)
}

// RolesFromContext returns the roles attached to the context, if any.
func RolesFromContext(ctx context.Context) []Role {
	roles, _ := ctx.Value(ctxKey{}).([]Role)
	return roles
}

// Resolver returns middleware that reads the caller's assigned role names
// from the roles header and attaches their definitions to the request context.
// Unknown role names are skipped; an absent header means no roles.
func Resolver(defined map[string]Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(rolesHeader)
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			var assigned []string
			for _, name := range strings.Split(header, ",") {
				if name = strings.TrimSpace(name); name != "" {
					assigned = append(assigned, name)
				}
			}
			roles := Resolve(defined, assigned)
			next.ServeHTTP(w, r.WithContext(WithRoles(r.Context(), roles)))
		})
	}
}

// RequireCapability returns middleware that rejects the request unless the
// caller's effective value for key permits access. Absence of any grant is
// treated as deny.
func RequireCapability(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			roles := RolesFromContext(r.Context())
			value := Effective(roles, key)
			if !value.Permits() {
				caperr.WriteHTTP(w, caperr.Forbidden("capability_denied",
					"capability not granted", map[string]string{
						"capability": key,
						"value":      string(value),
					}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
