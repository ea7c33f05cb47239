package api

import (
	"context"
	"net/http"

	"github.com/go-chi/jwtauth"

	"github.com/appforge/content-engine/pkg/contentengine"
)

type contextKey string

const callerKey contextKey = "caller"

// NewTokenAuth creates the JWT verifier for HS256 tokens.
func NewTokenAuth(secret string) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(secret), nil)
}

// CallerFromContext returns the caller stored by CallerContext. A zero
// caller means the middleware did not run.
func CallerFromContext(ctx context.Context) contentengine.Caller {
	caller, _ := ctx.Value(callerKey).(contentengine.Caller)
	return caller
}

// WithCaller stores a caller on the context, for tests and internal
// invocations that bypass JWT verification.
func WithCaller(ctx context.Context, caller contentengine.Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerContext extracts the caller identity from verified JWT claims.
// It must run after jwtauth.Verifier and jwtauth.Authenticator.
//
// Expected claims: user_id, project_id, template_id, tier.
func CallerContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, claims, err := jwtauth.FromContext(r.Context())
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		caller := contentengine.Caller{
			UserID:     stringClaim(claims, "user_id"),
			ProjectID:  stringClaim(claims, "project_id"),
			TemplateID: stringClaim(claims, "template_id"),
			Tier:       contentengine.Tier(stringClaim(claims, "tier")),
		}
		if caller.UserID == "" || caller.ProjectID == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		if !caller.Tier.Known() {
			caller.Tier = contentengine.TierBasic
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func stringClaim(claims map[string]interface{}, name string) string {
	s, _ := claims[name].(string)
	return s
}
