package auth

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

type contextKey string

const OperatorKey contextKey = "operator"

// SecurityScheme is the OpenAPI scheme name operations use to require a token.
const SecurityScheme = "bearerAuth"

// RefreshHeader carries a renewed token when the presented one is past half
// its lifetime.
const RefreshHeader = "X-Refreshed-Token"

// Middleware rejects requests to operations that declare SecurityScheme
// unless they carry a valid operator token. Other operations pass through.
func (a *Authenticator) Middleware(api huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if !requiresToken(ctx.Operation()) {
			next(ctx)
			return
		}

		claims, err := a.Authorize(ctx.Header("Authorization"))
		if err != nil {
			huma.WriteErr(api, ctx, http.StatusUnauthorized, "Unauthorized: "+err.Error())
			return
		}

		// Sliding session: hand out a fresh token once half the lifetime is used.
		if claims.ExpiresAt != nil {
			remaining := claims.ExpiresAt.Sub(a.now())
			if remaining < TokenDuration/2 {
				if fresh, err := a.GenerateToken(claims.Subject, TokenDuration); err == nil {
					ctx.SetHeader(RefreshHeader, fresh)
				}
			}
		}

		next(huma.WithValue(ctx, OperatorKey, claims.Subject))
	}
}

// OperatorFrom returns the authenticated operator stored by Middleware.
func OperatorFrom(ctx context.Context) (string, bool) {
	op, ok := ctx.Value(OperatorKey).(string)
	return op, ok && op != ""
}

func requiresToken(op *huma.Operation) bool {
	if op == nil {
		return false
	}
	for _, req := range op.Security {
		if _, ok := req[SecurityScheme]; ok {
			return true
		}
	}
	return false
}
