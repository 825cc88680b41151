package auth

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type whoamiOutput struct {
	Body struct {
		Operator string `json:"operator"`
	}
}

func newProtectedAPI(t *testing.T, a *Authenticator) humatest.TestAPI {
	t.Helper()
	_, api := humatest.New(t)
	api.UseMiddleware(a.Middleware(api))

	handler := func(ctx context.Context, _ *struct{}) (*whoamiOutput, error) {
		out := &whoamiOutput{}
		out.Body.Operator, _ = OperatorFrom(ctx)
		return out, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/admin/whoami",
		Security:    []map[string][]string{{SecurityScheme: {}}},
	}, handler)
	huma.Register(api, huma.Operation{
		OperationID: "public",
		Method:      http.MethodGet,
		Path:        "/public",
	}, handler)
	return api
}

func TestMiddleware(t *testing.T) {
	a := newTestAuthenticator(t)
	api := newProtectedAPI(t, a)

	t.Run("PublicOperationPassesThrough", func(t *testing.T) {
		resp := api.Get("/public")
		assert.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("MissingToken", func(t *testing.T) {
		resp := api.Get("/admin/whoami")
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("ValidToken", func(t *testing.T) {
		token, err := a.GenerateToken("treasurer", TokenDuration)
		require.NoError(t, err)

		resp := api.Get("/admin/whoami", "Authorization: Bearer "+token)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Contains(t, resp.Body.String(), `"operator":"treasurer"`)
		assert.Empty(t, resp.Header().Get(RefreshHeader))
	})
}

func TestMiddleware_SlidingSession(t *testing.T) {
	a := newTestAuthenticator(t)
	api := newProtectedAPI(t, a)

	t.Run("TokenRenewed", func(t *testing.T) {
		// 5 hours left is less than TokenDuration/2
		token, err := a.GenerateToken("treasurer", 5*time.Hour)
		require.NoError(t, err)

		resp := api.Get("/admin/whoami", "Authorization: Bearer "+token)
		require.Equal(t, http.StatusOK, resp.Code)

		fresh := resp.Header().Get(RefreshHeader)
		require.NotEmpty(t, fresh)
		assert.NotEqual(t, token, fresh)

		claims, err := a.ParseToken(fresh)
		require.NoError(t, err)
		assert.Equal(t, "treasurer", claims.Subject)
	})

	t.Run("TokenNotRenewed", func(t *testing.T) {
		token, err := a.GenerateToken("treasurer", 7*time.Hour)
		require.NoError(t, err)

		resp := api.Get("/admin/whoami", "Authorization: Bearer "+token)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Empty(t, resp.Header().Get(RefreshHeader))
	})
}
