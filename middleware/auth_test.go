package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"PCounter/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newEngine(t *testing.T, auth *AuthOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t)
	r := gin.New()
	r.Use(Recovery(log), AccessLog(log, "/open"))
	rt := NewRoutes(r, auth)
	rt.GET("/open", func(c *gin.Context) { c.String(http.StatusOK, "ok") }, RouteOpt{})
	rt.GET("/read", func(c *gin.Context) {
		claims := c.MustGet(CtxClaimsKey).(*security.Claims)
		c.String(http.StatusOK, claims.Subject)
	}, RouteOpt{IsAuth: true})
	rt.POST("/write", func(c *gin.Context) { c.Status(http.StatusNoContent) }, RouteOpt{IsAuth: true, Scope: security.ScopeOps})
	rt.GET("/panic", func(*gin.Context) { panic("boom") }, RouteOpt{})
	return r
}

func serve(r *gin.Engine, method, path, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	opts := security.DefaultOptions([]byte("k"))
	r := newEngine(t, &AuthOptions{JWT: opts})

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/open", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/read", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/read", "Bearer garbage").Code)

	plain, _, err := security.Generate(opts, "bob", nil)
	require.NoError(t, err)
	w := serve(r, http.MethodGet, "/read", "Bearer "+plain)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bob", w.Body.String())
	// 不带 Bearer 前缀也接受
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/read", plain).Code)

	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodPost, "/write", "Bearer "+plain).Code)
	ops, _, err := security.Generate(opts, "bob", []string{security.ScopeOps})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, serve(r, http.MethodPost, "/write", "Bearer "+ops).Code)
}

func TestNoAuthConfigured(t *testing.T) {
	r := newEngine(t, nil)
	assert.Equal(t, http.StatusNoContent, serve(r, http.MethodPost, "/write", "").Code)
}

func TestRecovery(t *testing.T) {
	r := newEngine(t, nil)
	assert.Equal(t, http.StatusInternalServerError, serve(r, http.MethodGet, "/panic", "").Code)
}
