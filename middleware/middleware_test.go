package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"mabletask/agent/logger"
	"mabletask/agent/middleware"
	"mabletask/agent/models"
	"mabletask/agent/utils"
)

type boundOrigin struct{}

func (boundOrigin) Authenticate(_ context.Context, orgID, rawKey string) (*models.Installation, error) {
	if rawKey != "k" {
		return nil, middleware.ErrUnknownInstallation
	}
	return &models.Installation{OrgID: orgID, AllowedOrigin: "https://shop.test", Active: true}, nil
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStaticInstallations(t *testing.T) {
	s := middleware.StaticInstallations{OrgID: "org-1", APIKey: "key-1"}

	inst, err := s.Authenticate(context.Background(), "org-1", "key-1")
	require.NoError(t, err)
	assert.Equal(t, "org-1", inst.OrgID)

	_, err = s.Authenticate(context.Background(), "org-1", "key-2")
	assert.ErrorIs(t, err, middleware.ErrUnknownInstallation)
	_, err = s.Authenticate(context.Background(), "org-2", "key-1")
	assert.ErrorIs(t, err, middleware.ErrUnknownInstallation)

	_, err = middleware.StaticInstallations{OrgID: "org-1"}.Authenticate(context.Background(), "org-1", "")
	assert.ErrorIs(t, err, middleware.ErrUnknownInstallation)
}

func TestInstallationAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/", middleware.InstallationAuth(boundOrigin{}, logger.NewNop()), func(c *gin.Context) {
		inst, ok := middleware.Installation(c)
		require.True(t, ok)
		c.String(http.StatusOK, inst.OrgID+"/"+c.GetString(middleware.APIKeyKey))
	})

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-API-Key", "k")
	req.Header.Set(middleware.OrgHeader, "org-1")
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "org-1/k", w.Body.String())

	// Beacon form carries both in the query.
	w = serve(r, httptest.NewRequest(http.MethodPost, "/?key=k&org=org-9", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "org-9/k", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, serve(r, httptest.NewRequest(http.MethodPost, "/?key=k", nil)).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, httptest.NewRequest(http.MethodPost, "/?key=bad&org=o", nil)).Code)

	req = httptest.NewRequest(http.MethodPost, "/?key=k&org=o", nil)
	req.Header.Set("Origin", "https://evil.test")
	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/?key=k&org=o", nil)
	req.Header.Set("Origin", "https://SHOP.test")
	assert.Equal(t, http.StatusOK, serve(r, req).Code)
}

func TestPageTokenAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens := utils.NewPageTokens("secret", time.Hour, nil)
	r := gin.New()
	r.POST("/pages/:id", middleware.PageTokenAuth(tokens, logger.NewNop()), func(c *gin.Context) {
		claims, ok := middleware.PageClaims(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.OrgID)
	})

	token, err := tokens.Generate("p1", "org-1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/pages/p1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "org-1", w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/pages/p2", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)

	assert.Equal(t, http.StatusUnauthorized, serve(r, httptest.NewRequest(http.MethodPost, "/pages/p1", nil)).Code)
}

func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.CORSMiddleware("https://shop.test, https://other.test"))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://shop.test")
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://shop.test", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")

	req = httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("Origin", "https://evil.test")
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	r := gin.New()
	r.Use(middleware.RequestLogger(logger.FromZap(zap.New(core))))
	r.GET("/pages/:id", func(c *gin.Context) { c.Status(http.StatusTeapot) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, httptest.NewRequest(http.MethodGet, "/pages/p1", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, 2, logs.Len())
	first := logs.All()[0]
	assert.Equal(t, zapcore.InfoLevel, first.Level)
	assert.Equal(t, "p1", first.ContextMap()["page_id"])
	assert.Equal(t, int64(http.StatusTeapot), first.ContextMap()["status"])
	assert.Equal(t, zapcore.DebugLevel, logs.All()[1].Level)
}
