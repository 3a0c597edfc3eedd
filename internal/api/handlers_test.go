package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/chorus/internal/auth"
	"github.com/jordanhubbard/chorus/internal/clock"
	"github.com/jordanhubbard/chorus/internal/dispatch"
	"github.com/jordanhubbard/chorus/internal/persona"
	"github.com/jordanhubbard/chorus/internal/provider"
	"github.com/jordanhubbard/chorus/internal/router"
	"github.com/jordanhubbard/chorus/internal/session"
	"github.com/jordanhubbard/chorus/pkg/config"
)

type okProvider struct{}

func (okProvider) Complete(ctx context.Context, model string, messages []provider.Message, opts *provider.Options) (*provider.Result, error) {
	return &provider.Result{Content: "ok"}, nil
}

func (okProvider) Models(ctx context.Context) ([]string, error) { return []string{"m"}, nil }

func newTestServer(t *testing.T, enableAuth bool) (*Server, *auth.Manager) {
	t.Helper()

	clk := clock.NewFake(time.Unix(1700000000, 0))
	aliases := persona.NewAliasIndex("@")
	sessions := session.NewStore(session.DefaultConfig(), clk, nil)

	registry := provider.NewRegistry()
	require.NoError(t, registry.RegisterProvider(&provider.Config{ID: "fake", Model: "m"}, okProvider{}))
	dcfg := dispatch.DefaultConfig()
	dcfg.DefaultModelPath = "fake"
	d := dispatch.New(dcfg, registry, nil, clk, nil, nil)

	am := auth.NewManager("test-secret")

	var authorizer router.Authorizer
	if enableAuth {
		authorizer = am
	}
	r := router.New(aliases, sessions, d, nil, authorizer, nil)

	cfg := config.Default()
	cfg.Security.EnableAuth = enableAuth
	cfg.Security.JWTSecret = "test-secret"

	return NewServer(r, aliases, nil, am, nil, cfg, nil), am
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, false)
	rec := doJSON(t, s.SetupRoutes(), http.MethodGet, "/api/v1/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPersonaLifecycle(t *testing.T) {
	s, _ := newTestServer(t, false)
	h := s.SetupRoutes()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/personas", map[string]interface{}{
		"full_name":    "Marvin the Paranoid Android",
		"display_name": "Marvin",
		"aliases":      []string{"marvin"},
		"derive_alias": true,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		DerivedAlias string `json:"derived_alias"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "marvin", created.DerivedAlias, "display name is free, bare alias wins")

	escaped := "/api/v1/personas/" + url.PathEscape("Marvin the Paranoid Android")
	rec = doJSON(t, h, http.MethodGet, escaped, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/personas", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = doJSON(t, h, http.MethodDelete, escaped, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, escaped, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAliasRegistrationAndCollision(t *testing.T) {
	s, _ := newTestServer(t, false)
	h := s.SetupRoutes()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/aliases", map[string]interface{}{
		"alias": "lilith", "persona_name": "Lilith",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	// Same alias for another persona collides without reassign.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/aliases", map[string]interface{}{
		"alias": "lilith", "persona_name": "Other",
	}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/aliases", map[string]interface{}{
		"alias": "lilith", "persona_name": "Other", "reassign": true,
	}, "")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/aliases/lilith", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodDelete, "/api/v1/aliases/lilith", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChannelActivationRequiresPermission(t *testing.T) {
	s, am := newTestServer(t, true)
	h := s.SetupRoutes()

	// No token at all.
	rec := doJSON(t, h, http.MethodPost, "/api/v1/channels/c1/activation", map[string]string{"persona_name": "Marvin"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Viewer token: permission check fails at the middleware.
	viewer, err := am.CreateUser("ro", "viewer", "pw")
	require.NoError(t, err)
	viewerToken, err := am.GenerateToken(viewer)
	require.NoError(t, err)
	rec = doJSON(t, h, http.MethodPost, "/api/v1/channels/c1/activation", map[string]string{"persona_name": "Marvin"}, viewerToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Admin token succeeds.
	login, err := am.Login("admin", "admin")
	require.NoError(t, err)
	rec = doJSON(t, h, http.MethodPost, "/api/v1/channels/c1/activation", map[string]string{"persona_name": "Marvin"}, login.Token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/channels/c1/activation", nil, login.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionEndpoints(t *testing.T) {
	s, _ := newTestServer(t, false)
	h := s.SetupRoutes()

	rec := doJSON(t, h, http.MethodPut, "/api/v1/sessions/u1/auto-response", map[string]bool{"enabled": true}, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/sessions/u1/c1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "nothing recorded yet")
}

func TestBlackoutsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, false)
	h := s.SetupRoutes()

	rec := doJSON(t, h, http.MethodGet, "/api/v1/blackouts", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot map[string]time.Time
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Empty(t, snapshot)
}

func TestLogin(t *testing.T) {
	s, _ := newTestServer(t, true)
	h := s.SetupRoutes()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", loginRequest{Username: "admin", Password: "admin"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp auth.LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/login", loginRequest{Username: "admin", Password: "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
