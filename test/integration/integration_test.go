// Package integration exercises the whole service against a mock wearable
// provider: real SQLite store, real token manager, real rate limiter and
// breaker, real HTTP routes.
package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/vitalsync/vitalsync/internal/api"
	"github.com/vitalsync/vitalsync/internal/breaker"
	"github.com/vitalsync/vitalsync/internal/cache"
	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/internal/connect"
	"github.com/vitalsync/vitalsync/internal/limiter"
	"github.com/vitalsync/vitalsync/internal/logging"
	"github.com/vitalsync/vitalsync/internal/metrics"
	"github.com/vitalsync/vitalsync/internal/provider"
	"github.com/vitalsync/vitalsync/internal/store"
	"github.com/vitalsync/vitalsync/internal/token"
	"github.com/vitalsync/vitalsync/test/mocks"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type testServer struct {
	Engine   *gin.Engine
	Store    *store.SQLiteStore
	Provider *mocks.WearableProvider
	Tokens   *token.Manager
}

// setupTestServer wires the full stack against a mock provider and a
// temporary SQLite database. Auth is disabled; auth behavior has its own
// unit coverage.
func setupTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	wp := mocks.NewWearableProvider()
	t.Cleanup(wp.Close)

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err, "create sqlite store")
	t.Cleanup(func() { _ = s.Close() })

	cfg := config.Default()
	cfg.Provider.ClientID = "test-client"
	cfg.Provider.ClientSecret = "test-secret"
	cfg.Provider.BaseURL = wp.URL()
	cfg.Provider.AuthURL = wp.URL() + "/oauth/authorize"
	cfg.Provider.TokenURL = wp.URL() + "/oauth/token"
	cfg.Provider.RevokeURL = wp.URL() + "/oauth/revoke"
	cfg.Provider.RedirectURI = "https://app.example/oauth/callback"
	cfg.RateLimit.MinSpacing = 0
	cfg.Retry.BaseBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = 2 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	logger := logging.NewLogger(logging.WithOutput(discardWriter{}), logging.WithLevel(logging.LevelFatal))
	m := metrics.NewMetrics("test")

	lim := limiter.New(cfg.RateLimit.PerMinute, time.Minute, cfg.RateLimit.PerDay, 24*time.Hour, cfg.RateLimit.MinSpacing)
	brk := breaker.New(cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown)

	oauthClient := token.NewOAuthClient(cfg.Provider, logger)
	tokens := token.NewManager(s, oauthClient, cfg.Provider.ExpiryMargin, logger)
	client := provider.NewClient(*cfg, tokens, lim, brk, logger)
	crawler := provider.NewCrawler(client, logger)

	var respCache *cache.Cache
	if cfg.Cache.Enabled {
		respCache = cache.New(cfg.Cache.Capacity)
	}

	connectSvc := connect.NewService(cfg.Provider, s, tokens, logger)
	srv := api.NewServer(cfg, connectSvc, crawler, respCache, s, m, logger)

	return &testServer{
		Engine:   srv.Engine(),
		Store:    s,
		Provider: wp,
		Tokens:   tokens,
	}
}

func makeRequest(t *testing.T, engine *gin.Engine, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(method, path, nil)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), "body: %s", w.Body.String())
	return body
}

// connectPrincipal runs the full authorization dance: initiate, pull the
// state out of the consent URL, then complete via the callback route.
func connectPrincipal(t *testing.T, ts *testServer, principalID string) {
	t.Helper()

	w := makeRequest(t, ts.Engine, "POST", "/connections/"+principalID+"/initiate")
	require.Equal(t, http.StatusOK, w.Code, "initiate: %s", w.Body.String())

	body := decodeJSON(t, w)
	authURL, _ := body["authorization_url"].(string)
	require.NotEmpty(t, authURL, "no authorization_url in initiate response")

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state, "no state in consent URL")

	w = makeRequest(t, ts.Engine, "GET", "/oauth/callback?state="+state+"&code=grant-code")
	require.Equal(t, http.StatusOK, w.Code, "callback: %s", w.Body.String())
}

// dataPath builds a data URL over the trailing `window` ending at `end`.
func dataPath(principalID, resource string, end time.Time, window time.Duration) string {
	q := url.Values{
		"start": {end.Add(-window).UTC().Format(time.RFC3339)},
		"end":   {end.UTC().Format(time.RFC3339)},
	}
	return "/data/" + principalID + "/" + resource + "?" + q.Encode()
}
