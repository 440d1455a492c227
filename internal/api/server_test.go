package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vitalsync/vitalsync/internal/breaker"
	"github.com/vitalsync/vitalsync/internal/cache"
	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/internal/connect"
	"github.com/vitalsync/vitalsync/internal/limiter"
	"github.com/vitalsync/vitalsync/internal/logging"
	"github.com/vitalsync/vitalsync/internal/metrics"
	"github.com/vitalsync/vitalsync/internal/models"
	"github.com/vitalsync/vitalsync/internal/provider"
	"github.com/vitalsync/vitalsync/internal/store"
	"github.com/vitalsync/vitalsync/internal/token"
)

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

// fakeProvider is a minimal wearable API double: token endpoint plus one
// resource collection.
type fakeProvider struct {
	srv       *httptest.Server
	dataCalls int32
}

func newFakeProvider() *fakeProvider {
	f := &fakeProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"provider-at","refresh_token":"provider-rt","expires_in":3600,"user_id":"wu-1"}`))
	})
	mux.HandleFunc("/v1/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.dataCalls, 1)
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":[{"id":"rec-1"},{"id":"rec-2"}]}`))
	})
	f.srv = httptest.NewServer(mux)
	return f
}

type testServer struct {
	server   *Server
	store    store.Store
	provider *fakeProvider
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	fp := newFakeProvider()
	t.Cleanup(fp.srv.Close)

	cfg := config.Default()
	cfg.Provider.ClientID = "cid"
	cfg.Provider.ClientSecret = "secret"
	cfg.Provider.BaseURL = fp.srv.URL
	cfg.Provider.AuthURL = fp.srv.URL + "/oauth/authorize"
	cfg.Provider.TokenURL = fp.srv.URL + "/oauth/token"
	cfg.Provider.RedirectURI = "https://app.example/oauth/callback"
	cfg.RateLimit.MinSpacing = 0
	cfg.API.Auth = config.AuthConfig{
		Enabled:    true,
		APIKeys:    []string{"secret-key"},
		HeaderName: "X-API-Key",
	}
	if mutate != nil {
		mutate(cfg)
	}

	logger := logging.NewLogger(logging.WithOutput(nullWriter{}), logging.WithLevel(logging.LevelFatal))
	s := store.NewMemoryStore()
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
	srv := NewServer(cfg, connectSvc, crawler, respCache, s, m, logger)

	return &testServer{server: srv, store: s, provider: fp}
}

func (ts *testServer) do(method, path string, withKey bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if withKey {
		req.Header.Set("X-API-Key", "secret-key")
	}
	w := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(w, req)
	return w
}

func (ts *testServer) seedConnection(t *testing.T) {
	t.Helper()
	if err := ts.store.PutCredential(&models.Credential{
		PrincipalID:  "p1",
		AccessToken:  "seed-at",
		RefreshToken: "seed-rt",
		ExpiresAt:    time.Now().Add(time.Hour),
		Active:       true,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestServer_HealthIsPublic(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodGet, "/health", false)
	if w.Code != http.StatusOK {
		t.Fatalf("health status %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("body %v", body)
	}
}

func TestServer_MetricsIsPublic(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodGet, "/metrics", false)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status %d", w.Code)
	}
}

func TestServer_AuthRequired(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodGet, "/connections/p1", false)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no key: status %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/connections/p1", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status %d, want 401", rec.Code)
	}

	if w := ts.do(http.MethodGet, "/connections/p1", true); w.Code != http.StatusOK {
		t.Errorf("valid key: status %d, want 200", w.Code)
	}
}

func TestServer_InitiateReturnsConsentURL(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodPost, "/connections/p1/initiate", true)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		AuthorizationURL string `json:"authorization_url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body.AuthorizationURL, "/oauth/authorize?") {
		t.Errorf("authorization_url %q", body.AuthorizationURL)
	}
	if !strings.Contains(body.AuthorizationURL, "state=") {
		t.Errorf("no state in %q", body.AuthorizationURL)
	}
}

func TestServer_CallbackCompletesFlow(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodPost, "/connections/p1/initiate", true)
	var initiate struct {
		AuthorizationURL string `json:"authorization_url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &initiate); err != nil {
		t.Fatal(err)
	}
	parsed, err := url.Parse(initiate.AuthorizationURL)
	if err != nil {
		t.Fatal(err)
	}
	state := parsed.Query().Get("state")

	// Callback is unauthenticated: the provider's redirect has no API key.
	cb := ts.do(http.MethodGet, "/oauth/callback?state="+state+"&code=abc", false)
	if cb.Code != http.StatusOK {
		t.Fatalf("callback status %d: %s", cb.Code, cb.Body.String())
	}

	cred, ok := ts.store.GetCredential("p1")
	if !ok || !cred.Active {
		t.Fatal("callback did not store an active credential")
	}
	if cred.AccessToken != "provider-at" {
		t.Errorf("access token %q", cred.AccessToken)
	}
}

func TestServer_CallbackRejectsForgedState(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodGet, "/oauth/callback?state=forged&code=abc", false)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", w.Code)
	}
}

func TestServer_CallbackUserDenied(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodGet, "/oauth/callback?error=access_denied&error_description=user+said+no", false)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", w.Code)
	}
}

func TestServer_DataFetch(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedConnection(t)

	path := "/data/p1/sleep?start=2026-08-29T00:00:00Z&end=2026-08-30T00:00:00Z"
	w := ts.do(http.MethodGet, path, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Count int               `json:"count"`
		Data  []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 2 || len(body.Data) != 2 {
		t.Errorf("body %s", w.Body.String())
	}
}

func TestServer_DataFetchCached(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedConnection(t)

	path := "/data/p1/sleep?start=2026-08-29T00:00:00Z&end=2026-08-30T00:00:00Z"
	first := ts.do(http.MethodGet, path, true)
	second := ts.do(http.MethodGet, path, true)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("statuses %d/%d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Error("cached response differs from original")
	}
	if n := atomic.LoadInt32(&ts.provider.dataCalls); n != 1 {
		t.Errorf("provider hit %d times, want 1 (second read cached)", n)
	}
}

func TestServer_DataValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedConnection(t)

	tests := []struct {
		name string
		path string
	}{
		{"unknown resource", "/data/p1/steps?start=2026-08-29T00:00:00Z&end=2026-08-30T00:00:00Z"},
		{"missing range", "/data/p1/sleep"},
		{"bad timestamp", "/data/p1/sleep?start=yesterday&end=2026-08-30T00:00:00Z"},
		{"inverted range", "/data/p1/sleep?start=2026-08-30T00:00:00Z&end=2026-08-29T00:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := ts.do(http.MethodGet, tt.path, true); w.Code != http.StatusBadRequest {
				t.Errorf("status %d, want 400", w.Code)
			}
		})
	}
}

func TestServer_DataForUnconnectedPrincipal(t *testing.T) {
	ts := newTestServer(t, nil)

	path := "/data/ghost/sleep?start=2026-08-29T00:00:00Z&end=2026-08-30T00:00:00Z"
	w := ts.do(http.MethodGet, path, true)
	if w.Code != http.StatusConflict {
		t.Errorf("status %d, want 409 reauth_required", w.Code)
	}

	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Code != "reauth_required" {
		t.Errorf("code %q", body.Code)
	}
}

func TestServer_StatusAndDisconnect(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedConnection(t)

	w := ts.do(http.MethodGet, "/connections/p1", true)
	var status models.ConnectionStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if !status.Connected {
		t.Error("seeded principal not connected")
	}

	if w := ts.do(http.MethodDelete, "/connections/p1", true); w.Code != http.StatusOK {
		t.Fatalf("disconnect status %d", w.Code)
	}

	w = ts.do(http.MethodGet, "/connections/p1", true)
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Connected {
		t.Error("principal still connected after disconnect")
	}
}

func TestServer_CorrelationIDEchoed(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodGet, "/health", false)
	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("no correlation id on response")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Correlation-ID", "fixed-id")
	rec := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Correlation-ID"); got != "fixed-id" {
		t.Errorf("correlation id %q, want the caller's", got)
	}
}
