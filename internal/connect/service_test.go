package connect

import (
	"context"
	goerrors "errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/internal/errors"
	"github.com/vitalsync/vitalsync/internal/logging"
	"github.com/vitalsync/vitalsync/internal/models"
	"github.com/vitalsync/vitalsync/internal/store"
	"github.com/vitalsync/vitalsync/internal/token"
)

// stubEndpoint is a minimal token.Endpoint for flow tests.
type stubEndpoint struct {
	exchangeErr error
}

func (s *stubEndpoint) Exchange(ctx context.Context, code, redirectURI string) (*token.Token, error) {
	if s.exchangeErr != nil {
		return nil, s.exchangeErr
	}
	return &token.Token{
		AccessToken:    "at-" + code,
		RefreshToken:   "rt-" + code,
		ExpiresAt:      time.Now().Add(time.Hour),
		ProviderUserID: "u1",
	}, nil
}

func (s *stubEndpoint) Refresh(ctx context.Context, refreshToken string) (*token.Token, error) {
	return nil, goerrors.New("not used")
}

func (s *stubEndpoint) Revoke(ctx context.Context, tok, hint string) error {
	return nil
}

type silentWriter struct{}

func (silentWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestService(t *testing.T, ep token.Endpoint) (*Service, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	logger := logging.NewLogger(logging.WithOutput(silentWriter{}), logging.WithLevel(logging.LevelFatal))
	tokens := token.NewManager(s, ep, 5*time.Minute, logger)

	cfg := config.ProviderConfig{
		ClientID:    "cid",
		AuthURL:     "https://provider.example/oauth/authorize",
		RedirectURI: "https://app.example/oauth/callback",
		Scopes:      []string{"read:sleep", "read:recovery"},
	}
	return NewService(cfg, s, tokens, logger), s
}

func TestService_InitiateBuildsConsentURL(t *testing.T) {
	svc, s := newTestService(t, &stubEndpoint{})

	authURL, err := svc.InitiateAuthorization(context.Background(), "p1")
	if err != nil {
		t.Fatalf("InitiateAuthorization: %v", err)
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse consent URL: %v", err)
	}
	if !strings.HasPrefix(authURL, "https://provider.example/oauth/authorize?") {
		t.Errorf("consent URL %q", authURL)
	}

	q := parsed.Query()
	if q.Get("response_type") != "code" || q.Get("client_id") != "cid" {
		t.Errorf("query %v", q)
	}
	if q.Get("scope") != "read:sleep read:recovery" {
		t.Errorf("scope %q", q.Get("scope"))
	}

	state := q.Get("state")
	if state == "" {
		t.Fatal("no state in consent URL")
	}

	// The state must be pending in the store, bound to the principal.
	pending, ok := s.TakeAuthState(state)
	if !ok {
		t.Fatal("state not stored")
	}
	if pending.PrincipalID != "p1" {
		t.Errorf("state bound to %q", pending.PrincipalID)
	}
	if time.Until(pending.ExpiresAt) > 11*time.Minute {
		t.Errorf("state TTL too long: %v", time.Until(pending.ExpiresAt))
	}
}

func TestService_UniqueStatePerFlow(t *testing.T) {
	svc, _ := newTestService(t, &stubEndpoint{})

	u1, err := svc.InitiateAuthorization(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	u2, err := svc.InitiateAuthorization(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}

	s1 := mustQueryParam(t, u1, "state")
	s2 := mustQueryParam(t, u2, "state")
	if s1 == s2 {
		t.Error("two flows produced the same state value")
	}
}

func TestService_CompleteAuthorization(t *testing.T) {
	svc, s := newTestService(t, &stubEndpoint{})

	authURL, err := svc.InitiateAuthorization(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	state := mustQueryParam(t, authURL, "state")

	cred, err := svc.CompleteAuthorization(context.Background(), state, "code-1")
	if err != nil {
		t.Fatalf("CompleteAuthorization: %v", err)
	}
	if cred.PrincipalID != "p1" || cred.AccessToken != "at-code-1" {
		t.Errorf("credential %+v", cred)
	}

	stored, ok := s.GetCredential("p1")
	if !ok || !stored.Active {
		t.Error("credential not stored active")
	}

	// Replayed callback with the consumed state must fail.
	_, err = svc.CompleteAuthorization(context.Background(), state, "code-1")
	var mismatch *errors.ErrStateMismatch
	if !goerrors.As(err, &mismatch) {
		t.Errorf("replay: got %v, want ErrStateMismatch", err)
	}
}

func TestService_CompleteWithUnknownState(t *testing.T) {
	svc, _ := newTestService(t, &stubEndpoint{})

	_, err := svc.CompleteAuthorization(context.Background(), "forged", "code")
	var mismatch *errors.ErrStateMismatch
	if !goerrors.As(err, &mismatch) {
		t.Errorf("got %v, want ErrStateMismatch", err)
	}
}

func TestService_CompleteWithExpiredState(t *testing.T) {
	svc, s := newTestService(t, &stubEndpoint{})

	authURL, err := svc.InitiateAuthorization(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	state := mustQueryParam(t, authURL, "state")

	// Age the clock past the state TTL.
	svc.now = func() time.Time { return time.Now().Add(stateTTL + time.Minute) }

	_, err = svc.CompleteAuthorization(context.Background(), state, "code")
	var mismatch *errors.ErrStateMismatch
	if !goerrors.As(err, &mismatch) {
		t.Errorf("got %v, want ErrStateMismatch", err)
	}
	if _, ok := s.GetCredential("p1"); ok {
		t.Error("credential created from an expired flow")
	}
}

func TestService_Status(t *testing.T) {
	svc, s := newTestService(t, &stubEndpoint{})

	if status := svc.Status("p1"); status.Connected {
		t.Error("unknown principal reported connected")
	}

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := s.PutCredential(&models.Credential{
		PrincipalID: "p1",
		ExpiresAt:   expires,
		Scopes:      []string{"read:sleep"},
		Active:      true,
	}); err != nil {
		t.Fatal(err)
	}

	status := svc.Status("p1")
	if !status.Connected {
		t.Fatal("active principal reported disconnected")
	}
	if status.ExpiresAt == nil || !status.ExpiresAt.Equal(expires) {
		t.Errorf("expires_at %v", status.ExpiresAt)
	}
	if len(status.Scopes) != 1 {
		t.Errorf("scopes %v", status.Scopes)
	}

	if err := s.InvalidateCredential("p1"); err != nil {
		t.Fatal(err)
	}
	if status := svc.Status("p1"); status.Connected {
		t.Error("invalidated principal reported connected")
	}
}

func TestService_Disconnect(t *testing.T) {
	svc, s := newTestService(t, &stubEndpoint{})

	if err := s.PutCredential(&models.Credential{
		PrincipalID: "p1", AccessToken: "at", RefreshToken: "rt", Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	if err := svc.Disconnect(context.Background(), "p1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	cred, _ := s.GetCredential("p1")
	if cred.Active {
		t.Error("credential still active after disconnect")
	}
}

func TestService_DisconnectUnknownPrincipal(t *testing.T) {
	svc, _ := newTestService(t, &stubEndpoint{})

	err := svc.Disconnect(context.Background(), "ghost")
	var notFound *errors.ErrCredentialNotFound
	if !goerrors.As(err, &notFound) {
		t.Errorf("got %v, want ErrCredentialNotFound", err)
	}
}

func mustQueryParam(t *testing.T, rawURL, key string) string {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse %q: %v", rawURL, err)
	}
	val := parsed.Query().Get(key)
	if val == "" {
		t.Fatalf("missing %q in %q", key, rawURL)
	}
	return val
}
