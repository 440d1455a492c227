package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/internal/logging"
	"github.com/vitalsync/vitalsync/internal/models"
)

// Token is the parsed result of a token-endpoint call.
type Token struct {
	AccessToken    string
	RefreshToken   string
	ExpiresAt      time.Time
	Scopes         []string
	ProviderUserID string
}

// RefreshError classifies a failed token-endpoint call. Terminal failures
// mean the grant itself is dead (invalid_grant, revoked client); transient
// failures are network errors and 5xx responses the caller may retry.
type RefreshError struct {
	Terminal bool
	Code     string
	Err      error
}

func (e *RefreshError) Error() string {
	kind := "transient"
	if e.Terminal {
		kind = "terminal"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s token endpoint failure (%s): %v", kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s token endpoint failure: %v", kind, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// Endpoint performs OAuth2 token and revocation requests. Requests are
// form-encoded per the provider's wire contract.
type Endpoint interface {
	Exchange(ctx context.Context, code, redirectURI string) (*Token, error)
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
	Revoke(ctx context.Context, tok, hint string) error
}

// OAuthClient is the HTTP implementation of Endpoint.
type OAuthClient struct {
	cfg        config.ProviderConfig
	httpClient *http.Client
	logger     *logging.Logger
}

// NewOAuthClient creates a token-endpoint client for the configured provider.
func NewOAuthClient(cfg config.ProviderConfig, logger *logging.Logger) *OAuthClient {
	return &OAuthClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Exchange redeems an authorization code for tokens.
func (c *OAuthClient) Exchange(ctx context.Context, code, redirectURI string) (*Token, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	return c.doTokenRequest(ctx, data)
}

// Refresh obtains a new access token using a refresh token. The provider's
// refresh tokens are single-use: callers must serialize Refresh per
// principal or the session is invalidated.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	return c.doTokenRequest(ctx, data)
}

// Revoke invalidates a token upstream. Best-effort: failures are logged,
// not surfaced, since local invalidation already happened.
func (c *OAuthClient) Revoke(ctx context.Context, tok, hint string) error {
	if c.cfg.RevokeURL == "" {
		return nil
	}

	data := url.Values{
		"token":           {tok},
		"token_type_hint": {hint},
		"client_id":       {c.cfg.ClientID},
		"client_secret":   {c.cfg.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RevokeURL, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("revocation endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	UserID       string `json:"user_id"`
}

type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (c *OAuthClient) doTokenRequest(ctx context.Context, data url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, &RefreshError{Terminal: true, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RefreshError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RefreshError{Err: err}
	}

	if resp.StatusCode >= 500 {
		return nil, &RefreshError{Err: fmt.Errorf("token endpoint status %d", resp.StatusCode)}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RefreshError{Err: fmt.Errorf("token endpoint rate limited")}
	}
	if resp.StatusCode != http.StatusOK {
		var oauthErr tokenErrorResponse
		_ = json.Unmarshal(body, &oauthErr)
		return nil, &RefreshError{
			Terminal: true,
			Code:     oauthErr.Error,
			Err:      fmt.Errorf("token endpoint status %d: %s", resp.StatusCode, oauthErr.ErrorDescription),
		}
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &RefreshError{Err: fmt.Errorf("parse token response: %w", err)}
	}
	if parsed.AccessToken == "" {
		return nil, &RefreshError{Terminal: true, Err: fmt.Errorf("token response missing access_token")}
	}

	tok := &Token{
		AccessToken:    parsed.AccessToken,
		RefreshToken:   parsed.RefreshToken,
		Scopes:         models.SplitScopes(parsed.Scope),
		ProviderUserID: parsed.UserID,
	}
	if parsed.ExpiresIn > 0 {
		tok.ExpiresAt = time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	}
	return tok, nil
}

var _ Endpoint = (*OAuthClient)(nil)
