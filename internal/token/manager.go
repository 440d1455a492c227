package token

import (
	"context"
	goerrors "errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vitalsync/vitalsync/internal/errors"
	"github.com/vitalsync/vitalsync/internal/logging"
	"github.com/vitalsync/vitalsync/internal/metrics"
	"github.com/vitalsync/vitalsync/internal/models"
	"github.com/vitalsync/vitalsync/internal/store"
)

// Manager owns every mutation of credential state. It guarantees a valid,
// non-expired access token per principal, refreshing through a singleflight
// group so at most one refresh per principal is ever in flight: the
// provider's refresh tokens are single-use and a duplicate refresh kills
// the whole session.
type Manager struct {
	store    store.Store
	endpoint Endpoint
	margin   time.Duration
	group    singleflight.Group
	metrics  *metrics.Metrics
	logger   *logging.Logger

	// onReauthRequired is invoked after a credential is deactivated, so
	// operators can be told the user has to reconnect. Optional.
	onReauthRequired func(principalID string)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMetrics attaches metrics recording.
func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// WithReauthHook sets a callback fired when a credential turns permanently
// unusable.
func WithReauthHook(fn func(principalID string)) ManagerOption {
	return func(mgr *Manager) {
		mgr.onReauthRequired = fn
	}
}

// NewManager creates a token lifecycle manager. margin is how long before
// expiry a token is treated as already expired.
func NewManager(s store.Store, endpoint Endpoint, margin time.Duration, logger *logging.Logger, opts ...ManagerOption) *Manager {
	mgr := &Manager{
		store:    s,
		endpoint: endpoint,
		margin:   margin,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// ValidAccessToken returns an access token guaranteed to outlive the expiry
// margin. It fails with ErrReauthRequired when no usable credential exists
// and with ErrProviderUnavailable when a needed refresh failed transiently.
func (m *Manager) ValidAccessToken(ctx context.Context, principalID string) (string, error) {
	cred, ok := m.store.GetCredential(principalID)
	if !ok {
		return "", &errors.ErrReauthRequired{PrincipalID: principalID, Reason: "no credential stored"}
	}
	if !cred.Active {
		return "", &errors.ErrReauthRequired{PrincipalID: principalID, Reason: "credential deactivated"}
	}
	if !cred.ExpiresWithin(m.margin) {
		return cred.AccessToken, nil
	}

	return m.refresh(ctx, principalID, false)
}

// ForceRefresh bypasses the not-yet-expired shortcut. Used after the
// provider rejected a token with 401 despite a future expiry.
func (m *Manager) ForceRefresh(ctx context.Context, principalID string) (string, error) {
	return m.refresh(ctx, principalID, true)
}

// refresh funnels all refresh work for a principal through the
// singleflight group. Concurrent callers block on the one in-flight
// refresh and share its result.
func (m *Manager) refresh(ctx context.Context, principalID string, force bool) (string, error) {
	result, err, _ := m.group.Do(principalID, func() (interface{}, error) {
		return m.doRefresh(ctx, principalID, force)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (m *Manager) doRefresh(ctx context.Context, principalID string, force bool) (string, error) {
	// Re-check under the flight: a refresh that completed while this
	// caller queued already produced a fresh token.
	cred, ok := m.store.GetCredential(principalID)
	if !ok {
		return "", &errors.ErrReauthRequired{PrincipalID: principalID, Reason: "no credential stored"}
	}
	if !cred.Active {
		return "", &errors.ErrReauthRequired{PrincipalID: principalID, Reason: "credential deactivated"}
	}
	if !force && !cred.ExpiresWithin(m.margin) {
		return cred.AccessToken, nil
	}
	if cred.RefreshToken == "" {
		m.deactivate(principalID, "no refresh token granted")
		return "", &errors.ErrReauthRequired{PrincipalID: principalID, Reason: "offline access was not granted"}
	}

	tok, err := m.endpoint.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		var refreshErr *RefreshError
		if goerrors.As(err, &refreshErr) && refreshErr.Terminal {
			m.recordRefresh("terminal")
			m.logger.WarnWithContext(ctx, "refresh rejected, deactivating credential",
				"principal_id", principalID, "oauth_error", refreshErr.Code)
			m.deactivate(principalID, "refresh rejected by provider")
			return "", &errors.ErrReauthRequired{PrincipalID: principalID, Reason: "refresh token rejected"}
		}
		m.recordRefresh("transient")
		m.logger.WarnWithContext(ctx, "refresh failed transiently", "principal_id", principalID, "error", err.Error())
		return "", &errors.ErrProviderUnavailable{Err: err}
	}

	err = m.store.UpdateCredential(principalID, func(c *models.Credential) error {
		c.AccessToken = tok.AccessToken
		c.ExpiresAt = tok.ExpiresAt
		// Rotation is per-call: keep the old refresh token only when the
		// provider's response omitted a replacement.
		if tok.RefreshToken != "" {
			c.RefreshToken = tok.RefreshToken
		}
		if tok.ProviderUserID != "" {
			c.ProviderUserID = tok.ProviderUserID
		}
		if len(tok.Scopes) > 0 {
			c.Scopes = tok.Scopes
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	m.recordRefresh("success")
	m.logger.InfoWithContext(ctx, "token refreshed", "principal_id", principalID)
	return tok.AccessToken, nil
}

// CompleteExchange redeems an authorization code and stores the resulting
// credential, replacing any previous link for the principal.
func (m *Manager) CompleteExchange(ctx context.Context, principalID, code, redirectURI string) (*models.Credential, error) {
	tok, err := m.endpoint.Exchange(ctx, code, redirectURI)
	if err != nil {
		var refreshErr *RefreshError
		if goerrors.As(err, &refreshErr) && !refreshErr.Terminal {
			return nil, &errors.ErrProviderUnavailable{Err: err}
		}
		return nil, &errors.ErrReauthRequired{PrincipalID: principalID, Reason: "authorization code exchange failed"}
	}

	cred := &models.Credential{
		PrincipalID:    principalID,
		ProviderUserID: tok.ProviderUserID,
		AccessToken:    tok.AccessToken,
		RefreshToken:   tok.RefreshToken,
		ExpiresAt:      tok.ExpiresAt,
		Scopes:         tok.Scopes,
		Active:         true,
	}
	if err := m.store.PutCredential(cred); err != nil {
		return nil, err
	}

	m.logger.InfoWithContext(ctx, "credential created", "principal_id", principalID)
	return cred, nil
}

// Revoke deactivates the credential locally and best-effort revokes both
// tokens upstream. Upstream failures are logged, never surfaced: the local
// invalidation is what matters.
func (m *Manager) Revoke(ctx context.Context, principalID string) error {
	cred, ok := m.store.GetCredential(principalID)
	if !ok {
		return &errors.ErrCredentialNotFound{PrincipalID: principalID}
	}

	if err := m.store.InvalidateCredential(principalID); err != nil {
		return err
	}

	go func() {
		revokeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cred.AccessToken != "" {
			if err := m.endpoint.Revoke(revokeCtx, cred.AccessToken, "access_token"); err != nil {
				m.logger.Warn("access token revocation failed", "principal_id", principalID, "error", err.Error())
			}
		}
		if cred.RefreshToken != "" {
			if err := m.endpoint.Revoke(revokeCtx, cred.RefreshToken, "refresh_token"); err != nil {
				m.logger.Warn("refresh token revocation failed", "principal_id", principalID, "error", err.Error())
			}
		}
	}()

	return nil
}

// InvalidateForAuthError deactivates a credential after the provider
// signalled the grant itself is dead (second 401 on a fresh token).
func (m *Manager) InvalidateForAuthError(principalID string) {
	m.deactivate(principalID, "provider rejected freshly refreshed token")
}

func (m *Manager) deactivate(principalID, reason string) {
	if err := m.store.InvalidateCredential(principalID); err != nil {
		var notFound *errors.ErrCredentialNotFound
		if !goerrors.As(err, &notFound) {
			m.logger.Error("credential invalidation failed", "principal_id", principalID, "error", err.Error())
		}
		return
	}
	m.logger.Warn("credential deactivated", "principal_id", principalID, "reason", reason)
	if m.onReauthRequired != nil {
		m.onReauthRequired(principalID)
	}
}

func (m *Manager) recordRefresh(outcome string) {
	if m.metrics != nil {
		m.metrics.RecordTokenRefresh(outcome)
	}
}
