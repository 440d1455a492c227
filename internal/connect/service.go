// Package connect implements the user-facing authorization flow: building
// the provider consent URL, redeeming the callback, and disconnecting.
package connect

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/internal/errors"
	"github.com/vitalsync/vitalsync/internal/logging"
	"github.com/vitalsync/vitalsync/internal/models"
	"github.com/vitalsync/vitalsync/internal/store"
	"github.com/vitalsync/vitalsync/internal/token"
)

// stateTTL bounds how long a started flow stays redeemable.
const stateTTL = 10 * time.Minute

// Service orchestrates connection lifecycle on top of the store and the
// token manager.
type Service struct {
	cfg    config.ProviderConfig
	store  store.Store
	tokens *token.Manager
	logger *logging.Logger
	now    func() time.Time
}

// NewService creates a connection service.
func NewService(cfg config.ProviderConfig, s store.Store, tokens *token.Manager, logger *logging.Logger) *Service {
	return &Service{
		cfg:    cfg,
		store:  s,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}
}

// InitiateAuthorization starts an OAuth flow for the principal and returns
// the provider consent URL to redirect the user to. The embedded state value
// is single-use and expires after ten minutes.
func (s *Service) InitiateAuthorization(ctx context.Context, principalID string) (string, error) {
	state := uuid.New().String()
	now := s.now()

	auth := &models.AuthState{
		State:       state,
		PrincipalID: principalID,
		RedirectURI: s.cfg.RedirectURI,
		Scopes:      s.cfg.Scopes,
		CreatedAt:   now,
		ExpiresAt:   now.Add(stateTTL),
	}
	if err := s.store.PutAuthState(auth); err != nil {
		return "", err
	}

	q := url.Values{
		"response_type": {"code"},
		"client_id":     {s.cfg.ClientID},
		"redirect_uri":  {s.cfg.RedirectURI},
		"state":         {state},
	}
	if len(s.cfg.Scopes) > 0 {
		q.Set("scope", strings.Join(s.cfg.Scopes, " "))
	}

	s.logger.InfoWithContext(ctx, "authorization flow started", "principal_id", principalID)
	return s.cfg.AuthURL + "?" + q.Encode(), nil
}

// CompleteAuthorization redeems a provider callback. The state must match a
// pending, unexpired flow; it is consumed either way, so a replayed callback
// fails.
func (s *Service) CompleteAuthorization(ctx context.Context, state, code string) (*models.Credential, error) {
	auth, ok := s.store.TakeAuthState(state)
	if !ok {
		return nil, &errors.ErrStateMismatch{State: state}
	}
	if auth.Expired(s.now()) {
		s.logger.WarnWithContext(ctx, "authorization callback for expired flow", "principal_id", auth.PrincipalID)
		return nil, &errors.ErrStateMismatch{State: state}
	}

	cred, err := s.tokens.CompleteExchange(ctx, auth.PrincipalID, code, auth.RedirectURI)
	if err != nil {
		return nil, err
	}

	s.logger.InfoWithContext(ctx, "connection established",
		"principal_id", auth.PrincipalID, "provider_user_id", cred.ProviderUserID)
	return cred, nil
}

// Disconnect revokes a principal's connection locally and upstream.
func (s *Service) Disconnect(ctx context.Context, principalID string) error {
	if err := s.tokens.Revoke(ctx, principalID); err != nil {
		return err
	}
	s.logger.InfoWithContext(ctx, "connection disconnected", "principal_id", principalID)
	return nil
}

// Status reports whether a principal currently holds a usable connection.
func (s *Service) Status(principalID string) *models.ConnectionStatus {
	status := &models.ConnectionStatus{PrincipalID: principalID}

	cred, ok := s.store.GetCredential(principalID)
	if !ok || !cred.Active {
		return status
	}

	status.Connected = true
	status.Scopes = cred.Scopes
	if !cred.ExpiresAt.IsZero() {
		expires := cred.ExpiresAt
		status.ExpiresAt = &expires
	}
	return status
}
