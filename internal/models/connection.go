package models

import "time"

// ConnectionStatus is the externally visible state of a principal's link.
type ConnectionStatus struct {
	PrincipalID string     `json:"principal_id"`
	Connected   bool       `json:"connected"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Scopes      []string   `json:"scopes,omitempty"`
}

// AuthState binds a pending authorization flow to a principal. The State
// value is the opaque CSRF token handed to the provider.
type AuthState struct {
	State       string    `json:"state"`
	PrincipalID string    `json:"principal_id"`
	RedirectURI string    `json:"redirect_uri"`
	Scopes      []string  `json:"scopes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the pending flow is no longer redeemable.
func (a *AuthState) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}
