package models

import (
	"strings"
	"time"
)

// Credential stores one principal's OAuth link to the wearable provider.
// It is persisted in SQLite and mutated only through the token manager.
type Credential struct {
	PrincipalID    string    `json:"principal_id"`
	ProviderUserID string    `json:"provider_user_id,omitempty"`
	AccessToken    string    `json:"access_token,omitempty"`
	RefreshToken   string    `json:"refresh_token,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
	Scopes         []string  `json:"scopes,omitempty"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ExpiresWithin reports whether the access token expires within the given
// margin from now. A zero ExpiresAt counts as expired.
func (c *Credential) ExpiresWithin(margin time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return time.Until(c.ExpiresAt) <= margin
}

// HasScope reports whether the credential was granted the given scope.
func (c *Credential) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if strings.EqualFold(s, scope) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	out := *c
	out.Scopes = append([]string(nil), c.Scopes...)
	return &out
}

// ScopesString joins scopes in the space-separated form used on the wire.
func (c *Credential) ScopesString() string {
	return strings.Join(c.Scopes, " ")
}

// SplitScopes parses a space-separated scope string.
func SplitScopes(s string) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
