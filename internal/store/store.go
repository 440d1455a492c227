package store

import "github.com/vitalsync/vitalsync/internal/models"

// Store is the persistence boundary for credentials and pending
// authorization flows. It enforces no business rules: the token manager owns
// all credential mutation policy and is the only writer of token fields.
//
// Concurrency contract: every method is atomic with respect to concurrent
// calls for the same principal. UpdateCredential runs its mutation function
// under the store's lock (memory) or inside a transaction (SQLite), which is
// what lets the token manager commit a refresh without losing concurrent
// writes. A multi-instance deployment needs a shared store with equivalent
// compare-and-swap semantics; the implementations here are single-process.
type Store interface {
	// Credential operations
	GetCredential(principalID string) (*models.Credential, bool)
	PutCredential(cred *models.Credential) error
	UpdateCredential(principalID string, fn func(*models.Credential) error) error
	InvalidateCredential(principalID string) error
	DeleteCredential(principalID string) error
	ListActiveCredentials() []*models.Credential

	// Pending authorization flows. TakeAuthState removes the state so a
	// code can only be redeemed once.
	PutAuthState(state *models.AuthState) error
	TakeAuthState(state string) (*models.AuthState, bool)

	// Management
	Stats() StoreStats
	Close() error
}

// StoreStats holds counters for diagnostics.
type StoreStats struct {
	Credentials       int `json:"credentials"`
	ActiveCredentials int `json:"active_credentials"`
	PendingAuthFlows  int `json:"pending_auth_flows"`
}
