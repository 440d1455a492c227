package store

import (
	"sync"
	"time"

	"github.com/vitalsync/vitalsync/internal/errors"
	"github.com/vitalsync/vitalsync/internal/models"
)

// MemoryStore provides in-memory storage for credentials and auth states.
// It is thread-safe and used by tests and the check command.
type MemoryStore struct {
	mu          sync.RWMutex
	credentials map[string]*models.Credential
	authStates  map[string]*models.AuthState
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials: make(map[string]*models.Credential),
		authStates:  make(map[string]*models.AuthState),
	}
}

// GetCredential retrieves a credential by principal ID.
func (s *MemoryStore) GetCredential(principalID string) (*models.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[principalID]
	if !ok {
		return nil, false
	}
	return cred.Clone(), true
}

// PutCredential stores or replaces a credential keyed by principal ID.
func (s *MemoryStore) PutCredential(cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cred.Clone()
	c.UpdatedAt = time.Now().UTC()
	if existing, ok := s.credentials[c.PrincipalID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = c.UpdatedAt
	}
	s.credentials[c.PrincipalID] = c
	return nil
}

// UpdateCredential applies fn to the stored credential under the lock.
func (s *MemoryStore) UpdateCredential(principalID string, fn func(*models.Credential) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[principalID]
	if !ok {
		return &errors.ErrCredentialNotFound{PrincipalID: principalID}
	}

	updated := cred.Clone()
	if err := fn(updated); err != nil {
		return err
	}
	updated.UpdatedAt = time.Now().UTC()
	s.credentials[principalID] = updated
	return nil
}

// InvalidateCredential marks a credential inactive without deleting it.
func (s *MemoryStore) InvalidateCredential(principalID string) error {
	return s.UpdateCredential(principalID, func(c *models.Credential) error {
		c.Active = false
		return nil
	})
}

// DeleteCredential removes a credential entirely.
func (s *MemoryStore) DeleteCredential(principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.credentials, principalID)
	return nil
}

// ListActiveCredentials returns all active credentials.
func (s *MemoryStore) ListActiveCredentials() []*models.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Credential, 0, len(s.credentials))
	for _, cred := range s.credentials {
		if cred.Active {
			result = append(result, cred.Clone())
		}
	}
	return result
}

// PutAuthState stores a pending authorization flow.
func (s *MemoryStore) PutAuthState(state *models.AuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *state
	s.authStates[state.State] = &copied
	return nil
}

// TakeAuthState removes and returns a pending flow. Expired states are
// dropped rather than returned.
func (s *MemoryStore) TakeAuthState(state string) (*models.AuthState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.authStates[state]
	if !ok {
		return nil, false
	}
	delete(s.authStates, state)
	if st.Expired(time.Now()) {
		return nil, false
	}
	copied := *st
	return &copied, true
}

// Stats returns counters for diagnostics.
func (s *MemoryStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := StoreStats{
		Credentials:      len(s.credentials),
		PendingAuthFlows: len(s.authStates),
	}
	for _, cred := range s.credentials {
		if cred.Active {
			stats.ActiveCredentials++
		}
	}
	return stats
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
