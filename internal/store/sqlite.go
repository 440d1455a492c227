package store

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vitalsync/vitalsync/internal/errors"
	"github.com/vitalsync/vitalsync/internal/logging"
	"github.com/vitalsync/vitalsync/internal/models"
)

// SQLiteStore persists credentials and pending auth states with WAL mode.
// It is thread-safe and supports concurrent access. Row updates run inside
// IMMEDIATE transactions so read-modify-write cycles are serialized per
// database, which satisfies the Store compare-and-swap contract for a
// single-process deployment.
type SQLiteStore struct {
	db     *sql.DB
	logger *logging.Logger

	cleanupTicker *time.Ticker
	cleanupDone   chan struct{}
}

// NewSQLiteStore creates a new SQLite store with WAL mode enabled.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{
		db:          db,
		logger:      logging.NewLogger(),
		cleanupDone: make(chan struct{}),
	}
	store.startCleanup()

	return store, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "create migrations table", Err: err}
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "get current migration version", Err: err}
	}

	migrations := []struct {
		version int
		up      string
	}{
		{
			version: 1,
			up: `
				CREATE TABLE IF NOT EXISTS credentials (
					principal_id TEXT PRIMARY KEY,
					provider_user_id TEXT DEFAULT '',
					access_token TEXT NOT NULL DEFAULT '',
					refresh_token TEXT NOT NULL DEFAULT '',
					expires_at DATETIME,
					scopes TEXT NOT NULL DEFAULT '[]',
					active INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS auth_states (
					state TEXT PRIMARY KEY,
					principal_id TEXT NOT NULL,
					redirect_uri TEXT NOT NULL DEFAULT '',
					scopes TEXT NOT NULL DEFAULT '[]',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					expires_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_credentials_active ON credentials(active);
				CREATE INDEX IF NOT EXISTS idx_auth_states_expires_at ON auth_states(expires_at);
			`,
		},
	}

	tx, err := db.Begin()
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "begin transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range migrations {
		if m.version > currentVersion {
			if _, err := tx.Exec(m.up); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "commit migrations", Err: err}
	}

	return nil
}

func (s *SQLiteStore) startCleanup() {
	s.cleanupTicker = time.NewTicker(10 * time.Minute)
	go func() {
		for {
			select {
			case <-s.cleanupTicker.C:
				if _, err := s.db.Exec("DELETE FROM auth_states WHERE expires_at < ?", time.Now().UTC()); err != nil {
					s.logger.Error("auth state cleanup failed", "error", err.Error())
				}
			case <-s.cleanupDone:
				return
			}
		}
	}()
}

func scanCredential(row interface{ Scan(...any) error }) (*models.Credential, error) {
	var cred models.Credential
	var expiresAt sql.NullTime
	var scopesJSON string
	err := row.Scan(
		&cred.PrincipalID,
		&cred.ProviderUserID,
		&cred.AccessToken,
		&cred.RefreshToken,
		&expiresAt,
		&scopesJSON,
		&cred.Active,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		cred.ExpiresAt = expiresAt.Time
	}
	if scopesJSON != "" {
		if err := json.Unmarshal([]byte(scopesJSON), &cred.Scopes); err != nil {
			return nil, err
		}
	}
	return &cred, nil
}

const credentialColumns = "principal_id, provider_user_id, access_token, refresh_token, expires_at, scopes, active, created_at, updated_at"

// GetCredential retrieves a credential by principal ID.
func (s *SQLiteStore) GetCredential(principalID string) (*models.Credential, bool) {
	row := s.db.QueryRow("SELECT "+credentialColumns+" FROM credentials WHERE principal_id = ?", principalID)
	cred, err := scanCredential(row)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Error("get credential failed", "principal_id", principalID, "error", err.Error())
		}
		return nil, false
	}
	return cred, true
}

// PutCredential upserts a credential keyed by principal ID.
func (s *SQLiteStore) PutCredential(cred *models.Credential) error {
	scopesJSON, err := json.Marshal(cred.Scopes)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "marshal scopes", Err: err}
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(`
		INSERT INTO credentials (principal_id, provider_user_id, access_token, refresh_token, expires_at, scopes, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(principal_id) DO UPDATE SET
			provider_user_id = excluded.provider_user_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			scopes = excluded.scopes,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, cred.PrincipalID, cred.ProviderUserID, cred.AccessToken, cred.RefreshToken,
		nullableTime(cred.ExpiresAt), string(scopesJSON), cred.Active, now, now)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "put credential", Err: err}
	}
	return nil
}

// UpdateCredential applies fn to the stored row inside a transaction.
func (s *SQLiteStore) UpdateCredential(principalID string, fn func(*models.Credential) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "begin update credential", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRow("SELECT "+credentialColumns+" FROM credentials WHERE principal_id = ?", principalID)
	cred, err := scanCredential(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return &errors.ErrCredentialNotFound{PrincipalID: principalID}
		}
		return &errors.ErrDatabaseQuery{Operation: "load credential for update", Err: err}
	}

	if err := fn(cred); err != nil {
		return err
	}

	scopesJSON, err := json.Marshal(cred.Scopes)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "marshal scopes", Err: err}
	}

	_, err = tx.Exec(`
		UPDATE credentials SET
			provider_user_id = ?,
			access_token = ?,
			refresh_token = ?,
			expires_at = ?,
			scopes = ?,
			active = ?,
			updated_at = ?
		WHERE principal_id = ?
	`, cred.ProviderUserID, cred.AccessToken, cred.RefreshToken, nullableTime(cred.ExpiresAt),
		string(scopesJSON), cred.Active, time.Now().UTC(), principalID)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "update credential", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "commit update credential", Err: err}
	}
	return nil
}

// InvalidateCredential marks a credential inactive, keeping its history.
func (s *SQLiteStore) InvalidateCredential(principalID string) error {
	return s.UpdateCredential(principalID, func(c *models.Credential) error {
		c.Active = false
		return nil
	})
}

// DeleteCredential removes a credential row.
func (s *SQLiteStore) DeleteCredential(principalID string) error {
	if _, err := s.db.Exec("DELETE FROM credentials WHERE principal_id = ?", principalID); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "delete credential", Err: err}
	}
	return nil
}

// ListActiveCredentials returns all active credentials.
func (s *SQLiteStore) ListActiveCredentials() []*models.Credential {
	rows, err := s.db.Query("SELECT " + credentialColumns + " FROM credentials WHERE active = 1")
	if err != nil {
		s.logger.Error("list credentials failed", "error", err.Error())
		return nil
	}
	defer rows.Close()

	var result []*models.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			s.logger.Error("scan credential failed", "error", err.Error())
			continue
		}
		result = append(result, cred)
	}
	return result
}

// PutAuthState stores a pending authorization flow.
func (s *SQLiteStore) PutAuthState(state *models.AuthState) error {
	scopesJSON, err := json.Marshal(state.Scopes)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "marshal auth state scopes", Err: err}
	}

	_, err = s.db.Exec(`
		INSERT INTO auth_states (state, principal_id, redirect_uri, scopes, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, state.State, state.PrincipalID, state.RedirectURI, string(scopesJSON), state.CreatedAt.UTC(), state.ExpiresAt.UTC())
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "put auth state", Err: err}
	}
	return nil
}

// TakeAuthState removes and returns a pending flow so each state is
// redeemable at most once.
func (s *SQLiteStore) TakeAuthState(stateValue string) (*models.AuthState, bool) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, false
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var state models.AuthState
	var scopesJSON string
	err = tx.QueryRow(`
		SELECT state, principal_id, redirect_uri, scopes, created_at, expires_at
		FROM auth_states WHERE state = ?
	`, stateValue).Scan(&state.State, &state.PrincipalID, &state.RedirectURI, &scopesJSON, &state.CreatedAt, &state.ExpiresAt)
	if err != nil {
		return nil, false
	}

	if _, err := tx.Exec("DELETE FROM auth_states WHERE state = ?", stateValue); err != nil {
		return nil, false
	}
	if err := tx.Commit(); err != nil {
		return nil, false
	}

	if state.Expired(time.Now()) {
		return nil, false
	}
	if scopesJSON != "" {
		_ = json.Unmarshal([]byte(scopesJSON), &state.Scopes)
	}
	return &state, true
}

// Stats returns counters for diagnostics.
func (s *SQLiteStore) Stats() StoreStats {
	var stats StoreStats
	_ = s.db.QueryRow("SELECT COUNT(*) FROM credentials").Scan(&stats.Credentials)
	_ = s.db.QueryRow("SELECT COUNT(*) FROM credentials WHERE active = 1").Scan(&stats.ActiveCredentials)
	_ = s.db.QueryRow("SELECT COUNT(*) FROM auth_states").Scan(&stats.PendingAuthFlows)
	return stats
}

// Close stops the cleanup goroutine and closes the database.
func (s *SQLiteStore) Close() error {
	if s.cleanupTicker != nil {
		s.cleanupTicker.Stop()
		close(s.cleanupDone)
	}
	return s.db.Close()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

var _ Store = (*SQLiteStore)(nil)
