package errors

import (
	"fmt"
	"time"
)

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

// Database errors

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}

type ErrDatabaseMigration struct {
	Version int
	Err     error
}

func (e *ErrDatabaseMigration) Error() string {
	return fmt.Sprintf("database migration %d failed: %v", e.Version, e.Err)
}

func (e *ErrDatabaseMigration) Unwrap() error {
	return e.Err
}

type ErrDatabaseQuery struct {
	Operation string
	Err       error
}

func (e *ErrDatabaseQuery) Error() string {
	return fmt.Sprintf("database query failed for operation %s: %v", e.Operation, e.Err)
}

func (e *ErrDatabaseQuery) Unwrap() error {
	return e.Err
}

// Credential errors

type ErrCredentialNotFound struct {
	PrincipalID string
}

func (e *ErrCredentialNotFound) Error() string {
	return fmt.Sprintf("no credential stored for principal %s", e.PrincipalID)
}

// ErrReauthRequired means the credential is permanently unusable and the
// end user must run the authorization flow again. Never retried internally.
type ErrReauthRequired struct {
	PrincipalID string
	Reason      string
}

func (e *ErrReauthRequired) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("principal %s must reconnect: %s", e.PrincipalID, e.Reason)
	}
	return fmt.Sprintf("principal %s must reconnect", e.PrincipalID)
}

// Provider errors

// ErrProviderUnavailable marks a transient upstream failure. The caller may
// retry after a delay; internal bounded retries have already been spent.
type ErrProviderUnavailable struct {
	Err error
}

func (e *ErrProviderUnavailable) Error() string {
	return fmt.Sprintf("provider unavailable: %v", e.Err)
}

func (e *ErrProviderUnavailable) Unwrap() error {
	return e.Err
}

// ErrRateLimited is surfaced after Retry-After-respecting retries still hit
// the provider quota. RetryAfter carries the provider's suggested delay.
type ErrRateLimited struct {
	RetryAfter time.Duration
}

func (e *ErrRateLimited) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider rate limit exceeded, retry after %s", e.RetryAfter)
	}
	return "provider rate limit exceeded"
}

// ErrCircuitOpen is a fail-fast rejection while the breaker cools down.
type ErrCircuitOpen struct {
	Target string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker for %s is open", e.Target)
}

// ErrProviderCall covers non-retryable 4xx responses and crawl aborts.
type ErrProviderCall struct {
	Status int
	Reason string
}

func (e *ErrProviderCall) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider returned status %d: %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("provider call failed: %s", e.Reason)
}

// Authorization flow errors

type ErrStateMismatch struct {
	State string
}

func (e *ErrStateMismatch) Error() string {
	return fmt.Sprintf("authorization state %q is unknown or expired", e.State)
}

// Server errors

type ErrServerStart struct {
	Addr string
	Err  error
}

func (e *ErrServerStart) Error() string {
	return fmt.Sprintf("failed to start server on %s: %v", e.Addr, e.Err)
}

func (e *ErrServerStart) Unwrap() error {
	return e.Err
}

type ErrServerShutdown struct {
	Err error
}

func (e *ErrServerShutdown) Error() string {
	return fmt.Sprintf("server shutdown failed: %v", e.Err)
}

func (e *ErrServerShutdown) Unwrap() error {
	return e.Err
}

// Filesystem errors

type ErrDirectoryCreate struct {
	Path string
	Err  error
}

func (e *ErrDirectoryCreate) Error() string {
	return fmt.Sprintf("failed to create directory %s: %v", e.Path, e.Err)
}

func (e *ErrDirectoryCreate) Unwrap() error {
	return e.Err
}

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}
