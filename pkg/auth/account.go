// Package auth stores and resolves platform credentials. Credentials
// resolve through a chain of stores: environment variables first, then
// the system keychain, then an encrypted file for hosts without one.
package auth

import (
	"time"

	errs "scratcharchive/pkg/errors"
)

// Account holds one username's credentials. Password is only held in
// memory long enough to log in; the stores persist the session id and
// token that come back.
type Account struct {
	Username     string    `json:"username"`
	Password     string    `json:"-"`
	SessionID    string    `json:"session_id,omitempty"`
	XToken       string    `json:"x_token,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// HasCredentials reports whether the account can authenticate at all.
func (a *Account) HasCredentials() bool {
	return a.Password != "" || a.SessionID != "" || a.XToken != ""
}

// Store persists accounts. Read-only stores return ErrReadOnly from
// Save and Delete.
type Store interface {
	Save(account *Account) error
	Get(username string) (*Account, error)
	Delete(username string) error
	// Name identifies the store in logs and status output.
	Name() string
}

// ErrNotFound is returned by Get when the store has no account for the
// username.
var ErrNotFound = errs.New(errs.ErrorTypeAuthMissing, "no stored credentials")

// ErrReadOnly is returned by read-only stores on Save and Delete.
var ErrReadOnly = errs.New(errs.ErrorTypeFatal, "credential store is read-only")
