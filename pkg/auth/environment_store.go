package auth

import (
	"os"
	"strings"
)

// EnvironmentStore reads credentials from the process environment (or
// a .env file loaded at startup). It is read-only and only knows about
// the single configured account.
type EnvironmentStore struct{}

func NewEnvironmentStore() *EnvironmentStore { return &EnvironmentStore{} }

func (s *EnvironmentStore) Name() string { return "environment" }

func (s *EnvironmentStore) Save(*Account) error { return ErrReadOnly }
func (s *EnvironmentStore) Delete(string) error { return ErrReadOnly }

func (s *EnvironmentStore) Get(username string) (*Account, error) {
	envUser := os.Getenv("SCRATCHARCHIVE_USERNAME")
	if envUser == "" || !strings.EqualFold(envUser, username) {
		return nil, ErrNotFound
	}
	account := &Account{
		Username:  envUser,
		Password:  os.Getenv("SCRATCHARCHIVE_PASSWORD"),
		SessionID: os.Getenv("SCRATCHARCHIVE_SESSION_ID"),
		XToken:    os.Getenv("SCRATCHARCHIVE_XTOKEN"),
	}
	if !account.HasCredentials() {
		return nil, ErrNotFound
	}
	return account, nil
}
