package auth

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/zalando/go-keyring"

	errs "scratcharchive/pkg/errors"
)

const keyringService = "scratcharchive"

// KeyringStore keeps accounts in the operating system keychain, one
// entry per username, serialized as JSON.
type KeyringStore struct{}

func NewKeyringStore() *KeyringStore { return &KeyringStore{} }

func (s *KeyringStore) Name() string { return "keyring" }

func (s *KeyringStore) Save(account *Account) error {
	account.LastModified = time.Now()
	data, err := json.Marshal(account)
	if err != nil {
		return errs.New(errs.ErrorTypeFatal, "encoding account: %v", err)
	}
	if err := keyring.Set(keyringService, account.Username, string(data)); err != nil {
		return errs.New(errs.ErrorTypeFatal, "writing to keyring: %v", err)
	}
	return nil
}

func (s *KeyringStore) Get(username string) (*Account, error) {
	data, err := keyring.Get(keyringService, username)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errs.New(errs.ErrorTypeFatal, "reading from keyring: %v", err)
	}
	var account Account
	if err := json.Unmarshal([]byte(data), &account); err != nil {
		return nil, errs.New(errs.ErrorTypeParsing, "decoding stored account: %v", err)
	}
	return &account, nil
}

func (s *KeyringStore) Delete(username string) error {
	err := keyring.Delete(keyringService, username)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errs.New(errs.ErrorTypeFatal, "deleting from keyring: %v", err)
	}
	return nil
}
