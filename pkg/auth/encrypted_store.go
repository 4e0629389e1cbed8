package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/pbkdf2"

	errs "scratcharchive/pkg/errors"
)

const (
	pbkdf2Iterations = 100000
	saltSize         = 16
)

// EncryptedFileStore keeps all accounts in one AES-GCM encrypted file,
// for hosts without a usable keychain. The key derives from a
// passphrase via PBKDF2; the salt and nonce travel in the file header.
type EncryptedFileStore struct {
	path       string
	passphrase []byte
}

func NewEncryptedFileStore(path, passphrase string) *EncryptedFileStore {
	return &EncryptedFileStore{path: path, passphrase: []byte(passphrase)}
}

func (s *EncryptedFileStore) Name() string { return "encrypted file" }

func (s *EncryptedFileStore) Save(account *Account) error {
	accounts, err := s.load()
	if err != nil {
		return err
	}
	account.LastModified = time.Now()
	accounts[account.Username] = account
	return s.store(accounts)
}

func (s *EncryptedFileStore) Get(username string) (*Account, error) {
	accounts, err := s.load()
	if err != nil {
		return nil, err
	}
	account, ok := accounts[username]
	if !ok {
		return nil, ErrNotFound
	}
	return account, nil
}

func (s *EncryptedFileStore) Delete(username string) error {
	accounts, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := accounts[username]; !ok {
		return nil
	}
	delete(accounts, username)
	return s.store(accounts)
}

func (s *EncryptedFileStore) load() (map[string]*Account, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]*Account{}, nil
	}
	if err != nil {
		return nil, errs.New(errs.ErrorTypeFatal, "reading credential file: %v", err)
	}
	if len(data) < saltSize {
		return nil, errs.New(errs.ErrorTypeParsing, "credential file is corrupt")
	}

	salt := data[:saltSize]
	gcm, err := s.cipherFor(salt)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < saltSize+nonceSize {
		return nil, errs.New(errs.ErrorTypeParsing, "credential file is corrupt")
	}
	nonce := data[saltSize : saltSize+nonceSize]
	plaintext, err := gcm.Open(nil, nonce, data[saltSize+nonceSize:], nil)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeAuthMissing, "decrypting credential file (wrong passphrase?): %v", err)
	}

	var accounts map[string]*Account
	if err := json.Unmarshal(plaintext, &accounts); err != nil {
		return nil, errs.New(errs.ErrorTypeParsing, "decoding credential file: %v", err)
	}
	return accounts, nil
}

func (s *EncryptedFileStore) store(accounts map[string]*Account) error {
	plaintext, err := json.Marshal(accounts)
	if err != nil {
		return errs.New(errs.ErrorTypeFatal, "encoding accounts: %v", err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return errs.New(errs.ErrorTypeFatal, "generating salt: %v", err)
	}
	gcm, err := s.cipherFor(salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return errs.New(errs.ErrorTypeFatal, "generating nonce: %v", err)
	}

	out := append(salt, nonce...)
	out = gcm.Seal(out, nonce, plaintext, nil)

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return errs.New(errs.ErrorTypeFatal, "creating credential directory: %v", err)
	}
	if err := os.WriteFile(s.path, out, 0600); err != nil {
		return errs.New(errs.ErrorTypeFatal, "writing credential file: %v", err)
	}
	return nil
}

func (s *EncryptedFileStore) cipherFor(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(s.passphrase, salt, pbkdf2Iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeFatal, "initializing cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeFatal, "initializing cipher: %v", err)
	}
	return gcm, nil
}
