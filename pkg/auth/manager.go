package auth

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"scratcharchive/pkg/logger"
)

// Manager resolves credentials through an ordered store chain and
// writes updates back to the first store that accepts them.
type Manager struct {
	stores []Store
	logger logger.Logger
}

// NewManager builds the default chain: environment, keychain, then the
// encrypted file at vaultPath when a passphrase is available.
func NewManager(vaultPath, vaultPassphrase string, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	stores := []Store{NewEnvironmentStore(), NewKeyringStore()}
	if vaultPath != "" && vaultPassphrase != "" {
		stores = append(stores, NewEncryptedFileStore(vaultPath, vaultPassphrase))
	}
	return &Manager{stores: stores, logger: log}
}

// NewManagerWithStores exists for tests and callers with their own
// chain.
func NewManagerWithStores(log logger.Logger, stores ...Store) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{stores: stores, logger: log}
}

// Resolve finds stored credentials for a username, trying each store
// in order.
func (m *Manager) Resolve(username string) (*Account, error) {
	for _, store := range m.stores {
		account, err := store.Get(username)
		if err == nil {
			m.logger.DebugWithFields("credentials resolved", map[string]interface{}{
				"username": username,
				"store":    store.Name(),
			})
			return account, nil
		}
		if !errors.Is(err, ErrNotFound) {
			m.logger.WarnWithFields("credential store failed", map[string]interface{}{
				"store": store.Name(),
				"error": err.Error(),
			})
		}
	}
	return nil, ErrNotFound
}

// Save persists an account in the first store that accepts writes.
func (m *Manager) Save(account *Account) error {
	var lastErr error
	for _, store := range m.stores {
		err := store.Save(account)
		if err == nil {
			m.logger.InfoWithFields("credentials saved", map[string]interface{}{
				"username": account.Username,
				"store":    store.Name(),
			})
			return nil
		}
		if !errors.Is(err, ErrReadOnly) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return ErrReadOnly
}

// Delete removes an account from every store that holds it.
func (m *Manager) Delete(username string) error {
	var lastErr error
	for _, store := range m.stores {
		if err := store.Delete(username); err != nil && !errors.Is(err, ErrReadOnly) {
			lastErr = err
		}
	}
	return lastErr
}

// Stores lists the chain for status output.
func (m *Manager) Stores() []Store { return m.stores }

// PromptPassword reads a password from the terminal without echo.
func PromptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(password), nil
}
