// Package auth stores card and notification secrets in an encrypted file
// under the data directory. Secrets are addressed by service and name, for
// example "KTX/card_number" or "telegram/token".
package auth

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/ktxgo/ktxgo/internal/config"
	"github.com/ktxgo/ktxgo/internal/logging"
)

// CredentialsFile is the encrypted secret file inside the data directory.
const CredentialsFile = "credentials.json"

// Service names
const (
	ServiceKTX      = "KTX"
	ServiceTelegram = "telegram"
)

var (
	// ErrNotFound is returned when no secret is stored under a key.
	ErrNotFound = stderrors.New("credential not found")

	// ErrDisabled is returned by every operation of a disabled store.
	ErrDisabled = stderrors.New("credential store is disabled")
)

// Key joins a service and a secret name into a store key.
func Key(service, name string) string {
	return service + "/" + name
}

// Manager is an encrypted, file-backed interfaces.SecretStore. Decrypted
// values are cached in memory after the first read.
type Manager struct {
	path     string
	sealer   config.SecretSealer
	cache    map[string][]byte
	disabled error
	logger   *logging.Logger
	mutex    sync.Mutex
}

// NewManager opens the credential file in dataDir, creating the key
// material on first use.
func NewManager(dataDir string, logger *logging.Logger) (*Manager, error) {
	if logger == nil {
		logger = logging.GetAuthLogger()
	}
	if strings.TrimSpace(dataDir) == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}
	sealer, err := config.NewSealer(filepath.Join(dataDir, config.KeyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential encryption: %w", err)
	}
	return newManager(filepath.Join(dataDir, CredentialsFile), sealer, logger), nil
}

func newManager(path string, sealer config.SecretSealer, logger *logging.Logger) *Manager {
	return &Manager{path: path, sealer: sealer, logger: logger}
}

// Open returns a credential manager for dataDir. When the store cannot be
// initialised a disabled manager is returned and warnings records why;
// callers then run as if nothing was stored.
func Open(dataDir string, warnings *Warnings, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.GetAuthLogger()
	}
	m, err := NewManager(dataDir, logger)
	if err != nil {
		warnings.Disabled(err)
		return &Manager{disabled: err, logger: logger}
	}
	return m
}

// Enabled reports whether the store is usable.
func (m *Manager) Enabled() bool {
	return m.disabled == nil
}

func (m *Manager) disabledError() error {
	return fmt.Errorf("%w: %v", ErrDisabled, m.disabled)
}

// load reads and decrypts the credential file. Callers hold the write lock.
func (m *Manager) load() error {
	if m.cache != nil {
		return nil
	}
	m.cache = make(map[string][]byte)

	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read credential file: %w", err)
	}

	var sealed map[string]string
	if err := json.Unmarshal(data, &sealed); err != nil {
		return fmt.Errorf("failed to parse credential file: %w", err)
	}
	for key, ciphertext := range sealed {
		plaintext, err := m.sealer.Open(key, ciphertext)
		if err != nil {
			m.cache = nil
			return fmt.Errorf("failed to decrypt credential %s: %w", key, err)
		}
		m.cache[key] = plaintext
	}
	return nil
}

// save encrypts the cache and replaces the credential file atomically.
func (m *Manager) save() error {
	sealed := make(map[string]string, len(m.cache))
	for key, value := range m.cache {
		ciphertext, err := m.sealer.Seal(key, value)
		if err != nil {
			return fmt.Errorf("failed to encrypt credential %s: %w", key, err)
		}
		sealed[key] = ciphertext
	}
	data, err := json.MarshalIndent(sealed, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credential file: %w", err)
	}
	if err := renameio.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	return nil
}

// Store saves a secret under key
func (m *Manager) Store(key string, value []byte) error {
	if m.disabled != nil {
		return m.disabledError()
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("storage key cannot be empty")
	}
	if len(value) == 0 {
		return fmt.Errorf("storage value cannot be empty")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.load(); err != nil {
		return err
	}
	previous, existed := m.cache[key]
	m.cache[key] = append([]byte(nil), value...)
	if err := m.save(); err != nil {
		if existed {
			m.cache[key] = previous
		} else {
			delete(m.cache, key)
		}
		return err
	}
	m.logger.Debug("Credential stored", "key", key)
	return nil
}

// Retrieve loads the secret stored under key
func (m *Manager) Retrieve(key string) ([]byte, error) {
	if m.disabled != nil {
		return nil, m.disabledError()
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.load(); err != nil {
		return nil, err
	}
	value, ok := m.cache[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), value...), nil
}

// Delete removes the secret stored under key. Deleting a missing key is not an error.
func (m *Manager) Delete(key string) error {
	if m.disabled != nil {
		return m.disabledError()
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.load(); err != nil {
		return err
	}
	if _, ok := m.cache[key]; !ok {
		return nil
	}
	delete(m.cache, key)
	return m.save()
}

// Exists reports whether a secret is stored under key
func (m *Manager) Exists(key string) bool {
	_, err := m.Retrieve(key)
	return err == nil
}

// Keys returns the stored keys in sorted order.
func (m *Manager) Keys() ([]string, error) {
	if m.disabled != nil {
		return nil, m.disabledError()
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.load(); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m.cache))
	for key := range m.cache {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear removes every stored secret
func (m *Manager) Clear() error {
	if m.disabled != nil {
		return m.disabledError()
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.cache = make(map[string][]byte)
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credential file: %w", err)
	}
	return nil
}
