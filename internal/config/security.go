package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"golang.org/x/crypto/pbkdf2"
)

// KeyFile is the name of the salt file inside the data directory.
const KeyFile = "master.key"

const (
	pbkdf2Iterations = 100000
	saltSize         = 32
	sealPrefix       = "v1:"
)

// ErrKeyUnavailable is returned by Seal and Open after Forget.
var ErrKeyUnavailable = stderrors.New("encryption key not available")

// SecretSealer encrypts secrets bound to the store key they are saved under.
// A value sealed for "KTX/card_number" does not open as "telegram/token".
type SecretSealer interface {
	Seal(key string, plaintext []byte) (string, error)
	Open(key string, sealed string) ([]byte, error)
}

// KeySealer is a SecretSealer using AES-256-GCM. The key is derived with
// PBKDF2 from a per-install salt kept in KeyFile and a passphrase tied to
// the host and user, so a copied data directory does not decrypt elsewhere.
type KeySealer struct {
	saltPath   string
	passphrase func() string

	mu   sync.RWMutex
	aead cipher.AEAD
}

// NewSealer loads the salt at saltPath, creating it on first use.
func NewSealer(saltPath string) (*KeySealer, error) {
	return newKeySealer(saltPath, machinePassphrase)
}

func newKeySealer(saltPath string, passphrase func() string) (*KeySealer, error) {
	if err := os.MkdirAll(filepath.Dir(saltPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	s := &KeySealer{saltPath: saltPath, passphrase: passphrase}

	salt, err := s.readSalt()
	if os.IsNotExist(err) {
		salt, err = s.writeSalt()
	}
	if err != nil {
		return nil, err
	}
	if err := s.derive(salt); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *KeySealer) readSalt() ([]byte, error) {
	data, err := os.ReadFile(s.saltPath)
	if err != nil {
		return nil, err
	}
	salt, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(salt) != saltSize {
		return nil, fmt.Errorf("corrupt key file %s", s.saltPath)
	}
	return salt, nil
}

func (s *KeySealer) writeSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if err := renameio.WriteFile(s.saltPath, []byte(hex.EncodeToString(salt)), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	return salt, nil
}

func (s *KeySealer) derive(salt []byte) error {
	key := pbkdf2.Key([]byte(s.passphrase()), salt, pbkdf2Iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}
	s.mu.Lock()
	s.aead = aead
	s.mu.Unlock()
	return nil
}

// machinePassphrase ties the derived key to this host and user.
func machinePassphrase() string {
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	return "ktxgo-credentials-" + hostname + "-" + username
}

// Seal encrypts plaintext for key. The result is "v1:" followed by the
// base64 of nonce and ciphertext.
func (s *KeySealer) Seal(key string, plaintext []byte) (string, error) {
	s.mu.RLock()
	aead := s.aead
	s.mu.RUnlock()
	if aead == nil {
		return "", ErrKeyUnavailable
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, plaintext, []byte(key))
	return sealPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal for the same key.
func (s *KeySealer) Open(key string, sealed string) ([]byte, error) {
	s.mu.RLock()
	aead := s.aead
	s.mu.RUnlock()
	if aead == nil {
		return nil, ErrKeyUnavailable
	}

	encoded, ok := strings.CutPrefix(sealed, sealPrefix)
	if !ok {
		return nil, fmt.Errorf("unsupported secret format")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode secret: %w", err)
	}
	if len(data) < aead.NonceSize() {
		return nil, fmt.Errorf("secret too short")
	}
	nonce, body := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return plaintext, nil
}

// Forget drops the derived key and removes the salt file. Secrets sealed
// before the call can no longer be opened.
func (s *KeySealer) Forget() error {
	s.mu.Lock()
	s.aead = nil
	s.mu.Unlock()
	if err := os.Remove(s.saltPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove key file: %w", err)
	}
	return nil
}
