// Package browser provides the Driver implementations that own the vendor
// session: a Playwright-controlled Firefox for the live site, a plain HTTP
// driver for the mock vendor, and a Handle that lets the application swap
// one driver for another (headless to headed and back) while the protocol
// client keeps a stable reference.
package browser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// File names inside the data directory
const (
	StorageStateFile = "storage_state.json"
	CookieFile       = "cookies.json"
)

// StealthScript hides the automation flag from page scripts.
const StealthScript = "Object.defineProperty(navigator, 'webdriver', {get: () => undefined});"

// Cookie is the on-disk cookie format shared by all drivers.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HttpOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
}

// State locates the persisted session files
type State struct {
	Dir string
}

// NewState returns the session files under dir.
func NewState(dir string) State {
	return State{Dir: dir}
}

// StoragePath is the browser storage-state file.
func (s State) StoragePath() string {
	return filepath.Join(s.Dir, StorageStateFile)
}

// CookiePath is the cookie export file.
func (s State) CookiePath() string {
	return filepath.Join(s.Dir, CookieFile)
}

// HasStorage reports whether a storage-state file exists.
func (s State) HasStorage() bool {
	return isFile(s.StoragePath())
}

// HasCookies reports whether a cookie export exists.
func (s State) HasCookies() bool {
	return isFile(s.CookiePath())
}

// Exists reports whether any persisted session exists.
func (s State) Exists() bool {
	return s.HasStorage() || s.HasCookies()
}

// Prepare creates the data directory and restricts existing files to the
// current user.
func (s State) Prepare() error {
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.Chmod(s.Dir, 0o700); err != nil {
		return fmt.Errorf("failed to secure data directory: %w", err)
	}
	for _, path := range []string{s.StoragePath(), s.CookiePath()} {
		if isFile(path) {
			if err := os.Chmod(path, 0o600); err != nil {
				return fmt.Errorf("failed to secure %s: %w", filepath.Base(path), err)
			}
		}
	}
	return nil
}

// WriteStorage atomically replaces the storage-state file.
func (s State) WriteStorage(data []byte) error {
	return s.write(s.StoragePath(), data)
}

// WriteCookies atomically replaces the cookie export.
func (s State) WriteCookies(cookies []Cookie) error {
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}
	return s.write(s.CookiePath(), data)
}

// ReadCookies loads the cookie export. A missing file yields no cookies.
func (s State) ReadCookies() ([]Cookie, error) {
	data, err := os.ReadFile(s.CookiePath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("failed to parse cookies: %w", err)
	}
	return cookies, nil
}

// Clear deletes the persisted session files.
func (s State) Clear() error {
	for _, path := range []string{s.CookiePath(), s.StoragePath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func (s State) write(path string, data []byte) error {
	if err := s.Prepare(); err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
