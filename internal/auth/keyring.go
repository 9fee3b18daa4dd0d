package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/zalando/go-keyring"
)

const serviceName = "omas-vendor"

// Credentials holds the OAuth tokens and metadata for one OAuth client.
// RefreshToken is the long-lived offline credential; the access token
// fields are a short-lived cache that happens to be persisted with it.
type Credentials struct {
	AccessToken  string `json:"access_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Valid reports whether the access token can still be used at now,
// keeping a safety margin before the actual expiry.
func (c *Credentials) Valid(now time.Time, margin time.Duration) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	return now.Unix() < c.ExpiresAt-int64(margin.Seconds())
}

// Store handles credential storage, preferring the system keychain.
// One value per OAuth client ID; writes replace the whole value.
type Store struct {
	useKeyring  bool
	fallbackDir string
}

// NewStore creates a credential store. fallbackDir holds the plaintext
// credentials file when no keyring is available.
func NewStore(fallbackDir string) *Store {
	if os.Getenv("OMAS_NO_KEYRING") != "" {
		return &Store{useKeyring: false, fallbackDir: fallbackDir}
	}

	// Probe keyring availability
	testKey := "omas-vendor::test"
	err := keyring.Set(serviceName, testKey, "test")
	if err == nil {
		_ = keyring.Delete(serviceName, testKey) // Best-effort cleanup
		return &Store{useKeyring: true, fallbackDir: fallbackDir}
	}
	fmt.Fprintf(os.Stderr, "warning: system keyring unavailable, credentials stored in plaintext at %s\n",
		filepath.Join(fallbackDir, "credentials.json"))
	return &Store{useKeyring: false, fallbackDir: fallbackDir}
}

// key returns the keyring key for an OAuth client ID.
func key(clientID string) string {
	return fmt.Sprintf("omas-vendor::%s", clientID)
}

// Load retrieves the credentials for the given client ID.
func (s *Store) Load(clientID string) (*Credentials, error) {
	if s.useKeyring {
		return s.loadFromKeyring(clientID)
	}
	return s.loadFromFile(clientID)
}

// Save stores the credentials for the given client ID.
func (s *Store) Save(clientID string, creds *Credentials) error {
	if s.useKeyring {
		return s.saveToKeyring(clientID, creds)
	}
	return s.saveToFile(clientID, creds)
}

// Delete removes the credentials for the given client ID.
func (s *Store) Delete(clientID string) error {
	if s.useKeyring {
		return keyring.Delete(serviceName, key(clientID))
	}
	return s.deleteFile(clientID)
}

// UsingKeyring returns true if the store is using the system keyring.
func (s *Store) UsingKeyring() bool {
	return s.useKeyring
}

// Keyring methods

func (s *Store) loadFromKeyring(clientID string) (*Credentials, error) {
	data, err := keyring.Get(serviceName, key(clientID))
	if err != nil {
		return nil, fmt.Errorf("credentials not found: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(data), &creds); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", err)
	}
	return &creds, nil
}

func (s *Store) saveToKeyring(clientID string, creds *Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return keyring.Set(serviceName, key(clientID), string(data))
}

// File fallback methods

func (s *Store) credentialsPath() string {
	return filepath.Join(s.fallbackDir, "credentials.json")
}

func (s *Store) loadAllFromFile() (map[string]*Credentials, error) {
	data, err := os.ReadFile(s.credentialsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*Credentials), nil
		}
		return nil, err
	}

	var all map[string]*Credentials
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func (s *Store) saveAllToFile(all map[string]*Credentials) error {
	if err := os.MkdirAll(s.fallbackDir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write with randomized temp file name
	tmpFile, err := os.CreateTemp(s.fallbackDir, "credentials-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0o600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	// Unix: rename atomically replaces the destination.
	// Windows: rename fails when destination exists. Try rename first to
	// preserve the old file on unrelated errors; only remove+retry on failure.
	destPath := s.credentialsPath()
	if err := os.Rename(tmpPath, destPath); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(destPath)
			return os.Rename(tmpPath, destPath)
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *Store) loadFromFile(clientID string) (*Credentials, error) {
	all, err := s.loadAllFromFile()
	if err != nil {
		return nil, err
	}

	creds, ok := all[clientID]
	if !ok {
		return nil, fmt.Errorf("credentials not found for %s", clientID)
	}
	return creds, nil
}

func (s *Store) saveToFile(clientID string, creds *Credentials) error {
	all, err := s.loadAllFromFile()
	if err != nil {
		return err
	}

	all[clientID] = creds
	return s.saveAllToFile(all)
}

func (s *Store) deleteFile(clientID string) error {
	all, err := s.loadAllFromFile()
	if err != nil {
		return err
	}

	delete(all, clientID)
	return s.saveAllToFile(all)
}
