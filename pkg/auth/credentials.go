// Package auth stores API credentials for the external services the tool
// talks to: the Apify scraper and the LLM providers. Keys live in the system
// keychain when available, with an encrypted file and environment variables
// as fallbacks.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Known service names.
const (
	ServiceApify    = "apify"
	ServiceOpenAI   = "openai"
	ServiceGemini   = "gemini"
	ServiceDeepSeek = "deepseek"
	ServiceKimi     = "kimi"
)

// Services lists every service a credential can be stored for.
var Services = []string{ServiceApify, ServiceOpenAI, ServiceGemini, ServiceDeepSeek, ServiceKimi}

// Credential is an API key for one external service.
type Credential struct {
	Service      string    `json:"service"`
	APIKey       string    `json:"api_key"`
	LastModified time.Time `json:"last_modified"`
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves a credential for a service
	Store(cred *Credential) error

	// Retrieve gets the credential for a service
	Retrieve(service string) (*Credential, error)

	// List returns all stored credentials
	List() ([]*Credential, error)

	// Delete removes the credential for a service
	Delete(service string) error

	// Exists checks if a credential exists for a service
	Exists(service string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a credential manager with appropriate storage backends
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	// Try keyring first (system keychain)
	keyringStore, err := NewKeyringStore()
	if err == nil {
		stores = append(stores, keyringStore)
	}

	// Always add encrypted file store as fallback
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	// Add environment store as last resort
	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a manager over explicit stores. Used in tests.
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves a credential using the first store that accepts it
func (m *Manager) Store(cred *Credential) error {
	if cred == nil || cred.Service == "" {
		return errors.New("service name is required")
	}
	if cred.APIKey == "" {
		return errors.New("API key is required")
	}
	if !knownService(cred.Service) {
		return fmt.Errorf("unknown service: %s", cred.Service)
	}

	cred.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(cred); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credential: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

// Retrieve gets the credential from the first store that has it
func (m *Manager) Retrieve(service string) (*Credential, error) {
	for _, store := range m.stores {
		if cred, err := store.Retrieve(service); err == nil && cred != nil {
			return cred, nil
		}
	}
	return nil, fmt.Errorf("credential not found for service: %s", service)
}

// APIKey returns just the key for a service, or empty string if absent.
// Callers that treat a missing key as "service unavailable" use this.
func (m *Manager) APIKey(service string) string {
	cred, err := m.Retrieve(service)
	if err != nil {
		return ""
	}
	return cred.APIKey
}

// List returns all stored credentials across all stores
func (m *Manager) List() ([]*Credential, error) {
	credMap := make(map[string]*Credential)

	for _, store := range m.stores {
		creds, err := store.List()
		if err != nil {
			continue
		}
		for _, cred := range creds {
			// Use the most recently modified version
			if existing, ok := credMap[cred.Service]; !ok || cred.LastModified.After(existing.LastModified) {
				credMap[cred.Service] = cred
			}
		}
	}

	var result []*Credential
	for _, service := range Services {
		if cred, ok := credMap[service]; ok {
			result = append(result, cred)
		}
	}

	return result, nil
}

// Delete removes the credential from all stores
func (m *Manager) Delete(service string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(service); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete credential: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("credential not found for service: %s", service)
	}

	return nil
}

func knownService(service string) bool {
	for _, s := range Services {
		if s == service {
			return true
		}
	}
	return false
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "xhsresearch")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "xhsresearch")
	default: // Linux and others
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "xhsresearch")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "xhsresearch")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// MaskKey masks all but the first 4 and last 4 characters of a key
func MaskKey(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrStoreUnavailable   = errors.New("credential store unavailable")
)
