package auth

import (
	"os"
	"time"
)

// envVarForService maps a service name to the environment variable its key
// is conventionally passed in.
var envVarForService = map[string]string{
	ServiceApify:    "APIFY_API_TOKEN",
	ServiceOpenAI:   "OPENAI_API_KEY",
	ServiceGemini:   "GEMINI_API_KEY",
	ServiceDeepSeek: "DEEPSEEK_API_KEY",
	ServiceKimi:     "MOONSHOT_API_KEY",
}

// EnvironmentStore implements CredentialStore using environment variables.
// Read-only; Store and Delete are unsupported.
type EnvironmentStore struct{}

// NewEnvironmentStore creates an environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(cred *Credential) error {
	return ErrStoreUnavailable
}

// Retrieve gets a credential from the environment
func (e *EnvironmentStore) Retrieve(service string) (*Credential, error) {
	envVar, ok := envVarForService[service]
	if !ok {
		return nil, ErrInvalidCredential
	}

	key := os.Getenv(envVar)
	if key == "" {
		return nil, ErrCredentialNotFound
	}

	return &Credential{
		Service:      service,
		APIKey:       key,
		LastModified: time.Now(),
	}, nil
}

// List returns credentials for every service with its env var set
func (e *EnvironmentStore) List() ([]*Credential, error) {
	var creds []*Credential
	for _, service := range Services {
		if cred, err := e.Retrieve(service); err == nil {
			creds = append(creds, cred)
		}
	}
	return creds, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(service string) error {
	return ErrStoreUnavailable
}

// Exists checks if the service's env var is set
func (e *EnvironmentStore) Exists(service string) bool {
	envVar, ok := envVarForService[service]
	return ok && os.Getenv(envVar) != ""
}
