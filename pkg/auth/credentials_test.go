package auth

import (
	"errors"
	"testing"
	"time"
)

func TestManagerStoreAndRetrieve(t *testing.T) {
	manager, store := NewMockManager()

	cred := &Credential{Service: ServiceOpenAI, APIKey: "sk-test-12345678"}
	if err := manager.Store(cred); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if store.Count() != 1 {
		t.Errorf("expected 1 stored credential, got %d", store.Count())
	}

	got, err := manager.Retrieve(ServiceOpenAI)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if got.APIKey != "sk-test-12345678" {
		t.Errorf("retrieved key %q, want %q", got.APIKey, "sk-test-12345678")
	}
	if got.LastModified.IsZero() {
		t.Error("LastModified was not set on store")
	}
}

func TestManagerStoreValidation(t *testing.T) {
	manager, _ := NewMockManager()

	tests := []struct {
		name string
		cred *Credential
	}{
		{"missing service", &Credential{APIKey: "key"}},
		{"missing key", &Credential{Service: ServiceApify}},
		{"unknown service", &Credential{Service: "myspace", APIKey: "key"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := manager.Store(tt.cred); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestManagerFallsBackAcrossStores(t *testing.T) {
	broken := NewMockStore()
	broken.StoreError = errors.New("keyring locked")
	broken.RetrieveError = errors.New("keyring locked")

	working := NewMockStore()
	manager := NewManagerWithStores(broken, working)

	cred := &Credential{Service: ServiceGemini, APIKey: "gm-key-12345678"}
	if err := manager.Store(cred); err != nil {
		t.Fatalf("Store should fall back to second store: %v", err)
	}
	if working.Count() != 1 {
		t.Errorf("fallback store holds %d credentials, want 1", working.Count())
	}

	got, err := manager.Retrieve(ServiceGemini)
	if err != nil {
		t.Fatalf("Retrieve should fall back: %v", err)
	}
	if got.Service != ServiceGemini {
		t.Errorf("retrieved service %q, want %q", got.Service, ServiceGemini)
	}
}

func TestManagerRetrieveNotFound(t *testing.T) {
	manager, _ := NewMockManager()

	if _, err := manager.Retrieve(ServiceKimi); err == nil {
		t.Error("expected error for missing credential")
	}
	if key := manager.APIKey(ServiceKimi); key != "" {
		t.Errorf("APIKey for missing credential = %q, want empty", key)
	}
}

func TestManagerListPrefersNewest(t *testing.T) {
	older := NewMockStore()
	older.creds[ServiceApify] = &Credential{
		Service:      ServiceApify,
		APIKey:       "old-key-12345678",
		LastModified: time.Now().Add(-time.Hour),
	}

	newer := NewMockStore()
	newer.creds[ServiceApify] = &Credential{
		Service:      ServiceApify,
		APIKey:       "new-key-12345678",
		LastModified: time.Now(),
	}

	manager := NewManagerWithStores(older, newer)

	creds, err := manager.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(creds) != 1 {
		t.Fatalf("expected 1 credential, got %d", len(creds))
	}
	if creds[0].APIKey != "new-key-12345678" {
		t.Errorf("List returned stale credential %q", creds[0].APIKey)
	}
}

func TestManagerDelete(t *testing.T) {
	manager, store := NewMockManager()

	if err := manager.Store(&Credential{Service: ServiceDeepSeek, APIKey: "ds-key-12345678"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := manager.Delete(ServiceDeepSeek); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if store.Count() != 0 {
		t.Errorf("store still holds %d credentials after delete", store.Count())
	}

	if err := manager.Delete(ServiceDeepSeek); err == nil {
		t.Error("expected error deleting missing credential")
	}
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env-12345678")
	t.Setenv("GEMINI_API_KEY", "")

	store := NewEnvironmentStore()

	cred, err := store.Retrieve(ServiceOpenAI)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if cred.APIKey != "sk-env-12345678" {
		t.Errorf("retrieved %q, want env value", cred.APIKey)
	}

	if _, err := store.Retrieve(ServiceGemini); err == nil {
		t.Error("expected error for unset env var")
	}
	if !store.Exists(ServiceOpenAI) {
		t.Error("Exists should report set env var")
	}
	if store.Exists(ServiceGemini) {
		t.Error("Exists should not report unset env var")
	}

	if err := store.Store(&Credential{Service: ServiceOpenAI, APIKey: "x"}); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Store should be unsupported, got %v", err)
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"sk-abcdefgh12345678", "sk-a...5678"},
		{"short", "********"},
		{"", "********"},
	}
	for _, tt := range tests {
		if got := MaskKey(tt.in); got != tt.want {
			t.Errorf("MaskKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
