package access

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrNoCredentials is returned when nothing was presented.
	ErrNoCredentials = errors.New("access: no credentials provided")
	// ErrInvalidCredential is returned when a provider rejects the credential.
	ErrInvalidCredential = errors.New("access: invalid credential")
	// ErrNotHandled lets a provider defer to the next one.
	ErrNotHandled = errors.New("access: credential not handled")
	// ErrNotConfigured is returned when no provider can accept credentials at all.
	ErrNotConfigured = errors.New("access: no access key configured")
)

// Manager runs credentials through the configured providers in order.
type Manager struct {
	mu        sync.RWMutex
	providers []Provider
}

// NewManager returns a manager without providers.
func NewManager() *Manager {
	return &Manager{}
}

// SetProviders replaces the provider chain.
func (m *Manager) SetProviders(providers []Provider) {
	cloned := append([]Provider(nil), providers...)
	m.mu.Lock()
	m.providers = cloned
	m.mu.Unlock()
}

// Providers returns a copy of the provider chain.
func (m *Manager) Providers() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Provider(nil), m.providers...)
}

// Configured reports whether any provider is installed.
func (m *Manager) Configured() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.providers) > 0
}

// Authenticate returns the first successful result. With no providers it
// returns ErrNotConfigured; if every provider passes it returns ErrInvalidCredential.
func (m *Manager) Authenticate(ctx context.Context, cred Credential) (*Result, error) {
	providers := m.Providers()
	if len(providers) == 0 {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(cred.Key) == "" {
		return nil, ErrNoCredentials
	}

	handled := false
	for _, provider := range providers {
		result, err := provider.Authenticate(ctx, cred)
		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, ErrNotHandled):
			continue
		case errors.Is(err, ErrInvalidCredential):
			handled = true
		default:
			return nil, err
		}
	}
	if !handled {
		return nil, ErrNotConfigured
	}
	return nil, ErrInvalidCredential
}
