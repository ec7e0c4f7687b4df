package configaccess

import (
	"context"
	"crypto/subtle"
	"strconv"
	"strings"
	"sync"

	sdkaccess "github.com/sahara-drive/donation-portal/sdk/access"
	"golang.org/x/crypto/bcrypt"
)

const (
	// ProviderType is the registry type of the configured access-key provider.
	ProviderType = "config-access-key"
	// DefaultProviderName names the provider built from the dashboard config.
	DefaultProviderName = "dashboard-access-key"
)

var registerOnce sync.Once

// Register ensures the config access-key provider is available to the access manager.
func Register() {
	registerOnce.Do(func() {
		sdkaccess.RegisterProvider(ProviderType, newProvider)
	})
}

type accessKey struct {
	plain  []byte
	hashed []byte
}

type provider struct {
	name string
	keys []accessKey
}

func newProvider(cfg *sdkaccess.ProviderConfig) (sdkaccess.Provider, error) {
	name := cfg.Name
	if name == "" {
		name = DefaultProviderName
	}
	keys := make([]accessKey, 0, len(cfg.Keys))
	for _, key := range cfg.Keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if IsBcryptHash(key) {
			keys = append(keys, accessKey{hashed: []byte(key)})
		} else {
			keys = append(keys, accessKey{plain: []byte(key)})
		}
	}
	return &provider{name: name, keys: keys}, nil
}

// IsBcryptHash reports whether key looks like a bcrypt hash rather than a plain key.
func IsBcryptHash(key string) bool {
	return len(key) == 60 && (strings.HasPrefix(key, "$2a$") || strings.HasPrefix(key, "$2b$") || strings.HasPrefix(key, "$2y$"))
}

func (p *provider) Identifier() string {
	if p == nil || p.name == "" {
		return DefaultProviderName
	}
	return p.name
}

// Authenticate compares plain keys in constant time and hashed keys with bcrypt.
func (p *provider) Authenticate(_ context.Context, cred sdkaccess.Credential) (*sdkaccess.Result, error) {
	if p == nil || len(p.keys) == 0 {
		return nil, sdkaccess.ErrNotHandled
	}
	candidate := strings.TrimSpace(cred.Key)
	if candidate == "" {
		return nil, sdkaccess.ErrNoCredentials
	}

	for i, key := range p.keys {
		var ok bool
		if key.hashed != nil {
			ok = bcrypt.CompareHashAndPassword(key.hashed, []byte(candidate)) == nil
		} else {
			ok = subtle.ConstantTimeCompare(key.plain, []byte(candidate)) == 1
		}
		if ok {
			return &sdkaccess.Result{
				Provider:  p.Identifier(),
				Principal: "dashboard",
				Metadata: map[string]string{
					"source":    cred.Source,
					"key_index": strconv.Itoa(i),
				},
			}, nil
		}
	}
	return nil, sdkaccess.ErrInvalidCredential
}
