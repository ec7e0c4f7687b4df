package access

import (
	"fmt"
	"sort"
	"strings"

	configaccess "github.com/sahara-drive/donation-portal/internal/access/config_access"
	"github.com/sahara-drive/donation-portal/internal/config"
	sdkaccess "github.com/sahara-drive/donation-portal/sdk/access"
	log "github.com/sirupsen/logrus"
)

// ProviderConfigs derives the access providers declared by cfg. A config without
// dashboard keys yields none, which leaves the dashboard gate unconfigured.
func ProviderConfigs(cfg *config.Config) []sdkaccess.ProviderConfig {
	keys := cfg.DashboardAccessKeys()
	if len(keys) == 0 {
		return nil
	}
	return []sdkaccess.ProviderConfig{{
		Name: configaccess.DefaultProviderName,
		Type: configaccess.ProviderType,
		Keys: keys,
	}}
}

// ReconcileProviders builds the desired provider list, reusing an existing
// provider when its keys did not change. It returns the ordered providers and
// the identifiers that were added, updated or removed.
func ReconcileProviders(oldCfg, newCfg *config.Config, existing []sdkaccess.Provider) (result []sdkaccess.Provider, added, updated, removed []string, err error) {
	if newCfg == nil {
		return nil, nil, nil, nil, nil
	}
	configaccess.Register()

	existingMap := make(map[string]sdkaccess.Provider, len(existing))
	for _, provider := range existing {
		if provider != nil {
			existingMap[provider.Identifier()] = provider
		}
	}
	oldMap := make(map[string]sdkaccess.ProviderConfig)
	if oldCfg != nil {
		for _, pc := range ProviderConfigs(oldCfg) {
			oldMap[pc.Name] = pc
		}
	}

	desired := ProviderConfigs(newCfg)
	result = make([]sdkaccess.Provider, 0, len(desired))
	final := make(map[string]struct{}, len(desired))
	for i := range desired {
		pc := &desired[i]
		if old, ok := oldMap[pc.Name]; ok && sameKeys(old.Keys, pc.Keys) {
			if current, okExisting := existingMap[pc.Name]; okExisting {
				result = append(result, current)
				final[pc.Name] = struct{}{}
				continue
			}
		}

		provider, buildErr := sdkaccess.BuildProvider(pc)
		if buildErr != nil {
			return nil, nil, nil, nil, buildErr
		}
		if _, existed := existingMap[pc.Name]; existed {
			updated = append(updated, pc.Name)
		} else {
			added = append(added, pc.Name)
		}
		result = append(result, provider)
		final[pc.Name] = struct{}{}
	}

	for id := range existingMap {
		if _, ok := final[id]; !ok {
			removed = append(removed, id)
		}
	}

	sort.Strings(added)
	sort.Strings(updated)
	sort.Strings(removed)
	return result, added, updated, removed, nil
}

// ApplyAccessProviders reconciles the dashboard access providers and installs
// them on manager. It reports whether anything changed.
func ApplyAccessProviders(manager *sdkaccess.Manager, oldCfg, newCfg *config.Config) (bool, error) {
	if manager == nil || newCfg == nil {
		return false, nil
	}

	providers, added, updated, removed, err := ReconcileProviders(oldCfg, newCfg, manager.Providers())
	if err != nil {
		log.Errorf("failed to reconcile dashboard access providers: %v", err)
		return false, fmt.Errorf("reconciling access providers: %w", err)
	}
	manager.SetProviders(providers)

	if len(added)+len(updated)+len(removed) > 0 {
		log.Debugf("dashboard access providers reconciled (added=%d updated=%d removed=%d)", len(added), len(updated), len(removed))
		log.Debugf("dashboard access provider changes - added=%v updated=%v removed=%v", added, updated, removed)
		return true, nil
	}
	log.Debug("dashboard access providers unchanged after config update")
	return false, nil
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, v := range a {
		seen[strings.TrimSpace(v)]++
	}
	for _, v := range b {
		v = strings.TrimSpace(v)
		if seen[v] == 0 {
			return false
		}
		seen[v]--
	}
	return true
}
