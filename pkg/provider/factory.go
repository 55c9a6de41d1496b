package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	laberrors "github.com/iammrherb/labdabbler/pkg/errors"
	"github.com/iammrherb/labdabbler/pkg/logging"
	"github.com/iammrherb/labdabbler/pkg/types"
)

// providerDocument is the on-disk shape of the provider configuration.
type providerDocument struct {
	DefaultProvider string                           `json:"default_provider"`
	Providers       map[string]*types.ProviderConfig `json:"providers"`
}

// Factory builds and caches runtime providers from a JSON configuration
// file. Providers are constructed lazily and reused; the active set and the
// default selection survive restarts through full rewrites of the file.
type Factory struct {
	configPath     string
	connectTimeout time.Duration
	logger         *logging.Logger

	mu          sync.RWMutex
	configs     map[string]*types.ProviderConfig
	providers   map[string]Provider
	defaultName string
}

// NewFactory loads the provider configuration from configPath. A missing
// file is bootstrapped with a single local provider marked as the default.
func NewFactory(configPath string, connectTimeout time.Duration) (*Factory, error) {
	f := &Factory{
		configPath:     configPath,
		connectTimeout: connectTimeout,
		logger:         logging.WithComponent("provider.factory"),
		configs:        make(map[string]*types.ProviderConfig),
		providers:      make(map[string]Provider),
	}

	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Factory) load() error {
	data, err := os.ReadFile(f.configPath)
	if os.IsNotExist(err) {
		f.logger.Info("no provider config at %s, bootstrapping default", f.configPath)
		f.configs["local"] = &types.ProviderConfig{
			Name:    "local",
			Type:    types.ProviderTypeLocal,
			Enabled: true,
		}
		f.defaultName = "local"
		return f.persistLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read provider config: %w", err)
	}

	var doc providerDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse provider config: %w", err)
	}

	for name, cfg := range doc.Providers {
		cfg.Name = name
		cfg.Enabled = true
		f.configs[name] = cfg
	}
	f.defaultName = doc.DefaultProvider

	if f.defaultName != "" {
		if _, ok := f.configs[f.defaultName]; !ok {
			return fmt.Errorf("provider config names default %q but does not define it", f.defaultName)
		}
	}
	return nil
}

// persistLocked rewrites the whole configuration file. Callers hold f.mu.
func (f *Factory) persistLocked() error {
	doc := providerDocument{
		DefaultProvider: f.defaultName,
		Providers:       make(map[string]*types.ProviderConfig, len(f.configs)),
	}
	for name, cfg := range f.configs {
		c := *cfg
		c.Enabled = true
		doc.Providers[name] = &c
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal provider config: %w", err)
	}

	if dir := filepath.Dir(f.configPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(f.configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write provider config: %w", err)
	}
	return nil
}

// build constructs a provider instance for a stored config. The variant
// set is closed; an unknown type tag is a configuration error.
func (f *Factory) build(cfg *types.ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case types.ProviderTypeLocal:
		return NewLocalProvider(cfg), nil
	case types.ProviderTypeSSH:
		return NewSSHProvider(cfg, f.connectTimeout)
	default:
		return nil, fmt.Errorf("unknown provider type %q for provider %q", cfg.Type, cfg.Name)
	}
}

// GetProvider returns the provider with the given name, constructing it on
// first use. An empty name selects the default provider.
func (f *Factory) GetProvider(name string) (Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if name == "" {
		if f.defaultName == "" {
			return nil, laberrors.ErrNoDefaultProvider
		}
		name = f.defaultName
	}

	if p, ok := f.providers[name]; ok {
		return p, nil
	}

	cfg, ok := f.configs[name]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", name, laberrors.ErrProviderNotFound)
	}

	p, err := f.build(cfg)
	if err != nil {
		return nil, err
	}
	f.providers[name] = p
	return p, nil
}

// AddProvider validates, registers and persists a new provider config.
// The first provider added to an empty set becomes the default.
func (f *Factory) AddProvider(cfg *types.ProviderConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("provider name is required")
	}

	switch cfg.Type {
	case types.ProviderTypeLocal:
	case types.ProviderTypeSSH:
		if cfg.Host == "" {
			return fmt.Errorf("ssh provider %q: host is required", cfg.Name)
		}
		if cfg.Username == "" {
			return fmt.Errorf("ssh provider %q: username is required", cfg.Name)
		}
		if cfg.Password == "" && cfg.PrivateKeyPath == "" {
			return fmt.Errorf("ssh provider %q: one of password or private_key_path is required", cfg.Name)
		}
	default:
		return fmt.Errorf("unknown provider type %q", cfg.Type)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.configs[cfg.Name]; exists {
		return fmt.Errorf("provider %q: %w", cfg.Name, laberrors.ErrDuplicateProvider)
	}

	stored := *cfg
	stored.Enabled = true
	f.configs[cfg.Name] = &stored
	if f.defaultName == "" {
		f.defaultName = cfg.Name
	}

	if err := f.persistLocked(); err != nil {
		delete(f.configs, cfg.Name)
		return err
	}

	f.logger.WithField("provider", cfg.Name).Info("provider added")
	return nil
}

// RemoveProvider deletes a provider. The default provider cannot be
// removed; point the default elsewhere first.
func (f *Factory) RemoveProvider(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.configs[name]; !ok {
		return fmt.Errorf("provider %q: %w", name, laberrors.ErrProviderNotFound)
	}
	if name == f.defaultName {
		return fmt.Errorf("provider %q: %w", name, laberrors.ErrRemoveDefault)
	}

	delete(f.configs, name)
	if p, ok := f.providers[name]; ok {
		delete(f.providers, name)
		go func() {
			if err := p.Close(); err != nil {
				f.logger.WithError(err).Warn("failed to close removed provider %s", name)
			}
		}()
	}

	if err := f.persistLocked(); err != nil {
		return err
	}

	f.logger.WithField("provider", name).Info("provider removed")
	return nil
}

// SetDefaultProvider marks an existing provider as the default selection.
func (f *Factory) SetDefaultProvider(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.configs[name]; !ok {
		return fmt.Errorf("provider %q: %w", name, laberrors.ErrProviderNotFound)
	}

	f.defaultName = name
	if err := f.persistLocked(); err != nil {
		return err
	}

	f.logger.WithField("provider", name).Info("default provider set")
	return nil
}

// DefaultProviderName returns the current default selection, which may be
// empty when no providers are configured.
func (f *Factory) DefaultProviderName() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.defaultName
}

// ListProviders returns summaries of all configured providers sorted by
// name.
func (f *Factory) ListProviders() []types.ProviderSummary {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]types.ProviderSummary, 0, len(f.configs))
	for name, cfg := range f.configs {
		summary := types.ProviderSummary{
			Name:      name,
			Type:      cfg.Type,
			Enabled:   cfg.Enabled,
			IsDefault: name == f.defaultName,
		}
		if cfg.Type == types.ProviderTypeSSH {
			summary.Host = cfg.Host
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CheckAllProvidersHealth probes every configured provider concurrently
// and returns a verdict per provider. A provider that cannot be built
// reads as unhealthy rather than failing the whole sweep.
func (f *Factory) CheckAllProvidersHealth(ctx context.Context) map[string]*types.ProviderHealth {
	f.mu.RLock()
	names := make([]string, 0, len(f.configs))
	for name := range f.configs {
		names = append(names, name)
	}
	f.mu.RUnlock()

	results := make(map[string]*types.ProviderHealth, len(names))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()

			var health *types.ProviderHealth
			p, err := f.GetProvider(name)
			if err != nil {
				health = &types.ProviderHealth{Healthy: false, Error: err.Error()}
			} else {
				health = p.CheckHealth(ctx)
			}

			mu.Lock()
			results[name] = health
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	return results
}

// Close shuts down every instantiated provider.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for name, p := range f.providers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close provider %q: %w", name, err)
		}
	}
	f.providers = make(map[string]Provider)
	return firstErr
}
