package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"warden/pkg/platform/sentinel"
)

// Registry holds the validated source configurations. Configs are validated
// on the way in, so everything downstream can assume well-formedness.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*Config
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]*Config)}
}

func (r *Registry) Add(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[cfg.Name]; exists {
		return fmt.Errorf("source %q: %w", cfg.Name, sentinel.ErrConflict)
	}
	r.sources[cfg.Name] = cfg
	return nil
}

func (r *Registry) Get(name string) (*Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("source %q: %w", name, sentinel.ErrNotFound)
	}
	return cfg, nil
}

func (r *Registry) List() []*Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Config, 0, len(r.sources))
	for _, cfg := range r.sources {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadDir reads every *.conf file in dir as one source, named after the
// file. A missing directory is not an error: a deployment without external
// sources is valid.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read sources dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".conf") {
			continue
		}
		text, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read source config %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(entry.Name(), ".conf")
		cfg, err := Parse(name, string(text))
		if err != nil {
			return fmt.Errorf("source %s: %w", name, err)
		}
		if err := r.Add(cfg); err != nil {
			return err
		}
	}
	return nil
}
