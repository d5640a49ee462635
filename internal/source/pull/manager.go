package pull

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"warden/pkg/platform/sentinel"
)

// Manager owns the pullers, one per registered source. It is the entry point
// the CLI, scheduler and admin endpoint share.
type Manager struct {
	mu      sync.RWMutex
	pullers map[string]*Puller
}

func NewManager() *Manager {
	return &Manager{pullers: make(map[string]*Puller)}
}

func (m *Manager) Register(p *Puller) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pullers[p.Source()]; exists {
		return fmt.Errorf("source %q: %w", p.Source(), sentinel.ErrConflict)
	}
	m.pullers[p.Source()] = p
	return nil
}

func (m *Manager) get(name string) (*Puller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pullers[name]
	if !ok {
		return nil, fmt.Errorf("source %q: %w", name, sentinel.ErrNotFound)
	}
	return p, nil
}

// Sources lists the registered source names in stable order.
func (m *Manager) Sources() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.pullers))
	for name := range m.pullers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Pull runs one pass for the named source.
func (m *Manager) Pull(ctx context.Context, name string, force, raiseOnError bool) (*Stats, error) {
	p, err := m.get(name)
	if err != nil {
		return nil, err
	}
	return p.Pull(ctx, force, raiseOnError)
}

// PullAll synchronizes the named sources (all registered ones when names is
// empty) concurrently, one goroutine per source; each source's internal
// mutex still serializes it against any other caller. Every source is
// attempted; the error aggregates all failures and all row errors, so a
// failing source never shadows the others.
func (m *Manager) PullAll(ctx context.Context, names []string, force, raiseOnError bool) (map[string]*Stats, error) {
	if len(names) == 0 {
		names = m.Sources()
	}

	var (
		g        errgroup.Group
		mu       sync.Mutex
		results  = make(map[string]*Stats, len(names))
		failures []error
	)
	for _, name := range names {
		g.Go(func() error {
			stats, err := m.Pull(ctx, name, force, raiseOnError)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, fmt.Errorf("source %s: %w", name, err))
				return nil
			}
			results[name] = stats
			if rowErr := stats.Err(); rowErr != nil {
				failures = append(failures, fmt.Errorf("source %s: %w", name, rowErr))
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(failures...)
}
