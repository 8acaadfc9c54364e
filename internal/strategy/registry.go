package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// Info is the control-surface view of one strategy instance.
type Info struct {
	Name   string
	Kind   string
	Symbol string
	Status domain.Status
	State  domain.StrategyState
}

// Registry holds every configured strategy instance by name. It is safe for
// concurrent use.
type Registry struct {
	strategies map[string]Strategy
	mu         sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy under its own name. Duplicate names are an
// error: two instances with one name would fight over persisted state.
func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if _, exists := r.strategies[name]; exists {
		return fmt.Errorf("strategy %q: already registered", name)
	}
	r.strategies[name] = s
	return nil
}

// Get retrieves a strategy by name. It returns an error when the name is not
// registered.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	return s, nil
}

// List returns all registered strategies sorted by name.
func (r *Registry) List() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns the names of all registered strategies in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Infos snapshots the live state of every registered strategy for the
// status APIs, sorted by name.
func (r *Registry) Infos() []Info {
	strategies := r.List()
	infos := make([]Info, 0, len(strategies))
	for _, s := range strategies {
		infos = append(infos, Info{
			Name:   s.Name(),
			Kind:   s.Kind(),
			Symbol: s.Symbol(),
			Status: s.Status(),
			State:  s.State(),
		})
	}
	return infos
}
