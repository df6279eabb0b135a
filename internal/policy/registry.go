package policy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pruner-io/pruner/internal/core/domain"
)

// ErrUnknownPolicy is returned when a study names a pruner or designer
// nothing registered under.
var ErrUnknownPolicy = errors.New("unknown policy")

// PrunerFactory builds a pruner from a study's pruner spec.
type PrunerFactory func(spec domain.PrunerSpec) (Pruner, error)

// DesignerFactory builds a designer from a study's designer spec.
type DesignerFactory func(spec domain.DesignerSpec) (Designer, error)

// Registry maps policy names to factories. Registration happens at
// wiring time; lookups happen per request.
type Registry struct {
	mu        sync.RWMutex
	pruners   map[string]PrunerFactory
	designers map[string]DesignerFactory
}

func NewRegistry() *Registry {
	return &Registry{
		pruners:   make(map[string]PrunerFactory),
		designers: make(map[string]DesignerFactory),
	}
}

// RegisterPruner makes a pruner constructible by name. Later
// registrations under the same name win.
func (r *Registry) RegisterPruner(name string, f PrunerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruners[name] = f
}

// RegisterDesigner makes a designer constructible by name.
func (r *Registry) RegisterDesigner(name string, f DesignerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.designers[name] = f
}

// NewPruner builds the pruner a study spec names.
func (r *Registry) NewPruner(spec domain.PrunerSpec) (Pruner, error) {
	r.mu.RLock()
	f, ok := r.pruners[spec.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: pruner %q", ErrUnknownPolicy, spec.Name)
	}
	return f(spec)
}

// NewDesigner builds the designer a study spec names.
func (r *Registry) NewDesigner(spec domain.DesignerSpec) (Designer, error) {
	r.mu.RLock()
	f, ok := r.designers[spec.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: designer %q", ErrUnknownPolicy, spec.Name)
	}
	return f(spec)
}

// Pruners lists registered pruner names, sorted.
func (r *Registry) Pruners() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pruners))
	for name := range r.pruners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Designers lists registered designer names, sorted.
func (r *Registry) Designers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.designers))
	for name := range r.designers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
