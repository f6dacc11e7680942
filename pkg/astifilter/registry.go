package astifilter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/asticode/go-astikit"
)

type FiltererFactory func() Filterer

// Registry maps filter names to filterer factories. It is an explicit object
// constructed once at process start and passed by reference into the
// session: there is no process-wide singleton.
type Registry struct {
	fs map[string]FiltererFactory
	m  sync.Mutex // Locks fs
}

func NewRegistry() *Registry {
	return &Registry{fs: make(map[string]FiltererFactory)}
}

func (r *Registry) Register(name string, fn FiltererFactory) error {
	// Lock
	r.m.Lock()
	defer r.m.Unlock()

	// Name already registered
	if _, ok := r.fs[name]; ok {
		return fmt.Errorf("astifilter: filterer %s already registered", name)
	}

	// Store
	r.fs[name] = fn
	return nil
}

func (r *Registry) NewFilterer(name string) (Filterer, error) {
	// Lock
	r.m.Lock()
	fn, ok := r.fs[name]
	r.m.Unlock()

	// Name not registered
	if !ok {
		return nil, fmt.Errorf("astifilter: unknown filterer %s", name)
	}
	return fn(), nil
}

func (r *Registry) Names() (names []string) {
	// Lock
	r.m.Lock()
	defer r.m.Unlock()

	// Get names
	for name := range r.fs {
		names = append(names, name)
	}

	// Sort names
	sort.Strings(names)
	return
}

// NewFilterFromRegistry instantiates a registered filterer and wraps it in a
// new filter.
func (s *Session) NewFilterFromRegistry(name string, o FilterOptions) (*Filter, *astikit.Closer, error) {
	// Create filterer
	fr, err := s.r.NewFilterer(name)
	if err != nil {
		return nil, nil, fmt.Errorf("astifilter: creating filterer failed: %w", err)
	}

	// Create filter
	o.Filterer = fr
	return s.NewFilter(o)
}
