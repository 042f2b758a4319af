package feed

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnregisteredFeed is returned when the registry is asked for a feed type it has no descriptor for.
var ErrUnregisteredFeed = errors.New("feed type is not registered")

// Resolver binds a feed descriptor to its record source, row mapper and
// batching mode. It is implemented by the application wiring.
type Resolver interface {
	Bind(d Descriptor) (Source, RowMapper, BatchSize, error)
}

// Registry maps a feed type to its live orchestrator instance.
//
// Orchestrators are constructed lazily on first access and cached for the
// life of the registry. The registry is constructed explicitly and passed to
// the components that need it; there is no ambient global lookup.
type Registry struct {
	outputDir string
	resolver  Resolver

	mu          sync.Mutex
	descriptors map[Type]Descriptor
	instances   map[Type]*Orchestrator
	genArgs     []GeneratorOptions
}

// NewRegistry returns a registry serving the given descriptors, resolving
// sources through resolver and publishing feeds into outputDir.
func NewRegistry(outputDir string, descriptors []Descriptor, resolver Resolver, genArgs ...GeneratorOptions) (*Registry, error) {
	if resolver == nil {
		return nil, errors.New("resolver cannot be nil")
	}

	descs := make(map[Type]Descriptor, len(descriptors))
	for _, d := range descriptors {
		if _, ok := descs[d.Type()]; ok {
			return nil, fmt.Errorf("duplicate descriptor for feed type %q", d.Type())
		}
		descs[d.Type()] = d
	}

	return &Registry{
		outputDir:   outputDir,
		resolver:    resolver,
		descriptors: descs,
		instances:   make(map[Type]*Orchestrator, len(descs)),
		genArgs:     genArgs,
	}, nil
}

// Feed returns the singleton orchestrator for the given feed type,
// constructing it on first access.
func (r *Registry) Feed(t Type) (*Orchestrator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o, ok := r.instances[t]; ok {
		return o, nil
	}

	desc, ok := r.descriptors[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnregisteredFeed, t)
	}

	source, mapper, batchSize, err := r.resolver.Bind(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to bind feed %q: %w", t, err)
	}

	o, err := NewOrchestrator(desc, source, mapper, batchSize, r.outputDir, r.genArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to construct orchestrator for feed %q: %w", t, err)
	}

	r.instances[t] = o
	return o, nil
}

// Types returns the registered feed types in a stable order.
func (r *Registry) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]Type, 0, len(r.descriptors))
	for t := range r.descriptors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
