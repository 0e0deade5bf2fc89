package executor

import (
	"fmt"
	"log/slog"
	"sort"
)

// Registry maps trainable names to their implementations.
// Registration happens at startup before concurrent access, so no mutex is needed.
type Registry struct {
	trainables map[string]Trainable
	logger     *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		trainables: make(map[string]Trainable),
		logger:     logger.With("component", "trainable-registry"),
	}
}

// Register adds a Trainable to the registry, keyed by its Name().
func (r *Registry) Register(t Trainable) {
	name := t.Name()
	r.trainables[name] = t
	r.logger.Debug("trainable registered", "name", name)
}

// Get returns the Trainable with the given name or an error if none is registered.
func (r *Registry) Get(name string) (Trainable, error) {
	t, ok := r.trainables[name]
	if !ok {
		return nil, fmt.Errorf("no trainable registered as %q (have %v)", name, r.Names())
	}
	return t, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.trainables))
	for name := range r.trainables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
