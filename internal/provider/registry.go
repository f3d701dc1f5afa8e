package provider

import (
	"context"
	"errors"
	"fmt"

	"piesta-gateway/internal/models"
)

// ErrNoAdapter indicates no adapter is registered for a provider family.
var ErrNoAdapter = errors.New("no adapter registered for provider family")

// Call is the input of a single adapter invocation.
type Call struct {
	Target     string
	Turns      []models.Turn
	Sampling   models.Sampling
	Credential string
}

// Adapter translates a normalized call into one provider family's wire
// protocol and its reply back into the normalized envelope. Implementations
// return *Error values for every failure and never mutate Call.Turns.
type Adapter interface {
	Name() string
	Family() models.Family
	Invoke(ctx context.Context, call Call) (*models.Response, error)
}

// Registry maps provider families to adapters. It is filled once at startup
// and read concurrently afterwards without locking.
type Registry struct {
	adapters map[models.Family]Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[models.Family]Adapter, len(adapters))}
	for _, a := range adapters {
		if a == nil {
			return nil, errors.New("adapter must not be nil")
		}
		if existing, ok := r.adapters[a.Family()]; ok {
			return nil, fmt.Errorf("family %s already served by adapter %q", a.Family(), existing.Name())
		}
		r.adapters[a.Family()] = a
	}
	return r, nil
}

// Lookup returns the adapter serving family.
func (r *Registry) Lookup(family models.Family) (Adapter, error) {
	a, ok := r.adapters[family]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, family)
	}
	return a, nil
}
