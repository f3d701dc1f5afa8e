package router

import (
	"errors"
	"fmt"
	"strings"

	"piesta-gateway/internal/catalog"
	"piesta-gateway/internal/models"
)

// Identifier prefixes, checked in this order.
const (
	FalPrefix         = "fal-ai/"
	HuggingFacePrefix = "hf-"
)

// ResolveFamily maps any identifier to exactly one provider family. It never
// fails: identifiers matching no prefix belong to the chat family.
func ResolveFamily(target string) models.Family {
	switch {
	case strings.HasPrefix(target, FalPrefix):
		return models.FamilyFal
	case strings.HasPrefix(target, HuggingFacePrefix):
		return models.FamilyHuggingFace
	default:
		return models.FamilyChat
	}
}

// Router answers routing questions against the static catalog.
type Router struct {
	catalog *catalog.Catalog
}

// New constructs a router backed by the provided catalog. Every fallback
// entry must cross provider families.
func New(cat *catalog.Catalog) (*Router, error) {
	if cat == nil {
		return nil, errors.New("catalog must not be nil")
	}
	for from, to := range cat.Fallbacks() {
		if ResolveFamily(from) == ResolveFamily(to) {
			return nil, fmt.Errorf("fallback %q -> %q stays within the %s family", from, to, ResolveFamily(from))
		}
	}
	return &Router{catalog: cat}, nil
}

// ResolveFamily is the method form of the package function.
func (r *Router) ResolveFamily(target string) models.Family {
	return ResolveFamily(target)
}

// ResolveFallback returns the alternate identifier for target, if any.
func (r *Router) ResolveFallback(target string) (string, bool) {
	return r.catalog.Fallback(target)
}

// Catalog exposes the backing catalog to adapters.
func (r *Router) Catalog() *catalog.Catalog {
	return r.catalog
}

// Models lists every catalog identifier with its family and fallback.
func (r *Router) Models() []models.Model {
	ids := r.catalog.IDs()
	out := make([]models.Model, 0, len(ids))
	for _, id := range ids {
		fallback, _ := r.catalog.Fallback(id)
		out = append(out, models.Model{
			ID:       id,
			Family:   ResolveFamily(id),
			Fallback: fallback,
		})
	}
	return out
}
