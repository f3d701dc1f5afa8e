package factory

import (
	"testing"
	"time"

	"piesta-gateway/internal/catalog"
	"piesta-gateway/internal/config"
	"piesta-gateway/internal/models"
)

func TestNewRegistryServesEveryFamily(t *testing.T) {
	reg, err := NewRegistry(config.Default().Providers, catalog.Default())
	if err != nil {
		t.Fatalf("NewRegistry() unexpected error: %v", err)
	}

	for _, family := range []models.Family{models.FamilyChat, models.FamilyFal, models.FamilyHuggingFace} {
		a, err := reg.Lookup(family)
		if err != nil {
			t.Errorf("Lookup(%s) unexpected error: %v", family, err)
			continue
		}
		if a.Family() != family {
			t.Errorf("Lookup(%s) returned adapter for %s", family, a.Family())
		}
	}
}

func TestNewRegistryRequiresCatalog(t *testing.T) {
	if _, err := NewRegistry(config.Default().Providers, nil); err == nil {
		t.Fatal("NewRegistry() expected error for nil catalog")
	}
}

func TestNewHTTPClientTimeout(t *testing.T) {
	client := newHTTPClient(5 * time.Second)
	if client.Timeout != 5*time.Second {
		t.Errorf("Timeout = %s, want 5s", client.Timeout)
	}
	if client.Transport == nil {
		t.Error("Transport must be set")
	}
}
