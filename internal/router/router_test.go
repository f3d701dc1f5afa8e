package router

import (
	"math/rand"
	"strings"
	"testing"

	"piesta-gateway/internal/catalog"
	"piesta-gateway/internal/models"
)

func TestResolveFamily(t *testing.T) {
	tests := []struct {
		target string
		want   models.Family
	}{
		{"fal-ai/flux-dev", models.FamilyFal},
		{"fal-ai/", models.FamilyFal},
		{"hf-black-forest-labs/flux.1-dev", models.FamilyHuggingFace},
		{"hf-", models.FamilyHuggingFace},
		{"openai/gpt-4o-mini", models.FamilyChat},
		{"", models.FamilyChat},
		{"fal-ai", models.FamilyChat},
		{"HF-upper", models.FamilyChat},
		{"hf-fal-ai/x", models.FamilyHuggingFace},
	}
	for _, tt := range tests {
		if got := ResolveFamily(tt.target); got != tt.want {
			t.Errorf("ResolveFamily(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}

func TestResolveFamilyIsTotal(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("abcfhil-/_.é世\x00 ")
	for i := 0; i < 2000; i++ {
		n := rng.Intn(16)
		var b strings.Builder
		for j := 0; j < n; j++ {
			b.WriteRune(alphabet[rng.Intn(len(alphabet))])
		}
		switch ResolveFamily(b.String()) {
		case models.FamilyChat, models.FamilyFal, models.FamilyHuggingFace:
		default:
			t.Fatalf("ResolveFamily(%q) returned an unknown family", b.String())
		}
	}
}

func TestResolveFallback(t *testing.T) {
	r, err := New(catalog.Default())
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}

	to, ok := r.ResolveFallback("fal-ai/flux-dev")
	if !ok || ResolveFamily(to) != models.FamilyHuggingFace {
		t.Errorf("ResolveFallback(fal-ai/flux-dev) = %q, %v", to, ok)
	}
	if _, ok := r.ResolveFallback("hf-black-forest-labs/flux.1-dev"); ok {
		t.Error("hf model should have no fallback")
	}
}

func TestNewRejectsSameFamilyFallback(t *testing.T) {
	cat, err := catalog.New(catalog.Options{
		Fallbacks: map[string]string{"openai/gpt-4o-mini": "anthropic/claude-3-5-sonnet"},
	})
	if err != nil {
		t.Fatalf("catalog.New() unexpected error: %v", err)
	}
	if _, err := New(cat); err == nil {
		t.Fatal("New() expected error for same-family fallback")
	}
	if _, err := New(nil); err == nil {
		t.Fatal("New(nil) expected error")
	}
}

func TestModels(t *testing.T) {
	r, _ := New(catalog.Default())
	var sawFallback bool
	for _, m := range r.Models() {
		if m.Family != ResolveFamily(m.ID) {
			t.Errorf("model %s family %s mismatch", m.ID, m.Family)
		}
		if m.ID == "fal-ai/flux-dev" && m.Fallback != "" {
			sawFallback = true
		}
	}
	if !sawFallback {
		t.Error("expected fal-ai/flux-dev to list its fallback")
	}
}
