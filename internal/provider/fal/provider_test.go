package fal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"piesta-gateway/internal/catalog"
	"piesta-gateway/internal/models"
	"piesta-gateway/internal/provider"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(srv.URL, catalog.Default(), srv.Client())
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	return p
}

func TestInvokeEndpointAndPayload(t *testing.T) {
	tests := []struct {
		target    string
		wantPath  string
		wantSteps int
	}{
		{"fal-ai/flux-dev", "/fal-ai/flux/dev", 4},
		{"fal-ai/flux-pro/v1.1", "/fal-ai/flux-pro/v1.1", 4},
		{"fal-ai/recraft-v3", "/fal-ai/recraft-v3", 20},
		{"fal-ai/unknown-model", "/" + catalog.DefaultFalEndpoint, 20},
		{"fal-ai/new-flux-thing", "/" + catalog.DefaultFalEndpoint, 4},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			var payload generatePayload
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tt.wantPath {
					t.Errorf("path = %s, want %s", r.URL.Path, tt.wantPath)
				}
				if auth := r.Header.Get("Authorization"); auth != "Key fal-key" {
					t.Errorf("Authorization = %q", auth)
				}
				if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
					t.Errorf("decode payload: %v", err)
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"images":[{"url":"https://cdn.fal/x.png"}]}`))
			})

			resp, err := p.Invoke(context.Background(), provider.Call{
				Target:     tt.target,
				Turns:      []models.Turn{{Role: models.RoleUser, Content: "a red fox"}},
				Credential: "fal-key",
			})
			if err != nil {
				t.Fatalf("Invoke() unexpected error: %v", err)
			}
			if payload.NumInferenceSteps != tt.wantSteps {
				t.Errorf("steps = %d, want %d", payload.NumInferenceSteps, tt.wantSteps)
			}
			if payload.Prompt != "a red fox" || payload.ImageSize != "landscape_4_3" || payload.NumImages != 1 || payload.EnableSafetyChecker {
				t.Errorf("payload = %+v", payload)
			}
			if resp.Content() != "https://cdn.fal/x.png" || resp.Object != models.ObjectImageGeneration {
				t.Errorf("envelope = %+v", resp)
			}
			if !strings.HasPrefix(resp.ID, "img-") || resp.Model != tt.target {
				t.Errorf("id/model = %q/%q", resp.ID, resp.Model)
			}
			if resp.Usage.CompletionTokens != 0 || resp.Usage.PromptTokens != 3 {
				t.Errorf("usage = %+v", resp.Usage)
			}
		})
	}
}

func TestInvokeResponseShapes(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        string
	}{
		{"single image object", "application/json", `{"image":{"url":"https://cdn/one.png"}}`, "https://cdn/one.png"},
		{"raw bytes", "image/jpeg", "\xff\xd8", "data:image/jpeg;base64,/9g="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				_, _ = w.Write([]byte(tt.body))
			})
			resp, err := p.Invoke(context.Background(), provider.Call{Target: "fal-ai/flux-dev", Credential: "k"})
			if err != nil {
				t.Fatalf("Invoke() unexpected error: %v", err)
			}
			if resp.Content() != tt.want {
				t.Errorf("content = %q, want %q", resp.Content(), tt.want)
			}
		})
	}
}

func TestInvokeDefaultPromptAndOutputFormat(t *testing.T) {
	var payload generatePayload
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = w.Write([]byte(`{"images":[{"url":"u"}]}`))
	})
	_, err := p.Invoke(context.Background(), provider.Call{
		Target:     "fal-ai/flux-dev",
		Sampling:   models.Sampling{OutputFormat: "jpeg"},
		Credential: "k",
	})
	if err != nil {
		t.Fatalf("Invoke() unexpected error: %v", err)
	}
	if payload.Prompt != provider.DefaultImagePrompt || payload.OutputFormat != "jpeg" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestInvokeErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantKind  provider.Kind
		wantCause provider.Cause
	}{
		{"balance", http.StatusForbidden, `{"detail":"Exhausted balance. Top up your balance at fal.ai/dashboard/billing."}`, provider.KindUpstreamRejected, provider.CauseForbiddenBalance},
		{"locked for balance", http.StatusForbidden, `{"detail":"User is locked. Reason: Exhausted balance"}`, provider.KindUpstreamRejected, provider.CauseForbiddenBalance},
		{"forbidden", http.StatusForbidden, `{"detail":"nope"}`, provider.KindUpstreamRejected, provider.CauseForbiddenOther},
		{"bad key", http.StatusUnauthorized, ``, provider.KindUpstreamRejected, provider.CauseInvalidCredential},
		{"bad request", http.StatusUnprocessableEntity, `{"detail":"bad size"}`, provider.KindUpstreamRejected, provider.CauseUpstreamError},
		{"no url", http.StatusOK, `{"images":[]}`, provider.KindUpstreamMalformed, ""},
		{"not json", http.StatusOK, `oops`, provider.KindUpstreamMalformed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := p.Invoke(context.Background(), provider.Call{Target: "fal-ai/flux-dev", Credential: "k"})
			var pe *provider.Error
			if !errors.As(err, &pe) {
				t.Fatalf("Invoke() error = %v, want *provider.Error", err)
			}
			if pe.Kind != tt.wantKind || pe.Cause != tt.wantCause {
				t.Errorf("kind/cause = %s/%s, want %s/%s", pe.Kind, pe.Cause, tt.wantKind, tt.wantCause)
			}
		})
	}
}

func TestInvokeMissingCredential(t *testing.T) {
	var hits atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) { hits.Add(1) })
	_, err := p.Invoke(context.Background(), provider.Call{Target: "fal-ai/flux-dev"})
	if !errors.Is(err, provider.ErrCredentialMissing) {
		t.Fatalf("Invoke() error = %v, want ErrCredentialMissing", err)
	}
	if !strings.Contains(err.Error(), "Fal.ai API key required") {
		t.Errorf("message = %q", err.Error())
	}
	if hits.Load() != 0 {
		t.Error("upstream must not be called without a credential")
	}
}
