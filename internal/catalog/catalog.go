// Package catalog holds the process-wide static model registry: per-model
// endpoint tables, fixed generation defaults and the fallback map. A Catalog
// is built once at startup and only read afterwards, so it needs no locking.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrDuplicateModel indicates an attempt to register the same model twice.
var ErrDuplicateModel = errors.New("model already registered")

// ImageModel captures the fixed per-model generation defaults of an image
// provider. Only OutputFormat is ever caller controlled, so it is absent here.
type ImageModel struct {
	ID            string  `yaml:"id"`
	Endpoint      string  `yaml:"endpoint"`
	Steps         int     `yaml:"steps"`
	Width         int     `yaml:"width"`
	Height        int     `yaml:"height"`
	ImageSize     string  `yaml:"image_size"`
	GuidanceScale float64 `yaml:"guidance_scale"`
	// Provider selects an inference provider header for Hugging Face routing.
	Provider string `yaml:"provider"`
}

const (
	// DefaultFalEndpoint serves fal-ai identifiers missing from the table.
	DefaultFalEndpoint = "fal-ai/flux/schnell"
	// DefaultHuggingFaceModel serves hf- identifiers missing from the table.
	DefaultHuggingFaceModel = "hf-stabilityai/stable-diffusion-xl-base-1.0"

	falImageSize        = "landscape_4_3"
	falFluxSteps        = 4
	falDefaultSteps     = 20
	hfGuidanceScale     = 7.5
	hfDefaultResolution = 1024
)

var defaultChatModels = []string{
	"openai/gpt-4o-mini",
	"deepseek-ai/deepseek-coder-33b-instruct",
	"anthropic/claude-3-5-sonnet",
	"meta-llama/llama-3.2-90b-vision-instruct",
	"microsoft/wizardlm-2-8x22b",
	"google/gemma-2-27b-it",
	"qwen/qwen-2.5-72b-instruct",
	"mistralai/mixtral-8x22b-instruct",
}

var defaultFalModels = []ImageModel{
	{ID: "fal-ai/flux-pro/v1.1", Endpoint: "fal-ai/flux-pro/v1.1"},
	{ID: "fal-ai/flux-dev", Endpoint: "fal-ai/flux/dev"},
	{ID: "fal-ai/stable-diffusion-v3-medium", Endpoint: "fal-ai/stable-diffusion-v3-medium"},
	{ID: "fal-ai/playground-v2.5", Endpoint: "fal-ai/playground-v2.5"},
	{ID: "fal-ai/recraft-v3", Endpoint: "fal-ai/recraft-v3"},
}

var defaultHuggingFaceModels = []ImageModel{
	{ID: "hf-black-forest-labs/flux.1-dev", Endpoint: "black-forest-labs/FLUX.1-dev", Steps: 4, Width: 1024, Height: 1024},
	{ID: "hf-stabilityai/stable-diffusion-xl-base-1.0", Endpoint: "stabilityai/stable-diffusion-xl-base-1.0", Steps: 25, Width: 1024, Height: 1024},
	{ID: "hf-runwayml/stable-diffusion-v1-5", Endpoint: "runwayml/stable-diffusion-v1-5", Steps: 25, Width: 512, Height: 512},
	{ID: "hf-compvis/stable-diffusion-v1-4", Endpoint: "stabilityai/stable-diffusion-xl-base-1.0", Steps: 25, Width: 1024, Height: 1024, Provider: "nebius"},
}

var defaultFallbacks = map[string]string{
	"fal-ai/flux-pro/v1.1":              "hf-black-forest-labs/flux.1-dev",
	"fal-ai/flux-dev":                   "hf-black-forest-labs/flux.1-dev",
	"fal-ai/stable-diffusion-v3-medium": "hf-stabilityai/stable-diffusion-xl-base-1.0",
	"fal-ai/playground-v2.5":            "hf-runwayml/stable-diffusion-v1-5",
	"fal-ai/recraft-v3":                 "hf-stabilityai/stable-diffusion-xl-base-1.0",
}

// Options lists entries layered on top of the built-in tables.
type Options struct {
	ChatModels        []string
	FalModels         []ImageModel
	HuggingFaceModels []ImageModel
	Fallbacks         map[string]string
}

// Catalog is the read-only registry queried by the router and the adapters.
type Catalog struct {
	chat      []string
	fal       map[string]ImageModel
	hf        map[string]ImageModel
	hfDefault ImageModel
	fallbacks map[string]string
}

// Default returns the catalog with only the built-in tables.
func Default() *Catalog {
	c, err := New(Options{})
	if err != nil {
		panic(fmt.Sprintf("catalog: built-in tables are invalid: %v", err))
	}
	return c
}

// New builds a catalog from the built-in tables plus opts. Entries in opts
// replace built-in entries with the same identifier.
func New(opts Options) (*Catalog, error) {
	c := &Catalog{
		fal:       make(map[string]ImageModel),
		hf:        make(map[string]ImageModel),
		fallbacks: make(map[string]string),
	}

	chatSeen := make(map[string]struct{})
	for _, list := range [][]string{defaultChatModels, opts.ChatModels} {
		for _, id := range list {
			id = strings.TrimSpace(id)
			if id == "" {
				return nil, errors.New("chat model id must not be empty")
			}
			if _, ok := chatSeen[id]; ok {
				continue
			}
			chatSeen[id] = struct{}{}
			c.chat = append(c.chat, id)
		}
	}

	for _, m := range defaultFalModels {
		c.fal[m.ID] = withFalDefaults(m)
	}
	if err := register(c.fal, opts.FalModels, withFalDefaults); err != nil {
		return nil, fmt.Errorf("fal models: %w", err)
	}

	for _, m := range defaultHuggingFaceModels {
		c.hf[m.ID] = withHuggingFaceDefaults(m)
	}
	if err := register(c.hf, opts.HuggingFaceModels, withHuggingFaceDefaults); err != nil {
		return nil, fmt.Errorf("huggingface models: %w", err)
	}

	c.hfDefault = c.hf[DefaultHuggingFaceModel]

	for from, to := range defaultFallbacks {
		c.fallbacks[from] = to
	}
	for from, to := range opts.Fallbacks {
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if from == "" || to == "" {
			return nil, fmt.Errorf("fallback %q -> %q must name both identifiers", from, to)
		}
		if from == to {
			return nil, fmt.Errorf("fallback for %q must not point to itself", from)
		}
		c.fallbacks[from] = to
	}

	return c, nil
}

func register(dst map[string]ImageModel, extra []ImageModel, defaults func(ImageModel) ImageModel) error {
	seen := make(map[string]struct{}, len(extra))
	for _, m := range extra {
		m.ID = strings.TrimSpace(m.ID)
		if m.ID == "" {
			return errors.New("model id must not be empty")
		}
		if strings.TrimSpace(m.Endpoint) == "" {
			return fmt.Errorf("model %s: endpoint must not be empty", m.ID)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateModel, m.ID)
		}
		seen[m.ID] = struct{}{}
		dst[m.ID] = defaults(m)
	}
	return nil
}

func withFalDefaults(m ImageModel) ImageModel {
	if m.Steps <= 0 {
		if strings.Contains(m.ID, "flux") {
			m.Steps = falFluxSteps
		} else {
			m.Steps = falDefaultSteps
		}
	}
	if m.ImageSize == "" {
		m.ImageSize = falImageSize
	}
	return m
}

func withHuggingFaceDefaults(m ImageModel) ImageModel {
	if m.Steps <= 0 {
		m.Steps = 25
	}
	if m.Width <= 0 {
		m.Width = hfDefaultResolution
	}
	if m.Height <= 0 {
		m.Height = hfDefaultResolution
	}
	if m.GuidanceScale <= 0 {
		m.GuidanceScale = hfGuidanceScale
	}
	return m
}

// FalModel returns the generation settings for a fal identifier. Unknown
// identifiers resolve to the default endpoint; the bool reports a table hit.
func (c *Catalog) FalModel(id string) (ImageModel, bool) {
	if m, ok := c.fal[id]; ok {
		return m, true
	}
	// Unknown flux identifiers still get the flux step count.
	return withFalDefaults(ImageModel{ID: id, Endpoint: DefaultFalEndpoint}), false
}

// HuggingFaceModel returns the generation settings for a Hugging Face
// identifier, resolving unknown identifiers to the default model's endpoint.
func (c *Catalog) HuggingFaceModel(id string) (ImageModel, bool) {
	if m, ok := c.hf[id]; ok {
		return m, true
	}
	m := c.hfDefault
	m.ID = id
	return m, false
}

// Fallback returns the alternate identifier registered for id.
func (c *Catalog) Fallback(id string) (string, bool) {
	to, ok := c.fallbacks[id]
	return to, ok
}

// Fallbacks returns a copy of the fallback map.
func (c *Catalog) Fallbacks() map[string]string {
	out := make(map[string]string, len(c.fallbacks))
	for k, v := range c.fallbacks {
		out[k] = v
	}
	return out
}

// IDs returns every registered identifier: chat models in registration
// order, then image models sorted.
func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.chat)+len(c.fal)+len(c.hf))
	out = append(out, c.chat...)
	out = append(out, sortedKeys(c.fal)...)
	out = append(out, sortedKeys(c.hf)...)
	return out
}

func sortedKeys(m map[string]ImageModel) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
