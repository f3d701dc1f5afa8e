// Package huggingface adapts the Hugging Face inference API for hf-
// identifiers. The upstream replies with raw image bytes.
package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"piesta-gateway/internal/catalog"
	"piesta-gateway/internal/models"
	"piesta-gateway/internal/provider"
)

const (
	// DefaultBaseURL is the hosted inference API model root.
	DefaultBaseURL = "https://api-inference.huggingface.co/models"

	// NegativePrompt is sent with every generation.
	NegativePrompt = "low quality, blurry, distorted, ugly, bad anatomy"

	providerName    = "Hugging Face"
	idPrefix        = "hf-img"
	contentTypeJSON = "application/json"
	userAgent       = "piesta-gateway/0.1"
	maxResponseSize = 32 << 20
)

// Provider implements provider.Adapter for Hugging Face models.
type Provider struct {
	baseURL string
	catalog *catalog.Catalog
	client  *http.Client
	now     func() time.Time
}

// New creates a Hugging Face adapter resolving endpoints through cat.
func New(baseURL string, cat *catalog.Catalog, client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if cat == nil {
		return nil, errors.New("catalog must not be nil")
	}

	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Provider{
		baseURL: baseURL,
		catalog: cat,
		client:  client,
		now:     time.Now,
	}, nil
}

func (p *Provider) Name() string {
	return providerName
}

func (p *Provider) Family() models.Family {
	return models.FamilyHuggingFace
}

// Invoke generates one image and returns it as a data URL.
func (p *Provider) Invoke(ctx context.Context, call provider.Call) (*models.Response, error) {
	key := strings.TrimSpace(call.Credential)
	if key == "" {
		return nil, provider.CredentialMissing(providerName)
	}

	model, _ := p.catalog.HuggingFaceModel(call.Target)
	prompt := provider.ImagePrompt(call.Turns)

	payload := inferencePayload{
		Inputs: prompt,
		Parameters: inferenceParameters{
			NumInferenceSteps: model.Steps,
			GuidanceScale:     model.GuidanceScale,
			Width:             model.Width,
			Height:            model.Height,
			NegativePrompt:    NegativePrompt,
		},
	}

	httpReq, err := p.newRequest(ctx, p.endpointURL(model.Endpoint), key, payload)
	if err != nil {
		return nil, err
	}
	if model.Provider != "" {
		httpReq.Header.Set("X-Provider", model.Provider)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, provider.Network(providerName, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, provider.RejectedFromResponse(providerName, httpResp)
	}

	content, err := readImage(httpResp)
	if err != nil {
		return nil, err
	}

	return provider.ImageEnvelope(idPrefix, call.Target, prompt, content, p.now()), nil
}

// endpointURL joins repository paths with the base URL and leaves absolute
// URLs from configuration untouched.
func (p *Provider) endpointURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return p.baseURL + "/" + strings.TrimLeft(endpoint, "/")
}

func (p *Provider) newRequest(ctx context.Context, url, key string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+key)
	return req, nil
}

type inferencePayload struct {
	Inputs     string              `json:"inputs"`
	Parameters inferenceParameters `json:"parameters"`
}

type inferenceParameters struct {
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	NegativePrompt    string  `json:"negative_prompt"`
}

type urlResponse struct {
	URL      string `json:"url"`
	ImageURL string `json:"image_url"`
	Images   []struct {
		URL string `json:"url"`
	} `json:"images"`
}

func readImage(resp *http.Response) (string, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", provider.Network(providerName, err)
	}
	if len(body) == 0 {
		return "", provider.Malformed(providerName, "empty image body", nil)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != contentTypeJSON {
		if !strings.HasPrefix(mediaType, "image/") {
			mediaType = ""
		}
		return provider.DataURL(mediaType, body), nil
	}

	var decoded urlResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", provider.Malformed(providerName, "undecodable response body", err)
	}
	switch {
	case decoded.URL != "":
		return decoded.URL, nil
	case decoded.ImageURL != "":
		return decoded.ImageURL, nil
	case len(decoded.Images) > 0 && decoded.Images[0].URL != "":
		return decoded.Images[0].URL, nil
	}
	return "", provider.Malformed(providerName, "no image in response", nil)
}
