// Package fal adapts the fal.ai image generation API (fal-ai/ identifiers).
package fal

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
	// DefaultBaseURL is the synchronous fal.ai run endpoint.
	DefaultBaseURL = "https://fal.run"

	providerName    = "Fal.ai"
	idPrefix        = "img"
	contentTypeJSON = "application/json"
	userAgent       = "piesta-gateway/0.1"
	maxResponseSize = 32 << 20
)

// Provider implements provider.Adapter for fal.ai models.
type Provider struct {
	baseURL string
	catalog *catalog.Catalog
	client  *http.Client
	now     func() time.Time
}

// New creates a fal.ai adapter resolving endpoints through cat.
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
	return models.FamilyFal
}

// Invoke generates one image for the last turn's prompt.
func (p *Provider) Invoke(ctx context.Context, call provider.Call) (*models.Response, error) {
	key := strings.TrimSpace(call.Credential)
	if key == "" {
		return nil, provider.CredentialMissing(providerName)
	}

	model, _ := p.catalog.FalModel(call.Target)
	prompt := provider.ImagePrompt(call.Turns)

	payload := generatePayload{
		Prompt:              prompt,
		ImageSize:           model.ImageSize,
		NumInferenceSteps:   model.Steps,
		NumImages:           1,
		EnableSafetyChecker: false,
		OutputFormat:        call.Sampling.OutputFormat,
	}

	httpReq, err := p.newRequest(ctx, p.baseURL+"/"+model.Endpoint, key, payload)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, provider.Network(providerName, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, provider.RejectedFromResponse(providerName, httpResp)
	}

	imageURL, err := readImage(httpResp)
	if err != nil {
		return nil, err
	}

	return provider.ImageEnvelope(idPrefix, call.Target, prompt, imageURL, p.now()), nil
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
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Key "+key)
	return req, nil
}

type generatePayload struct {
	Prompt              string `json:"prompt"`
	ImageSize           string `json:"image_size"`
	NumInferenceSteps   int    `json:"num_inference_steps"`
	NumImages           int    `json:"num_images"`
	EnableSafetyChecker bool   `json:"enable_safety_checker"`
	OutputFormat        string `json:"output_format,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type generateResponse struct {
	Images []imageRef `json:"images"`
	Image  *imageRef  `json:"image"`
}

// readImage extracts the image URL from a JSON reply, or encodes a raw image
// body into a data URL.
func readImage(resp *http.Response) (string, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", provider.Network(providerName, err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "image/") {
		if len(body) == 0 {
			return "", provider.Malformed(providerName, "empty image body", nil)
		}
		return provider.DataURL(mediaType, body), nil
	}

	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", provider.Malformed(providerName, "undecodable response body", err)
	}
	if len(decoded.Images) > 0 && decoded.Images[0].URL != "" {
		return decoded.Images[0].URL, nil
	}
	if decoded.Image != nil && decoded.Image.URL != "" {
		return decoded.Image.URL, nil
	}
	return "", provider.Malformed(providerName, "no image URL returned", nil)
}
