// Package openrouter adapts the chat family to the OpenAI-compatible
// OpenRouter completions API.
package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"piesta-gateway/internal/models"
	"piesta-gateway/internal/provider"
)

const (
	// DefaultBaseURL is the OpenRouter API root.
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	// DefaultTitle is sent as X-Title for attribution.
	DefaultTitle = "Ai Piesta"

	providerName       = "OpenRouter"
	defaultTemperature = 0.7
	defaultMaxTokens   = 1000
)

// Config holds the static settings of the adapter.
type Config struct {
	BaseURL string
	Referer string
	Title   string
}

// Provider implements provider.Adapter for the chat family.
type Provider struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// New creates a chat adapter. The attribution headers are injected by the
// HTTP transport so every request carries them.
func New(cfg Config, client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	title := cfg.Title
	if title == "" {
		title = DefaultTitle
	}

	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *client
	wrapped.Transport = &headerTransport{
		base: base,
		headers: map[string]string{
			"HTTP-Referer": cfg.Referer,
			"X-Title":      title,
		},
	}

	return &Provider{
		baseURL: baseURL,
		client:  &wrapped,
		now:     time.Now,
	}, nil
}

func (p *Provider) Name() string {
	return providerName
}

func (p *Provider) Family() models.Family {
	return models.FamilyChat
}

// Invoke sends the call as a chat completion and normalizes the reply.
func (p *Provider) Invoke(ctx context.Context, call provider.Call) (*models.Response, error) {
	key := strings.TrimSpace(call.Credential)
	if key == "" {
		return nil, provider.CredentialMissing(providerName)
	}

	cfg := openai.DefaultConfig(key)
	cfg.BaseURL = p.baseURL
	cfg.HTTPClient = p.client
	client := openai.NewClientWithConfig(cfg)

	resp, err := client.CreateChatCompletion(ctx, buildRequest(call))
	if err != nil {
		return nil, classify(err)
	}

	return p.toResponse(call, resp)
}

func buildRequest(call provider.Call) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(call.Turns))
	for i, turn := range call.Turns {
		messages[i] = openai.ChatCompletionMessage{
			Role:    string(turn.Role),
			Content: turn.Content,
		}
	}

	temperature := float32(defaultTemperature)
	if call.Sampling.Temperature != nil {
		temperature = float32(*call.Sampling.Temperature)
	}
	// The client omits a zero temperature from the body, so an explicit zero
	// is sent as the smallest positive value instead.
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}
	maxTokens := defaultMaxTokens
	if call.Sampling.MaxTokens != nil && *call.Sampling.MaxTokens > 0 {
		maxTokens = *call.Sampling.MaxTokens
	}

	return openai.ChatCompletionRequest{
		Model:       call.Target,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

func (p *Provider) toResponse(call provider.Call, resp openai.ChatCompletionResponse) (*models.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, provider.Malformed(providerName, "no choices in response", nil)
	}
	choice := resp.Choices[0]
	content := choice.Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, provider.Malformed(providerName, "empty message content", nil)
	}

	id := resp.ID
	if id == "" {
		id = provider.NewID("chatcmpl")
	}
	created := resp.Created
	if created == 0 {
		created = p.now().Unix()
	}
	finish := string(choice.FinishReason)
	if finish == "" {
		finish = "stop"
	}

	return &models.Response{
		ID:      id,
		Object:  models.ObjectChatCompletion,
		Created: created,
		Model:   call.Target,
		Choices: []models.Choice{{
			Index: 0,
			Message: models.Message{
				Role:    models.RoleAssistant,
				Content: content,
			},
			FinishReason: finish,
		}},
		Usage:    usage(resp.Usage, call.Turns, content),
		ServedBy: call.Target,
	}, nil
}

// usage keeps reported counts and estimates them when the upstream omits them.
func usage(reported openai.Usage, turns []models.Turn, content string) models.Usage {
	if reported.PromptTokens <= 0 && reported.CompletionTokens <= 0 && reported.TotalTokens <= 0 {
		prompt := provider.EstimateTokens(provider.JoinContents(turns))
		completion := provider.EstimateTokens(content)
		return models.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		}
	}

	u := models.Usage{
		PromptTokens:     max(reported.PromptTokens, 0),
		CompletionTokens: max(reported.CompletionTokens, 0),
		TotalTokens:      max(reported.TotalTokens, 0),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return provider.Rejected(providerName, apiErr.HTTPStatusCode, apiErr.Message)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		detail := ""
		if len(reqErr.Body) > 0 {
			detail = provider.ReadErrorDetail(strings.NewReader(string(reqErr.Body)))
		}
		return provider.Rejected(providerName, reqErr.HTTPStatusCode, detail)
	}

	// The client validates some model constraints before sending.
	if errors.Is(err, openai.ErrChatCompletionInvalidModel) || errors.Is(err, openai.ErrO1MaxTokensDeprecated) {
		return provider.Rejected(providerName, http.StatusBadRequest, err.Error())
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.EOF) {
		return provider.Malformed(providerName, "undecodable response body", err)
	}

	return provider.Network(providerName, err)
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		if v != "" {
			clone.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(clone)
}
