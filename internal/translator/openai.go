package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"piesta-gateway/internal/models"
)

var (
	errEmptyModel     = errors.New("model must be provided")
	errEmptyMessages  = errors.New("at least one message is required")
	errInvalidRole    = errors.New("invalid role")
	errInvalidContent = errors.New("invalid message content")
)

// ChatCompletionRequest models the OpenAI-style chat/completions payload
// accepted for a single target.
type ChatCompletionRequest struct {
	Model        string
	Messages     []ChatMessage
	Stream       bool
	MaxTokens    *int
	Temperature  *float64
	OutputFormat string
}

// UnmarshalJSON implements custom parsing to enforce validation.
func (r *ChatCompletionRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model        string        `json:"model"`
		Messages     []ChatMessage `json:"messages"`
		Stream       bool          `json:"stream"`
		MaxTokens    *int          `json:"max_tokens"`
		Temperature  *float64      `json:"temperature"`
		OutputFormat string        `json:"output_format"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Messages = raw.Messages
	r.Stream = raw.Stream
	r.MaxTokens = raw.MaxTokens
	r.Temperature = raw.Temperature
	r.OutputFormat = strings.TrimSpace(raw.OutputFormat)

	return r.validate()
}

func (r *ChatCompletionRequest) validate() error {
	if r.Model == "" {
		return errEmptyModel
	}
	if len(r.Messages) == 0 {
		return errEmptyMessages
	}
	if err := validateSampling(r.Temperature, r.MaxTokens); err != nil {
		return err
	}
	for i, msg := range r.Messages {
		if err := msg.validate(); err != nil {
			return fmt.Errorf("message[%d]: %w", i, err)
		}
	}
	return nil
}

// ToRequest converts the payload into the canonical request.
func (r ChatCompletionRequest) ToRequest() models.Request {
	return models.Request{
		Target: r.Model,
		Turns:  toTurns(r.Messages),
		Sampling: models.Sampling{
			Temperature:  r.Temperature,
			MaxTokens:    r.MaxTokens,
			OutputFormat: r.OutputFormat,
		},
		Stream: r.Stream,
	}
}

// ChatMessage captures a single message within the chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UnmarshalJSON supports string and array-of-text content formats.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	content, err := extractMessageContent(raw.Content)
	if err != nil {
		return err
	}

	m.Role = strings.TrimSpace(raw.Role)
	m.Content = content

	return m.validate()
}

func (m *ChatMessage) validate() error {
	if !models.Role(m.Role).Valid() {
		return fmt.Errorf("%w: %s", errInvalidRole, m.Role)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: message content must not be empty", errInvalidContent)
	}
	return nil
}

func extractMessageContent(raw json.RawMessage) (string, error) {
	if raw == nil {
		return "", fmt.Errorf("%w: missing content", errInvalidContent)
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var segments []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err == nil {
		var builder strings.Builder
		for _, segment := range segments {
			if segment.Type != "text" {
				return "", fmt.Errorf("%w: segment type %q not supported", errInvalidContent, segment.Type)
			}
			builder.WriteString(segment.Text)
		}
		return builder.String(), nil
	}

	return "", fmt.Errorf("%w: unsupported content structure", errInvalidContent)
}

func validateSampling(temperature *float64, maxTokens *int) error {
	if temperature != nil && (*temperature < 0 || *temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", *temperature)
	}
	if maxTokens != nil && *maxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", *maxTokens)
	}
	return nil
}

func toTurns(msgs []ChatMessage) []models.Turn {
	if len(msgs) == 0 {
		return nil
	}
	turns := make([]models.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, models.Turn{Role: models.Role(m.Role), Content: m.Content})
	}
	return turns
}

// ChatCompletionResponse is the wire form of a normalized envelope.
type ChatCompletionResponse struct {
	ID           string       `json:"id"`
	Object       string       `json:"object"`
	Created      int64        `json:"created"`
	Model        string       `json:"model"`
	Choices      []ChatChoice `json:"choices"`
	Usage        OpenAIUsage  `json:"usage"`
	ResponseTime int64        `json:"response_time"`
	TrustScore   *int         `json:"trust_score,omitempty"`
	FallbackUsed bool         `json:"fallback_used,omitempty"`
	ServedBy     string       `json:"served_by,omitempty"`
}

// ChatChoice represents a single choice in the response payload.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// OpenAIUsage mirrors the token usage block in OpenAI responses.
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FromResponse renders a normalized envelope.
func FromResponse(resp *models.Response) ChatCompletionResponse {
	choices := make([]ChatChoice, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		choices = append(choices, ChatChoice{
			Index: c.Index,
			Message: ChatMessage{
				Role:    string(c.Message.Role),
				Content: c.Message.Content,
			},
			FinishReason: c.FinishReason,
		})
	}

	return ChatCompletionResponse{
		ID:      resp.ID,
		Object:  resp.Object,
		Created: resp.Created,
		Model:   resp.Model,
		Choices: choices,
		Usage: OpenAIUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		ResponseTime: resp.ElapsedMS,
		TrustScore:   resp.TrustScore,
		FallbackUsed: resp.FallbackUsed,
		ServedBy:     resp.ServedBy,
	}
}
