package provider

import (
	"encoding/base64"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"piesta-gateway/internal/models"
)

// DefaultImagePrompt is used when an image request carries no turns.
const DefaultImagePrompt = "A beautiful landscape"

// EstimateTokens approximates a token count as one unit per four characters,
// rounded up. It is deterministic and counts runes, not bytes; it is not a
// tokenizer-exact figure.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// JoinContents concatenates turn contents with single spaces.
func JoinContents(turns []models.Turn) string {
	parts := make([]string, len(turns))
	for i, t := range turns {
		parts[i] = t.Content
	}
	return strings.Join(parts, " ")
}

// ImagePrompt returns the content of the last turn, or DefaultImagePrompt.
func ImagePrompt(turns []models.Turn) string {
	if len(turns) == 0 {
		return DefaultImagePrompt
	}
	if content := turns[len(turns)-1].Content; strings.TrimSpace(content) != "" {
		return content
	}
	return DefaultImagePrompt
}

// DataURL base64-encodes raw image bytes into a data URL.
func DataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// NewID returns a unique envelope identifier with the given prefix.
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// ImageEnvelope builds the normalized envelope for an image result. Image
// generations report only estimated prompt units.
func ImageEnvelope(idPrefix, target, prompt, content string, now time.Time) *models.Response {
	promptTokens := EstimateTokens(prompt)
	return &models.Response{
		ID:      NewID(idPrefix),
		Object:  models.ObjectImageGeneration,
		Created: now.Unix(),
		Model:   target,
		Choices: []models.Choice{{
			Index: 0,
			Message: models.Message{
				Role:    models.RoleAssistant,
				Content: content,
			},
			FinishReason: "stop",
		}},
		Usage: models.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: 0,
			TotalTokens:      promptTokens,
		},
		ServedBy: target,
	}
}
