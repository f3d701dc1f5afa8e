package models

import "strings"

// Family classifies a target identifier into an upstream integration group.
type Family string

const (
	FamilyChat        Family = "chat"
	FamilyFal         Family = "fal"
	FamilyHuggingFace Family = "huggingface"
)

// Role names the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the supported roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Object kinds reported on the response envelope.
const (
	ObjectChatCompletion  = "chat.completion"
	ObjectImageGeneration = "image.generation"
)

// Turn represents a single message of the dialogue history.
type Turn struct {
	Role    Role
	Content string
}

// Sampling carries optional caller-controlled generation parameters.
type Sampling struct {
	Temperature  *float64
	MaxTokens    *int
	OutputFormat string
}

// Request is the canonical representation of one logical call to one target.
type Request struct {
	Target   string
	Turns    []Turn
	Sampling Sampling
	Stream   bool
}

// CloneTurns returns a copy of the request turns so callees can never alias
// the caller's slice.
func (r Request) CloneTurns() []Turn {
	if len(r.Turns) == 0 {
		return nil
	}
	out := make([]Turn, len(r.Turns))
	copy(out, r.Turns)
	return out
}

// Usage records token accounting information. Counts are never negative.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Message is the assistant output of a choice.
type Message struct {
	Role    Role
	Content string
}

// Choice is one result alternative. Envelopes always carry exactly one.
type Choice struct {
	Index        int
	Message      Message
	FinishReason string
}

// Response is the normalized envelope every adapter produces.
type Response struct {
	ID        string
	Object    string
	Created   int64
	Model     string
	Choices   []Choice
	Usage     Usage
	ElapsedMS int64
	// TrustScore is nil until the annotator has scored the content.
	TrustScore *int
	// FallbackUsed is set when the fallback target served the request.
	FallbackUsed bool
	// ServedBy names the identifier that produced the content.
	ServedBy string
}

// Content returns the first choice's message content, or "".
func (r *Response) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Credentials holds per-family secrets supplied by the caller for one call.
type Credentials struct {
	Chat        string
	Fal         string
	HuggingFace string
}

// For returns the credential for the given family, trimmed of whitespace.
func (c Credentials) For(family Family) string {
	switch family {
	case FamilyChat:
		return strings.TrimSpace(c.Chat)
	case FamilyFal:
		return strings.TrimSpace(c.Fal)
	case FamilyHuggingFace:
		return strings.TrimSpace(c.HuggingFace)
	}
	return ""
}

// Has reports whether a non-blank credential exists for the family.
func (c Credentials) Has(family Family) bool {
	return c.For(family) != ""
}

// Merge returns c with empty entries filled from defaults.
func (c Credentials) Merge(defaults Credentials) Credentials {
	if strings.TrimSpace(c.Chat) == "" {
		c.Chat = defaults.Chat
	}
	if strings.TrimSpace(c.Fal) == "" {
		c.Fal = defaults.Fal
	}
	if strings.TrimSpace(c.HuggingFace) == "" {
		c.HuggingFace = defaults.HuggingFace
	}
	return c
}

// Model describes a catalog entry exposed to callers.
type Model struct {
	ID       string
	Family   Family
	Fallback string
}
