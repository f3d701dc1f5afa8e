// Package refine rewrites user prompts into more specific ones, using a chat
// model when one is reachable and local heuristics otherwise.
package refine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"piesta-gateway/internal/models"
	"piesta-gateway/internal/provider"
)

// DefaultModel is the chat model used for refinement.
const DefaultModel = "microsoft/wizardlm-2-8x22b"

// Task types understood by the heuristics.
const (
	TaskGeneral    = "general"
	TaskCoding     = "coding"
	TaskCreative   = "creative"
	TaskAnalytical = "analytical"
	TaskImage      = "image"
	TaskText       = "text"
)

const (
	refineMaxTokens    = 150
	refineTemperature  = 0.7
	defaultImprovement = "Enhanced prompt clarity and effectiveness"
)

// ErrEmptyPrompt is returned for blank prompts.
var ErrEmptyPrompt = errors.New("prompt is required")

// Request is the input of one refinement.
type Request struct {
	Prompt      string
	TaskType    string
	TargetModel string
}

// Result is the outcome of one refinement.
type Result struct {
	OriginalPrompt string   `json:"original_prompt"`
	RefinedPrompt  string   `json:"refined_prompt"`
	Improvements   []string `json:"improvements"`
	Confidence     int      `json:"confidence"`
	FallbackUsed   bool     `json:"fallback_used,omitempty"`
}

// Service refines prompts through a chat adapter.
type Service struct {
	chat  provider.Adapter
	model string
}

// New creates a refinement service. chat may be nil, in which case every
// refinement uses the local heuristics.
func New(chat provider.Adapter, model string) *Service {
	if model == "" {
		model = DefaultModel
	}
	return &Service{chat: chat, model: model}
}

// Refine improves req.Prompt. Upstream failures are not returned: the local
// heuristics take over and the result is marked as a fallback.
func (s *Service) Refine(ctx context.Context, req Request, credential string) (Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Result{}, ErrEmptyPrompt
	}
	task := normalizeTask(req.TaskType)

	refined, err := s.remote(ctx, req, task, credential)
	if err != nil {
		slog.Warn("prompt refinement fell back to local heuristics", "error", err)
		return local(req.Prompt, task), nil
	}

	improvements := remoteImprovements(req.Prompt, refined, task)
	return Result{
		OriginalPrompt: req.Prompt,
		RefinedPrompt:  refined,
		Improvements:   withDefault(improvements),
		Confidence:     min(100, 80+len(improvements)*5),
	}, nil
}

func (s *Service) remote(ctx context.Context, req Request, task, credential string) (string, error) {
	if s.chat == nil {
		return "", errors.New("no chat adapter configured")
	}

	target := req.TargetModel
	if target == "" {
		target = TaskGeneral
	}
	system := fmt.Sprintf(`You are an expert at improving prompts to make them more effective and specific.

Task Type: %s
Target Model: %s

Improve the prompt by:
1. Making it more specific and detailed
2. Adding relevant context
3. Using clear, actionable language
4. Optimizing for the task type
5. Keeping the original intent

For image generation: Add style, lighting, and quality details.
For text generation: Add structure and tone preferences.

Return only the improved prompt.`, task, target)

	maxTokens := refineMaxTokens
	temperature := refineTemperature
	resp, err := s.chat.Invoke(ctx, provider.Call{
		Target: s.model,
		Turns: []models.Turn{
			{Role: models.RoleSystem, Content: system},
			{Role: models.RoleUser, Content: fmt.Sprintf("Please improve this prompt: %q", req.Prompt)},
		},
		Sampling:   models.Sampling{Temperature: &temperature, MaxTokens: &maxTokens},
		Credential: credential,
	})
	if err != nil {
		return "", err
	}

	refined := strings.TrimSpace(resp.Content())
	if refined == "" {
		return "", errors.New("no refined prompt received")
	}
	return refined, nil
}

func normalizeTask(task string) string {
	switch strings.ToLower(strings.TrimSpace(task)) {
	case "", TaskGeneral:
		return TaskGeneral
	case TaskImage, "image_generation":
		return TaskImage
	case TaskText, "text_generation":
		return TaskText
	case TaskCoding:
		return TaskCoding
	case TaskCreative:
		return TaskCreative
	case TaskAnalytical:
		return TaskAnalytical
	default:
		return TaskGeneral
	}
}

func remoteImprovements(original, refined, task string) []string {
	var improvements []string
	lower := strings.ToLower(refined)

	if utf8.RuneCountInString(refined) > utf8.RuneCountInString(original) {
		improvements = append(improvements, "Enhanced with more detail")
	}
	if task == TaskImage && strings.Contains(lower, "style") {
		improvements = append(improvements, "Added style specifications")
	}
	if task == TaskText && (strings.Contains(lower, "structure") || strings.Contains(lower, "format")) {
		improvements = append(improvements, "Added structure requirements")
	}
	if strings.Contains(lower, "detailed") || strings.Contains(lower, "specific") {
		improvements = append(improvements, "Made prompt more specific")
	}
	return improvements
}

// local applies rule-based rewrites when no model is reachable.
func local(prompt, task string) Result {
	refined := prompt
	lower := strings.ToLower(prompt)
	length := utf8.RuneCountInString(prompt)
	var improvements []string
	add := func(text string) {
		improvements = append(improvements, text)
	}

	if length < 50 {
		refined = "Please provide a detailed explanation of: " + prompt
		add("Added request for detailed explanation")
	}

	switch task {
	case TaskImage:
		if !strings.Contains(lower, "detailed") {
			refined = "Create a detailed, high-quality image with professional lighting and composition: " + prompt
			add("Added detail and quality specifications")
		}
		if !strings.Contains(lower, "style") {
			refined += ". Style: photorealistic, professional photography."
			add("Added style specifications")
		}
		if !strings.Contains(lower, "lighting") {
			refined += ". Lighting: soft, natural lighting."
			add("Added lighting specifications")
		}
	case TaskText:
		if !strings.Contains(lower, "detailed") {
			refined = "Please provide a comprehensive and detailed response to: " + prompt
			add("Added comprehensive response request")
		}
		if !strings.Contains(lower, "structure") && length > 100 {
			refined += ". Please structure your response with clear sections and examples."
			add("Added structure requirements")
		}
	case TaskAnalytical:
		if !strings.Contains(lower, "analyze") {
			refined = "Please analyze and provide a structured breakdown of: " + prompt
			add("Added analytical structure request")
		}
		if !strings.Contains(lower, "compare") && strings.Contains(lower, "vs") {
			refined += ". Please provide a detailed comparison with pros and cons."
			add("Added comparison framework")
		}
	case TaskCreative:
		if !strings.Contains(lower, "creative") {
			refined = "Be creative and imaginative in your response to: " + prompt
			add("Added creative direction")
		}
		if !strings.Contains(lower, "ideas") {
			refined += ". Generate multiple innovative ideas and approaches."
			add("Added idea generation request")
		}
	}

	if !strings.Contains(lower, "please") && !strings.Contains(lower, "could you") {
		refined = "Please " + strings.ToLower(refined)
		add("Added polite request format")
	}

	if length < 30 && len(improvements) == 0 {
		refined = "Please provide a detailed explanation about: " + prompt
		add("Added context and detail request")
	}

	return Result{
		OriginalPrompt: prompt,
		RefinedPrompt:  refined,
		Improvements:   withDefault(improvements),
		Confidence:     min(100, 70+len(improvements)*10),
		FallbackUsed:   true,
	}
}

func withDefault(improvements []string) []string {
	if len(improvements) == 0 {
		return []string{defaultImprovement}
	}
	return improvements
}
