package refine

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"piesta-gateway/internal/models"
	"piesta-gateway/internal/provider"
)

type fakeChat struct {
	content string
	err     error
	calls   []provider.Call
}

func (f *fakeChat) Name() string          { return "fake" }
func (f *fakeChat) Family() models.Family { return models.FamilyChat }

func (f *fakeChat) Invoke(_ context.Context, call provider.Call) (*models.Response, error) {
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Response{Choices: []models.Choice{{Message: models.Message{Role: models.RoleAssistant, Content: f.content}}}}, nil
}

func TestRefineUsesChatModel(t *testing.T) {
	chat := &fakeChat{content: "  A detailed, specific portrait of a cat in watercolor style  "}
	svc := New(chat, "")

	got, err := svc.Refine(context.Background(), Request{Prompt: "a cat", TaskType: "image_generation", TargetModel: "fal-ai/flux-dev"}, "sk-or")
	if err != nil {
		t.Fatalf("Refine() unexpected error: %v", err)
	}

	if got.RefinedPrompt != "A detailed, specific portrait of a cat in watercolor style" {
		t.Errorf("RefinedPrompt = %q", got.RefinedPrompt)
	}
	wantImprovements := []string{"Enhanced with more detail", "Added style specifications", "Made prompt more specific"}
	if !reflect.DeepEqual(got.Improvements, wantImprovements) {
		t.Errorf("Improvements = %v, want %v", got.Improvements, wantImprovements)
	}
	if got.Confidence != 95 || got.FallbackUsed {
		t.Errorf("Confidence = %d, FallbackUsed = %v", got.Confidence, got.FallbackUsed)
	}

	if len(chat.calls) != 1 {
		t.Fatalf("chat invoked %d times, want 1", len(chat.calls))
	}
	call := chat.calls[0]
	if call.Target != DefaultModel || call.Credential != "sk-or" {
		t.Errorf("call target = %q, credential = %q", call.Target, call.Credential)
	}
	if call.Sampling.MaxTokens == nil || *call.Sampling.MaxTokens != 150 {
		t.Errorf("MaxTokens = %v, want 150", call.Sampling.MaxTokens)
	}
	if call.Sampling.Temperature == nil || *call.Sampling.Temperature != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", call.Sampling.Temperature)
	}
	if len(call.Turns) != 2 || call.Turns[0].Role != models.RoleSystem || call.Turns[1].Role != models.RoleUser {
		t.Fatalf("turns = %+v", call.Turns)
	}
	if !strings.Contains(call.Turns[0].Content, "Task Type: image") || !strings.Contains(call.Turns[0].Content, "Target Model: fal-ai/flux-dev") {
		t.Errorf("system prompt = %q", call.Turns[0].Content)
	}
	if call.Turns[1].Content != `Please improve this prompt: "a cat"` {
		t.Errorf("user turn = %q", call.Turns[1].Content)
	}
}

func TestRefineRemoteWithoutImprovements(t *testing.T) {
	svc := New(&fakeChat{content: "cat"}, "custom/model")
	got, err := svc.Refine(context.Background(), Request{Prompt: "a cat"}, "k")
	if err != nil {
		t.Fatalf("Refine() unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got.Improvements, []string{defaultImprovement}) || got.Confidence != 80 {
		t.Errorf("result = %+v", got)
	}
}

func TestRefineFallsBackToHeuristics(t *testing.T) {
	tests := []struct {
		name string
		chat provider.Adapter
	}{
		{name: "upstream error", chat: &fakeChat{err: provider.Rejected("OpenRouter", 401, "bad key")}},
		{name: "blank reply", chat: &fakeChat{content: "   "}},
		{name: "no adapter", chat: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New(tt.chat, "").Refine(context.Background(), Request{Prompt: "please help"}, "k")
			if err != nil {
				t.Fatalf("Refine() unexpected error: %v", err)
			}
			if !got.FallbackUsed {
				t.Error("FallbackUsed = false, want true")
			}
			if got.RefinedPrompt != "Please provide a detailed explanation of: please help" {
				t.Errorf("RefinedPrompt = %q", got.RefinedPrompt)
			}
			if got.Confidence != 80 {
				t.Errorf("Confidence = %d, want 80", got.Confidence)
			}
		})
	}
}

func TestLocalHeuristics(t *testing.T) {
	tests := []struct {
		name         string
		prompt       string
		task         string
		wantPrefix   string
		improvements []string
		confidence   int
	}{
		{
			name:       "short image prompt",
			prompt:     "a cat",
			task:       TaskImage,
			wantPrefix: "Please create a detailed, high-quality image",
			improvements: []string{
				"Added request for detailed explanation",
				"Added detail and quality specifications",
				"Added style specifications",
				"Added lighting specifications",
				"Added polite request format",
			},
			confidence: 100,
		},
		{
			name:       "analytical comparison",
			prompt:     "python vs go for web services, which one should I pick today?",
			task:       TaskAnalytical,
			wantPrefix: "Please please analyze and provide a structured breakdown of: python vs go",
			improvements: []string{
				"Added analytical structure request",
				"Added comparison framework",
				"Added polite request format",
			},
			confidence: 100,
		},
		{
			name:         "already polite and long",
			prompt:       "Could you please summarize the history of the Roman empire in a few paragraphs",
			task:         TaskGeneral,
			wantPrefix:   "Could you please summarize",
			improvements: []string{defaultImprovement},
			confidence:   70,
		},
		{
			name:       "long text prompt gets structure",
			prompt:     strings.Repeat("describe the water cycle and how rainfall forms in mountains ", 2),
			task:       TaskText,
			wantPrefix: "Please please provide a comprehensive and detailed response to:",
			improvements: []string{
				"Added comprehensive response request",
				"Added structure requirements",
				"Added polite request format",
			},
			confidence: 100,
		},
		{
			name:       "creative",
			prompt:     "write a poem about autumn leaves falling in the quiet park",
			task:       TaskCreative,
			wantPrefix: "Please be creative and imaginative in your response to:",
			improvements: []string{
				"Added creative direction",
				"Added idea generation request",
				"Added polite request format",
			},
			confidence: 100,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := local(tt.prompt, tt.task)
			if !strings.HasPrefix(got.RefinedPrompt, tt.wantPrefix) {
				t.Errorf("RefinedPrompt = %q, want prefix %q", got.RefinedPrompt, tt.wantPrefix)
			}
			if !reflect.DeepEqual(got.Improvements, tt.improvements) {
				t.Errorf("Improvements = %v, want %v", got.Improvements, tt.improvements)
			}
			if got.Confidence != tt.confidence {
				t.Errorf("Confidence = %d, want %d", got.Confidence, tt.confidence)
			}
			if got.OriginalPrompt != tt.prompt || !got.FallbackUsed {
				t.Errorf("OriginalPrompt = %q, FallbackUsed = %v", got.OriginalPrompt, got.FallbackUsed)
			}
		})
	}
}

func TestNormalizeTask(t *testing.T) {
	tests := map[string]string{
		"":                 TaskGeneral,
		"IMAGE":            TaskImage,
		"image_generation": TaskImage,
		"text_generation":  TaskText,
		"coding":           TaskCoding,
		"poetry":           TaskGeneral,
	}
	for in, want := range tests {
		if got := normalizeTask(in); got != want {
			t.Errorf("normalizeTask(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRefineRejectsEmptyPrompt(t *testing.T) {
	chat := &fakeChat{content: "x"}
	_, err := New(chat, "").Refine(context.Background(), Request{Prompt: "  "}, "k")
	if !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("Refine() error = %v, want ErrEmptyPrompt", err)
	}
	if len(chat.calls) != 0 {
		t.Error("chat should not be invoked for an empty prompt")
	}
}
