// Package trust computes heuristic reliability scores for generated content.
// The scores are a lightweight lexical signal, not a fact check.
package trust

import (
	"math"
	"math/rand"
	"regexp"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	baseScore    = 70
	bonus        = 10
	maxScore     = 100
	jitterRange  = 10
	longContent  = 100
	lowTrustMark = 70
)

var (
	digitPattern     = regexp.MustCompile(`\d`)
	citationPhrase   = regexp.MustCompile(`(?i)\b(according to|research shows|studies indicate)\b`)
	referencePattern = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)`)
	hedgingPattern   = regexp.MustCompile(`(?i)\b(might|could|possibly|perhaps|likely)\b`)
	absolutePattern  = regexp.MustCompile(`(?i)\b(always|never|all|none|every|completely)\b`)
)

// Option configures an Annotator.
type Option func(*Annotator)

// WithSeed makes the jitter sequence reproducible.
func WithSeed(seed int64) Option {
	return func(a *Annotator) {
		a.rng = rand.New(rand.NewSource(seed))
	}
}

// WithoutJitter disables the random component entirely.
func WithoutJitter() Option {
	return func(a *Annotator) {
		a.jitter = false
	}
}

// Annotator scores content. It is safe for concurrent use.
type Annotator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	jitter bool
}

// New returns an annotator with non-deterministic jitter unless configured
// otherwise.
func New(opts ...Option) *Annotator {
	a := &Annotator{jitter: true}
	for _, opt := range opts {
		opt(a)
	}
	if a.rng == nil {
		a.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return a
}

// Score returns an integer in [0,100] for content.
func (a *Annotator) Score(content string) int {
	score := baseScore
	if utf8.RuneCountInString(content) > longContent {
		score += bonus
	}
	if digitPattern.MatchString(content) {
		score += bonus
	}
	if citationPhrase.MatchString(content) {
		score += bonus
	}
	score = min(score, maxScore)
	return min(maxScore, score+a.nextJitter())
}

func (a *Annotator) nextJitter() int {
	if !a.jitter {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rng.Intn(jitterRange)
}

// Factors breaks a trust report down by dimension.
type Factors struct {
	FactualAccuracy    int `json:"factual_accuracy"`
	SourceReliability  int `json:"source_reliability"`
	LogicalConsistency int `json:"logical_consistency"`
	Completeness       int `json:"completeness"`
}

// Report is the detailed trust assessment of one piece of content.
type Report struct {
	TrustScore  int      `json:"trust_score"`
	Confidence  int      `json:"confidence"`
	Factors     Factors  `json:"factors"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
}

// Check produces a detailed report. model may name a model with a known
// reputation; contextText is accepted for future use and does not affect
// the result.
func (a *Annotator) Check(content, model, contextText string) Report {
	_ = contextText

	length := utf8.RuneCountInString(content)
	hasNumbers := digitPattern.MatchString(content)
	hasReferences := referencePattern.MatchString(content)
	hasHedging := hedgingPattern.MatchString(content)
	hasAbsolutes := absolutePattern.MatchString(content)

	factual := 60
	if hasNumbers {
		factual += 15
	}
	if hasReferences {
		factual += 20
	}
	if hasHedging {
		factual += 5
	}

	source := 50
	if hasReferences {
		source += 30
	}
	if model == "llama-4" {
		source += 20
	} else {
		source += 10
	}

	logic := 70
	if length > 200 {
		logic += 15
	}
	if hasAbsolutes {
		logic -= 10
	}

	factors := Factors{
		FactualAccuracy:    min(maxScore, factual),
		SourceReliability:  min(maxScore, source),
		LogicalConsistency: min(maxScore, logic),
		Completeness:       min(90, length/10),
	}
	sum := factors.FactualAccuracy + factors.SourceReliability + factors.LogicalConsistency + factors.Completeness
	score := int(math.Round(float64(sum) / 4))

	warnings := []string{}
	suggestions := []string{}
	if hasAbsolutes {
		warnings = append(warnings, "Contains absolute statements that may be overgeneralized")
		suggestions = append(suggestions, "Consider using more nuanced language")
	}
	if !hasReferences && length > 300 {
		warnings = append(warnings, "Long response without citations or references")
		suggestions = append(suggestions, "Add sources or references to support claims")
	}
	if score < lowTrustMark {
		suggestions = append(suggestions, "Request clarification or additional sources")
	}

	return Report{
		TrustScore:  score,
		Confidence:  min(maxScore, score+a.nextJitter()),
		Factors:     factors,
		Warnings:    warnings,
		Suggestions: suggestions,
	}
}
