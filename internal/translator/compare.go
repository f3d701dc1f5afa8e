package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"piesta-gateway/internal/dispatch"
	"piesta-gateway/internal/fanout"
	"piesta-gateway/internal/models"
	"piesta-gateway/internal/provider"
)

// Error types rendered for failures that carry no provider kind.
const (
	ErrorTypeNoCredentials  = "no_credentials_available"
	ErrorTypeFallbackFailed = "fallback_failed"
	ErrorTypeInternal       = "internal_error"
)

var errNoTargets = errors.New("at least one target is required")

// CompareRequest is the body of a multi-target comparison.
type CompareRequest struct {
	Targets       []string                 `json:"targets"`
	TurnsByTarget map[string][]ChatMessage `json:"turnsByTarget"`
	Turns         []ChatMessage            `json:"turns"`
	Credentials   CredentialSet            `json:"credentials"`
	Sampling      *Sampling                `json:"sampling"`
}

// CredentialSet carries one secret per provider family.
type CredentialSet struct {
	ChatFamily   string `json:"chatFamily"`
	ImageFamilyA string `json:"imageFamilyA"`
	ImageFamilyB string `json:"imageFamilyB"`
}

// ToCredentials converts the wire credential set.
func (c CredentialSet) ToCredentials() models.Credentials {
	return models.Credentials{
		Chat:        c.ChatFamily,
		Fal:         c.ImageFamilyA,
		HuggingFace: c.ImageFamilyB,
	}
}

// Sampling holds optional generation parameters shared by every target.
type Sampling struct {
	Temperature    *float64 `json:"temperature"`
	MaxOutputUnits *int     `json:"maxOutputUnits"`
	OutputFormat   string   `json:"outputFormat"`
}

// UnmarshalJSON decodes and validates the request.
func (r *CompareRequest) UnmarshalJSON(data []byte) error {
	type alias CompareRequest
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode compare request: %w", err)
	}
	*r = CompareRequest(raw)
	if len(r.TurnsByTarget) > 0 {
		byTarget := make(map[string][]ChatMessage, len(r.TurnsByTarget))
		for target, msgs := range r.TurnsByTarget {
			byTarget[strings.TrimSpace(target)] = msgs
		}
		r.TurnsByTarget = byTarget
	}
	return r.validate()
}

func (r *CompareRequest) validate() error {
	hasTarget := false
	for _, t := range r.Targets {
		if strings.TrimSpace(t) != "" {
			hasTarget = true
			break
		}
	}
	if !hasTarget {
		return errNoTargets
	}
	for _, t := range r.Targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := r.TurnsByTarget[t]; !ok && len(r.Turns) == 0 {
			return fmt.Errorf("target %s: %w", t, errEmptyMessages)
		}
	}
	if r.Sampling != nil {
		if err := validateSampling(r.Sampling.Temperature, r.Sampling.MaxOutputUnits); err != nil {
			return err
		}
	}
	return nil
}

// ToCompare converts the wire request into a fan-out request and the caller's
// credentials.
func (r CompareRequest) ToCompare() (fanout.CompareRequest, models.Credentials) {
	req := fanout.CompareRequest{
		Targets:     r.Targets,
		SharedTurns: toTurns(r.Turns),
	}
	if len(r.TurnsByTarget) > 0 {
		req.TurnsByTarget = make(map[string][]models.Turn, len(r.TurnsByTarget))
		for target, msgs := range r.TurnsByTarget {
			req.TurnsByTarget[strings.TrimSpace(target)] = toTurns(msgs)
		}
	}
	if r.Sampling != nil {
		req.Sampling = models.Sampling{
			Temperature:  r.Sampling.Temperature,
			MaxTokens:    r.Sampling.MaxOutputUnits,
			OutputFormat: r.Sampling.OutputFormat,
		}
	}
	return req, r.Credentials.ToCredentials()
}

// ErrorDetail is the wire form of a failure.
type ErrorDetail struct {
	Type    string `json:"type"`
	Cause   string `json:"cause,omitempty"`
	Message string `json:"message"`
}

// FromError classifies err for the wire.
func FromError(err error) ErrorDetail {
	var fbErr *dispatch.FallbackError
	if errors.As(err, &fbErr) {
		return ErrorDetail{Type: ErrorTypeFallbackFailed, Message: err.Error()}
	}
	if errors.Is(err, dispatch.ErrNoCredentialsAvailable) {
		return ErrorDetail{Type: ErrorTypeNoCredentials, Message: err.Error()}
	}

	var pErr *provider.Error
	if errors.As(err, &pErr) {
		return ErrorDetail{Type: string(pErr.Kind), Cause: string(pErr.Cause), Message: pErr.Message}
	}
	return ErrorDetail{Type: ErrorTypeInternal, Message: err.Error()}
}

// CompareEntry is either an envelope or an error.
type CompareEntry struct {
	*ChatCompletionResponse
	Error *ErrorDetail `json:"error,omitempty"`
}

// CompareResponse maps each target to its entry.
type CompareResponse struct {
	Results map[string]CompareEntry `json:"results"`
}

// StreamResult is one SSE event of a streamed comparison.
type StreamResult struct {
	Target string `json:"target"`
	CompareEntry
}

// FromResult renders one fan-out result.
func FromResult(r fanout.Result) CompareEntry {
	if r.Err != nil {
		detail := FromError(r.Err)
		return CompareEntry{Error: &detail}
	}
	resp := FromResponse(r.Response)
	return CompareEntry{ChatCompletionResponse: &resp}
}

// FromResults renders a completed fan-out.
func FromResults(results fanout.Results) CompareResponse {
	out := CompareResponse{Results: make(map[string]CompareEntry, len(results))}
	for _, r := range results {
		out.Results[r.Target] = FromResult(r)
	}
	return out
}
