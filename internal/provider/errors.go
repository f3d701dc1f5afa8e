package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Kind is the top-level classification of an adapter failure.
type Kind string

const (
	KindCredentialMissing Kind = "credential_missing"
	KindUpstreamRejected  Kind = "upstream_rejected"
	KindUpstreamMalformed Kind = "upstream_malformed"
	KindNetworkFailure    Kind = "network_failure"
)

// Cause refines KindUpstreamRejected so callers can act on the failure.
type Cause string

const (
	CauseInvalidCredential Cause = "invalid_credential"
	CauseForbiddenBalance  Cause = "forbidden_balance"
	CauseForbiddenLocked   Cause = "forbidden_locked"
	CauseForbiddenOther    Cause = "forbidden_other"
	CauseBadRequest        Cause = "bad_request"
	CauseNotFound          Cause = "not_found"
	CauseRateLimited       Cause = "rate_limited"
	CauseUnavailable       Cause = "unavailable"
	CauseUpstreamError     Cause = "upstream_error"
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrCredentialMissing = errors.New("credential missing")
	ErrUpstreamRejected  = errors.New("upstream rejected request")
	ErrUpstreamMalformed = errors.New("upstream response malformed")
	ErrNetworkFailure    = errors.New("network failure")
)

const errorBodyLimit = 64 * 1024

// Error is the typed failure returned by every adapter.
type Error struct {
	Kind     Kind
	Cause    Cause
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrCredentialMissing:
		return e.Kind == KindCredentialMissing
	case ErrUpstreamRejected:
		return e.Kind == KindUpstreamRejected
	case ErrUpstreamMalformed:
		return e.Kind == KindUpstreamMalformed
	case ErrNetworkFailure:
		return e.Kind == KindNetworkFailure
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// CredentialMissing reports an absent credential, detected before any I/O.
func CredentialMissing(providerName string) *Error {
	return &Error{
		Kind:     KindCredentialMissing,
		Provider: providerName,
		Message:  fmt.Sprintf("%s API key required", providerName),
	}
}

// Malformed reports a 2xx reply that lacks the expected content.
func Malformed(providerName, detail string, err error) *Error {
	return &Error{
		Kind:     KindUpstreamMalformed,
		Provider: providerName,
		Message:  fmt.Sprintf("%s returned an unusable response: %s", providerName, detail),
		Err:      err,
	}
}

// Network reports a transport-level failure, including client timeouts.
func Network(providerName string, err error) *Error {
	return &Error{
		Kind:     KindNetworkFailure,
		Provider: providerName,
		Message:  fmt.Sprintf("%s request failed: %v", providerName, err),
		Err:      err,
	}
}

// Rejected classifies a non-2xx status into a cause with an actionable message.
func Rejected(providerName string, status int, detail string) *Error {
	e := &Error{
		Kind:     KindUpstreamRejected,
		Provider: providerName,
		Status:   status,
	}

	switch status {
	case http.StatusUnauthorized:
		e.Cause = CauseInvalidCredential
		e.Message = fmt.Sprintf("Invalid %s API key. Please check your API key in settings.", providerName)
	case http.StatusForbidden:
		switch {
		case strings.Contains(detail, "Exhausted balance"):
			e.Cause = CauseForbiddenBalance
			e.Message = fmt.Sprintf("%s account balance exhausted. Please top up your account balance.", providerName)
		case strings.Contains(detail, "User is locked"):
			e.Cause = CauseForbiddenLocked
			e.Message = fmt.Sprintf("%s account is locked. Please check your account status.", providerName)
		default:
			e.Cause = CauseForbiddenOther
			e.Message = fmt.Sprintf("%s API access forbidden. Please check your API key and account permissions.", providerName)
		}
	case http.StatusBadRequest:
		e.Cause = CauseBadRequest
		if detail == "" {
			detail = "Invalid request parameters"
		}
		e.Message = fmt.Sprintf("%s API bad request: %s", providerName, detail)
	case http.StatusNotFound:
		e.Cause = CauseNotFound
		e.Message = fmt.Sprintf("%s model not found or not available", providerName)
	case http.StatusTooManyRequests:
		e.Cause = CauseRateLimited
		e.Message = fmt.Sprintf("%s rate limit exceeded. Please try again later.", providerName)
	case http.StatusServiceUnavailable:
		e.Cause = CauseUnavailable
		e.Message = fmt.Sprintf("%s model is currently loading. Please try again in a few moments.", providerName)
	default:
		e.Cause = CauseUpstreamError
		if detail == "" {
			e.Message = fmt.Sprintf("%s API error: %d", providerName, status)
		} else {
			e.Message = fmt.Sprintf("%s API error: %d - %s", providerName, status, detail)
		}
	}
	return e
}

// RejectedFromResponse reads a bounded error body and classifies the status.
func RejectedFromResponse(providerName string, resp *http.Response) *Error {
	return Rejected(providerName, resp.StatusCode, ReadErrorDetail(resp.Body))
}

// ReadErrorDetail extracts a human-readable detail from an error body. JSON
// bodies shaped like {"detail": ...}, {"error": ...} or {"message": ...} are
// unwrapped; anything else is returned trimmed.
func ReadErrorDetail(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, errorBodyLimit))
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return ""
	}

	var decoded struct {
		Detail  json.RawMessage `json:"detail"`
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return text
	}
	for _, raw := range []json.RawMessage{decoded.Detail, decoded.Error} {
		if msg := rawMessageText(raw); msg != "" {
			return msg
		}
	}
	if decoded.Message != "" {
		return decoded.Message
	}
	return text
}

func rawMessageText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Msg != "" {
			return obj.Msg
		}
	}
	return strings.TrimSpace(string(raw))
}
