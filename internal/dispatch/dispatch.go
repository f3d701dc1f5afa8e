// Package dispatch runs one request against its primary target and, when that
// fails, against the single fallback registered for it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"piesta-gateway/internal/metrics"
	"piesta-gateway/internal/models"
	"piesta-gateway/internal/provider"
	"piesta-gateway/internal/router"
)

// ErrNoCredentialsAvailable is returned when neither the primary nor a
// fallback target has a usable credential.
var ErrNoCredentialsAvailable = errors.New("no valid API keys available")

// FallbackError reports that both the primary and the fallback attempt failed.
type FallbackError struct {
	PrimaryTarget    string
	PrimaryProvider  string
	Primary          error
	FallbackTarget   string
	FallbackProvider string
	Fallback         error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("Both %s and %s failed. %s error: %v. %s error: %v",
		e.PrimaryProvider, e.FallbackProvider,
		e.PrimaryProvider, e.Primary,
		e.FallbackProvider, e.Fallback)
}

// Unwrap exposes both causes to errors.Is and errors.As.
func (e *FallbackError) Unwrap() []error {
	return []error{e.Primary, e.Fallback}
}

// Scorer annotates successful content with a trust score.
type Scorer interface {
	Score(content string) int
}

// Coordinator executes the primary-then-fallback state machine. It holds no
// per-dispatch state, so one Coordinator serves concurrent dispatches.
type Coordinator struct {
	router   *router.Router
	adapters *provider.Registry
	scorer   Scorer
	now      func() time.Time
}

// New creates a coordinator. scorer may be nil to skip annotation.
func New(r *router.Router, adapters *provider.Registry, scorer Scorer) (*Coordinator, error) {
	if r == nil {
		return nil, errors.New("router must not be nil")
	}
	if adapters == nil {
		return nil, errors.New("adapter registry must not be nil")
	}
	return &Coordinator{
		router:   r,
		adapters: adapters,
		scorer:   scorer,
		now:      time.Now,
	}, nil
}

// Dispatch resolves the target, invokes the primary adapter and walks at most
// one fallback hop. The returned envelope always echoes req.Target.
func (c *Coordinator) Dispatch(ctx context.Context, req models.Request, creds models.Credentials) (*models.Response, error) {
	start := c.now()
	metrics.ActiveDispatches.Inc()
	defer metrics.ActiveDispatches.Dec()

	family := c.router.ResolveFamily(req.Target)
	fallbackTarget, hasFallback := c.router.ResolveFallback(req.Target)
	var fallbackFamily models.Family
	if hasFallback {
		fallbackFamily = c.router.ResolveFamily(fallbackTarget)
	}
	fallbackUsable := hasFallback && creds.Has(fallbackFamily)

	slog.Debug("dispatch started",
		"target", req.Target,
		"family", family,
		"primary_key_present", creds.Has(family),
		"fallback", fallbackTarget,
		"fallback_key_present", fallbackUsable,
	)

	if !creds.Has(family) {
		if !fallbackUsable {
			metrics.DispatchesTotal.WithLabelValues(string(family), metrics.OutcomeError).Inc()
			return nil, fmt.Errorf("%w for %s", ErrNoCredentialsAvailable, req.Target)
		}
		slog.Info("primary credential absent, using fallback", "target", req.Target, "fallback", fallbackTarget)
		resp, err := c.attempt(ctx, req, fallbackTarget, fallbackFamily, creds, metrics.RoleFallback)
		if err != nil {
			metrics.FallbacksTotal.WithLabelValues(metrics.OutcomeError).Inc()
			metrics.DispatchesTotal.WithLabelValues(string(family), metrics.OutcomeError).Inc()
			return nil, err
		}
		metrics.FallbacksTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
		return c.finish(req, resp, fallbackTarget, family, start), nil
	}

	resp, primaryErr := c.attempt(ctx, req, req.Target, family, creds, metrics.RolePrimary)
	if primaryErr == nil {
		return c.finish(req, resp, req.Target, family, start), nil
	}

	if !fallbackUsable {
		metrics.DispatchesTotal.WithLabelValues(string(family), metrics.OutcomeError).Inc()
		return nil, primaryErr
	}

	slog.Warn("primary failed, trying fallback",
		"target", req.Target,
		"fallback", fallbackTarget,
		"error", primaryErr,
	)

	resp, fallbackErr := c.attempt(ctx, req, fallbackTarget, fallbackFamily, creds, metrics.RoleFallback)
	if fallbackErr != nil {
		metrics.FallbacksTotal.WithLabelValues(metrics.OutcomeError).Inc()
		metrics.DispatchesTotal.WithLabelValues(string(family), metrics.OutcomeError).Inc()
		return nil, &FallbackError{
			PrimaryTarget:    req.Target,
			PrimaryProvider:  c.providerName(family),
			Primary:          primaryErr,
			FallbackTarget:   fallbackTarget,
			FallbackProvider: c.providerName(fallbackFamily),
			Fallback:         fallbackErr,
		}
	}

	metrics.FallbacksTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return c.finish(req, resp, fallbackTarget, family, start), nil
}

func (c *Coordinator) attempt(ctx context.Context, req models.Request, target string, family models.Family, creds models.Credentials, role string) (*models.Response, error) {
	adapter, err := c.adapters.Lookup(family)
	if err != nil {
		return nil, err
	}

	began := c.now()
	resp, err := adapter.Invoke(ctx, provider.Call{
		Target:     target,
		Turns:      req.CloneTurns(),
		Sampling:   req.Sampling,
		Credential: creds.For(family),
	})
	elapsed := c.now().Sub(began)

	if err != nil {
		metrics.RecordAttempt(string(family), role, elapsed.Seconds(), string(kindLabel(err)))
		slog.Error("upstream call failed",
			"provider", adapter.Name(),
			"target", target,
			"role", role,
			"elapsed_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return nil, err
	}
	if resp == nil {
		err := provider.Malformed(adapter.Name(), "adapter returned no response", nil)
		metrics.RecordAttempt(string(family), role, elapsed.Seconds(), string(err.Kind))
		return nil, err
	}

	metrics.RecordAttempt(string(family), role, elapsed.Seconds(), "")
	metrics.RecordUsage(string(family), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp, nil
}

func (c *Coordinator) finish(req models.Request, resp *models.Response, servedBy string, family models.Family, start time.Time) *models.Response {
	resp.Model = req.Target
	resp.ServedBy = servedBy
	resp.FallbackUsed = servedBy != req.Target
	resp.ElapsedMS = c.now().Sub(start).Milliseconds()

	if c.scorer != nil {
		if content := resp.Content(); content != "" {
			score := c.scorer.Score(content)
			resp.TrustScore = &score
		}
	}

	metrics.DispatchesTotal.WithLabelValues(string(family), metrics.OutcomeSuccess).Inc()
	slog.Info("dispatch completed",
		"target", req.Target,
		"served_by", servedBy,
		"fallback_used", resp.FallbackUsed,
		"elapsed_ms", resp.ElapsedMS,
	)
	return resp
}

func (c *Coordinator) providerName(family models.Family) string {
	if a, err := c.adapters.Lookup(family); err == nil {
		return a.Name()
	}
	return string(family)
}

func kindLabel(err error) provider.Kind {
	if kind := provider.KindOf(err); kind != "" {
		return kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return provider.KindNetworkFailure
	}
	return "unknown"
}
