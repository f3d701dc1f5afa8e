// Package fanout submits one logical request to many targets concurrently and
// collects every outcome, successful or not.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"piesta-gateway/internal/metrics"
	"piesta-gateway/internal/models"
)

// ErrNoTargets is returned when a compare request names no targets.
var ErrNoTargets = errors.New("at least one target is required")

// Dispatcher runs a single request to completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, req models.Request, creds models.Credentials) (*models.Response, error)
}

// CompareRequest describes one fan-out. A target missing from TurnsByTarget
// uses SharedTurns.
type CompareRequest struct {
	Targets       []string
	TurnsByTarget map[string][]models.Turn
	SharedTurns   []models.Turn
	Sampling      models.Sampling
}

// Result is the outcome for one target. Exactly one of Response and Err is set.
type Result struct {
	Target   string
	Response *models.Response
	Err      error
}

// Results holds one entry per distinct target, in request order.
type Results []Result

// Map indexes the results by target.
func (rs Results) Map() map[string]Result {
	out := make(map[string]Result, len(rs))
	for _, r := range rs {
		out[r.Target] = r
	}
	return out
}

// Failed counts the entries carrying an error.
func (rs Results) Failed() int {
	n := 0
	for _, r := range rs {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxParallel caps concurrent dispatches. Zero or less means unbounded.
func WithMaxParallel(n int) Option {
	return func(o *Orchestrator) {
		o.maxParallel = n
	}
}

// Orchestrator fans requests out over a Dispatcher.
type Orchestrator struct {
	dispatcher  Dispatcher
	maxParallel int
}

// New creates an orchestrator.
func New(d Dispatcher, opts ...Option) (*Orchestrator, error) {
	if d == nil {
		return nil, errors.New("dispatcher must not be nil")
	}
	o := &Orchestrator{dispatcher: d}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Compare dispatches every distinct target concurrently and waits for all of
// them. One target failing never cancels the others.
func (o *Orchestrator) Compare(ctx context.Context, req CompareRequest, creds models.Credentials) (Results, error) {
	targets := distinctTargets(req.Targets)
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	// Each goroutine owns one slot, so no locking is needed.
	results := make(Results, len(targets))
	o.run(ctx, targets, req, creds, func(i int, r Result) {
		results[i] = r
	})
	return results, nil
}

// Stream is Compare with progressive delivery: each result is sent as soon as
// its dispatch finishes and the channel is closed after the last one. The
// channel is buffered for every target, so abandoning it leaks nothing.
func (o *Orchestrator) Stream(ctx context.Context, req CompareRequest, creds models.Credentials) (<-chan Result, error) {
	targets := distinctTargets(req.Targets)
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	out := make(chan Result, len(targets))
	go func() {
		defer close(out)
		o.run(ctx, targets, req, creds, func(_ int, r Result) {
			out <- r
		})
	}()
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, targets []string, req CompareRequest, creds models.Credentials, emit func(int, Result)) {
	metrics.CompareTargets.Observe(float64(len(targets)))

	var sem *semaphore.Weighted
	if o.maxParallel > 0 && o.maxParallel < len(targets) {
		sem = semaphore.NewWeighted(int64(o.maxParallel))
	}

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					emit(i, Result{Target: target, Err: err})
					return
				}
				defer sem.Release(1)
			}
			emit(i, o.dispatchOne(ctx, target, req, creds))
		}(i, target)
	}
	wg.Wait()
}

func (o *Orchestrator) dispatchOne(ctx context.Context, target string, req CompareRequest, creds models.Credentials) (result Result) {
	result.Target = target
	defer func() {
		if p := recover(); p != nil {
			slog.Error("dispatch panicked", "target", target, "panic", p)
			result.Response = nil
			result.Err = fmt.Errorf("dispatch for %s panicked: %v", target, p)
		}
	}()

	turns, ok := req.TurnsByTarget[target]
	if !ok {
		turns = req.SharedTurns
	}

	resp, err := o.dispatcher.Dispatch(ctx, models.Request{
		Target:   target,
		Turns:    cloneTurns(turns),
		Sampling: req.Sampling,
	}, creds)
	if err != nil {
		result.Err = err
		return result
	}
	if resp == nil {
		result.Err = fmt.Errorf("dispatch for %s returned no response", target)
		return result
	}
	result.Response = resp
	return result
}

func distinctTargets(targets []string) []string {
	seen := make(map[string]struct{}, len(targets))
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func cloneTurns(turns []models.Turn) []models.Turn {
	if len(turns) == 0 {
		return nil
	}
	out := make([]models.Turn, len(turns))
	copy(out, turns)
	return out
}
