package fanout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"piesta-gateway/internal/models"
)

type fakeDispatcher struct {
	delays map[string]time.Duration
	fail   map[string]error
	panics map[string]bool

	mu       sync.Mutex
	seen     map[string][]models.Turn
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req models.Request, creds models.Credentials) (*models.Response, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	f.mu.Lock()
	if f.seen == nil {
		f.seen = make(map[string][]models.Turn)
	}
	f.seen[req.Target] = req.Turns
	f.mu.Unlock()

	if d := f.delays[req.Target]; d > 0 {
		time.Sleep(d)
	}
	if f.panics[req.Target] {
		panic("adapter bug")
	}
	if err := f.fail[req.Target]; err != nil {
		return nil, err
	}
	return &models.Response{
		Model:   req.Target,
		Choices: []models.Choice{{Message: models.Message{Role: models.RoleAssistant, Content: "ok " + req.Target}}},
	}, nil
}

func TestCompareIsolatesFailuresAndRunsConcurrently(t *testing.T) {
	const latency = 150 * time.Millisecond
	d := &fakeDispatcher{
		delays: map[string]time.Duration{"a/one": latency, "b/two": latency, "c/three": latency},
		fail:   map[string]error{"b/two": errors.New("target two failed")},
	}
	o, err := New(d)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}

	start := time.Now()
	results, err := o.Compare(context.Background(), CompareRequest{
		Targets:     []string{"a/one", "b/two", "c/three"},
		SharedTurns: []models.Turn{{Role: models.RoleUser, Content: "hi"}},
	}, models.Credentials{Chat: "k"})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Compare() unexpected error: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	byTarget := results.Map()
	if len(byTarget) != 3 {
		t.Fatalf("len(Map()) = %d, want 3", len(byTarget))
	}
	if results.Failed() != 1 || byTarget["b/two"].Err == nil {
		t.Errorf("failures = %d, b/two err = %v", results.Failed(), byTarget["b/two"].Err)
	}
	for _, target := range []string{"a/one", "c/three"} {
		if r := byTarget[target]; r.Err != nil || r.Response.Content() != "ok "+target {
			t.Errorf("%s result = %+v", target, r)
		}
	}
	if elapsed >= 2*latency {
		t.Errorf("Compare() took %s, want close to one latency (%s)", elapsed, latency)
	}
}

func TestCompareOrderAndDeduplication(t *testing.T) {
	o, _ := New(&fakeDispatcher{})
	results, err := o.Compare(context.Background(), CompareRequest{
		Targets: []string{"z/last", " a/first ", "z/last", ""},
	}, models.Credentials{})
	if err != nil {
		t.Fatalf("Compare() unexpected error: %v", err)
	}
	if len(results) != 2 || results[0].Target != "z/last" || results[1].Target != "a/first" {
		t.Errorf("results = %+v", results)
	}
}

func TestCompareTurnsPerTarget(t *testing.T) {
	d := &fakeDispatcher{}
	o, _ := New(d)
	shared := []models.Turn{{Role: models.RoleUser, Content: "shared"}}
	own := []models.Turn{{Role: models.RoleUser, Content: "own"}}

	_, err := o.Compare(context.Background(), CompareRequest{
		Targets:       []string{"a/x", "fal-ai/flux-dev"},
		TurnsByTarget: map[string][]models.Turn{"a/x": own},
		SharedTurns:   shared,
	}, models.Credentials{})
	if err != nil {
		t.Fatalf("Compare() unexpected error: %v", err)
	}
	if got := d.seen["a/x"]; len(got) != 1 || got[0].Content != "own" {
		t.Errorf("a/x turns = %+v", got)
	}
	if got := d.seen["fal-ai/flux-dev"]; len(got) != 1 || got[0].Content != "shared" {
		t.Errorf("fal turns = %+v", got)
	}
	if &d.seen["fal-ai/flux-dev"][0] == &shared[0] {
		t.Error("dispatcher received the caller's slice instead of a copy")
	}
}

func TestCompareRecoversPanics(t *testing.T) {
	d := &fakeDispatcher{panics: map[string]bool{"bad/one": true}}
	o, _ := New(d)
	results, err := o.Compare(context.Background(), CompareRequest{Targets: []string{"bad/one", "good/one"}}, models.Credentials{})
	if err != nil {
		t.Fatalf("Compare() unexpected error: %v", err)
	}
	m := results.Map()
	if m["bad/one"].Err == nil || m["bad/one"].Response != nil {
		t.Errorf("bad/one = %+v, want recovered error", m["bad/one"])
	}
	if m["good/one"].Err != nil {
		t.Errorf("good/one err = %v", m["good/one"].Err)
	}
}

func TestCompareNoTargets(t *testing.T) {
	o, _ := New(&fakeDispatcher{})
	if _, err := o.Compare(context.Background(), CompareRequest{Targets: []string{" "}}, models.Credentials{}); !errors.Is(err, ErrNoTargets) {
		t.Errorf("Compare() error = %v, want ErrNoTargets", err)
	}
	if _, err := o.Stream(context.Background(), CompareRequest{}, models.Credentials{}); !errors.Is(err, ErrNoTargets) {
		t.Errorf("Stream() error = %v, want ErrNoTargets", err)
	}
}

func TestCompareMaxParallel(t *testing.T) {
	d := &fakeDispatcher{delays: map[string]time.Duration{}}
	targets := []string{"a/1", "a/2", "a/3", "a/4", "a/5", "a/6"}
	for _, target := range targets {
		d.delays[target] = 20 * time.Millisecond
	}
	o, _ := New(d, WithMaxParallel(2))

	results, err := o.Compare(context.Background(), CompareRequest{Targets: targets}, models.Credentials{})
	if err != nil {
		t.Fatalf("Compare() unexpected error: %v", err)
	}
	if len(results) != len(targets) || results.Failed() != 0 {
		t.Errorf("results = %+v", results)
	}
	if peak := d.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestStreamDeliversInCompletionOrder(t *testing.T) {
	d := &fakeDispatcher{
		delays: map[string]time.Duration{"slow/model": 120 * time.Millisecond, "fast/model": 10 * time.Millisecond},
		fail:   map[string]error{"slow/model": errors.New("slow failure")},
	}
	o, _ := New(d)

	ch, err := o.Stream(context.Background(), CompareRequest{Targets: []string{"slow/model", "fast/model"}}, models.Credentials{})
	if err != nil {
		t.Fatalf("Stream() unexpected error: %v", err)
	}

	var got []Result
	for r := range ch {
		got = append(got, r)
	}
	if len(got) != 2 {
		t.Fatalf("received %d results, want 2", len(got))
	}
	if got[0].Target != "fast/model" || got[1].Target != "slow/model" {
		t.Errorf("order = %s, %s; want fast first", got[0].Target, got[1].Target)
	}
	if got[1].Err == nil {
		t.Error("slow/model should carry its error")
	}
}

func TestNewRequiresDispatcher(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("New(nil) expected error")
	}
}
