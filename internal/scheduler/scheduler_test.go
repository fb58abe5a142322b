package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"gardenia/internal/models"
	"gardenia/internal/store"
	"gardenia/internal/telemetry"
)

type fakeTelemetry struct {
	fetches   int
	refreshes int
	fetchErrs []error
}

func (f *fakeTelemetry) FetchData(ctx context.Context, t time.Time) error {
	f.fetches++
	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		return err
	}
	return nil
}

func (f *fakeTelemetry) RefreshToken(ctx context.Context) error {
	f.refreshes++
	return nil
}

func (f *fakeTelemetry) FetchStation(ctx context.Context) error { return nil }

type fakeEvaluator struct {
	passes int
	err    error
}

func (f *fakeEvaluator) Evaluate(ctx context.Context) error {
	f.passes++
	return f.err
}

type fakePlugs struct {
	syncs int
}

func (f *fakePlugs) SyncAll(ctx context.Context) { f.syncs++ }

type errorTransport struct{}

func (errorTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("no network in tests")
}

func testClock() time.Time {
	return time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
}

func newTestScheduler(tel *fakeTelemetry, eval *fakeEvaluator, plugs *fakePlugs) (*Scheduler, *store.Memory) {
	kv := store.NewMemory()
	s := New(kv, tel, eval, plugs, nil, nil)
	s.now = testClock
	s.http = &http.Client{Transport: errorTransport{}}
	s.stopped = true // keep ticks from rearming in tests
	return s, kv
}

func TestTickRunsFullPipeline(t *testing.T) {
	tel := &fakeTelemetry{}
	eval := &fakeEvaluator{}
	plugs := &fakePlugs{}
	s, kv := newTestScheduler(tel, eval, plugs)

	s.Tick(context.Background())

	if tel.fetches != 1 || eval.passes != 1 || plugs.syncs != 1 {
		t.Fatalf("pipeline: fetches=%d passes=%d syncs=%d", tel.fetches, eval.passes, plugs.syncs)
	}
	var lastTick string
	found, err := kv.Get(context.Background(), []string{"settings", "tickrate", "last_tick"}, &lastTick)
	if err != nil || !found {
		t.Fatalf("last_tick missing: found=%v err=%v", found, err)
	}
	if lastTick != models.Stamp(testClock()) {
		t.Fatalf("last_tick %q", lastTick)
	}
}

func TestTickRetriesOnceAfterTokenRefresh(t *testing.T) {
	tel := &fakeTelemetry{fetchErrs: []error{
		fmt.Errorf("station: %w", telemetry.ErrTokenExpired),
	}}
	eval := &fakeEvaluator{}
	plugs := &fakePlugs{}
	s, _ := newTestScheduler(tel, eval, plugs)

	s.Tick(context.Background())

	if tel.refreshes != 1 {
		t.Fatalf("refreshes=%d", tel.refreshes)
	}
	if tel.fetches != 2 {
		t.Fatalf("fetches=%d, want the single retry", tel.fetches)
	}
	if eval.passes != 1 || plugs.syncs != 1 {
		t.Fatal("pipeline did not continue after retry")
	}
}

func TestTickDoesNotRetryTwice(t *testing.T) {
	tel := &fakeTelemetry{fetchErrs: []error{
		fmt.Errorf("a: %w", telemetry.ErrTokenExpired),
		fmt.Errorf("b: %w", telemetry.ErrTokenExpired),
	}}
	s, _ := newTestScheduler(tel, &fakeEvaluator{}, &fakePlugs{})

	s.Tick(context.Background())

	if tel.fetches != 2 || tel.refreshes != 1 {
		t.Fatalf("fetches=%d refreshes=%d", tel.fetches, tel.refreshes)
	}
}

func TestTickSurvivesFailures(t *testing.T) {
	tel := &fakeTelemetry{fetchErrs: []error{errors.New("cloud down")}}
	eval := &fakeEvaluator{err: errors.New("store broken")}
	plugs := &fakePlugs{}
	s, kv := newTestScheduler(tel, eval, plugs)

	s.Tick(context.Background())

	if plugs.syncs != 1 {
		t.Fatal("state sync skipped after earlier failures")
	}
	if found, _ := kv.Get(context.Background(), []string{"settings", "tickrate", "last_tick"}, nil); !found {
		t.Fatal("last_tick not stamped after failures")
	}
}

func TestTickrateFloor(t *testing.T) {
	s, kv := newTestScheduler(&fakeTelemetry{}, &fakeEvaluator{}, &fakePlugs{})
	if err := kv.Set(context.Background(), []string{"settings", "tickrate", "tickrate"}, 5); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := s.tickrate(); got != 60 {
		t.Fatalf("tickrate floor: got %d", got)
	}
	if err := kv.Set(context.Background(), []string{"settings", "tickrate", "tickrate"}, 300); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := s.tickrate(); got != 300 {
		t.Fatalf("configured tickrate: got %d", got)
	}
}
