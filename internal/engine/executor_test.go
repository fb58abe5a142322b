package engine

import (
	"context"
	"testing"

	"gardenia/internal/history"
	"gardenia/internal/models"
	"gardenia/internal/store"
)

type fakePlugs struct {
	calls []struct {
		Target   models.Target
		Status   string
		Duration int
	}
}

func (p *fakePlugs) Apply(ctx context.Context, target models.Target, status string, duration int) error {
	p.calls = append(p.calls, struct {
		Target   models.Target
		Status   string
		Duration int
	}{target, status, duration})
	return nil
}

type fakeCamera struct {
	captures int
}

func (c *fakeCamera) Capture(ctx context.Context) (string, error) {
	c.captures++
	return "2026-08-01T06-00-30.png", nil
}

func newTestExecutor(t *testing.T) (*Executor, *store.Memory, *fakePlugs, *fakeCamera) {
	t.Helper()
	kv := store.NewMemory()
	plugs := &fakePlugs{}
	cam := &fakeCamera{}
	e := NewExecutor(kv, history.New(kv), plugs, cam)
	e.now = testClock
	return e, kv, plugs, cam
}

func putTarget(t *testing.T, kv store.KV, target models.Target) {
	t.Helper()
	if err := kv.Set(context.Background(), []string{"automation", "targets", target.Name}, target); err != nil {
		t.Fatalf("put target: %v", err)
	}
}

func TestExecuteWritesOptimisticOverview(t *testing.T) {
	e, kv, plugs, _ := newTestExecutor(t)
	putTarget(t, kv, models.Target{Name: "pump", Module: "aa:bb:cc:dd:ee:ff"})

	rule := models.Rule{Name: "watering", Target: "pump", Action: "on", Duration: 120}
	if err := e.Execute(context.Background(), rule); err != nil {
		t.Fatalf("execute: %v", err)
	}

	var overview models.Overview
	found, err := kv.Get(context.Background(), []string{"overview", "aa:bb:cc:dd:ee:ff"}, &overview)
	if err != nil || !found {
		t.Fatalf("overview missing: found=%v err=%v", found, err)
	}
	if overview.Status != "unknown" {
		t.Fatalf("optimistic status should be unknown, got %q", overview.Status)
	}
	details := overview.StatusDetails
	if details == nil || details.Rule != "watering" || details.Duration != 120 {
		t.Fatalf("details: %+v", details)
	}
	if details.T2 != details.T1+120*1000 {
		t.Fatalf("t2 not derived from duration: %+v", details)
	}

	if len(plugs.calls) != 1 || plugs.calls[0].Status != "on" || plugs.calls[0].Duration != 120 {
		t.Fatalf("plug calls: %+v", plugs.calls)
	}
}

func TestExecuteOffForcesZeroDuration(t *testing.T) {
	e, kv, plugs, _ := newTestExecutor(t)
	putTarget(t, kv, models.Target{Name: "pump", Module: "aa:bb:cc:dd:ee:ff"})

	rule := models.Rule{Name: "stop", Target: "pump", Action: "off", Duration: 600}
	if err := e.Execute(context.Background(), rule); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(plugs.calls) != 1 || plugs.calls[0].Duration != 0 {
		t.Fatalf("off did not force duration to zero: %+v", plugs.calls)
	}
	var overview models.Overview
	if _, err := kv.Get(context.Background(), []string{"overview", "aa:bb:cc:dd:ee:ff"}, &overview); err != nil {
		t.Fatalf("get overview: %v", err)
	}
	if overview.StatusDetails.Duration != 0 {
		t.Fatalf("recorded duration not zeroed: %+v", overview.StatusDetails)
	}
}

func TestExecuteDisabledTargetIsNoOp(t *testing.T) {
	e, kv, plugs, _ := newTestExecutor(t)
	putTarget(t, kv, models.Target{Name: "pump", Module: "aa:bb:cc:dd:ee:ff", Disabled: true})

	rule := models.Rule{Name: "watering", Target: "pump", Action: "on", Duration: 120}
	if err := e.Execute(context.Background(), rule); err != nil {
		t.Fatalf("execute on disabled target errored: %v", err)
	}
	if len(plugs.calls) != 0 {
		t.Fatal("disabled target received a command")
	}
	if found, _ := kv.Get(context.Background(), []string{"overview", "aa:bb:cc:dd:ee:ff"}, nil); found {
		t.Fatal("disabled target got an overview write")
	}
}

func TestExecuteUnknownTargetErrors(t *testing.T) {
	e, _, _, _ := newTestExecutor(t)
	rule := models.Rule{Name: "ghost", Target: "nothing", Action: "on"}
	if err := e.Execute(context.Background(), rule); err == nil {
		t.Fatal("expected error for unknown target")
	}
}

func TestExecuteCameraTarget(t *testing.T) {
	e, kv, plugs, cam := newTestExecutor(t)
	putTarget(t, kv, models.Target{Name: "garden cam", Module: models.CameraModule})

	on := models.Rule{Name: "snapshot", Target: "garden cam", Action: "on"}
	if err := e.Execute(context.Background(), on); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if cam.captures != 1 {
		t.Fatalf("captures: %d", cam.captures)
	}
	if len(plugs.calls) != 0 {
		t.Fatal("camera target reached the plug backend")
	}
	entries, err := history.New(kv).Page(context.Background(), 0, 10, false, false)
	if err != nil {
		t.Fatalf("page history: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "action_picture" {
		t.Fatalf("history entries: %+v", entries)
	}
	if entries[0].Details["target"] != "garden cam" {
		t.Fatalf("picture entry missing target: %+v", entries[0].Details)
	}
	if entries[0].Details["picture"] != "2026-08-01T06-00-30.png" {
		t.Fatalf("picture entry missing picture name: %+v", entries[0].Details)
	}

	off := models.Rule{Name: "noop", Target: "garden cam", Action: "off"}
	if err := e.Execute(context.Background(), off); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if cam.captures != 1 {
		t.Fatal("off action captured a picture")
	}
}
