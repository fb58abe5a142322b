package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"gardenia/internal/history"
	"gardenia/internal/models"
	"gardenia/internal/store"
)

// Plugs drives plug targets.
type Plugs interface {
	Apply(ctx context.Context, target models.Target, status string, duration int) error
}

// Camera captures a still and returns the stored picture name.
type Camera interface {
	Capture(ctx context.Context) (string, error)
}

// Executor turns a fired rule into a device command. It writes the overview
// mirror optimistically before issuing the command so the decision is
// recorded even when the hardware never answers.
type Executor struct {
	store   store.KV
	history *history.History
	plugs   Plugs
	camera  Camera
	now     func() time.Time
}

// NewExecutor creates an executor. camera may be nil when no camera target
// exists.
func NewExecutor(kv store.KV, hist *history.History, plugs Plugs, cam Camera) *Executor {
	return &Executor{store: kv, history: hist, plugs: plugs, camera: cam, now: time.Now}
}

// Execute performs the action of a rule against its target. A disabled
// target makes the action a logged no-op; the rule's hit counters were
// already advanced by the evaluator and stay advanced.
func (e *Executor) Execute(ctx context.Context, rule models.Rule) error {
	var target models.Target
	found, err := e.store.Get(ctx, []string{"automation", "targets", rule.Target}, &target)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("rule %q: target %q does not exist", rule.Name, rule.Target)
	}
	if target.Disabled {
		log.Printf("ENGINE: rule %q matched but target %q is disabled", rule.Name, target.Name)
		return nil
	}
	status := rule.Action
	duration := rule.Duration
	if status == "off" {
		duration = 0
	}
	now := e.now()
	t1 := now.UnixMilli()
	overview := models.Overview{
		Status: "unknown",
		StatusDetails: &models.StatusDetails{
			At:       models.Stamp(now),
			Rule:     rule.Name,
			Duration: duration,
			T1:       t1,
			T2:       t1 + int64(duration)*1000,
		},
	}
	if err := e.store.Set(ctx, []string{"overview", target.Module}, overview); err != nil {
		return err
	}
	if target.Module == models.CameraModule {
		if status != "on" {
			return nil
		}
		if e.camera == nil {
			return fmt.Errorf("rule %q: no camera available", rule.Name)
		}
		picture, err := e.camera.Capture(ctx)
		if err != nil {
			return err
		}
		e.history.Push(ctx, "", "action_picture", map[string]any{
			"rule": rule.Name, "target": target.Name, "picture": picture, "public": true,
		})
		return nil
	}
	e.history.Push(ctx, "", "action", map[string]any{
		"rule": rule.Name, "target": target.Name, "status": status,
		"duration": duration, "public": true,
	})
	return e.plugs.Apply(ctx, target, status, duration)
}
