package actuator

import (
	"context"
	"log"
	"time"

	"gardenia/internal/metrics"
	"gardenia/internal/models"
	"gardenia/internal/mqtt"
	"gardenia/internal/store"
)

// Deferrer schedules a delayed state resynchronization for one target.
type Deferrer interface {
	ScheduleResync(module string, after time.Duration) error
}

// Controller issues plug commands through a backend and keeps the per-target
// overview mirror honest: every successful command corrects the mirror from
// the hardware-reported state, and duration-bounded commands get a follow-up
// resync scheduled shortly after the device flips itself back.
type Controller struct {
	store   store.KV
	backend Backend
	resync  Deferrer
	bridge  *mqtt.Bridge
	grace   time.Duration
	now     func() time.Time
}

// NewController creates a controller. resync and bridge may be nil.
func NewController(kv store.KV, backend Backend, resync Deferrer, bridge *mqtt.Bridge) *Controller {
	return &Controller{
		store:   kv,
		backend: backend,
		resync:  resync,
		bridge:  bridge,
		grace:   5 * time.Second,
		now:     time.Now,
	}
}

// Apply drives one target. An empty status only queries and mirrors the
// hardware state. duration > 0 bounds an "on" command and schedules the
// post-expiry resync.
func (c *Controller) Apply(ctx context.Context, target models.Target, status string, duration int) error {
	req := Request{Target: target, Status: status, Duration: duration}
	creds, err := c.credentials(ctx)
	if err != nil {
		return err
	}
	req.Credentials = creds
	info, err := c.backend.Apply(ctx, req)
	if err != nil {
		metrics.ActuatorErrors.Inc()
		return err
	}
	var overview models.Overview
	if _, err := c.store.Get(ctx, []string{"overview", target.Module}, &overview); err != nil {
		return err
	}
	if info.DeviceOn {
		overview.Status = "on"
	} else {
		overview.Status = "off"
	}
	if err := c.store.Set(ctx, []string{"overview", target.Module}, overview); err != nil {
		return err
	}
	c.bridge.PublishOverview(target.Module, overview)
	if duration > 0 && c.resync != nil {
		after := time.Duration(duration)*time.Second + c.grace
		if err := c.resync.ScheduleResync(target.Module, after); err != nil {
			log.Printf("ACTUATOR: failed to schedule resync for %s: %v", target.Module, err)
		} else {
			metrics.ResyncsScheduled.Inc()
		}
	}
	return nil
}

// SyncAll refreshes the overview mirror of every plug target. Failures are
// logged per target and do not stop the sweep; the tick pipeline calls this
// every cycle and stale targets heal on a later pass.
func (c *Controller) SyncAll(ctx context.Context) {
	targets, err := c.targets(ctx)
	if err != nil {
		log.Printf("ACTUATOR: state sync aborted: %v", err)
		return
	}
	for _, target := range targets {
		if target.Module == models.CameraModule {
			continue
		}
		if err := c.Apply(ctx, target, "", 0); err != nil {
			log.Printf("ACTUATOR: state sync failed for %s: %v", target.Name, err)
		}
	}
}

// SyncTargets refreshes the mirror of the targets backed by the given
// modules. Used by the deferred resync worker.
func (c *Controller) SyncTargets(ctx context.Context, modules ...string) error {
	targets, err := c.targets(ctx)
	if err != nil {
		return err
	}
	byModule := make(map[string]models.Target, len(targets))
	for _, target := range targets {
		byModule[target.Module] = target
	}
	for _, module := range modules {
		target, ok := byModule[module]
		if !ok {
			log.Printf("ACTUATOR: resync skipped, no target for module %s", module)
			continue
		}
		if err := c.Apply(ctx, target, "", 0); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) targets(ctx context.Context) ([]models.Target, error) {
	entries, err := c.store.List(ctx, []string{"automation", "targets"})
	if err != nil {
		return nil, err
	}
	targets := make([]models.Target, 0, len(entries))
	for _, entry := range entries {
		var target models.Target
		if err := entry.Decode(&target); err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func (c *Controller) credentials(ctx context.Context) (*Credentials, error) {
	var creds Credentials
	if _, err := c.store.Get(ctx, []string{"settings", "tapo", "username"}, &creds.Username); err != nil {
		return nil, err
	}
	if _, err := c.store.Get(ctx, []string{"settings", "tapo", "password"}, &creds.Password); err != nil {
		return nil, err
	}
	if creds.Username == "" && creds.Password == "" {
		return nil, nil
	}
	return &creds, nil
}
