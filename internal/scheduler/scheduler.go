package scheduler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"gardenia/internal/metrics"
	"gardenia/internal/models"
	"gardenia/internal/store"
	"gardenia/internal/telemetry"

	"github.com/robfig/cron/v3"
)

const minTickrate = 60

// Telemetry is the weather data pipeline driven by the tick.
type Telemetry interface {
	FetchData(ctx context.Context, t time.Time) error
	RefreshToken(ctx context.Context) error
	FetchStation(ctx context.Context) error
}

// Evaluator runs one rule evaluation pass.
type Evaluator interface {
	Evaluate(ctx context.Context) error
}

// Plugs resynchronizes every plug's overview mirror.
type Plugs interface {
	SyncAll(ctx context.Context)
}

// Inventory refreshes the discovered plug list.
type Inventory interface {
	FetchDevices(ctx context.Context) error
}

// Pruner trims stored camera pictures.
type Pruner interface {
	Prune(ctx context.Context) error
}

// Scheduler owns the tick loop. Each tick runs the full pipeline and then
// rearms itself at the configured tickrate no matter which stages failed, so
// a transient outage never stops automation. Slow-moving maintenance
// (inventory refresh, picture pruning) runs on cron instead of the tick.
type Scheduler struct {
	store     store.KV
	telemetry Telemetry
	evaluator Evaluator
	plugs     Plugs
	inventory Inventory
	pruner    Pruner
	cron      *cron.Cron
	http      *http.Client
	now       func() time.Time

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	ctx     context.Context
}

// New creates a scheduler. inventory and pruner may be nil.
func New(kv store.KV, tel Telemetry, eval Evaluator, plugs Plugs, inventory Inventory, pruner Pruner) *Scheduler {
	return &Scheduler{
		store:     kv,
		telemetry: tel,
		evaluator: eval,
		plugs:     plugs,
		inventory: inventory,
		pruner:    pruner,
		cron:      cron.New(),
		http:      &http.Client{Timeout: 10 * time.Second},
		now:       time.Now,
	}
}

// Start launches the maintenance jobs and, when setup has completed, the
// tick loop. Before setup the loop stays dormant until Kick is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	if _, err := s.cron.AddFunc("@daily", func() { s.maintain(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	var status string
	if _, err := s.store.Get(ctx, []string{"status"}, &status); err != nil {
		return err
	}
	if status != "configured" {
		log.Println("SCHEDULER: setup not completed, tick loop dormant")
		return nil
	}
	go s.Tick(ctx)
	return nil
}

// Stop halts the tick loop and the maintenance jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	s.cron.Stop()
}

// Kick runs a tick immediately, outside the regular cadence. The tick rearms
// the loop, so this also wakes a dormant scheduler after setup.
func (s *Scheduler) Kick() {
	s.mu.Lock()
	ctx := s.ctx
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	go s.Tick(ctx)
}

// Tick runs one pipeline pass: reachability pings, telemetry refresh with a
// single retry after an access token refresh, rule evaluation, actuator
// state sync and the last-tick stamp. Every stage is isolated; the next tick
// is scheduled in all cases.
func (s *Scheduler) Tick(ctx context.Context) {
	defer s.rearm()
	now := s.now()
	log.Println("SCHEDULER: tick")
	s.ping(ctx)
	if err := s.telemetry.FetchData(ctx, now); err != nil {
		if errors.Is(err, telemetry.ErrTokenExpired) {
			log.Println("SCHEDULER: telemetry token expired, refreshing")
			if err := s.telemetry.RefreshToken(ctx); err != nil {
				metrics.TelemetryErrors.Inc()
				log.Printf("SCHEDULER: token refresh failed: %v", err)
			} else if err := s.telemetry.FetchData(ctx, now); err != nil {
				metrics.TelemetryErrors.Inc()
				log.Printf("SCHEDULER: telemetry retry failed: %v", err)
			}
		} else if errors.Is(err, telemetry.ErrNotConfigured) {
			log.Println("SCHEDULER: telemetry not configured yet")
		} else {
			metrics.TelemetryErrors.Inc()
			log.Printf("SCHEDULER: telemetry refresh failed: %v", err)
		}
	}
	if err := s.evaluator.Evaluate(ctx); err != nil {
		log.Printf("SCHEDULER: evaluation failed: %v", err)
	}
	s.plugs.SyncAll(ctx)
	if err := s.store.Set(ctx, []string{"settings", "tickrate", "last_tick"}, models.Stamp(now)); err != nil {
		log.Printf("SCHEDULER: failed to stamp tick: %v", err)
	}
	metrics.Ticks.Inc()
}

func (s *Scheduler) rearm() {
	tickrate := s.tickrate()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	s.timer = time.AfterFunc(time.Duration(tickrate)*time.Second, func() { s.Tick(ctx) })
}

func (s *Scheduler) tickrate() int {
	var tickrate int
	if _, err := s.store.Get(context.Background(), []string{"settings", "tickrate", "tickrate"}, &tickrate); err != nil {
		log.Printf("SCHEDULER: failed to read tickrate: %v", err)
	}
	if tickrate < minTickrate {
		tickrate = minTickrate
	}
	return tickrate
}

// ping probes the internet, the controller process and the camera, recording
// reachability for the status endpoint.
func (s *Scheduler) ping(ctx context.Context) {
	s.recordPing(ctx, "internet", "https://www.google.com")
	var control, camera string
	if _, err := s.store.Get(ctx, []string{"settings", "control", "url"}, &control); err == nil && control != "" {
		s.recordPing(ctx, "control", strings.TrimRight(control, "/")+"/ping")
	}
	if _, err := s.store.Get(ctx, []string{"settings", "camera", "url"}, &camera); err == nil && camera != "" {
		s.recordPing(ctx, "camera", strings.TrimRight(camera, "/")+"/ping")
	}
}

func (s *Scheduler) recordPing(ctx context.Context, name, url string) {
	ok := false
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err == nil {
		if resp, err := s.http.Do(req); err == nil {
			resp.Body.Close()
			ok = resp.StatusCode == http.StatusOK
		}
	}
	result := map[string]any{"ok": ok, "at": models.Stamp(s.now())}
	if err := s.store.Set(ctx, []string{"ping", name}, result); err != nil {
		log.Printf("SCHEDULER: failed to record %s ping: %v", name, err)
	}
}

// maintain refreshes the device and station inventories and prunes pictures.
func (s *Scheduler) maintain(ctx context.Context) {
	log.Println("SCHEDULER: running daily maintenance")
	if s.inventory != nil {
		if err := s.inventory.FetchDevices(ctx); err != nil {
			log.Printf("SCHEDULER: device inventory refresh failed: %v", err)
		}
	}
	if err := s.telemetry.FetchStation(ctx); err != nil {
		log.Printf("SCHEDULER: station refresh failed: %v", err)
	}
	if s.pruner != nil {
		if err := s.pruner.Prune(ctx); err != nil {
			log.Printf("SCHEDULER: picture prune failed: %v", err)
		}
	}
}
