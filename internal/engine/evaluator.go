package engine

import (
	"context"
	"log"
	"math"
	"sort"
	"time"

	"gardenia/internal/metrics"
	"gardenia/internal/models"
	"gardenia/internal/store"
)

// Telemetry older than this is not trusted for rule decisions.
const sampleWindow = 5 * time.Hour

// Runner executes the action of a fired rule.
type Runner interface {
	Execute(ctx context.Context, rule models.Rule) error
}

// Evaluator runs the rule engine once per tick: it loads the freshest
// telemetry sample, orders the rules and fires at most one rule per target.
type Evaluator struct {
	store  store.KV
	runner Runner
	now    func() time.Time
}

// NewEvaluator creates an evaluator.
func NewEvaluator(kv store.KV, runner Runner) *Evaluator {
	return &Evaluator{store: kv, runner: runner, now: time.Now}
}

// Evaluate performs one evaluation pass. Rules are visited in priority order
// (ties broken by name) and each target accepts the first rule that fires;
// lower-priority rules on the same target are skipped even if the execution
// failed, so one bad actuator cannot trigger conflicting fallback actions
// within the same tick.
func (e *Evaluator) Evaluate(ctx context.Context) error {
	now := e.now()
	tickrate := e.tickrate(ctx)
	sample, err := e.latestSample(ctx, now)
	if err != nil {
		return err
	}
	rules, err := e.rules(ctx)
	if err != nil {
		return err
	}
	processed := map[string]string{}
	for _, rule := range rules {
		if winner, done := processed[rule.Target]; done {
			log.Printf("ENGINE: rule %q skipped, target %q already decided by %q", rule.Name, rule.Target, winner)
			continue
		}
		if rule.RateLimit > 0 && rule.LastHitT > 0 && now.UnixMilli()-rule.LastHitT < int64(rule.RateLimit)*1000 {
			continue
		}
		if !e.matches(rule, sample, now, tickrate) {
			continue
		}
		rule.Hits++
		rule.LastHit = models.Stamp(now)
		rule.LastHitT = now.UnixMilli()
		if err := e.store.Set(ctx, []string{"automation", "rules", rule.Name}, rule); err != nil {
			return err
		}
		metrics.RuleFirings.Inc()
		log.Printf("ENGINE: rule %q fired for target %q (%s)", rule.Name, rule.Target, rule.Action)
		if err := e.runner.Execute(ctx, rule); err != nil {
			log.Printf("ENGINE: rule %q action failed: %v", rule.Name, err)
		}
		processed[rule.Target] = rule.Name
	}
	return nil
}

// rules loads every rule ordered by priority descending. The store lists by
// name, and the stable sort preserves that order within equal priorities.
func (e *Evaluator) rules(ctx context.Context) ([]models.Rule, error) {
	entries, err := e.store.List(ctx, []string{"automation", "rules"})
	if err != nil {
		return nil, err
	}
	rules := make([]models.Rule, 0, len(entries))
	for _, entry := range entries {
		var rule models.Rule
		if err := entry.Decode(&rule); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
	return rules, nil
}

// latestSample returns the freshest telemetry bucket within the trust window,
// or nil when none exists. Time conditions still evaluate without a sample.
func (e *Evaluator) latestSample(ctx context.Context, now time.Time) (models.Sample, error) {
	entries, err := e.store.Range(ctx,
		models.DataKey(now.Add(-sampleWindow).UnixMilli()),
		models.DataKey(now.UnixMilli()+1),
		store.RangeOptions{Reverse: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		log.Println("ENGINE: no recent telemetry sample, metric conditions will not match")
		return nil, nil
	}
	var sample models.Sample
	if err := entries[0].Decode(&sample); err != nil {
		return nil, err
	}
	return sample, nil
}

// matches evaluates the rule's condition conjunction. A rule without
// conditions never matches.
func (e *Evaluator) matches(rule models.Rule, sample models.Sample, now time.Time, tickrate int) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	for _, cond := range rule.Conditions {
		if !e.matchCondition(rule.Name, cond, sample, now, tickrate) {
			return false
		}
	}
	return true
}

func (e *Evaluator) matchCondition(rule string, cond models.Condition, sample models.Sample, now time.Time, tickrate int) bool {
	if cond.IsTime() {
		threshold, err := cond.TimeOfDay()
		if err != nil {
			log.Printf("ENGINE: rule %q: %v", rule, err)
			return false
		}
		nowMinutes := now.UTC().Hour()*60 + now.UTC().Minute()
		switch cond.Operator {
		case ">=":
			return nowMinutes >= threshold
		case "<=":
			return nowMinutes <= threshold
		case "==":
			// A point-in-time match must not be missed between ticks, so
			// equality accepts the forward window one tick wide.
			return nowMinutes >= threshold && float64(nowMinutes-threshold) <= float64(tickrate)/60
		}
		return false
	}
	value, ok := sample[cond.Data]
	if !ok || value == nil {
		log.Printf("ENGINE: rule %q: metric %q missing from latest sample", rule, cond.Data)
		return false
	}
	switch cond.Operator {
	case ">=":
		return *value >= cond.Value
	case "<=":
		return *value <= cond.Value
	case "==":
		if models.IsAngleMetric(cond.Data) {
			return math.Abs(*value-cond.Value) <= cond.Delta
		}
		return *value >= cond.Value-cond.Delta && *value <= cond.Value+cond.Delta
	}
	return false
}

func (e *Evaluator) tickrate(ctx context.Context) int {
	var tickrate int
	if _, err := e.store.Get(ctx, []string{"settings", "tickrate", "tickrate"}, &tickrate); err != nil {
		log.Printf("ENGINE: failed to read tickrate: %v", err)
	}
	if tickrate < 60 {
		tickrate = 60
	}
	return tickrate
}
