package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CameraModule is the pseudo-target driven by picture capture instead of a
// plug command. It has no persistent on/off state.
const CameraModule = "picamera"

// Metrics is the catalogue of telemetry fields rules may reference.
var Metrics = []string{
	"temperature", "temperature_out",
	"humidity", "humidity_out",
	"co2", "pressure", "noise", "rain",
	"windstrength", "guststrength", "windangle", "gustangle",
}

// IsMetric reports whether name is a known telemetry metric.
func IsMetric(name string) bool {
	for _, m := range Metrics {
		if m == name {
			return true
		}
	}
	return false
}

// IsAngleMetric reports whether name is an angular metric. Equality on angles
// compares the absolute difference instead of a ± range to avoid wraparound
// artifacts.
func IsAngleMetric(name string) bool {
	return strings.HasSuffix(name, "angle")
}

// Stamp formats a timestamp the way it is stored and displayed (UTC, minute
// precision).
func Stamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04")
}

// Sample is one telemetry bucket: metric name to value. Missing or null
// readings stay nil.
type Sample map[string]*float64

// DataKey is the store key of the telemetry bucket at the given epoch
// millisecond timestamp. Zero-padding keeps buckets ordered under range
// scans.
func DataKey(millis int64) []string {
	return []string{"data", fmt.Sprintf("%013d", millis)}
}

// Target is a controllable device or capability.
type Target struct {
	Name     string `json:"name"`
	Icon     string `json:"icon"`
	Module   string `json:"module"`
	Disabled bool   `json:"disabled"`
}

// Condition is one clause of a rule conjunction. It is a union over two
// kinds: a time-of-day clause (Data == "time", threshold in Time as "HH:MM")
// and a metric clause (threshold in Value). The JSON form keeps the single
// "value" field of the wire format, typed per kind.
//
// Equality tolerance is deliberately asymmetric: time "==" matches a closed
// forward window [threshold, threshold+tickrate] because ticks only move
// forward, while metric "==" matches the symmetric range value ± delta.
type Condition struct {
	Data     string
	Operator string
	Value    float64
	Time     string
	Delta    float64
}

type conditionJSON struct {
	Data     string          `json:"data"`
	Operator string          `json:"operator"`
	Value    json.RawMessage `json:"value"`
	Delta    float64         `json:"delta"`
}

// IsTime reports whether the condition compares against time-of-day.
func (c Condition) IsTime() bool {
	return c.Data == "time"
}

// TimeOfDay returns the "HH:MM" threshold in minutes since midnight.
func (c Condition) TimeOfDay() (int, error) {
	t, err := time.Parse("15:04", c.Time)
	if err != nil {
		return 0, fmt.Errorf("bad time threshold %q: %w", c.Time, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (c Condition) MarshalJSON() ([]byte, error) {
	out := conditionJSON{Data: c.Data, Operator: c.Operator, Delta: c.Delta}
	var err error
	if c.IsTime() {
		out.Value, err = json.Marshal(c.Time)
	} else {
		out.Value, err = json.Marshal(c.Value)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	var in conditionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	c.Data = in.Data
	c.Operator = in.Operator
	c.Delta = in.Delta
	c.Value = 0
	c.Time = ""
	if c.IsTime() {
		return json.Unmarshal(in.Value, &c.Time)
	}
	return json.Unmarshal(in.Value, &c.Value)
}

// Validate checks a condition at the configuration boundary so evaluation
// never has to deal with malformed clauses.
func (c Condition) Validate() error {
	switch c.Operator {
	case "==", ">=", "<=":
	default:
		return fmt.Errorf("bad operator %q", c.Operator)
	}
	if c.Delta < 0 {
		return fmt.Errorf("delta must not be negative")
	}
	if c.IsTime() {
		if _, err := c.TimeOfDay(); err != nil {
			return err
		}
		return nil
	}
	if !IsMetric(c.Data) {
		return fmt.Errorf("unknown metric %q", c.Data)
	}
	return nil
}

// Rule is a named conditional action bound to one target. Hits, LastHit and
// LastHitT are mutated by the evaluation engine only; configuration edits
// never touch them.
type Rule struct {
	Name       string      `json:"name"`
	Target     string      `json:"target"`
	Priority   float64     `json:"priority"`
	Action     string      `json:"action"`
	Duration   int         `json:"duration"`
	Conditions []Condition `json:"conditions"`
	RateLimit  int         `json:"ratelimit"`
	Hits       int         `json:"hits"`
	LastHit    string      `json:"last_hit,omitempty"`
	LastHitT   int64       `json:"last_hit_t,omitempty"`
}

// Validate checks the configurable fields of a rule.
func (r Rule) Validate() error {
	if r.Name == "" || len(r.Name) > 64 {
		return fmt.Errorf("rule name must be 1-64 characters")
	}
	if r.Target == "" || len(r.Target) > 64 {
		return fmt.Errorf("rule target must be 1-64 characters")
	}
	if r.Priority < 0 {
		return fmt.Errorf("priority must not be negative")
	}
	if r.Action != "on" && r.Action != "off" {
		return fmt.Errorf(`action must be "on" or "off"`)
	}
	if r.Duration < 0 {
		return fmt.Errorf("duration must not be negative")
	}
	if r.RateLimit < 0 {
		return fmt.Errorf("ratelimit must not be negative")
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("at least one condition is required")
	}
	for i, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}

// StatusDetails records the firing behind the last decided action.
type StatusDetails struct {
	At       string `json:"at"`
	Rule     string `json:"rule"`
	Duration int    `json:"duration"`
	T1       int64  `json:"t1"`
	T2       int64  `json:"t2"`
}

// Overview is the best-effort mirror of a target's hardware state. It is
// overwritten optimistically on every decided action and corrected by resync.
type Overview struct {
	Status        string         `json:"status"`
	StatusDetails *StatusDetails `json:"status_details"`
}

// StationModule is one physical weather-sensing unit.
type StationModule struct {
	MAC     string `json:"mac"`
	Type    string `json:"type"`
	Battery int    `json:"battery"`
	Updated string `json:"updated"`
}

// PlugModule is one discovered smart plug.
type PlugModule struct {
	Name     string `json:"name"`
	Model    string `json:"model"`
	Firmware string `json:"firmware"`
	MAC      string `json:"mac"`
}

// User holds credentials and grants. Password is the bcrypt hash.
type User struct {
	Username        string `json:"username"`
	Password        string `json:"password,omitempty"`
	GrantAdmin      bool   `json:"grant_admin"`
	GrantAutomation bool   `json:"grant_automation"`
	GrantData       bool   `json:"grant_data"`
	Logged          string `json:"logged,omitempty"`
}

// Sanitized returns a copy safe to serve over the API.
func (u User) Sanitized() User {
	u.Password = ""
	return u
}
