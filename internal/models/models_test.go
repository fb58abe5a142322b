package models

import (
	"encoding/json"
	"testing"
)

func TestConditionJSONUnion(t *testing.T) {
	timeCond := Condition{Data: "time", Operator: ">=", Time: "06:30"}
	raw, err := json.Marshal(timeCond)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"data":"time","operator":">=","value":"06:30","delta":0}` {
		t.Fatalf("unexpected time condition JSON: %s", raw)
	}

	metricCond := Condition{Data: "temperature", Operator: "==", Value: 21.5, Delta: 0.5}
	raw, err = json.Marshal(metricCond)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Condition
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Value != 21.5 || back.Delta != 0.5 || back.Time != "" {
		t.Fatalf("metric condition did not survive round trip: %+v", back)
	}

	var timeBack Condition
	if err := json.Unmarshal([]byte(`{"data":"time","operator":"==","value":"23:59"}`), &timeBack); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if timeBack.Time != "23:59" || timeBack.Value != 0 {
		t.Fatalf("time condition did not survive round trip: %+v", timeBack)
	}
}

func TestConditionTimeOfDay(t *testing.T) {
	c := Condition{Data: "time", Operator: "==", Time: "14:45"}
	minutes, err := c.TimeOfDay()
	if err != nil {
		t.Fatalf("TimeOfDay: %v", err)
	}
	if minutes != 14*60+45 {
		t.Fatalf("got %d minutes", minutes)
	}
	c.Time = "25:00"
	if _, err := c.TimeOfDay(); err == nil {
		t.Fatal("expected error for 25:00")
	}
}

func TestConditionValidate(t *testing.T) {
	cases := []struct {
		name string
		cond Condition
		ok   bool
	}{
		{"valid metric", Condition{Data: "humidity", Operator: ">=", Value: 40}, true},
		{"valid time", Condition{Data: "time", Operator: "==", Time: "08:00"}, true},
		{"bad operator", Condition{Data: "humidity", Operator: "!=", Value: 40}, false},
		{"unknown metric", Condition{Data: "soil_ph", Operator: ">=", Value: 7}, false},
		{"negative delta", Condition{Data: "humidity", Operator: "==", Value: 40, Delta: -1}, false},
		{"bad time", Condition{Data: "time", Operator: "==", Time: "8am"}, false},
	}
	for _, tc := range cases {
		err := tc.cond.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestRuleValidate(t *testing.T) {
	rule := Rule{
		Name:     "morning watering",
		Target:   "pump",
		Action:   "on",
		Duration: 120,
		Conditions: []Condition{
			{Data: "time", Operator: "==", Time: "06:00"},
		},
	}
	if err := rule.Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}

	noConditions := rule
	noConditions.Conditions = nil
	if err := noConditions.Validate(); err == nil {
		t.Fatal("rule without conditions accepted")
	}

	badAction := rule
	badAction.Action = "toggle"
	if err := badAction.Validate(); err == nil {
		t.Fatal("rule with bad action accepted")
	}
}

func TestIsAngleMetric(t *testing.T) {
	if !IsAngleMetric("windangle") || !IsAngleMetric("gustangle") {
		t.Fatal("angle metrics not recognized")
	}
	if IsAngleMetric("windstrength") || IsAngleMetric("temperature") {
		t.Fatal("non-angle metric recognized as angle")
	}
}

func TestDataKeyOrdering(t *testing.T) {
	a := DataKey(999)
	b := DataKey(1000)
	if a[1] >= b[1] {
		t.Fatalf("padding broken: %q not < %q", a[1], b[1])
	}
}
