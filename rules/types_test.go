package rules

import (
	"encoding/json"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// TestParsePriority verifies names and numeric levels are accepted
func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"LOW", PriorityLow, false},
		{"critical", PriorityCritical, false},
		{" High ", PriorityHigh, false},
		{"2", PriorityMedium, false},
		{"URGENT", 0, true},
		{"5", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePriority(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePriority(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestPriorityDecoding verifies JSON and YAML accept either form
func TestPriorityDecoding(t *testing.T) {
	var in struct {
		A Priority `json:"a" yaml:"a"`
		B Priority `json:"b" yaml:"b"`
	}

	if err := json.Unmarshal([]byte(`{"a": 4, "b": "low"}`), &in); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if in.A != PriorityCritical || in.B != PriorityLow {
		t.Errorf("json decoded = %+v", in)
	}

	if err := yaml.Unmarshal([]byte("a: HIGH\nb: 2\n"), &in); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	if in.A != PriorityHigh || in.B != PriorityMedium {
		t.Errorf("yaml decoded = %+v", in)
	}

	if err := json.Unmarshal([]byte(`{"a": "sometimes"}`), &in); err == nil {
		t.Error("unknown priority name should fail")
	}
	if PriorityCritical.String() != "CRITICAL" || Priority(9).String() != "Priority(9)" {
		t.Error("String() mismatch")
	}
}

// TestRuleVersionInEffect verifies the effective window bounds
func TestRuleVersionInEffect(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	tests := []struct {
		name string
		v    RuleVersion
		at   time.Time
		want bool
	}{
		{"open window", RuleVersion{}, start, true},
		{"before effective", RuleVersion{EffectiveDate: &start}, start.Add(-time.Second), false},
		{"at effective", RuleVersion{EffectiveDate: &start}, start, true},
		{"at expiry", RuleVersion{ExpiryDate: &end}, end, false},
		{"inside", RuleVersion{EffectiveDate: &start, ExpiryDate: &end}, start.AddDate(0, 0, 10), true},
	}
	for _, tt := range tests {
		if got := tt.v.InEffect(tt.at); got != tt.want {
			t.Errorf("%s: InEffect() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// TestEnumValidity verifies the closed enum sets
func TestEnumValidity(t *testing.T) {
	for _, op := range Operators {
		if !op.Valid() {
			t.Errorf("operator %q should be valid", op)
		}
	}
	if Operator("regex").Valid() {
		t.Error("regex should not be a valid operator")
	}
	if !RuleTypeUnderwriting.Valid() || RuleType("BILLING").Valid() {
		t.Error("RuleType.Valid() mismatch")
	}
	if !ActionNotify.Valid() || ActionType("webhook").Valid() {
		t.Error("ActionType.Valid() mismatch")
	}
	if (&BusinessRule{Priority: PriorityHigh}).IsCritical() {
		t.Error("HIGH should not be critical")
	}
}

// TestExecutionResultJSON verifies empty collections encode as arrays and objects
func TestExecutionResultJSON(t *testing.T) {
	b, err := json.Marshal(newExecutionResult())
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	want := `{"success":true,"errors":[],"warnings":[],"data":{}}`
	if string(b) != want {
		t.Errorf("json = %s, want %s", b, want)
	}
}

// TestExpectationJSONKeepsDeclaredEmpty verifies an empty expectation survives a JSON round trip
func TestExpectationJSONKeepsDeclaredEmpty(t *testing.T) {
	in := []RuleTestCase{
		{Name: "declared", Expected: TestExpectation{Errors: []string{}, Warnings: []string{}, Data: map[string]any{}}},
		{Name: "undeclared"},
	}

	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var out []RuleTestCase
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	declared, undeclared := out[0].Expected, out[1].Expected
	if declared.Errors == nil || declared.Warnings == nil || declared.Data == nil {
		t.Errorf("declared empty expectation lost: %+v (json %s)", declared, raw)
	}
	if undeclared.Errors != nil || undeclared.Warnings != nil || undeclared.Data != nil {
		t.Errorf("undeclared expectation became declared: %+v", undeclared)
	}
}
