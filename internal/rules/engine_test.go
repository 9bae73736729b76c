package rules

import (
	"testing"

	"github.com/opensource-marketplace/kestrel/internal/domain"
	"github.com/opensource-marketplace/kestrel/internal/feature"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng
}

func studentVector(t *testing.T, overrides map[string]float64) *domain.FeatureVector {
	t.Helper()
	version, names := feature.SchemaFor(domain.EntityStudent)
	values := make([]float64, len(names))
	for i, name := range names {
		switch name {
		case "health_score":
			values[i] = 100
		case "consistency_score":
			values[i] = 1
		}
		if v, ok := overrides[name]; ok {
			values[i] = v
		}
	}
	return &domain.FeatureVector{
		EntityType:    domain.EntityStudent,
		SchemaVersion: version,
		Names:         names,
		Values:        values,
	}
}

func TestLoadRuleRejectsBadExpression(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name string
		expr string
	}{
		{"syntax error", `sessions_7d ==`},
		{"unknown variable", `no_such_feature > 1.0`},
		{"non-bool result", `sessions_7d + 1.0`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eng.LoadRule(&domain.FallbackRule{
				ID:         "bad",
				Version:    "1",
				Expression: tt.expr,
				Enabled:    true,
			})
			if err == nil {
				t.Fatal("expected compile error, got nil")
			}
		})
	}

	if eng.RulesCount() != 0 {
		t.Fatalf("rules loaded after failed compiles: %d", eng.RulesCount())
	}
}

func TestValidateRuleDoesNotLoad(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.ValidateRule(&domain.FallbackRule{
		ID:         "ok",
		Version:    "1",
		Expression: `sessions_7d == 0.0`,
	})
	if err != nil {
		t.Fatalf("ValidateRule: %v", err)
	}
	if eng.RulesCount() != 0 {
		t.Fatalf("ValidateRule loaded the rule: count = %d", eng.RulesCount())
	}
}

func TestEvaluateEntityTypeScoping(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.LoadRules([]*domain.FallbackRule{
		{ID: "a-student", Version: "1", EntityType: domain.EntityStudent, Expression: `true`, Enabled: true},
		{ID: "b-tutor", Version: "1", EntityType: domain.EntityTutor, Expression: `true`, Enabled: true},
		{ID: "c-any", Version: "1", Expression: `true`, Enabled: true},
	}); err != nil {
		t.Fatalf("LoadRules: %v", err)
	}

	results := eng.Evaluate(studentVector(t, nil))
	if len(results) != 2 {
		t.Fatalf("got %d activations, want 2", len(results))
	}
	if results[0].RuleID != "a-student" || results[1].RuleID != "c-any" {
		t.Fatalf("unexpected rule order: %s, %s", results[0].RuleID, results[1].RuleID)
	}
}

func TestEvaluateDeterministicOrder(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.LoadRules(DefaultRules()); err != nil {
		t.Fatalf("LoadRules: %v", err)
	}

	fv := studentVector(t, map[string]float64{"error_rate": 0.08})

	first := eng.Evaluate(fv)
	for i := 0; i < 5; i++ {
		next := eng.Evaluate(fv)
		if len(next) != len(first) {
			t.Fatalf("run %d: %d activations, want %d", i, len(next), len(first))
		}
		for j := range first {
			if next[j].RuleID != first[j].RuleID || next[j].Triggered != first[j].Triggered {
				t.Fatalf("run %d: activation %d differs", i, j)
			}
		}
	}
}

func TestDefaultRulesStudentThresholds(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.LoadRules(DefaultRules()); err != nil {
		t.Fatalf("LoadRules: %v", err)
	}

	tests := []struct {
		name      string
		overrides map[string]float64
		wantRule  string
		triggered bool
	}{
		{"inactive student", map[string]float64{"sessions_7d": 0}, "student-inactivity-7d", true},
		{"active student", map[string]float64{"sessions_7d": 2}, "student-inactivity-7d", false},
		{"elevated errors", map[string]float64{"error_rate": 0.08}, "student-elevated-error-rate", true},
		{"healthy errors", map[string]float64{"error_rate": 0.01}, "student-elevated-error-rate", false},
		{"three ib calls", map[string]float64{"ib_calls_14d": 3}, "student-excessive-ib-calls", true},
		{"two ib calls", map[string]float64{"ib_calls_14d": 2}, "student-excessive-ib-calls", false},
		{"warning health", map[string]float64{"health_score": 65}, "student-low-health", true},
		{"critical health", map[string]float64{"health_score": 42}, "student-critical-health", true},
		{"critical not warning", map[string]float64{"health_score": 42}, "student-low-health", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := eng.Evaluate(studentVector(t, tt.overrides))
			for _, r := range results {
				if r.Err != nil {
					t.Fatalf("rule %s error: %v", r.RuleID, r.Err)
				}
				if r.RuleID == tt.wantRule && r.Triggered != tt.triggered {
					t.Fatalf("rule %s triggered = %v, want %v", r.RuleID, r.Triggered, tt.triggered)
				}
			}
		})
	}
}

func TestDefaultRulesSubjectImbalance(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.LoadRules(DefaultRules()); err != nil {
		t.Fatalf("LoadRules: %v", err)
	}

	version, names := feature.SchemaFor(domain.EntitySubject)
	values := make([]float64, len(names))
	fv := &domain.FeatureVector{EntityType: domain.EntitySubject, SchemaVersion: version, Names: names, Values: values}
	for i, name := range names {
		switch name {
		case "imbalance":
			values[i] = 1
		case "demand_supply_ratio":
			values[i] = 2.5
		}
	}

	triggered := map[string]bool{}
	for _, r := range eng.Evaluate(fv) {
		triggered[r.RuleID] = r.Triggered
	}
	if !triggered["subject-high-demand"] {
		t.Fatal("subject-high-demand did not trigger")
	}
	if !triggered["subject-supply-shortage"] {
		t.Fatal("subject-supply-shortage did not trigger")
	}
}

func TestReloadRulesReplacesSet(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.LoadRules(DefaultRules()); err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	before := eng.RulesCount()
	if before == 0 {
		t.Fatal("no default rules loaded")
	}

	err := eng.ReloadRules([]*domain.FallbackRule{
		{ID: "only", Version: "2", Expression: `health_score < 10.0`, Enabled: true},
		{ID: "off", Version: "2", Expression: `true`, Enabled: false},
	})
	if err != nil {
		t.Fatalf("ReloadRules: %v", err)
	}

	if eng.RulesCount() != 1 {
		t.Fatalf("rules after reload = %d, want 1", eng.RulesCount())
	}
	if got := eng.LoadedRules(); len(got) != 1 || got[0].ID != "only" {
		t.Fatalf("unexpected loaded rules: %+v", got)
	}
}

func TestReloadRulesKeepsOldSetOnError(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.LoadRules(DefaultRules()); err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	before := eng.RulesCount()

	err := eng.ReloadRules([]*domain.FallbackRule{
		{ID: "broken", Version: "2", Expression: `sessions_7d ==`, Enabled: true},
	})
	if err == nil {
		t.Fatal("expected compile error")
	}
	if eng.RulesCount() != before {
		t.Fatalf("rule set changed after failed reload: %d, want %d", eng.RulesCount(), before)
	}
}
