package validate

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestDataIntegrity(t *testing.T) {
	tests := []struct {
		name   string
		data   interface{}
		wantOK bool
	}{
		{"nil data", nil, false},
		{"clean slice", []float64{1, 2, 3}, true},
		{"empty slice", []float64{}, false},
		{"slice with NaN", []float64{1, math.NaN()}, false},
		{"slice with Inf", []float64{1, math.Inf(-1)}, false},
		{"clean matrix", [][]float64{{1, 2}, {3, 4}}, true},
		{"empty matrix", [][]float64{}, false},
		{"matrix with empty row", [][]float64{{1}, {}}, false},
		{"matrix with NaN row", [][]float64{{1}, {math.NaN()}}, false},
		{"clean map", map[string]float64{"a": 1}, true},
		{"empty map", map[string]float64{}, false},
		{"map with NaN", map[string]float64{"a": math.NaN()}, false},
		{"generic map with nil", map[string]interface{}{"a": nil}, false},
		{"generic map clean", map[string]interface{}{"a": 1}, true},
		{"unsupported shape passes", "some string", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, problems := DataIntegrity(tt.data, "test")
			if ok != tt.wantOK {
				t.Errorf("expected ok=%v, got %v (problems: %v)", tt.wantOK, ok, problems)
			}
			if !ok && len(problems) == 0 {
				t.Error("failed validation must describe the problems")
			}
		})
	}
}

func TestModelHealthNilPredict(t *testing.T) {
	ok, issues := ModelHealth(nil, 7, []float64{1})
	if ok {
		t.Fatal("expected hard failure without a prediction method")
	}
	if len(issues) == 0 {
		t.Fatal("expected issues")
	}
}

func TestModelHealthFeatureCount(t *testing.T) {
	healthy := func(f []float64) (float64, error) { return 50, nil }

	tests := []struct {
		name   string
		count  int
		wantOK bool
	}{
		{"valid count", 7, true},
		{"zero count", 0, false},
		{"below unknown sentinel", -2, false},
		{"unknown count warns only", -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, _ := ModelHealth(healthy, tt.count, []float64{1})
			if ok != tt.wantOK {
				t.Errorf("expected ok=%v, got %v", tt.wantOK, ok)
			}
		})
	}
}

func TestModelHealthNonFinitePredictions(t *testing.T) {
	tests := []struct {
		name    string
		predict PredictFunc
	}{
		{"NaN", func(f []float64) (float64, error) { return math.NaN(), nil }},
		{"Inf", func(f []float64) (float64, error) { return math.Inf(1), nil }},
		{"error", func(f []float64) (float64, error) { return 0, errors.New("broken") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, issues := ModelHealth(tt.predict, 7, []float64{1, 2})
			if ok {
				t.Errorf("expected hard failure, issues: %v", issues)
			}
		})
	}
}

func TestModelHealthRangeWarningIsSoft(t *testing.T) {
	outOfRange := func(f []float64) (float64, error) { return 150, nil }

	ok, issues := ModelHealth(outOfRange, 7, []float64{1})
	if !ok {
		t.Fatalf("out-of-range prediction should warn, not fail: %v", issues)
	}
	found := false
	for _, f := range issues {
		if strings.HasPrefix(f, "warning: ") {
			found = true
		}
	}
	if !found {
		t.Error("expected a warning finding")
	}
}

func TestModelHealthInconsistentPredictions(t *testing.T) {
	calls := 0
	flaky := func(f []float64) (float64, error) {
		calls++
		return float64(calls * 10), nil
	}

	ok, issues := ModelHealth(flaky, 7, []float64{1})
	if !ok {
		t.Fatalf("inconsistency should warn, not fail: %v", issues)
	}
	found := false
	for _, f := range issues {
		if strings.Contains(f, "not consistent") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected consistency warning, got %v", issues)
	}
}
