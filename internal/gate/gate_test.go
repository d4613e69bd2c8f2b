package gate

import (
	"strings"
	"testing"

	"github.com/shaiso/Modelflow/internal/domain"
)

func TestEvaluate_AllPass(t *testing.T) {
	metrics := domain.Metrics{"rmse": 8.2, "r2": 0.91}
	thresholds := []domain.Threshold{
		{Metric: "rmse", Op: "<", Bound: 10.0},
		{Metric: "r2", Op: ">=", Bound: 0.8},
	}

	d := Evaluate(metrics, thresholds)

	if !d.Promote {
		t.Errorf("expected promote, got reject: %v", d.Reasons)
	}
	if len(d.Reasons) != 0 {
		t.Errorf("expected no reasons, got %v", d.Reasons)
	}
}

func TestEvaluate_AllViolationsReported(t *testing.T) {
	metrics := domain.Metrics{"rmse": 12.5, "r2": 0.7}
	thresholds := []domain.Threshold{
		{Metric: "rmse", Op: "<", Bound: 10.0},
		{Metric: "r2", Op: ">=", Bound: 0.8},
	}

	d := Evaluate(metrics, thresholds)

	if d.Promote {
		t.Fatal("expected reject")
	}
	// Обе причины, не только первая
	if len(d.Reasons) != 2 {
		t.Fatalf("expected 2 reasons, got %d: %v", len(d.Reasons), d.Reasons)
	}
	if !strings.Contains(d.Reasons[0], "rmse") {
		t.Errorf("first reason should mention rmse: %s", d.Reasons[0])
	}
	if !strings.Contains(d.Reasons[1], "r2") {
		t.Errorf("second reason should mention r2: %s", d.Reasons[1])
	}
}

func TestEvaluate_MissingMetricFailsClosed(t *testing.T) {
	metrics := domain.Metrics{"rmse": 8.0}
	thresholds := []domain.Threshold{
		{Metric: "rmse", Op: "<", Bound: 10.0},
		{Metric: "r2", Op: ">=", Bound: 0.8},
	}

	d := Evaluate(metrics, thresholds)

	if d.Promote {
		t.Fatal("missing metric must reject the candidate")
	}
	if len(d.Reasons) != 1 || !strings.Contains(d.Reasons[0], "missing") {
		t.Errorf("expected missing-metric reason, got %v", d.Reasons)
	}
}

func TestEvaluate_NoThresholds(t *testing.T) {
	d := Evaluate(domain.Metrics{"anything": 1}, nil)
	if !d.Promote {
		t.Error("no thresholds means promote")
	}
}

func TestEvaluate_BoundaryValues(t *testing.T) {
	cases := []struct {
		op      string
		value   float64
		bound   float64
		promote bool
	}{
		{"<", 9.99, 10, true},
		{"<", 10, 10, false},
		{"<=", 10, 10, true},
		{">", 10, 10, false},
		{">", 10.01, 10, true},
		{">=", 10, 10, true},
		{">=", 9.99, 10, false},
	}

	for _, tc := range cases {
		d := Evaluate(
			domain.Metrics{"m": tc.value},
			[]domain.Threshold{{Metric: "m", Op: tc.op, Bound: tc.bound}},
		)
		if d.Promote != tc.promote {
			t.Errorf("%g %s %g: expected promote=%v, got %v (%v)",
				tc.value, tc.op, tc.bound, tc.promote, d.Promote, d.Reasons)
		}
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	metrics := domain.Metrics{"rmse": 11, "r2": 0.5}
	thresholds := []domain.Threshold{
		{Metric: "rmse", Op: "<", Bound: 10},
		{Metric: "r2", Op: ">=", Bound: 0.8},
	}

	first := Evaluate(metrics, thresholds)
	for i := 0; i < 10; i++ {
		again := Evaluate(metrics, thresholds)
		if again.Promote != first.Promote || len(again.Reasons) != len(first.Reasons) {
			t.Fatal("evaluate must be deterministic")
		}
		for j := range first.Reasons {
			if again.Reasons[j] != first.Reasons[j] {
				t.Fatal("reason order must be stable")
			}
		}
	}
}

func TestSummary(t *testing.T) {
	if got := Summary(domain.Decision{Promote: true}); got != "promote" {
		t.Errorf("unexpected summary: %s", got)
	}
	got := Summary(domain.Decision{Reasons: []string{"a", "b"}})
	if !strings.HasPrefix(got, "reject") {
		t.Errorf("unexpected summary: %s", got)
	}
}
