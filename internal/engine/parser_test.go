package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Modelflow/internal/domain"
)

func TestParse_ValidSpec(t *testing.T) {
	data := []byte(`{
		"name": "house-price",
		"model": "house-price",
		"seeds": [{"name": "dataset", "location": "s3://datasets/housing.parquet"}],
		"stages": [
			{"name": "ingest", "handler": "noop", "inputs": ["dataset"], "outputs": ["raw"]},
			{"name": "transform", "handler": "noop", "depends_on": ["ingest"],
				"inputs": ["raw"], "outputs": ["features"]},
			{"name": "train", "handler": "noop", "depends_on": ["transform"],
				"inputs": ["features"], "outputs": ["model"]},
			{"name": "validate", "handler": "noop", "depends_on": ["train"],
				"inputs": ["model"], "gate": true},
			{"name": "publish", "handler": "publish", "depends_on": ["validate"],
				"inputs": ["model"]}
		],
		"thresholds": [
			{"metric": "rmse", "op": "<", "bound": 10.0},
			{"metric": "r2", "op": ">=", "bound": 0.8}
		]
	}`)

	spec, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(spec.Stages) != 5 {
		t.Errorf("expected 5 stages, got %d", len(spec.Stages))
	}
	if spec.Model != "house-price" {
		t.Errorf("expected model house-price, got %s", spec.Model)
	}
	if spec.GateStage() != "validate" {
		t.Errorf("expected gate stage validate, got %s", spec.GateStage())
	}

	// Default применён
	if spec.MinHealthyFraction != 1.0 {
		t.Errorf("expected default min_healthy_fraction 1.0, got %f", spec.MinHealthyFraction)
	}
}

func TestParse_InvalidJSON(t *testing.T) {
	if _, err := Parse([]byte(`{not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestValidate_EmptyStages(t *testing.T) {
	err := Validate(&domain.PipelineSpec{Model: "demo"})
	if !errors.Is(err, ErrEmptyStages) {
		t.Errorf("expected ErrEmptyStages, got %v", err)
	}
}

func TestValidate_EmptyModel(t *testing.T) {
	err := Validate(&domain.PipelineSpec{
		Stages: []domain.StageDef{{Name: "a", Handler: "noop"}},
	})
	if !errors.Is(err, ErrEmptyModel) {
		t.Errorf("expected ErrEmptyModel, got %v", err)
	}
}

func TestValidate_DuplicateStage(t *testing.T) {
	err := Validate(&domain.PipelineSpec{
		Model: "demo",
		Stages: []domain.StageDef{
			{Name: "train", Handler: "noop"},
			{Name: "train", Handler: "noop"},
		},
	})
	if !errors.Is(err, ErrDuplicateStage) {
		t.Errorf("expected ErrDuplicateStage, got %v", err)
	}
}

func TestValidate_EmptyHandler(t *testing.T) {
	err := Validate(&domain.PipelineSpec{
		Model:  "demo",
		Stages: []domain.StageDef{{Name: "train"}},
	})
	if !errors.Is(err, ErrEmptyHandler) {
		t.Errorf("expected ErrEmptyHandler, got %v", err)
	}
}

func TestValidate_SelfDependency(t *testing.T) {
	err := Validate(&domain.PipelineSpec{
		Model: "demo",
		Stages: []domain.StageDef{
			{Name: "train", Handler: "noop", DependsOn: []string{"train"}},
		},
	})
	if !errors.Is(err, ErrSelfDependency) {
		t.Errorf("expected ErrSelfDependency, got %v", err)
	}
}

func TestValidate_UnknownDependency(t *testing.T) {
	err := Validate(&domain.PipelineSpec{
		Model: "demo",
		Stages: []domain.StageDef{
			{Name: "train", Handler: "noop", DependsOn: []string{"ghost"}},
		},
	})
	if !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("expected ErrUnknownDependency, got %v", err)
	}
}

func TestValidate_MultipleGates(t *testing.T) {
	err := Validate(&domain.PipelineSpec{
		Model: "demo",
		Stages: []domain.StageDef{
			{Name: "a", Handler: "noop", Gate: true},
			{Name: "b", Handler: "noop", Gate: true},
		},
	})
	if !errors.Is(err, ErrMultipleGates) {
		t.Errorf("expected ErrMultipleGates, got %v", err)
	}
}

func TestValidate_DuplicateOutput(t *testing.T) {
	err := Validate(&domain.PipelineSpec{
		Model: "demo",
		Stages: []domain.StageDef{
			{Name: "a", Handler: "noop", Outputs: []string{"model"}},
			{Name: "b", Handler: "noop", Outputs: []string{"model"}},
		},
	})
	if !errors.Is(err, ErrDuplicateOutput) {
		t.Errorf("expected ErrDuplicateOutput, got %v", err)
	}
}

func TestValidate_OutputShadowsSeed(t *testing.T) {
	err := Validate(&domain.PipelineSpec{
		Model: "demo",
		Seeds: []domain.SeedDef{{Name: "dataset", Location: "file:///tmp/d.csv"}},
		Stages: []domain.StageDef{
			{Name: "a", Handler: "noop", Outputs: []string{"dataset"}},
		},
	})
	if !errors.Is(err, ErrDuplicateOutput) {
		t.Errorf("expected ErrDuplicateOutput for seed collision, got %v", err)
	}
}

func TestValidate_BadComparator(t *testing.T) {
	err := Validate(&domain.PipelineSpec{
		Model:  "demo",
		Stages: []domain.StageDef{{Name: "a", Handler: "noop"}},
		Thresholds: []domain.Threshold{
			{Metric: "rmse", Op: "==", Bound: 1},
		},
	})
	if !errors.Is(err, ErrBadComparator) {
		t.Errorf("expected ErrBadComparator, got %v", err)
	}
}

func TestValidate_BadFraction(t *testing.T) {
	err := Validate(&domain.PipelineSpec{
		Model:              "demo",
		Stages:             []domain.StageDef{{Name: "a", Handler: "noop"}},
		MinHealthyFraction: 1.5,
	})
	if !errors.Is(err, ErrBadFraction) {
		t.Errorf("expected ErrBadFraction, got %v", err)
	}
}

func TestValidate_BadRollout(t *testing.T) {
	cases := []struct {
		name    string
		rollout *domain.RolloutSpec
	}{
		{"empty service", &domain.RolloutSpec{Replicas: 3}},
		{"zero replicas", &domain.RolloutSpec{Service: "svc"}},
		{"below min", &domain.RolloutSpec{Service: "svc", Replicas: 1, MinReplicas: 2}},
		{"above max", &domain.RolloutSpec{Service: "svc", Replicas: 5, MaxReplicas: 3}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&domain.PipelineSpec{
				Model:   "demo",
				Stages:  []domain.StageDef{{Name: "a", Handler: "noop"}},
				Rollout: tc.rollout,
			})
			if !errors.Is(err, ErrBadRollout) {
				t.Errorf("expected ErrBadRollout, got %v", err)
			}
		})
	}
}

func TestApplyDefaults_KeepsExplicitFraction(t *testing.T) {
	spec := &domain.PipelineSpec{MinHealthyFraction: 0.75}
	ApplyDefaults(spec)
	if spec.MinHealthyFraction != 0.75 {
		t.Errorf("expected 0.75, got %f", spec.MinHealthyFraction)
	}
}
