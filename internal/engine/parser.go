package engine

import (
	"encoding/json"
	"fmt"

	"github.com/shaiso/Modelflow/internal/domain"
)

// Допустимые компараторы порогов.
var validComparators = map[string]bool{
	"<":  true,
	">":  true,
	"<=": true,
	">=": true,
}

// Parse разбирает JSON-спецификацию pipeline, применяет значения
// по умолчанию и валидирует результат.
func Parse(data []byte) (*domain.PipelineSpec, error) {
	var spec domain.PipelineSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline spec: %w", err)
	}

	ApplyDefaults(&spec)

	if err := Validate(&spec); err != nil {
		return nil, err
	}

	return &spec, nil
}

// ApplyDefaults заполняет незаданные параметры выполнения.
func ApplyDefaults(spec *domain.PipelineSpec) {
	if spec.MinHealthyFraction == 0 {
		spec.MinHealthyFraction = 1.0
	}
}

// Validate выполняет полную валидацию PipelineSpec.
//
// Проверяет:
// - Наличие стадий и имени модели
// - Уникальность имён стадий и output-слотов
// - Наличие обработчика у каждой стадии
// - Валидность зависимостей (существование, отсутствие self-dependency)
// - Единственность gate-стадии
// - Компараторы порогов
// - Диапазон min_healthy_fraction и параметры rollout
//
// Циклы и закрытие входных слотов проверяет BuildGraph.
func Validate(spec *domain.PipelineSpec) error {
	if spec == nil || len(spec.Stages) == 0 {
		return ErrEmptyStages
	}

	if spec.Model == "" {
		return ErrEmptyModel
	}

	names := make(map[string]bool, len(spec.Stages))
	outputs := make(map[string]string) // слот → стадия-продюсер
	gates := 0

	for _, seed := range spec.Seeds {
		outputs[seed.Name] = "seed"
	}

	for i := range spec.Stages {
		stage := &spec.Stages[i]

		if err := validateStage(stage, names, outputs); err != nil {
			return err
		}

		if stage.Gate {
			gates++
		}
	}

	if gates > 1 {
		return ErrMultipleGates
	}

	if err := validateDependencies(spec.Stages, names); err != nil {
		return err
	}

	if err := validateThresholds(spec.Thresholds); err != nil {
		return err
	}

	if spec.MinHealthyFraction < 0 || spec.MinHealthyFraction > 1 {
		return ErrBadFraction
	}

	if spec.Rollout != nil {
		if err := validateRollout(spec.Rollout); err != nil {
			return err
		}
	}

	return nil
}

// validateStage валидирует одну стадию.
// names — уже встреченные имена стадий, outputs — уже объявленные слоты.
func validateStage(stage *domain.StageDef, names map[string]bool, outputs map[string]string) error {
	if stage.Name == "" {
		return NewGraphError("", "name", "stage has empty name", ErrEmptyStageName)
	}

	if names[stage.Name] {
		return NewGraphError(stage.Name, "name",
			fmt.Sprintf("duplicate stage name: %s", stage.Name), ErrDuplicateStage)
	}
	names[stage.Name] = true

	if stage.Handler == "" {
		return NewGraphError(stage.Name, "handler", "stage has empty handler", ErrEmptyHandler)
	}

	for _, dep := range stage.DependsOn {
		if dep == stage.Name {
			return NewGraphError(stage.Name, "depends_on",
				"stage depends on itself", ErrSelfDependency)
		}
	}

	for _, out := range stage.Outputs {
		if producer, taken := outputs[out]; taken {
			return NewGraphError(stage.Name, "outputs",
				fmt.Sprintf("output %q already produced by %s", out, producer), ErrDuplicateOutput)
		}
		outputs[out] = stage.Name
	}

	return nil
}

// validateDependencies проверяет, что все depends_on ссылаются
// на существующие стадии.
func validateDependencies(stages []domain.StageDef, names map[string]bool) error {
	for i := range stages {
		stage := &stages[i]

		for _, dep := range stage.DependsOn {
			if !names[dep] {
				return NewGraphError(stage.Name, "depends_on",
					fmt.Sprintf("depends on unknown stage: %s", dep), ErrUnknownDependency)
			}
		}
	}
	return nil
}

// validateThresholds проверяет пороги качества.
func validateThresholds(thresholds []domain.Threshold) error {
	for _, t := range thresholds {
		if t.Metric == "" {
			return NewGraphError("", "thresholds", "threshold has empty metric name", ErrBadComparator)
		}
		if !validComparators[t.Op] {
			return NewGraphError("", "thresholds",
				fmt.Sprintf("unknown comparator %q for metric %s", t.Op, t.Metric), ErrBadComparator)
		}
	}
	return nil
}

// validateRollout проверяет параметры выкатки.
func validateRollout(r *domain.RolloutSpec) error {
	if r.Service == "" {
		return NewGraphError("", "rollout", "rollout has empty service name", ErrBadRollout)
	}
	if r.Replicas <= 0 {
		return NewGraphError("", "rollout", "rollout replicas must be positive", ErrBadRollout)
	}
	if r.MinReplicas > r.Replicas || (r.MaxReplicas > 0 && r.Replicas > r.MaxReplicas) {
		return NewGraphError("", "rollout",
			fmt.Sprintf("replicas %d outside autoscaling bounds [%d, %d]",
				r.Replicas, r.MinReplicas, r.MaxReplicas), ErrBadRollout)
	}
	return nil
}
