package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/Modelflow/internal/domain"
	"github.com/shaiso/Modelflow/internal/registry"
	"github.com/shaiso/Modelflow/internal/rollout"
)

// NoopHandler — обработчик-заглушка для стадий без собственной логики
// (ingest, transform, train в локальном режиме и в тестах).
//
// Производит все объявленные output-слоты с синтетическими локаторами
// и эмитит метрики из config:
//
//	{"metrics": {"rmse": 8.2, "r2": 0.91}, "delay_ms": 100}
type NoopHandler struct{}

// NewNoopHandler создаёт NoopHandler.
func NewNoopHandler() *NoopHandler {
	return &NoopHandler{}
}

// Type возвращает тип обработчика.
func (h *NoopHandler) Type() string {
	return "noop"
}

// Execute производит объявленные outputs и метрики из конфигурации.
func (h *NoopHandler) Execute(ctx context.Context, req *Request) (*Result, error) {
	if delay := intConfig(req.Stage.Config, "delay_ms"); delay > 0 {
		select {
		case <-time.After(time.Duration(delay) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	result := NewResult()

	for _, out := range req.Stage.Outputs {
		result.Outputs[out] = fmt.Sprintf("mem://%s/%s/%s", req.RunID, req.Stage.Name, out)
	}

	if raw, ok := req.Stage.Config["metrics"].(map[string]any); ok {
		for name, v := range raw {
			if f, ok := toFloat(v); ok {
				result.Metrics[name] = f
			}
		}
	}

	return result, nil
}

// PublishHandler регистрирует кандидата в реестре моделей и продвигает
// его в production. Выполняется только ниже gate: к моменту вызова
// кандидат уже прошёл пороги качества.
type PublishHandler struct {
	registry *registry.Registry
}

// NewPublishHandler создаёт PublishHandler.
func NewPublishHandler(reg *registry.Registry) *PublishHandler {
	return &PublishHandler{registry: reg}
}

// Type возвращает тип обработчика.
func (h *PublishHandler) Type() string {
	return "publish"
}

// Execute регистрирует и продвигает версию модели.
func (h *PublishHandler) Execute(ctx context.Context, req *Request) (*Result, error) {
	artifact, err := modelInput(req)
	if err != nil {
		return nil, Fatal(err)
	}

	entry, err := h.registry.Register(ctx, req.Pipeline.Model, artifact, req.Metrics, req.RunID)
	if err != nil {
		return nil, Fatal(fmt.Errorf("register model: %w", err))
	}

	if _, err := h.registry.Promote(ctx, entry.Model, entry.Version); err != nil {
		return nil, Fatal(fmt.Errorf("promote model: %w", err))
	}

	result := NewResult()
	result.Metrics["model_version"] = float64(entry.Version)
	for _, out := range req.Stage.Outputs {
		result.Outputs[out] = artifact.Location
	}
	return result, nil
}

// DeployHandler применяет выкатку обслуживающего сервиса на текущую
// production-версию модели и дожидается здоровья реплик.
type DeployHandler struct {
	registry   *registry.Registry
	controller *rollout.Controller

	// healthTimeout — бюджет ожидания здоровья. По умолчанию 30s.
	healthTimeout time.Duration
}

// NewDeployHandler создаёт DeployHandler.
func NewDeployHandler(reg *registry.Registry, ctrl *rollout.Controller, healthTimeout time.Duration) *DeployHandler {
	if healthTimeout <= 0 {
		healthTimeout = 30 * time.Second
	}
	return &DeployHandler{
		registry:      reg,
		controller:    ctrl,
		healthTimeout: healthTimeout,
	}
}

// Type возвращает тип обработчика.
func (h *DeployHandler) Type() string {
	return "deploy"
}

// Execute выкатывает production-версию модели.
// Таймаут здоровья — retryable: деградация сервиса часто временная.
func (h *DeployHandler) Execute(ctx context.Context, req *Request) (*Result, error) {
	rolloutSpec := req.Pipeline.Rollout
	if rolloutSpec == nil {
		return nil, Fatal(fmt.Errorf("%w: pipeline has no rollout spec", ErrInvalidConfig))
	}

	entry, err := h.registry.CurrentProduction(req.Pipeline.Model)
	if err != nil {
		return nil, Fatal(fmt.Errorf("resolve production version: %w", err))
	}

	_, err = h.controller.Apply(ctx, domain.DeploymentSpec{
		Service:      rolloutSpec.Service,
		Replicas:     rolloutSpec.Replicas,
		MinReplicas:  rolloutSpec.MinReplicas,
		MaxReplicas:  rolloutSpec.MaxReplicas,
		Model:        entry.Model,
		ModelVersion: entry.Version,
	})
	if err != nil {
		return nil, Fatal(fmt.Errorf("apply deployment: %w", err))
	}

	err = h.controller.WaitHealthy(ctx, rolloutSpec.Service, req.Pipeline.MinHealthyFraction, h.healthTimeout)
	if err != nil {
		if errors.Is(err, rollout.ErrRolloutTimeout) {
			return nil, Transient(err)
		}
		return nil, err
	}

	result := NewResult()
	result.Metrics["deployed_version"] = float64(entry.Version)
	return result, nil
}

// modelInput возвращает артефакт модели из входов стадии:
// слот "model", либо единственный вход.
func modelInput(req *Request) (domain.ArtifactRef, error) {
	if ref, ok := req.Inputs["model"]; ok {
		return ref, nil
	}
	if len(req.Inputs) == 1 {
		for _, ref := range req.Inputs {
			return ref, nil
		}
	}
	return domain.ArtifactRef{}, fmt.Errorf("%w: stage %s has no model input", ErrMissingInput, req.Stage.Name)
}

func intConfig(config map[string]any, key string) int {
	if f, ok := toFloat(config[key]); ok {
		return int(f)
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
