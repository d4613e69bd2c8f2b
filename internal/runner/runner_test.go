package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Modelflow/internal/domain"
	"github.com/shaiso/Modelflow/internal/registry"
	"github.com/shaiso/Modelflow/internal/rollout"
)

// fakeHandler — обработчик для тестов с программируемым поведением.
type fakeHandler struct {
	typ string
	fn  func(ctx context.Context, req *Request) (*Result, error)
}

func (h *fakeHandler) Type() string { return h.typ }
func (h *fakeHandler) Execute(ctx context.Context, req *Request) (*Result, error) {
	return h.fn(ctx, req)
}

func newTestRunner(handlers ...Handler) *Runner {
	reg := NewRegistry()
	reg.Register(NewNoopHandler())
	for _, h := range handlers {
		reg.Register(h)
	}
	return New(reg, nil)
}

func request(stage *domain.StageDef, spec *domain.PipelineSpec) *Request {
	return &Request{
		RunID:    uuid.New(),
		Stage:    stage,
		Pipeline: spec,
		Inputs:   make(map[string]domain.ArtifactRef),
		Metrics:  make(domain.Metrics),
	}
}

func TestRun_UnknownHandlerIsFatal(t *testing.T) {
	r := newTestRunner()
	stage := &domain.StageDef{Name: "train", Handler: "ghost"}
	spec := &domain.PipelineSpec{Model: "m", Stages: []domain.StageDef{*stage}}

	_, err := r.Run(context.Background(), request(stage, spec))
	if !errors.Is(err, ErrHandlerNotFound) {
		t.Fatalf("expected ErrHandlerNotFound, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("unknown handler must be fatal")
	}
}

func TestRun_MissingOutputIsFatal(t *testing.T) {
	broken := &fakeHandler{typ: "broken", fn: func(_ context.Context, _ *Request) (*Result, error) {
		return NewResult(), nil // объявленный output не произведён
	}}
	r := newTestRunner(broken)

	stage := &domain.StageDef{Name: "train", Handler: "broken", Outputs: []string{"model"}}
	spec := &domain.PipelineSpec{Model: "m", Stages: []domain.StageDef{*stage}}

	_, err := r.Run(context.Background(), request(stage, spec))
	if !errors.Is(err, ErrMissingOutput) {
		t.Fatalf("expected ErrMissingOutput, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("missing output must be fatal")
	}
}

func TestRun_TimeoutIsRetryable(t *testing.T) {
	slow := &fakeHandler{typ: "slow", fn: func(ctx context.Context, _ *Request) (*Result, error) {
		select {
		case <-time.After(10 * time.Second):
			return NewResult(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	r := newTestRunner(slow)

	stage := &domain.StageDef{Name: "train", Handler: "slow", TimeoutSec: 1}
	spec := &domain.PipelineSpec{Model: "m", Stages: []domain.StageDef{*stage}}

	_, err := r.Run(context.Background(), request(stage, spec))
	if !errors.Is(err, ErrStageTimeout) {
		t.Fatalf("expected ErrStageTimeout, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("stage timeout must be retryable")
	}
}

func TestRun_HandlerErrorClassification(t *testing.T) {
	transient := &fakeHandler{typ: "flaky", fn: func(_ context.Context, _ *Request) (*Result, error) {
		return nil, Transient(errors.New("connection refused"))
	}}
	fatal := &fakeHandler{typ: "bad", fn: func(_ context.Context, _ *Request) (*Result, error) {
		return nil, Fatal(errors.New("corrupt input"))
	}}
	r := newTestRunner(transient, fatal)
	spec := &domain.PipelineSpec{Model: "m"}

	_, err := r.Run(context.Background(), request(&domain.StageDef{Name: "a", Handler: "flaky"}, spec))
	if !IsRetryable(err) {
		t.Error("transient error must be retryable")
	}

	_, err = r.Run(context.Background(), request(&domain.StageDef{Name: "b", Handler: "bad"}, spec))
	if IsRetryable(err) {
		t.Error("fatal error must not be retryable")
	}

	// Неклассифицированная ошибка — фатальная по умолчанию
	if IsRetryable(errors.New("plain")) {
		t.Error("unclassified error must default to fatal")
	}
}

func TestNoopHandler_ProducesOutputsAndMetrics(t *testing.T) {
	r := newTestRunner()

	stage := &domain.StageDef{
		Name:    "train",
		Handler: "noop",
		Outputs: []string{"model", "report"},
		Config: map[string]any{
			"metrics": map[string]any{"rmse": 8.2, "r2": 0.91},
		},
	}
	spec := &domain.PipelineSpec{Model: "m", Stages: []domain.StageDef{*stage}}

	result, err := r.Run(context.Background(), request(stage, spec))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Outputs) != 2 {
		t.Errorf("expected 2 outputs, got %d", len(result.Outputs))
	}
	if result.Outputs["model"] == "" {
		t.Error("expected model output location")
	}
	if result.Metrics["rmse"] != 8.2 || result.Metrics["r2"] != 0.91 {
		t.Errorf("unexpected metrics: %v", result.Metrics)
	}
}

func TestPublishHandler_RegistersAndPromotes(t *testing.T) {
	modelReg := registry.New(registry.Config{})
	r := newTestRunner(NewPublishHandler(modelReg))

	stage := &domain.StageDef{Name: "publish", Handler: "publish", Inputs: []string{"model"}}
	spec := &domain.PipelineSpec{Model: "house-price", Stages: []domain.StageDef{*stage}}

	req := request(stage, spec)
	req.Inputs["model"] = domain.ArtifactRef{Name: "model", Location: "s3://models/1", ProducedBy: "train"}
	req.Metrics = domain.Metrics{"rmse": 8.2}

	result, err := r.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Metrics["model_version"] != 1 {
		t.Errorf("expected model_version 1, got %v", result.Metrics["model_version"])
	}

	prod, err := modelReg.CurrentProduction("house-price")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prod.Version != 1 {
		t.Errorf("expected production v1, got v%d", prod.Version)
	}
	if prod.Metrics["rmse"] != 8.2 {
		t.Error("expected metrics snapshot in registry entry")
	}
}

func TestPublishHandler_MissingModelInput(t *testing.T) {
	modelReg := registry.New(registry.Config{})
	r := newTestRunner(NewPublishHandler(modelReg))

	stage := &domain.StageDef{Name: "publish", Handler: "publish"}
	spec := &domain.PipelineSpec{Model: "m", Stages: []domain.StageDef{*stage}}

	_, err := r.Run(context.Background(), request(stage, spec))
	if !errors.Is(err, ErrMissingInput) {
		t.Fatalf("expected ErrMissingInput, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("missing input must be fatal")
	}
}

func TestDeployHandler_AppliesProductionVersion(t *testing.T) {
	modelReg := registry.New(registry.Config{})
	prober := rollout.NewStaticProber()
	ctrl := rollout.New(rollout.Config{Prober: prober, PollInterval: 5 * time.Millisecond})

	ctx := context.Background()
	if _, err := modelReg.Register(ctx, "m", domain.ArtifactRef{Name: "model", Location: "s3://m/1"}, nil, uuid.New()); err != nil {
		t.Fatal(err)
	}
	if _, err := modelReg.Promote(ctx, "m", 1); err != nil {
		t.Fatal(err)
	}

	prober.Set("svc", 3, 3)
	r := newTestRunner(NewDeployHandler(modelReg, ctrl, 200*time.Millisecond))

	stage := &domain.StageDef{Name: "deploy", Handler: "deploy"}
	spec := &domain.PipelineSpec{
		Model:              "m",
		Stages:             []domain.StageDef{*stage},
		Rollout:            &domain.RolloutSpec{Service: "svc", Replicas: 3},
		MinHealthyFraction: 1.0,
	}

	result, err := r.Run(ctx, request(stage, spec))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Metrics["deployed_version"] != 1 {
		t.Errorf("expected deployed_version 1, got %v", result.Metrics["deployed_version"])
	}

	current, err := ctrl.Current("svc")
	if err != nil {
		t.Fatal(err)
	}
	if current.ModelVersion != 1 || current.Model != "m" {
		t.Errorf("unexpected deployment: %+v", current)
	}
}

func TestDeployHandler_HealthTimeoutIsRetryable(t *testing.T) {
	modelReg := registry.New(registry.Config{})
	prober := rollout.NewStaticProber()
	ctrl := rollout.New(rollout.Config{Prober: prober, PollInterval: 5 * time.Millisecond})

	ctx := context.Background()
	if _, err := modelReg.Register(ctx, "m", domain.ArtifactRef{Name: "model", Location: "s3://m/1"}, nil, uuid.New()); err != nil {
		t.Fatal(err)
	}
	if _, err := modelReg.Promote(ctx, "m", 1); err != nil {
		t.Fatal(err)
	}

	prober.Set("svc", 0, 3)
	r := newTestRunner(NewDeployHandler(modelReg, ctrl, 30*time.Millisecond))

	stage := &domain.StageDef{Name: "deploy", Handler: "deploy"}
	spec := &domain.PipelineSpec{
		Model:              "m",
		Stages:             []domain.StageDef{*stage},
		Rollout:            &domain.RolloutSpec{Service: "svc", Replicas: 3},
		MinHealthyFraction: 1.0,
	}

	_, err := r.Run(ctx, request(stage, spec))
	if !errors.Is(err, rollout.ErrRolloutTimeout) {
		t.Fatalf("expected ErrRolloutTimeout, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("rollout timeout must be retryable")
	}
}

func TestDeployHandler_NoProductionIsFatal(t *testing.T) {
	modelReg := registry.New(registry.Config{})
	prober := rollout.NewStaticProber()
	ctrl := rollout.New(rollout.Config{Prober: prober, PollInterval: 5 * time.Millisecond})

	r := newTestRunner(NewDeployHandler(modelReg, ctrl, 30*time.Millisecond))

	stage := &domain.StageDef{Name: "deploy", Handler: "deploy"}
	spec := &domain.PipelineSpec{
		Model:   "m",
		Stages:  []domain.StageDef{*stage},
		Rollout: &domain.RolloutSpec{Service: "svc", Replicas: 1},
	}

	_, err := r.Run(context.Background(), request(stage, spec))
	if err == nil {
		t.Fatal("expected error when no production version exists")
	}
	if IsRetryable(err) {
		t.Error("missing production version must be fatal")
	}
}
