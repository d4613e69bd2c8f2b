package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Modelflow/internal/domain"
	"github.com/shaiso/Modelflow/internal/mq"
	"github.com/shaiso/Modelflow/internal/registry"
	"github.com/shaiso/Modelflow/internal/repo"
	"github.com/shaiso/Modelflow/internal/rollout"
	"github.com/shaiso/Modelflow/internal/runner"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeHandler — обработчик с программируемым поведением.
type fakeHandler struct {
	typ string
	fn  func(ctx context.Context, req *runner.Request) (*runner.Result, error)
}

func (h *fakeHandler) Type() string { return h.typ }

func (h *fakeHandler) Execute(ctx context.Context, req *runner.Request) (*runner.Result, error) {
	return h.fn(ctx, req)
}

// trackingHandler считает одновременно выполняющиеся стадии.
type trackingHandler struct {
	typ string

	mu      sync.Mutex
	current int
	max     int
}

func (h *trackingHandler) Type() string { return h.typ }

func (h *trackingHandler) Execute(ctx context.Context, req *runner.Request) (*runner.Result, error) {
	h.mu.Lock()
	h.current++
	if h.current > h.max {
		h.max = h.current
	}
	h.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	h.mu.Lock()
	h.current--
	h.mu.Unlock()

	result := runner.NewResult()
	for _, out := range req.Stage.Outputs {
		result.Outputs[out] = "mem://" + out
	}
	return result, nil
}

func (h *trackingHandler) maxConcurrent() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.max
}

func newTestOrchestrator(handlers ...runner.Handler) *Orchestrator {
	reg := runner.NewRegistry()
	reg.Register(runner.NewNoopHandler())
	for _, h := range handlers {
		reg.Register(h)
	}
	return New(Config{
		Runner: runner.New(reg, discardLogger()),
		Logger: discardLogger(),
	})
}

func newRun() *domain.Run {
	return &domain.Run{
		ID:         uuid.New(),
		PipelineID: uuid.New(),
		Version:    1,
		Status:     domain.RunStatusPending,
		CreatedAt:  time.Now(),
	}
}

// trainingSpec — pipeline обучения: ingest → transform → train →
// validate (gate) → publish → deploy. Метрики train задаются аргументом.
func trainingSpec(metrics map[string]any) *domain.PipelineSpec {
	return &domain.PipelineSpec{
		Name:  "house-price",
		Model: "house-price",
		Seeds: []domain.SeedDef{
			{Name: "dataset", Location: "s3://datasets/housing/2026-08.parquet"},
		},
		Stages: []domain.StageDef{
			{Name: "ingest", Handler: "noop", Inputs: []string{"dataset"}, Outputs: []string{"raw"}},
			{Name: "transform", Handler: "noop", DependsOn: []string{"ingest"}, Inputs: []string{"raw"}, Outputs: []string{"features"}},
			{Name: "train", Handler: "noop", DependsOn: []string{"transform"}, Inputs: []string{"features"}, Outputs: []string{"model"},
				Config: map[string]any{"metrics": metrics}},
			{Name: "validate", Handler: "noop", DependsOn: []string{"train"}, Inputs: []string{"model"}, Gate: true},
			{Name: "publish", Handler: "noop", DependsOn: []string{"validate"}, Inputs: []string{"model"}, Outputs: []string{"published"}},
			{Name: "deploy", Handler: "noop", DependsOn: []string{"publish"}},
		},
		Thresholds: []domain.Threshold{
			{Metric: "rmse", Op: "<=", Bound: 10},
			{Metric: "r2", Op: ">=", Bound: 0.9},
		},
		MinHealthyFraction: 1.0,
	}
}

func executeRun(t *testing.T, o *Orchestrator, run *domain.Run, spec *domain.PipelineSpec) *RunState {
	t.Helper()

	state := NewRunState(run, spec)
	if err := state.Initialize(); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if err := o.ExecuteRun(context.Background(), state); err != nil {
		t.Fatalf("ExecuteRun() error: %v", err)
	}
	return state
}

func stageStatus(t *testing.T, run *domain.Run, name string) domain.StageRecord {
	t.Helper()
	rec := run.StageRecordByName(name)
	if rec == nil {
		t.Fatalf("stage record %q not found", name)
	}
	return *rec
}

func TestExecuteRun_AllStagesPassGatePromotes(t *testing.T) {
	o := newTestOrchestrator()
	run := newRun()
	spec := trainingSpec(map[string]any{"rmse": 8.2, "r2": 0.93})

	state := executeRun(t, o, run, spec)

	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("run status = %s, want SUCCEEDED (error: %s)", run.Status, run.Error)
	}
	for _, name := range []string{"ingest", "transform", "train", "validate", "publish", "deploy"} {
		if rec := stageStatus(t, run, name); rec.Status != domain.StageSucceeded {
			t.Errorf("stage %s status = %s, want SUCCEEDED", name, rec.Status)
		}
	}
	if run.Decision == nil || !run.Decision.Promote {
		t.Errorf("decision = %+v, want promote", run.Decision)
	}
	if _, err := state.Artifacts.Resolve("model"); err != nil {
		t.Errorf("model artifact not stored: %v", err)
	}
	if run.FinishedAt == nil {
		t.Error("FinishedAt is not set")
	}
}

func TestExecuteRun_GateRejectsSkipsDownstream(t *testing.T) {
	o := newTestOrchestrator()
	run := newRun()
	// Оба порога нарушены
	spec := trainingSpec(map[string]any{"rmse": 20.0, "r2": 0.5})

	executeRun(t, o, run, spec)

	if run.Status != domain.RunStatusRejected {
		t.Fatalf("run status = %s, want REJECTED", run.Status)
	}
	if rec := stageStatus(t, run, "validate"); rec.Status != domain.StageSucceeded {
		t.Errorf("validate status = %s, want SUCCEEDED", rec.Status)
	}
	for _, name := range []string{"publish", "deploy"} {
		rec := stageStatus(t, run, name)
		if rec.Status != domain.StageSkipped {
			t.Errorf("stage %s status = %s, want SKIPPED", name, rec.Status)
		}
		if rec.SkipReason != "gate rejected" {
			t.Errorf("stage %s skip reason = %q, want %q", name, rec.SkipReason, "gate rejected")
		}
	}
	if run.Decision == nil {
		t.Fatal("decision is nil")
	}
	if run.Decision.Promote {
		t.Error("decision.Promote = true, want false")
	}
	if len(run.Decision.Reasons) != 2 {
		t.Errorf("reasons = %v, want 2 entries", run.Decision.Reasons)
	}
}

func TestExecuteRun_FatalFailureCascades(t *testing.T) {
	broken := &fakeHandler{typ: "broken", fn: func(ctx context.Context, req *runner.Request) (*runner.Result, error) {
		return nil, runner.Fatal(errors.New("schema mismatch"))
	}}
	o := newTestOrchestrator(broken)

	run := newRun()
	spec := trainingSpec(map[string]any{"rmse": 8.2, "r2": 0.93})
	spec.Stages[1].Handler = "broken" // transform

	executeRun(t, o, run, spec)

	if run.Status != domain.RunStatusFailed {
		t.Fatalf("run status = %s, want FAILED", run.Status)
	}
	if !strings.Contains(run.Error, "stage transform") {
		t.Errorf("run error = %q, want mention of stage transform", run.Error)
	}
	if rec := stageStatus(t, run, "ingest"); rec.Status != domain.StageSucceeded {
		t.Errorf("ingest status = %s, want SUCCEEDED", rec.Status)
	}
	if rec := stageStatus(t, run, "transform"); rec.Status != domain.StageFailed {
		t.Errorf("transform status = %s, want FAILED", rec.Status)
	}
	for _, name := range []string{"train", "validate", "publish", "deploy"} {
		rec := stageStatus(t, run, name)
		if rec.Status != domain.StageSkipped {
			t.Errorf("stage %s status = %s, want SKIPPED", name, rec.Status)
		}
		if !strings.Contains(rec.SkipReason, "transform failed") {
			t.Errorf("stage %s skip reason = %q, want dependency failure", name, rec.SkipReason)
		}
	}
}

func TestExecuteRun_TransientFailureRetries(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	flaky := &fakeHandler{typ: "flaky", fn: func(ctx context.Context, req *runner.Request) (*runner.Result, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()

		if n < 3 {
			return nil, runner.Transient(errors.New("connection reset"))
		}
		result := runner.NewResult()
		result.Outputs["model"] = "mem://model"
		result.Metrics["rmse"] = 8.0
		result.Metrics["r2"] = 0.95
		return result, nil
	}}
	o := newTestOrchestrator(flaky)

	run := newRun()
	spec := trainingSpec(nil)
	spec.Stages[2].Handler = "flaky" // train
	spec.Stages[2].Config = nil
	spec.RetryLimit = 3
	spec.Defaults = &domain.StageDefaults{
		Retry: &domain.RetryPolicy{Backoff: "fixed", InitialDelayMs: 1},
	}

	state := executeRun(t, o, run, spec)

	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("run status = %s, want SUCCEEDED (error: %s)", run.Status, run.Error)
	}
	if got := state.Attempt("train"); got != 3 {
		t.Errorf("train attempts = %d, want 3", got)
	}
}

func TestExecuteRun_RetryBudgetExhausted(t *testing.T) {
	flaky := &fakeHandler{typ: "flaky", fn: func(ctx context.Context, req *runner.Request) (*runner.Result, error) {
		return nil, runner.Transient(errors.New("connection reset"))
	}}
	o := newTestOrchestrator(flaky)

	run := newRun()
	spec := trainingSpec(nil)
	spec.Stages[2].Handler = "flaky"
	spec.Stages[2].Config = nil
	spec.RetryLimit = 2
	spec.Defaults = &domain.StageDefaults{
		Retry: &domain.RetryPolicy{Backoff: "fixed", InitialDelayMs: 1},
	}

	state := executeRun(t, o, run, spec)

	if run.Status != domain.RunStatusFailed {
		t.Fatalf("run status = %s, want FAILED", run.Status)
	}
	// retry_limit=2 — три попытки всего
	if got := state.Attempt("train"); got != 3 {
		t.Errorf("train attempts = %d, want 3", got)
	}
}

func TestExecuteRun_ConcurrencyLimit(t *testing.T) {
	tracker := &trackingHandler{typ: "tracked"}
	o := newTestOrchestrator(tracker)

	run := newRun()
	spec := &domain.PipelineSpec{
		Model: "m",
		Stages: []domain.StageDef{
			{Name: "a", Handler: "tracked"},
			{Name: "b", Handler: "tracked"},
			{Name: "c", Handler: "tracked"},
		},
		ConcurrencyLimit:   1,
		MinHealthyFraction: 1.0,
	}

	executeRun(t, o, run, spec)

	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("run status = %s, want SUCCEEDED", run.Status)
	}
	if got := tracker.maxConcurrent(); got != 1 {
		t.Errorf("max concurrent stages = %d, want 1", got)
	}
}

func TestExecuteRun_IndependentStagesRunConcurrently(t *testing.T) {
	tracker := &trackingHandler{typ: "tracked"}
	o := newTestOrchestrator(tracker)

	run := newRun()
	spec := &domain.PipelineSpec{
		Model: "m",
		Stages: []domain.StageDef{
			{Name: "a", Handler: "tracked"},
			{Name: "b", Handler: "tracked"},
			{Name: "c", Handler: "tracked"},
		},
		MinHealthyFraction: 1.0,
	}

	executeRun(t, o, run, spec)

	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("run status = %s, want SUCCEEDED", run.Status)
	}
	if got := tracker.maxConcurrent(); got < 2 {
		t.Errorf("max concurrent stages = %d, want at least 2", got)
	}
}

func TestExecuteRun_CapacitySerializesStages(t *testing.T) {
	tracker := &trackingHandler{typ: "tracked"}
	o := newTestOrchestrator(tracker)

	run := newRun()
	spec := &domain.PipelineSpec{
		Model: "m",
		Stages: []domain.StageDef{
			{Name: "a", Handler: "tracked", Resources: domain.ResourceRequest{CPUMillis: 1000}},
			{Name: "b", Handler: "tracked", Resources: domain.ResourceRequest{CPUMillis: 1000}},
		},
		Capacity:           domain.ResourceRequest{CPUMillis: 1000},
		MinHealthyFraction: 1.0,
	}

	executeRun(t, o, run, spec)

	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("run status = %s, want SUCCEEDED", run.Status)
	}
	if got := tracker.maxConcurrent(); got != 1 {
		t.Errorf("max concurrent stages = %d, want 1", got)
	}
}

func TestExecuteRun_StageOverCapacityFailsRun(t *testing.T) {
	o := newTestOrchestrator()

	run := newRun()
	spec := &domain.PipelineSpec{
		Model: "m",
		Stages: []domain.StageDef{
			{Name: "big", Handler: "noop", Resources: domain.ResourceRequest{CPUMillis: 2000}},
			{Name: "after", Handler: "noop", DependsOn: []string{"big"}},
		},
		Capacity:           domain.ResourceRequest{CPUMillis: 1000},
		MinHealthyFraction: 1.0,
	}

	executeRun(t, o, run, spec)

	if run.Status != domain.RunStatusFailed {
		t.Fatalf("run status = %s, want FAILED", run.Status)
	}
	if rec := stageStatus(t, run, "big"); rec.Status != domain.StageFailed {
		t.Errorf("big status = %s, want FAILED", rec.Status)
	}
	if rec := stageStatus(t, run, "after"); rec.Status != domain.StageSkipped {
		t.Errorf("after status = %s, want SKIPPED", rec.Status)
	}
}

func TestExecuteRun_CancelInterruptsRunningStage(t *testing.T) {
	started := make(chan struct{})
	slow := &fakeHandler{typ: "slow", fn: func(ctx context.Context, req *runner.Request) (*runner.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	o := newTestOrchestrator(slow)

	run := newRun()
	spec := &domain.PipelineSpec{
		Model: "m",
		Stages: []domain.StageDef{
			{Name: "long", Handler: "slow"},
			{Name: "after", Handler: "noop", DependsOn: []string{"long"}},
		},
		MinHealthyFraction: 1.0,
	}

	state := NewRunState(run, spec)
	if err := state.Initialize(); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := o.ExecuteRun(context.Background(), state); err != nil {
			t.Errorf("ExecuteRun() error: %v", err)
		}
	}()

	<-started
	state.Cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after cancel")
	}

	if run.Status != domain.RunStatusCancelled {
		t.Fatalf("run status = %s, want CANCELLED", run.Status)
	}
	for _, name := range []string{"long", "after"} {
		rec := stageStatus(t, run, name)
		if rec.Status != domain.StageSkipped {
			t.Errorf("stage %s status = %s, want SKIPPED", name, rec.Status)
		}
		if rec.SkipReason != "run cancelled" {
			t.Errorf("stage %s skip reason = %q, want %q", name, rec.SkipReason, "run cancelled")
		}
	}
}

func TestExecuteRun_PublishAndDeployBuiltins(t *testing.T) {
	modelReg := registry.New(registry.Config{Logger: discardLogger()})

	prober := rollout.NewStaticProber()
	prober.Set("price-svc", 2, 2)
	ctrl := rollout.New(rollout.Config{
		Prober:       prober,
		PollInterval: 5 * time.Millisecond,
		Logger:       discardLogger(),
	})

	o := newTestOrchestrator(
		runner.NewPublishHandler(modelReg),
		runner.NewDeployHandler(modelReg, ctrl, time.Second),
	)

	run := newRun()
	spec := trainingSpec(map[string]any{"rmse": 7.5, "r2": 0.94})
	spec.Stages[4].Handler = "publish" // publish
	spec.Stages[5].Handler = "deploy"  // deploy
	spec.Rollout = &domain.RolloutSpec{
		Service:     "price-svc",
		Replicas:    2,
		MinReplicas: 1,
		MaxReplicas: 4,
	}

	executeRun(t, o, run, spec)

	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("run status = %s, want SUCCEEDED (error: %s)", run.Status, run.Error)
	}

	entry, err := modelReg.CurrentProduction("house-price")
	if err != nil {
		t.Fatalf("CurrentProduction() error: %v", err)
	}
	if entry.Version != 1 {
		t.Errorf("production version = %d, want 1", entry.Version)
	}
	if entry.RunID != run.ID {
		t.Errorf("production run_id = %s, want %s", entry.RunID, run.ID)
	}

	dep, err := ctrl.Current("price-svc")
	if err != nil {
		t.Fatalf("Current() error: %v", err)
	}
	if dep.ModelVersion != 1 {
		t.Errorf("deployed model version = %d, want 1", dep.ModelVersion)
	}
}

func TestStartRun_InvalidSpecFailsRun(t *testing.T) {
	o := newTestOrchestrator()

	run := newRun()
	spec := &domain.PipelineSpec{Model: "m"} // без стадий

	if _, err := o.StartRun(context.Background(), run, spec); err == nil {
		t.Fatal("StartRun() error = nil, want invalid spec error")
	}
	if run.Status != domain.RunStatusFailed {
		t.Errorf("run status = %s, want FAILED", run.Status)
	}
}

func TestCancelRun_UnknownRun(t *testing.T) {
	o := newTestOrchestrator()
	if err := o.CancelRun(uuid.New()); err == nil {
		t.Fatal("CancelRun() error = nil, want ErrRunNotActive")
	}
}

// fakeRunStore — RunStore в памяти. Терминальная запись не
// перезаписывается, как в RunRepo.Update.
type fakeRunStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]domain.Run
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: make(map[uuid.UUID]domain.Run)}
}

func (s *fakeRunStore) put(run *domain.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = *run
}

func (s *fakeRunStore) status(id uuid.UUID) domain.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id].Status
}

func (s *fakeRunStore) setStatus(id uuid.UUID, status domain.RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.runs[id]
	run.Status = status
	s.runs[id] = run
}

func (s *fakeRunStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	out := run
	return &out, nil
}

func (s *fakeRunStore) Update(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if existing.IsFinished() {
		return repo.ErrRunFinished
	}
	s.runs[run.ID] = *run
	return nil
}

func (s *fakeRunStore) ListPending(context.Context, int) ([]domain.Run, error) {
	return nil, nil
}

func TestExecuteRun_PersistedCancelNotOverwritten(t *testing.T) {
	store := newFakeRunStore()
	run := newRun()
	store.put(run)

	// Первая стадия имитирует отмену через API: строка в БД становится
	// CANCELLED, но в памяти run продолжает выполняться (MQ-сигнала нет).
	apiCancel := &fakeHandler{typ: "api-cancel", fn: func(ctx context.Context, req *runner.Request) (*runner.Result, error) {
		store.setStatus(run.ID, domain.RunStatusCancelled)
		return runner.NewResult(), nil
	}}

	reg := runner.NewRegistry()
	reg.Register(runner.NewNoopHandler())
	reg.Register(apiCancel)
	o := New(Config{
		Runner:  runner.New(reg, discardLogger()),
		Logger:  discardLogger(),
		RunRepo: store,
	})

	spec := &domain.PipelineSpec{
		Model: "m",
		Stages: []domain.StageDef{
			{Name: "a", Handler: "api-cancel"},
			{Name: "b", Handler: "noop", DependsOn: []string{"a"}},
		},
		MinHealthyFraction: 1.0,
	}

	executeRun(t, o, run, spec)

	if run.Status != domain.RunStatusCancelled {
		t.Fatalf("run status = %s, want CANCELLED", run.Status)
	}
	if got := store.status(run.ID); got != domain.RunStatusCancelled {
		t.Errorf("persisted status = %s, want CANCELLED to survive finalization", got)
	}
}

func TestHandleRunCancel_StopsActiveRun(t *testing.T) {
	started := make(chan struct{})
	slow := &fakeHandler{typ: "slow", fn: func(ctx context.Context, req *runner.Request) (*runner.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	o := newTestOrchestrator(slow)

	run := newRun()
	spec := &domain.PipelineSpec{
		Model:              "m",
		Stages:             []domain.StageDef{{Name: "long", Handler: "slow"}},
		MinHealthyFraction: 1.0,
	}

	if _, err := o.StartRun(context.Background(), run, spec); err != nil {
		t.Fatalf("StartRun() error: %v", err)
	}
	<-started

	delivery := &mq.Delivery{Message: mq.Message{
		Type:    mq.MessageTypeRunCancel,
		Payload: mq.RunCancelPayload{RunID: run.ID},
	}}
	if err := o.handleRunCancel(context.Background(), delivery); err != nil {
		t.Fatalf("handleRunCancel() error: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for o.isRunActive(run.ID) {
		select {
		case <-deadline:
			t.Fatal("run did not finish after cancel event")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if run.Status != domain.RunStatusCancelled {
		t.Fatalf("run status = %s, want CANCELLED", run.Status)
	}
}

func TestHandleRunCancel_InactiveRunIgnored(t *testing.T) {
	o := newTestOrchestrator()

	delivery := &mq.Delivery{Message: mq.Message{
		Type:    mq.MessageTypeRunCancel,
		Payload: mq.RunCancelPayload{RunID: uuid.New()},
	}}
	if err := o.handleRunCancel(context.Background(), delivery); err != nil {
		t.Errorf("handleRunCancel() error = %v, want nil for inactive run", err)
	}
}
