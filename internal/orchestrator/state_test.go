package orchestrator

import (
	"testing"

	"github.com/shaiso/Modelflow/internal/domain"
	"github.com/shaiso/Modelflow/internal/engine"
)

func newState(t *testing.T, spec *domain.PipelineSpec) *RunState {
	t.Helper()
	state := NewRunState(newRun(), spec)
	if err := state.Initialize(); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	return state
}

func chainSpec() *domain.PipelineSpec {
	return &domain.PipelineSpec{
		Model: "m",
		Stages: []domain.StageDef{
			{Name: "a", Handler: "noop"},
			{Name: "b", Handler: "noop", DependsOn: []string{"a"}},
			{Name: "c", Handler: "noop", DependsOn: []string{"b"}},
		},
		MinHealthyFraction: 1.0,
	}
}

func TestRunState_InitializeCreatesStageRecords(t *testing.T) {
	state := newState(t, chainSpec())

	if len(state.Run.Stages) != 3 {
		t.Fatalf("stage records = %d, want 3", len(state.Run.Stages))
	}
	for i, name := range []string{"a", "b", "c"} {
		rec := state.Run.Stages[i]
		if rec.Name != name {
			t.Errorf("stage[%d] = %s, want %s (topological order)", i, rec.Name, name)
		}
		if rec.Status != domain.StageWaiting {
			t.Errorf("stage %s status = %s, want WAITING", rec.Name, rec.Status)
		}
	}
}

func TestRunState_InitializeRejectsInvalidSpec(t *testing.T) {
	state := NewRunState(newRun(), &domain.PipelineSpec{Model: "m"})
	if err := state.Initialize(); err == nil {
		t.Fatal("Initialize() error = nil, want invalid spec error")
	}
}

func TestRunState_ReadyProgression(t *testing.T) {
	state := newState(t, chainSpec())

	ready := state.Ready()
	if len(ready) != 1 || ready[0].Name != "a" {
		t.Fatalf("initial ready = %v, want [a]", names(ready))
	}

	state.MarkStageSucceeded("a", nil)
	ready = state.Ready()
	if len(ready) != 1 || ready[0].Name != "b" {
		t.Fatalf("ready after a = %v, want [b]", names(ready))
	}
}

func TestRunState_ReadyMarksRunnable(t *testing.T) {
	state := newState(t, chainSpec())

	state.Ready()

	if rec := state.Run.StageRecordByName("a"); rec.Status != domain.StageRunnable {
		t.Errorf("stage a status = %s, want RUNNABLE", rec.Status)
	}
	if rec := state.Run.StageRecordByName("b"); rec.Status != domain.StageWaiting {
		t.Errorf("stage b status = %s, want WAITING until deps succeed", rec.Status)
	}

	if !state.MarkStageRunning("a") {
		t.Fatal("MarkStageRunning() = false for runnable stage")
	}
	if rec := state.Run.StageRecordByName("a"); rec.Status != domain.StageRunning {
		t.Errorf("stage a status = %s, want RUNNING after dispatch", rec.Status)
	}
}

func TestRunState_AcquireRelease(t *testing.T) {
	spec := chainSpec()
	spec.Capacity = domain.ResourceRequest{CPUMillis: 1000, MemoryBytes: 1024}
	state := newState(t, spec)

	req := domain.ResourceRequest{CPUMillis: 600, MemoryBytes: 512}
	if !state.Acquire(req) {
		t.Fatal("Acquire() = false for request within capacity")
	}
	if state.Acquire(req) {
		t.Fatal("Acquire() = true for request over remaining capacity")
	}

	state.Release(req)
	if !state.Acquire(req) {
		t.Fatal("Acquire() = false after Release")
	}
}

func TestRunState_AcquireUnlimitedCapacity(t *testing.T) {
	state := newState(t, chainSpec())

	// Нулевой бюджет — ресурсы не учитываются
	req := domain.ResourceRequest{CPUMillis: 1 << 40, MemoryBytes: 1 << 50}
	if !state.Acquire(req) {
		t.Fatal("Acquire() = false with zero capacity budget")
	}
}

func TestRunState_MarkStageRunningAfterSkip(t *testing.T) {
	state := newState(t, chainSpec())

	state.MarkStageSkipped("a", "dependency x failed")
	if state.MarkStageRunning("a") {
		t.Error("MarkStageRunning() = true for skipped stage")
	}
}

func TestRunState_MarkStageRunningAfterCancel(t *testing.T) {
	state := newState(t, chainSpec())

	state.Cancel()
	if state.MarkStageRunning("a") {
		t.Error("MarkStageRunning() = true for cancelled run")
	}
	if got := state.Ready(); got != nil {
		t.Errorf("Ready() = %v after cancel, want nil", names(got))
	}
}

func TestRunState_SkippedStageStaysSkipped(t *testing.T) {
	state := newState(t, chainSpec())

	state.MarkStageSkipped("c", "dependency a failed")
	state.MarkStageSkipped("c", "gate rejected")

	rec := state.Run.StageRecordByName("c")
	if rec.SkipReason != "dependency a failed" {
		t.Errorf("skip reason = %q, want first reason to win", rec.SkipReason)
	}
}

func TestRunState_FirstFailureOrder(t *testing.T) {
	spec := &domain.PipelineSpec{
		Model: "m",
		Stages: []domain.StageDef{
			{Name: "a", Handler: "noop"},
			{Name: "b", Handler: "noop"},
		},
		MinHealthyFraction: 1.0,
	}
	state := newState(t, spec)

	state.MarkStageFailed("b", "disk full")
	state.MarkStageFailed("a", "oom")

	stage, cause := state.FirstFailure()
	if stage != "b" || cause != "disk full" {
		t.Errorf("FirstFailure() = (%s, %s), want (b, disk full)", stage, cause)
	}
}

func TestRunState_MetricsMergeAndSnapshot(t *testing.T) {
	state := newState(t, chainSpec())

	state.MarkStageSucceeded("a", domain.Metrics{"rmse": 9.0})
	state.MarkStageSucceeded("b", domain.Metrics{"r2": 0.9, "rmse": 8.5})

	m := state.Metrics()
	if m["rmse"] != 8.5 || m["r2"] != 0.9 {
		t.Errorf("metrics = %v, want later stage to overwrite", m)
	}

	// Снимок независим от внутреннего состояния
	m["rmse"] = 0
	if got := state.Metrics()["rmse"]; got != 8.5 {
		t.Errorf("internal metrics mutated through snapshot: rmse = %g", got)
	}
}

func TestRunState_Stats(t *testing.T) {
	state := newState(t, chainSpec())

	state.MarkStageSucceeded("a", nil)
	state.MarkStageFailed("b", "boom")
	state.MarkStageSkipped("c", "dependency b failed")

	stats := state.Stats()
	if stats.TotalStages != 3 || stats.CompletedStages != 1 || stats.FailedStages != 1 || stats.SkippedStages != 1 {
		t.Errorf("stats = %+v, want 3 total / 1 completed / 1 failed / 1 skipped", stats)
	}
}

// names извлекает имена узлов для сообщений об ошибках.
func names(nodes []*engine.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}
