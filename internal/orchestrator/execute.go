package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Modelflow/internal/domain"
	"github.com/shaiso/Modelflow/internal/engine"
	"github.com/shaiso/Modelflow/internal/gate"
	"github.com/shaiso/Modelflow/internal/runner"
	"github.com/shaiso/Modelflow/internal/telemetry"
)

// stageResult — результат выполнения одной стадии.
type stageResult struct {
	node      *engine.Node
	resources domain.ResourceRequest
	result    *runner.Result
	err       error
}

// ExecuteRun выполняет run до финального статуса.
//
// Цикл выполнения:
//  1. Диспетчеризуем готовые стадии (в пределах concurrency_limit
//     и свободной ресурсной ёмкости)
//  2. Ждём завершения любой выполняющейся стадии
//  3. Обрабатываем результат: успех/retry/fatal/gate
//  4. Повторяем, пока есть что выполнять
//
// Все стадии выполняются горутинами этого процесса; завершения
// собираются через один канал.
func (o *Orchestrator) ExecuteRun(ctx context.Context, state *RunState) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	state.setCancelFunc(cancel)

	state.Run.MarkRunning()
	o.persistRun(ctx, state.Run)
	telemetry.ActiveRuns.Inc()
	defer telemetry.ActiveRuns.Dec()

	o.logger.Info("run started",
		"run_id", state.RunID(),
		"pipeline_id", state.Run.PipelineID,
		"version", state.Run.Version,
		"stages", state.Graph.Size(),
	)

	results := make(chan stageResult)

	for {
		o.dispatchReady(runCtx, state, results)

		if state.RunningCount() == 0 {
			break
		}

		res := <-results
		o.onStageDone(ctx, state, res)
	}

	return o.finalize(ctx, state)
}

// dispatchReady запускает готовые стадии в лексикографическом порядке,
// пока позволяют concurrency_limit и свободная ёмкость.
func (o *Orchestrator) dispatchReady(ctx context.Context, state *RunState, results chan<- stageResult) {
	for _, node := range state.Ready() {
		if limit := state.Spec.ConcurrencyLimit; limit > 0 && state.RunningCount() >= limit {
			return
		}

		resources := node.Stage.Resources

		// Запрос больше всего бюджета — стадия не выполнится никогда
		if resources.ExceedsCapacity(state.Spec.Capacity) {
			errMsg := fmt.Sprintf("%v: stage %s", ErrStageOverCapacity, node.Name)
			state.MarkStageFailed(node.Name, errMsg)
			o.skipDownstream(state, node.Name)
			o.publishStageTransition(ctx, state, node.Name, domain.StageFailed, errMsg)
			continue
		}

		if !state.Acquire(resources) {
			// Не помещается сейчас — вернёмся после освобождения ёмкости
			continue
		}

		if !state.MarkStageRunning(node.Name) {
			// Стадию успели пропустить (каскад от упавшей зависимости)
			state.Release(resources)
			continue
		}

		o.publishStageTransition(ctx, state, node.Name, domain.StageRunning, "")

		o.logger.Debug("stage dispatched",
			"run_id", state.RunID(),
			"stage", node.Name,
			"handler", node.Stage.Handler,
		)

		go o.runStage(ctx, state, node, resources, results)
	}
}

// runStage выполняет стадию с retry-циклом. Ёмкость стадии удерживается
// на всё время попыток, включая паузы между ними.
func (o *Orchestrator) runStage(ctx context.Context, state *RunState, node *engine.Node, resources domain.ResourceRequest, results chan<- stageResult) {
	var result *runner.Result
	var err error

	retryLimit := state.Spec.RetryLimit
	policy := state.Spec.StageRetryPolicy(node.Stage)

	for attempt := 1; ; attempt++ {
		state.SetAttempt(node.Name, attempt)

		var inputs map[string]domain.ArtifactRef
		inputs, err = state.Artifacts.ResolveAll(node.Stage.Inputs)
		if err != nil {
			err = runner.Fatal(fmt.Errorf("resolve inputs: %w", err))
			break
		}

		result, err = o.runner.Run(ctx, &runner.Request{
			RunID:    state.RunID(),
			Stage:    node.Stage,
			Pipeline: state.Spec,
			Inputs:   inputs,
			Metrics:  state.Metrics(),
		})
		if err == nil {
			break
		}
		if !runner.IsRetryable(err) || attempt > retryLimit {
			break
		}

		delay := retryDelay(policy, attempt)
		telemetry.StageRetries.Inc()
		o.logger.Warn("stage retry scheduled",
			"run_id", state.RunID(),
			"stage", node.Name,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			err = ctx.Err()
		}
		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}
	}

	results <- stageResult{node: node, resources: resources, result: result, err: err}
}

// onStageDone обрабатывает завершение стадии.
func (o *Orchestrator) onStageDone(ctx context.Context, state *RunState, res stageResult) {
	state.Release(res.resources)
	name := res.node.Name

	// Run отменён — результат стадии уже не важен
	if state.IsCancelled() {
		state.MarkStageInterrupted(name, "run cancelled")
		o.publishStageTransition(ctx, state, name, domain.StageSkipped, "run cancelled")
		return
	}

	if res.err != nil {
		errMsg := res.err.Error()
		state.MarkStageFailed(name, errMsg)
		telemetry.StageDuration.WithLabelValues(name, string(domain.StageFailed)).Observe(stageSeconds(state, name))
		o.skipDownstream(state, name)
		o.persistRun(ctx, state.Run)
		o.publishStageTransition(ctx, state, name, domain.StageFailed, errMsg)

		o.logger.Warn("stage failed",
			"run_id", state.RunID(),
			"stage", name,
			"attempts", state.Attempt(name),
			"error", errMsg,
		)
		return
	}

	// Успех: регистрируем outputs и сливаем метрики
	for slot, location := range res.result.Outputs {
		if err := state.Artifacts.Put(domain.ArtifactRef{
			Name:       slot,
			Location:   location,
			ProducedBy: name,
		}); err != nil {
			o.logger.Error("failed to store artifact",
				"run_id", state.RunID(),
				"stage", name,
				"slot", slot,
				"error", err,
			)
		}
	}
	state.MarkStageSucceeded(name, res.result.Metrics)
	telemetry.StageDuration.WithLabelValues(name, string(domain.StageSucceeded)).Observe(stageSeconds(state, name))
	o.persistRun(ctx, state.Run)
	o.publishStageTransition(ctx, state, name, domain.StageSucceeded, "")

	o.logger.Debug("stage succeeded",
		"run_id", state.RunID(),
		"stage", name,
		"attempts", state.Attempt(name),
	)

	// Gate: синхронная проверка порогов сразу после стадии валидации
	if res.node.Stage.Gate {
		o.evaluateGate(ctx, state, name)
	}
}

// evaluateGate проверяет метрики run по порогам качества и либо
// открывает gated-рёбра, либо пропускает все gated-стадии.
func (o *Orchestrator) evaluateGate(ctx context.Context, state *RunState, gateStage string) {
	decision := gate.Evaluate(state.Metrics(), state.Spec.Thresholds)

	if decision.Promote {
		state.OpenGate(&decision)
		telemetry.GateDecisions.WithLabelValues("promote").Inc()
		o.logger.Info("gate promoted candidate",
			"run_id", state.RunID(),
			"stage", gateStage,
		)
		return
	}

	state.RecordRejection(&decision)
	telemetry.GateDecisions.WithLabelValues("reject").Inc()

	for _, downstream := range state.Graph.Downstream(gateStage) {
		state.MarkStageSkipped(downstream, "gate rejected")
		o.publishStageTransition(ctx, state, downstream, domain.StageSkipped, "gate rejected")
	}

	o.logger.Info("gate rejected candidate",
		"run_id", state.RunID(),
		"stage", gateStage,
		"reasons", decision.Reasons,
	)
}

// skipDownstream каскадно пропускает все (транзитивные) зависимые стадии
// упавшей стадии.
func (o *Orchestrator) skipDownstream(state *RunState, failed string) {
	reason := fmt.Sprintf("dependency %s failed", failed)
	for _, name := range state.Graph.Downstream(failed) {
		state.MarkStageSkipped(name, reason)
	}
}

// finalize переводит run в финальный статус.
//
// Приоритет статусов: CANCELLED > FAILED > REJECTED > SUCCEEDED.
func (o *Orchestrator) finalize(ctx context.Context, state *RunState) error {
	run := state.Run
	run.Decision = state.Decision()

	// Отмена могла быть зафиксирована через API, пока run выполнялся:
	// терминальный статус в БД имеет приоритет, финализация не должна
	// перезаписать CANCELLED результатом доработавших стадий.
	if !state.IsCancelled() && o.runRepo != nil {
		if persisted, err := o.runRepo.GetByID(ctx, run.ID); err == nil && persisted.Status == domain.RunStatusCancelled {
			state.Cancel()
		}
	}

	switch {
	case state.IsCancelled():
		o.skipRemaining(state, "run cancelled")
		run.MarkCancelled()
		o.logger.Info("run cancelled",
			"run_id", run.ID,
			"duration", run.Duration(),
		)

	case state.HasFailed():
		stage, cause := state.FirstFailure()
		run.MarkFailed(fmt.Sprintf("stage %s: %s", stage, cause))
		o.logger.Warn("run failed",
			"run_id", run.ID,
			"stage", stage,
			"error", cause,
			"duration", run.Duration(),
		)

	case run.Decision != nil && !run.Decision.Promote:
		run.MarkRejected(run.Decision)
		o.logger.Info("run rejected by gate",
			"run_id", run.ID,
			"reasons", run.Decision.Reasons,
			"duration", run.Duration(),
		)

	default:
		run.MarkSucceeded()
		o.logger.Info("run succeeded",
			"run_id", run.ID,
			"duration", run.Duration(),
		)
	}

	telemetry.RunsTotal.WithLabelValues(string(run.Status)).Inc()

	o.persistRun(ctx, run)
	o.publishRunFinished(ctx, run)
	o.removeActiveRun(run.ID)

	return nil
}

// skipRemaining пропускает все не достигшие финального статуса стадии.
func (o *Orchestrator) skipRemaining(state *RunState, reason string) {
	for i := range state.Run.Stages {
		rec := &state.Run.Stages[i]
		if !rec.Status.IsTerminal() {
			state.MarkStageSkipped(rec.Name, reason)
		}
	}
}

// retryDelay вычисляет паузу перед следующей попыткой.
func retryDelay(policy *domain.RetryPolicy, attempt int) time.Duration {
	const defaultDelay = 100 * time.Millisecond

	if policy == nil {
		return defaultDelay
	}

	delay := time.Duration(policy.InitialDelayMs) * time.Millisecond
	if delay <= 0 {
		delay = defaultDelay
	}

	if policy.Backoff == "exponential" {
		for i := 1; i < attempt; i++ {
			delay *= 2
		}
	}

	if max := time.Duration(policy.MaxDelayMs) * time.Millisecond; max > 0 && delay > max {
		delay = max
	}

	return delay
}

// stageSeconds возвращает длительность стадии в секундах для гистограммы.
func stageSeconds(state *RunState, name string) float64 {
	rec := state.Run.StageRecordByName(name)
	if rec == nil || rec.StartedAt == nil || rec.FinishedAt == nil {
		return 0
	}
	return rec.FinishedAt.Sub(*rec.StartedAt).Seconds()
}
