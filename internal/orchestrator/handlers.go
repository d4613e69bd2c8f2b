package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Modelflow/internal/domain"
	"github.com/shaiso/Modelflow/internal/mq"
	"github.com/shaiso/Modelflow/internal/repo"
)

// handleRunPending обрабатывает событие о новом pending run.
func (o *Orchestrator) handleRunPending(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunPendingPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse run.pending payload", "error", err)
		return err
	}

	o.logger.Debug("received run.pending event", "run_id", payload.RunID)

	if o.isRunActive(payload.RunID) {
		o.logger.Debug("run already active, skipping", "run_id", payload.RunID)
		return nil
	}

	if err := o.processRun(ctx, payload.RunID); err != nil {
		if errors.Is(err, ErrRunNotPending) || errors.Is(err, ErrRunAlreadyActive) {
			o.logger.Debug("run not processed", "run_id", payload.RunID, "reason", err)
			return nil
		}
		o.logger.Error("failed to process run", "run_id", payload.RunID, "error", err)
		return err
	}

	return nil
}

// handleRunCancel обрабатывает запрос на отмену run.
// Run, не активный в этом процессе, пропускается: PENDING runs
// отсекаются проверкой статуса в processRun, а завершённые уже
// зафиксированы в БД.
func (o *Orchestrator) handleRunCancel(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunCancelPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse run.cancel payload", "error", err)
		return err
	}

	if err := o.CancelRun(payload.RunID); err != nil {
		if errors.Is(err, ErrRunNotActive) {
			o.logger.Debug("cancel for inactive run ignored", "run_id", payload.RunID)
			return nil
		}
		return err
	}

	return nil
}

// processRun загружает run и версию pipeline из БД и начинает выполнение.
func (o *Orchestrator) processRun(ctx context.Context, runID uuid.UUID) error {
	// 1. Загружаем run из БД
	run, err := o.runRepo.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("get run: %w", err)
	}

	// 2. Проверяем статус
	if run.Status != domain.RunStatusPending {
		return ErrRunNotPending
	}

	// 3. Загружаем версию pipeline
	version, err := o.pipelineRepo.GetVersion(ctx, run.PipelineID, run.Version)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return o.failRun(ctx, run, fmt.Sprintf("pipeline version not found: %s v%d", run.PipelineID, run.Version))
		}
		return fmt.Errorf("get pipeline version: %w", err)
	}

	// 4. Запускаем выполнение
	if _, err := o.StartRun(ctx, run, &version.Spec); err != nil {
		return err
	}

	return nil
}

// failRun переводит run в статус FAILED до начала выполнения
// (невалидная спецификация, потерянная версия pipeline).
func (o *Orchestrator) failRun(ctx context.Context, run *domain.Run, errMsg string) error {
	run.MarkFailed(errMsg)
	o.persistRun(ctx, run)

	o.logger.Warn("run failed early",
		"run_id", run.ID,
		"error", errMsg,
	)

	return fmt.Errorf("run failed: %s", errMsg)
}

// persistRun сохраняет run в БД, если репозиторий подключён.
// Строка, уже достигшая терминального статуса, не трогается:
// отмена через API выигрывает у прогресса выполнения.
func (o *Orchestrator) persistRun(ctx context.Context, run *domain.Run) {
	if o.runRepo == nil {
		return
	}
	if err := o.runRepo.Update(ctx, run); err != nil {
		if errors.Is(err, repo.ErrRunFinished) {
			o.logger.Debug("run already finalized in store",
				"run_id", run.ID,
				"status", run.Status,
			)
			return
		}
		o.logger.Error("failed to persist run",
			"run_id", run.ID,
			"status", run.Status,
			"error", err,
		)
	}
}

// publishStageTransition публикует событие о смене статуса стадии.
func (o *Orchestrator) publishStageTransition(ctx context.Context, state *RunState, stage string, status domain.StageStatus, detail string) {
	if o.publisher == nil {
		return
	}
	err := o.publisher.PublishStageTransition(ctx, mq.StageTransitionPayload{
		RunID:   state.RunID(),
		Stage:   stage,
		Status:  string(status),
		Attempt: state.Attempt(stage),
		Detail:  detail,
	})
	if err != nil {
		o.logger.Warn("failed to publish stage transition",
			"run_id", state.RunID(),
			"stage", stage,
			"error", err,
		)
	}
}

// publishRunFinished публикует событие о завершении run.
func (o *Orchestrator) publishRunFinished(ctx context.Context, run *domain.Run) {
	if o.publisher == nil {
		return
	}
	payload := mq.RunFinishedPayload{
		RunID:  run.ID,
		Status: string(run.Status),
		Error:  run.Error,
	}
	if run.Decision != nil {
		payload.Promote = run.Decision.Promote
		payload.Reasons = run.Decision.Reasons
	}
	if err := o.publisher.PublishRunFinished(ctx, payload); err != nil {
		o.logger.Warn("failed to publish run finished",
			"run_id", run.ID,
			"error", err,
		)
	}
}
