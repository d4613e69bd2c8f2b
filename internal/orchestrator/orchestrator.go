package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Modelflow/internal/domain"
	"github.com/shaiso/Modelflow/internal/mq"
	"github.com/shaiso/Modelflow/internal/runner"
)

// Значения конфигурации по умолчанию.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 100
)

// RunStore — персистентность runs. Реализуется repo.RunRepo.
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	Update(ctx context.Context, run *domain.Run) error
	ListPending(ctx context.Context, limit int) ([]domain.Run, error)
}

// PipelineStore — доступ к версиям pipeline. Реализуется repo.PipelineRepo.
type PipelineStore interface {
	GetVersion(ctx context.Context, pipelineID uuid.UUID, version int) (*domain.PipelineVersion, error)
}

// Orchestrator управляет выполнением runs.
//
// Orchestrator — центральный компонент системы, который:
//   - Получает новые runs из очереди RabbitMQ (event-driven)
//   - Периодически проверяет pending runs в БД (polling fallback)
//   - Строит DAG для каждого run
//   - Выполняет стадии горутинами этого процесса
//   - Применяет gate, retry-политику и ресурсные ограничения
//   - Финализирует runs (SUCCEEDED/REJECTED/FAILED/CANCELLED)
type Orchestrator struct {
	// Репозитории (nil — режим без персистентности)
	runRepo      RunStore
	pipelineRepo PipelineStore

	// MQ (nil — режим без событий)
	publisher *mq.Publisher
	conn      *mq.Connection

	// Выполнение стадий
	runner *runner.Runner

	// Активные runs (runID → state)
	activeRuns map[uuid.UUID]*RunState
	mu         sync.RWMutex

	// Consumers для runs.pending и runs.cancel
	runConsumer    *mq.Consumer
	cancelConsumer *mq.Consumer

	// Конфигурация polling
	pollInterval time.Duration
	batchSize    int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Репозитории (опционально: без них состояние живёт только в памяти)
	RunRepo      RunStore
	PipelineRepo PipelineStore

	// MQ (опционально)
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Runner — выполнение стадий (обязательно)
	Runner *runner.Runner

	// Конфигурация polling
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество runs за один poll (default: 100)

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		runRepo:      cfg.RunRepo,
		pipelineRepo: cfg.PipelineRepo,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		runner:       cfg.Runner,
		activeRuns:   make(map[uuid.UUID]*RunState),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Start запускает Orchestrator.
//
// Запускает:
//   - Consumer для runs.pending (если MQ подключён)
//   - Polling горутину для fallback (если есть БД)
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"batch_size", o.batchSize,
	)

	if o.conn != nil {
		o.runConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueRunsPending),
			Handler:  o.handleRunPending,
			Prefetch: 10,
		})

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.runConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("run consumer error", "error", err)
			}
		}()

		o.cancelConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueRunsCancel),
			Handler:  o.handleRunCancel,
			Prefetch: 10,
		})

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.cancelConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("cancel consumer error", "error", err)
			}
		}()
	}

	if o.runRepo != nil {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.pollLoop(ctx)
		}()
	}

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator и ждёт завершения горутин.
func (o *Orchestrator) Stop() {
	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	if o.runConsumer != nil {
		o.runConsumer.Stop()
	}
	if o.cancelConsumer != nil {
		o.cancelConsumer.Stop()
	}

	o.wg.Wait()

	o.logger.Info("orchestrator stopped",
		"active_runs", o.ActiveRunsCount(),
	)
}

// StartRun начинает асинхронное выполнение run.
// Используется API-слоем при прямой подаче run (без MQ).
func (o *Orchestrator) StartRun(ctx context.Context, run *domain.Run, spec *domain.PipelineSpec) (*RunState, error) {
	state := NewRunState(run, spec)

	if err := state.Initialize(); err != nil {
		run.MarkFailed(err.Error())
		o.persistRun(ctx, run)
		return nil, err
	}

	if err := o.addActiveRun(state); err != nil {
		return nil, err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.ExecuteRun(ctx, state); err != nil {
			o.logger.Error("run execution error",
				"run_id", state.RunID(),
				"error", err,
			)
		}
	}()

	return state, nil
}

// CancelRun отменяет активный run. Выполняющиеся стадии прерываются
// через контекст, оставшиеся помечаются SKIPPED.
func (o *Orchestrator) CancelRun(runID uuid.UUID) error {
	state := o.getActiveRun(runID)
	if state == nil {
		return fmt.Errorf("%w: %s", ErrRunNotActive, runID)
	}

	o.logger.Info("cancelling run", "run_id", runID)
	state.Cancel()
	return nil
}

// pollLoop — цикл polling для fallback.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем runs, созданные пока были выключены)
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (o *Orchestrator) poll(ctx context.Context) {
	runs, err := o.runRepo.ListPending(ctx, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list pending runs", "error", err)
		return
	}

	if len(runs) == 0 {
		return
	}

	o.logger.Debug("poll found pending runs", "count", len(runs))

	for i := range runs {
		run := &runs[i]

		if o.isRunActive(run.ID) {
			continue
		}

		if err := o.processRun(ctx, run.ID); err != nil {
			o.logger.Error("failed to process run from poll",
				"run_id", run.ID,
				"error", err,
			)
		}
	}
}

// isRunActive проверяет, находится ли run в обработке.
func (o *Orchestrator) isRunActive(runID uuid.UUID) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, exists := o.activeRuns[runID]
	return exists
}

// getActiveRun возвращает активный RunState.
func (o *Orchestrator) getActiveRun(runID uuid.UUID) *RunState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.activeRuns[runID]
}

// addActiveRun добавляет run в активные.
func (o *Orchestrator) addActiveRun(state *RunState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.activeRuns[state.RunID()]; exists {
		return ErrRunAlreadyActive
	}

	o.activeRuns[state.RunID()] = state
	return nil
}

// removeActiveRun удаляет run из активных.
func (o *Orchestrator) removeActiveRun(runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeRuns, runID)
}

// ActiveRunsCount возвращает количество активных runs.
func (o *Orchestrator) ActiveRunsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeRuns)
}

// ActiveRunStats возвращает статистику по активному run.
func (o *Orchestrator) ActiveRunStats(runID uuid.UUID) (RunStats, bool) {
	o.mu.RLock()
	state, exists := o.activeRuns[runID]
	o.mu.RUnlock()

	if !exists {
		return RunStats{}, false
	}
	return state.Stats(), true
}
