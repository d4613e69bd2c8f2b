package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Modelflow/internal/artifact"
	"github.com/shaiso/Modelflow/internal/domain"
	"github.com/shaiso/Modelflow/internal/engine"
)

// RunState — состояние выполнения одного run в памяти.
//
// RunState создаётся когда Orchestrator начинает обработку run
// и удаляется когда run достигает финального статуса.
//
// Содержит:
//   - Run и спецификацию pipeline
//   - Построенный DAG
//   - Хранилище артефактов run
//   - Статусы, попытки и метрики стадий
type RunState struct {
	// Run — данные run.
	Run *domain.Run

	// Spec — спецификация выполняемой версии pipeline.
	Spec *domain.PipelineSpec

	// Graph — граф зависимостей стадий.
	Graph *engine.Graph

	// Artifacts — артефакты этого run.
	Artifacts *artifact.Store

	// completed — успешно завершённые стадии.
	completed map[string]bool

	// running — выполняющиеся стадии.
	running map[string]bool

	// excluded — стадии, которые нельзя диспетчеризовать:
	// выполняющиеся, упавшие и пропущенные.
	excluded map[string]bool

	// failures — упавшие стадии (имя → текст ошибки).
	// failedOrder хранит порядок падения: первопричина — первая.
	failures    map[string]string
	failedOrder []string

	// attempts — номер последней попытки каждой стадии.
	attempts map[string]int

	// metrics — метрики, накопленные завершёнными стадиями.
	metrics domain.Metrics

	// decision — решение gate (nil, пока валидация не достигнута).
	decision *domain.Decision

	// gateOpen — gate принял promote-решение (или gate в pipeline нет:
	// тогда открыт с самого начала).
	gateOpen bool

	// free — свободная ресурсная ёмкость run.
	free domain.ResourceRequest

	// cancelled — run отменён пользователем.
	cancelled bool

	// cancel — отмена контекста run (прерывает выполняющиеся стадии).
	cancel func()

	// mu — мьютекс для потокобезопасного доступа.
	mu sync.Mutex
}

// NewRunState создаёт RunState.
func NewRunState(run *domain.Run, spec *domain.PipelineSpec) *RunState {
	return &RunState{
		Run:       run,
		Spec:      spec,
		Artifacts: artifact.NewStore(),
		completed: make(map[string]bool),
		running:   make(map[string]bool),
		excluded:  make(map[string]bool),
		failures:  make(map[string]string),
		attempts:  make(map[string]int),
		metrics:   make(domain.Metrics),
	}
}

// Initialize валидирует спецификацию, строит DAG, загружает seeds
// и создаёт записи стадий.
func (s *RunState) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 1. Валидация спецификации
	if err := engine.Validate(s.Spec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPipelineSpec, err)
	}

	// 2. Построение DAG
	graph, err := engine.BuildGraph(s.Spec)
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}
	s.Graph = graph

	// 3. Seed-артефакты
	for _, seed := range s.Spec.Seeds {
		if err := s.Artifacts.Seed(seed.Name, seed.Location); err != nil {
			return fmt.Errorf("seed artifact %s: %w", seed.Name, err)
		}
	}

	// 4. Gate открыт сразу, если gate-стадии нет
	s.gateOpen = graph.Gate == nil

	// 5. Свободная ёмкость — весь бюджет run
	s.free = s.Spec.Capacity

	// 6. Записи стадий в топологическом порядке
	if len(s.Run.Stages) == 0 {
		s.Run.Stages = make([]domain.StageRecord, 0, len(graph.Order))
		for _, node := range graph.Order {
			s.Run.Stages = append(s.Run.Stages, domain.StageRecord{
				Name:   node.Name,
				Status: domain.StageWaiting,
			})
		}
	}

	return nil
}

// Ready возвращает стадии, готовые к диспетчеризации, и помечает их
// записи RUNNABLE: зависимости удовлетворены, стадия ждёт свободного
// слота конкурентности и ресурсной ёмкости.
func (s *RunState) Ready() []*engine.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return nil
	}

	nodes := s.Graph.Ready(s.completed, s.excluded, s.gateOpen)
	for _, node := range nodes {
		if rec := s.Run.StageRecordByName(node.Name); rec != nil && rec.Status == domain.StageWaiting {
			rec.Status = domain.StageRunnable
		}
	}
	return nodes
}

// Acquire пытается занять ресурсную ёмкость под запрос стадии.
// Возвращает false, если запрос сейчас не помещается.
func (s *RunState) Acquire(req domain.ResourceRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !req.FitsIn(s.free, s.Spec.Capacity) {
		return false
	}
	s.free.CPUMillis -= req.CPUMillis
	s.free.MemoryBytes -= req.MemoryBytes
	return true
}

// Release возвращает ёмкость стадии в свободный пул.
func (s *RunState) Release(req domain.ResourceRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.free.CPUMillis += req.CPUMillis
	s.free.MemoryBytes += req.MemoryBytes
}

// MarkStageRunning помечает стадию выполняющейся.
// Возвращает false, если стадия уже не диспетчеризуема
// (завершена, пропущена каскадом или run отменён).
func (s *RunState) MarkStageRunning(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled || s.completed[name] || s.excluded[name] {
		return false
	}

	s.running[name] = true
	s.excluded[name] = true

	if rec := s.Run.StageRecordByName(name); rec != nil {
		now := time.Now()
		rec.Status = domain.StageRunning
		if rec.StartedAt == nil {
			rec.StartedAt = &now
		}
	}
	return true
}

// SetAttempt записывает номер текущей попытки стадии.
func (s *RunState) SetAttempt(name string, attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts[name] = attempt
	if rec := s.Run.StageRecordByName(name); rec != nil {
		rec.Attempt = attempt
	}
}

// MarkStageSucceeded помечает стадию успешной и сливает её метрики
// в метрики run.
func (s *RunState) MarkStageSucceeded(name string, metrics domain.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, name)
	delete(s.excluded, name)
	s.completed[name] = true

	for k, v := range metrics {
		s.metrics[k] = v
	}

	if rec := s.Run.StageRecordByName(name); rec != nil {
		now := time.Now()
		rec.Status = domain.StageSucceeded
		rec.FinishedAt = &now
	}
}

// MarkStageFailed помечает стадию упавшей.
func (s *RunState) MarkStageFailed(name, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, name)
	s.excluded[name] = true
	if _, seen := s.failures[name]; !seen {
		s.failedOrder = append(s.failedOrder, name)
	}
	s.failures[name] = errMsg

	if rec := s.Run.StageRecordByName(name); rec != nil {
		now := time.Now()
		rec.Status = domain.StageFailed
		rec.Error = errMsg
		rec.FinishedAt = &now
	}
}

// MarkStageSkipped помечает стадию пропущенной с причиной.
// Уже завершённые и уже пропущенные стадии не трогаются.
func (s *RunState) MarkStageSkipped(name, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.completed[name] || s.excluded[name] {
		return
	}
	s.excluded[name] = true

	if rec := s.Run.StageRecordByName(name); rec != nil {
		now := time.Now()
		rec.Status = domain.StageSkipped
		rec.SkipReason = reason
		rec.FinishedAt = &now
	}
}

// MarkStageInterrupted помечает выполнявшуюся стадию пропущенной
// (run отменён во время её выполнения).
func (s *RunState) MarkStageInterrupted(name, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, name)
	s.excluded[name] = true

	if rec := s.Run.StageRecordByName(name); rec != nil {
		now := time.Now()
		rec.Status = domain.StageSkipped
		rec.SkipReason = reason
		rec.FinishedAt = &now
	}
}

// OpenGate записывает promote-решение gate и открывает gated-рёбра.
func (s *RunState) OpenGate(decision *domain.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decision = decision
	s.gateOpen = true
}

// RecordRejection записывает reject-решение gate.
// Gated-стадии остаются закрытыми навсегда.
func (s *RunState) RecordRejection(decision *domain.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decision = decision
}

// Cancel помечает run отменённым и прерывает контекст выполнения.
func (s *RunState) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancelled = true
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// setCancelFunc сохраняет функцию отмены контекста run.
func (s *RunState) setCancelFunc(cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
}

// IsCancelled возвращает true, если run отменён.
func (s *RunState) IsCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// RunningCount возвращает количество выполняющихся стадий.
func (s *RunState) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// RunningStages возвращает имена выполняющихся стадий.
func (s *RunState) RunningStages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.running))
	for name := range s.running {
		names = append(names, name)
	}
	return names
}

// Attempt возвращает номер последней попытки стадии.
func (s *RunState) Attempt(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[name]
}

// Metrics возвращает снимок накопленных метрик run.
func (s *RunState) Metrics() domain.Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics.Clone()
}

// Decision возвращает решение gate или nil.
func (s *RunState) Decision() *domain.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decision
}

// HasFailed возвращает true, если есть упавшие стадии.
func (s *RunState) HasFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failures) > 0
}

// FirstFailure возвращает стадию-первопричину и её ошибку.
func (s *RunState) FirstFailure() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failedOrder) == 0 {
		return "", ""
	}
	name := s.failedOrder[0]
	return name, s.failures[name]
}

// RunID возвращает ID run.
func (s *RunState) RunID() uuid.UUID {
	return s.Run.ID
}

// Stats возвращает статистику выполнения.
func (s *RunState) Stats() RunStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	skipped := 0
	for _, rec := range s.Run.Stages {
		if rec.Status == domain.StageSkipped {
			skipped++
		}
	}

	total := len(s.Graph.Order)
	return RunStats{
		TotalStages:     total,
		CompletedStages: len(s.completed),
		RunningStages:   len(s.running),
		FailedStages:    len(s.failures),
		SkippedStages:   skipped,
	}
}

// RunStats — статистика выполнения run.
type RunStats struct {
	TotalStages     int
	CompletedStages int
	RunningStages   int
	FailedStages    int
	SkippedStages   int
}
