package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — одна попытка выполнения всего графа pipeline.
//
// Run создаётся когда:
// - Пользователь запускает pipeline вручную (через API/CLI)
// - Scheduler создаёт run по расписанию переобучения
//
// После завершения run хранится как неизменяемая запись аудита.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// PipelineID — ссылка на pipeline, который выполняется.
	PipelineID uuid.UUID `json:"pipeline_id"`

	// Version — версия pipeline, которая выполняется.
	Version int `json:"version"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Stages — записи по каждой стадии. Мутируются только оркестратором,
	// после завершения run не изменяются.
	Stages []StageRecord `json:"stages,omitempty"`

	// Decision — решение gate, если валидация достигнута.
	Decision *Decision `json:"decision,omitempty"`

	// Error — текст ошибки, если run завершился с FAILED
	// (содержит имя стадии-первопричины).
	Error string `json:"error,omitempty"`

	// IdempotencyKey — ключ идемпотентности для предотвращения дубликатов.
	// Например, для scheduled runs: "{schedule_id}_{next_due_at}"
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения в любом финальном статусе.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// StageRecord — запись о выполнении одной стадии внутри run.
type StageRecord struct {
	// Name — имя стадии из PipelineSpec.
	Name string `json:"name"`

	// Status — финальный или текущий статус стадии.
	Status StageStatus `json:"status"`

	// Attempt — номер последней попытки (начиная с 1; 0 — не запускалась).
	Attempt int `json:"attempt,omitempty"`

	// Error — текст последней ошибки стадии.
	Error string `json:"error,omitempty"`

	// SkipReason — причина пропуска для SKIPPED
	// (например, "dependency transform failed", "gate rejected").
	SkipReason string `json:"skip_reason,omitempty"`

	// StartedAt — время первой диспетчеризации.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время достижения финального статуса.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Decision — решение gate по кандидату.
type Decision struct {
	// Promote — true, если все пороги пройдены.
	Promote bool `json:"promote"`

	// Reasons — по одной причине на каждый нарушенный порог
	// (оператор видит все нарушения, а не только первое).
	Reasons []string `json:"reasons,omitempty"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkSucceeded переводит run в статус SUCCEEDED.
func (r *Run) MarkSucceeded() {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
}

// MarkRejected переводит run в статус REJECTED с решением gate.
func (r *Run) MarkRejected(decision *Decision) {
	now := time.Now()
	r.Status = RunStatusRejected
	r.FinishedAt = &now
	r.Decision = decision
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
}

// MarkCancelled переводит run в статус CANCELLED.
func (r *Run) MarkCancelled() {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
}

// StageRecordByName возвращает запись стадии по имени или nil.
func (r *Run) StageRecordByName(name string) *StageRecord {
	for i := range r.Stages {
		if r.Stages[i].Name == name {
			return &r.Stages[i]
		}
	}
	return nil
}
