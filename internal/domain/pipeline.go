package domain

import (
	"time"

	"github.com/google/uuid"
)

// Pipeline — определение ML-конвейера.
//
// Pipeline — это "рецепт" обучения и выкатки модели.
// Один pipeline может иметь множество версий (PipelineVersion).
// Каждый запуск (Run) выполняет конкретную версию pipeline.
type Pipeline struct {
	// ID — уникальный идентификатор pipeline.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя pipeline (например, "house-price", "churn-weekly").
	Name string `json:"name"`

	// IsActive — флаг активности. Неактивные pipelines не запускаются по расписанию.
	IsActive bool `json:"is_active"`

	// CreatedAt — время создания pipeline.
	CreatedAt time.Time `json:"created_at"`
}

// PipelineVersion — версия pipeline с конкретной спецификацией.
//
// Версионирование позволяет отслеживать историю изменений графа
// и воспроизводить старые запуски.
type PipelineVersion struct {
	// PipelineID — ссылка на родительский pipeline.
	PipelineID uuid.UUID `json:"pipeline_id"`

	// Version — номер версии (1, 2, 3, ...).
	// Автоинкремент при создании новой версии.
	Version int `json:"version"`

	// Spec — спецификация pipeline в формате JSON.
	Spec PipelineSpec `json:"spec"`

	// CreatedAt — время создания версии.
	CreatedAt time.Time `json:"created_at"`
}

// PipelineSpec — спецификация pipeline (содержимое JSONB поля spec).
//
// Описывает граф стадий, пороги качества и параметры выполнения.
type PipelineSpec struct {
	// Name — имя pipeline (дублирует Pipeline.Name для удобства).
	Name string `json:"name,omitempty"`

	// Description — описание назначения pipeline.
	Description string `json:"description,omitempty"`

	// Model — имя модели в реестре, которую производит этот pipeline.
	Model string `json:"model"`

	// Stages — стадии графа выполнения.
	Stages []StageDef `json:"stages"`

	// Seeds — внешние входные артефакты, доступные стадиям без продюсера
	// (например, сырой датасет, загруженный вне конвейера).
	Seeds []SeedDef `json:"seeds,omitempty"`

	// Thresholds — пороги качества, проверяемые gate после стадии валидации.
	Thresholds []Threshold `json:"thresholds,omitempty"`

	// Rollout — параметры выкатки сервиса, обслуживающего модель.
	Rollout *RolloutSpec `json:"rollout,omitempty"`

	// Defaults — настройки по умолчанию для всех стадий.
	Defaults *StageDefaults `json:"defaults,omitempty"`

	// ConcurrencyLimit — максимум одновременно выполняющихся стадий.
	// 0 — без ограничения.
	ConcurrencyLimit int `json:"concurrency_limit,omitempty"`

	// RetryLimit — максимум повторных попыток для retryable-ошибок стадии.
	RetryLimit int `json:"retry_limit,omitempty"`

	// StageTimeoutSec — wall-clock таймаут стадии по умолчанию.
	StageTimeoutSec int `json:"stage_timeout_sec,omitempty"`

	// MinHealthyFraction — доля здоровых реплик, при которой deploy-стадия
	// считается успешной (0 < f <= 1; по умолчанию 1.0).
	MinHealthyFraction float64 `json:"min_healthy_fraction,omitempty"`

	// Capacity — суммарный ресурсный бюджет run. Стадия не диспетчеризуется,
	// пока её запрос не помещается в свободную ёмкость. Нулевой бюджет — без учёта.
	Capacity ResourceRequest `json:"capacity,omitempty"`
}

// StageDef — определение стадии в pipeline.
type StageDef struct {
	// Name — уникальное имя стадии в рамках pipeline
	// (например, "ingest", "transform", "train").
	Name string `json:"name"`

	// Handler — тип обработчика стадии. Разрешается через runner.Registry.
	Handler string `json:"handler"`

	// DependsOn — имена стадий, от которых зависит эта стадия.
	// Стадия начнёт выполнение только после успешного завершения всех зависимостей.
	DependsOn []string `json:"depends_on,omitempty"`

	// Inputs — имена входных слотов артефактов. Каждый слот должен
	// закрываться output-слотом какой-либо (транзитивной) зависимости
	// или seed-артефактом.
	Inputs []string `json:"inputs,omitempty"`

	// Outputs — имена выходных слотов артефактов, которые обработчик
	// обязан произвести.
	Outputs []string `json:"outputs,omitempty"`

	// Gate — помечает стадию валидации: после её успеха оркестратор
	// синхронно вызывает ValidationGate, и только при promote нижележащие
	// стадии становятся runnable (gated edge).
	Gate bool `json:"gate,omitempty"`

	// Resources — ресурсный запрос стадии.
	Resources ResourceRequest `json:"resources,omitempty"`

	// Retry — политика повторных попыток для этой стадии.
	// Переопределяет defaults.retry.
	Retry *RetryPolicy `json:"retry,omitempty"`

	// TimeoutSec — таймаут для этой стадии.
	// Переопределяет stage_timeout_sec спецификации.
	TimeoutSec int `json:"timeout_sec,omitempty"`

	// Config — конфигурация обработчика (зависит от типа).
	Config map[string]any `json:"config,omitempty"`
}

// SeedDef — внешний входной артефакт run.
type SeedDef struct {
	// Name — имя слота, под которым артефакт доступен стадиям.
	Name string `json:"name"`

	// Location — локатор содержимого (непрозрачная строка,
	// например "s3://datasets/housing/2026-08.parquet").
	Location string `json:"location"`
}

// Threshold — один порог качества: (метрика, компаратор, граница).
type Threshold struct {
	// Metric — имя метрики из результатов стадии обучения.
	Metric string `json:"metric"`

	// Op — компаратор: "<", ">", "<=", ">=".
	// Порог пройден, если metric Op bound истинно.
	Op string `json:"op"`

	// Bound — граница сравнения.
	Bound float64 `json:"bound"`
}

// RolloutSpec — желаемые параметры выкатки сервиса.
type RolloutSpec struct {
	// Service — имя обслуживающего сервиса.
	Service string `json:"service"`

	// Replicas — желаемое число реплик.
	Replicas int `json:"replicas"`

	// MinReplicas — нижняя граница автоскейлинга.
	MinReplicas int `json:"min_replicas"`

	// MaxReplicas — верхняя граница автоскейлинга.
	MaxReplicas int `json:"max_replicas"`
}

// StageDefaults — настройки по умолчанию для стадий.
type StageDefaults struct {
	// Retry — политика повторных попыток.
	Retry *RetryPolicy `json:"retry,omitempty"`
}

// RetryPolicy — политика повторных попыток.
//
// Решение о retry — чистая функция от (failure, policy): классификацию
// retryable/fatal сообщает обработчик, бюджет и задержку задаёт политика.
type RetryPolicy struct {
	// Backoff — стратегия задержки: "fixed", "exponential".
	Backoff string `json:"backoff,omitempty"`

	// InitialDelayMs — начальная задержка в миллисекундах.
	InitialDelayMs int `json:"initial_delay_ms,omitempty"`

	// MaxDelayMs — максимальная задержка в миллисекундах.
	MaxDelayMs int `json:"max_delay_ms,omitempty"`
}

// ResourceRequest — ресурсный запрос или бюджет.
type ResourceRequest struct {
	// CPUMillis — CPU в миллиядрах (1000 = одно ядро).
	CPUMillis int64 `json:"cpu_millis,omitempty"`

	// MemoryBytes — память в байтах.
	MemoryBytes int64 `json:"memory_bytes,omitempty"`
}

// IsZero возвращает true, если запрос пустой.
func (r ResourceRequest) IsZero() bool {
	return r.CPUMillis == 0 && r.MemoryBytes == 0
}

// FitsIn проверяет, помещается ли запрос в свободную ёмкость.
// Нулевая компонента ёмкости означает "без учёта" этой компоненты.
func (r ResourceRequest) FitsIn(free, capacity ResourceRequest) bool {
	if capacity.CPUMillis > 0 && r.CPUMillis > free.CPUMillis {
		return false
	}
	if capacity.MemoryBytes > 0 && r.MemoryBytes > free.MemoryBytes {
		return false
	}
	return true
}

// ExceedsCapacity проверяет, превышает ли запрос весь бюджет
// (такая стадия не сможет выполниться никогда).
func (r ResourceRequest) ExceedsCapacity(capacity ResourceRequest) bool {
	if capacity.CPUMillis > 0 && r.CPUMillis > capacity.CPUMillis {
		return true
	}
	if capacity.MemoryBytes > 0 && r.MemoryBytes > capacity.MemoryBytes {
		return true
	}
	return false
}

// FindStage возвращает определение стадии по имени или nil.
func (s *PipelineSpec) FindStage(name string) *StageDef {
	for i := range s.Stages {
		if s.Stages[i].Name == name {
			return &s.Stages[i]
		}
	}
	return nil
}

// GateStage возвращает имя стадии с пометкой gate или пустую строку.
func (s *PipelineSpec) GateStage() string {
	for i := range s.Stages {
		if s.Stages[i].Gate {
			return s.Stages[i].Name
		}
	}
	return ""
}

// StageTimeout возвращает эффективный таймаут стадии.
func (s *PipelineSpec) StageTimeout(stage *StageDef) time.Duration {
	if stage.TimeoutSec > 0 {
		return time.Duration(stage.TimeoutSec) * time.Second
	}
	if s.StageTimeoutSec > 0 {
		return time.Duration(s.StageTimeoutSec) * time.Second
	}
	return 0
}

// StageRetryPolicy возвращает эффективную retry-политику стадии.
func (s *PipelineSpec) StageRetryPolicy(stage *StageDef) *RetryPolicy {
	if stage.Retry != nil {
		return stage.Retry
	}
	if s.Defaults != nil && s.Defaults.Retry != nil {
		return s.Defaults.Retry
	}
	return nil
}
