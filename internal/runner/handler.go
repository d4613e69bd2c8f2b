package runner

import (
	"context"

	"github.com/google/uuid"

	"github.com/shaiso/Modelflow/internal/domain"
)

// Handler — интерфейс обработчика стадии.
//
// Каждый тип стадии (noop, publish, deploy, пользовательские типы)
// реализует этот интерфейс. Обработчик обязан:
//   - Произвести все объявленные output-слоты стадии
//   - Классифицировать свои ошибки через Transient/Fatal
//   - Проверять ctx.Done() в длительных операциях
type Handler interface {
	// Type возвращает тип обработчика.
	Type() string

	// Execute выполняет стадию и возвращает результат.
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// Request — входные данные для выполнения стадии.
type Request struct {
	// RunID — идентификатор run.
	RunID uuid.UUID

	// Stage — определение выполняемой стадии.
	Stage *domain.StageDef

	// Pipeline — спецификация всего pipeline (модель, rollout, пороги).
	Pipeline *domain.PipelineSpec

	// Inputs — разрешённые входные артефакты (слот → артефакт).
	Inputs map[string]domain.ArtifactRef

	// Metrics — метрики, накопленные предыдущими стадиями run.
	Metrics domain.Metrics
}

// Result — результат выполнения стадии.
type Result struct {
	// Outputs — локаторы произведённых артефактов (слот → локатор).
	// Обязан покрывать все Stage.Outputs.
	Outputs map[string]string

	// Metrics — метрики, произведённые стадией. Сливаются в метрики run.
	Metrics domain.Metrics
}

// NewResult создаёт пустой результат.
func NewResult() *Result {
	return &Result{
		Outputs: make(map[string]string),
		Metrics: make(domain.Metrics),
	}
}
