package engine

import "errors"

// Ошибки валидации PipelineSpec. Все они фатальны на этапе построения
// графа и никогда не являются поводом для retry.
var (
	// ErrEmptyStages — pipeline не содержит стадий.
	ErrEmptyStages = errors.New("pipeline spec has no stages")

	// ErrEmptyStageName — стадия не имеет имени.
	ErrEmptyStageName = errors.New("stage has empty name")

	// ErrDuplicateStage — несколько стадий с одинаковым именем.
	ErrDuplicateStage = errors.New("duplicate stage name")

	// ErrEmptyHandler — стадия не указывает тип обработчика.
	ErrEmptyHandler = errors.New("stage has empty handler")

	// ErrEmptyModel — спецификация не указывает имя модели.
	ErrEmptyModel = errors.New("pipeline spec has empty model name")

	// ErrUnknownDependency — стадия зависит от несуществующей стадии.
	ErrUnknownDependency = errors.New("stage depends on unknown stage")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrSelfDependency — стадия зависит от самой себя.
	ErrSelfDependency = errors.New("stage depends on itself")

	// ErrUnboundInput — входной слот не закрывается ни output-слотом
	// транзитивной зависимости, ни seed-артефактом.
	ErrUnboundInput = errors.New("input slot has no upstream producer")

	// ErrDuplicateOutput — один output-слот объявлен у нескольких стадий
	// (или совпадает с именем seed-артефакта).
	ErrDuplicateOutput = errors.New("duplicate output slot")

	// ErrMultipleGates — больше одной стадии помечено как gate.
	ErrMultipleGates = errors.New("more than one gate stage")

	// ErrBadComparator — неизвестный компаратор порога.
	ErrBadComparator = errors.New("unknown threshold comparator")

	// ErrBadFraction — min_healthy_fraction вне диапазона (0, 1].
	ErrBadFraction = errors.New("min_healthy_fraction out of range")

	// ErrBadRollout — некорректные параметры выкатки.
	ErrBadRollout = errors.New("invalid rollout spec")
)

// GraphError — ошибка построения или валидации графа с контекстом.
type GraphError struct {
	Stage   string // имя стадии, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *GraphError) Error() string {
	if e.Stage != "" {
		return "stage " + e.Stage + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *GraphError) Unwrap() error {
	return e.Err
}

// NewGraphError создаёт новую ошибку графа.
func NewGraphError(stage, field, message string, err error) *GraphError {
	return &GraphError{
		Stage:   stage,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
