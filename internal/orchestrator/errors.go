package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRunNotFound — run не найден в БД.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunNotPending — run не в статусе PENDING.
	ErrRunNotPending = errors.New("run is not in PENDING status")

	// ErrRunAlreadyActive — run уже обрабатывается.
	ErrRunAlreadyActive = errors.New("run is already active")

	// ErrRunNotActive — run не обрабатывается этим оркестратором.
	ErrRunNotActive = errors.New("run is not active")

	// ErrInvalidPipelineSpec — спецификация pipeline не прошла валидацию.
	ErrInvalidPipelineSpec = errors.New("invalid pipeline spec")

	// ErrStageOverCapacity — ресурсный запрос стадии превышает весь бюджет
	// run: стадия не сможет выполниться никогда.
	ErrStageOverCapacity = errors.New("stage resource request exceeds run capacity")

	// ErrRunCancelled — run отменён пользователем.
	ErrRunCancelled = errors.New("run cancelled")
)
