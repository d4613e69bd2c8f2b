package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ REJECTED (gate отклонил кандидата — штатный исход)
//	                  ↘ FAILED
//	          (или) → CANCELLED (из PENDING или RUNNING)
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — все стадии завершены, deploy прошёл.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusRejected — gate отклонил модель: конвейер отработал корректно,
	// но кандидат не прошёл пороги качества. Это не ошибка выполнения.
	RunStatusRejected RunStatus = "REJECTED"

	// RunStatusFailed — run завершился с ошибкой.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run отменён пользователем.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusRejected, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// StageStatus — статус выполнения стадии внутри run.
//
// Жизненный цикл:
//
//	WAITING → RUNNABLE → RUNNING → SUCCEEDED
//	                             ↘ FAILED (после исчерпания retry)
//	        ↘ SKIPPED (упала зависимость, gate отклонил или run отменён)
type StageStatus string

const (
	// StageWaiting — зависимости стадии ещё не удовлетворены.
	StageWaiting StageStatus = "WAITING"

	// StageRunnable — зависимости удовлетворены, стадия ждёт диспетчеризации
	// (свободного слота конкурентности и ресурсной ёмкости).
	StageRunnable StageStatus = "RUNNABLE"

	// StageRunning — стадия выполняется.
	StageRunning StageStatus = "RUNNING"

	// StageSucceeded — стадия успешно завершена.
	StageSucceeded StageStatus = "SUCCEEDED"

	// StageFailed — стадия завершилась с ошибкой (после всех retry).
	StageFailed StageStatus = "FAILED"

	// StageSkipped — стадия не выполнялась: упала (транзитивная) зависимость,
	// gate отклонил модель или run был отменён.
	StageSkipped StageStatus = "SKIPPED"
)

// IsTerminal возвращает true, если статус финальный.
func (s StageStatus) IsTerminal() bool {
	switch s {
	case StageSucceeded, StageFailed, StageSkipped:
		return true
	default:
		return false
	}
}

// EntryStage — стадия жизненного цикла записи в реестре моделей.
//
// Жизненный цикл:
//
//	staging → production → archived
type EntryStage string

const (
	// EntryStaging — модель зарегистрирована, но не обслуживает трафик.
	EntryStaging EntryStage = "staging"

	// EntryProduction — модель обслуживает трафик.
	// Для одного имени модели не более одной production-записи.
	EntryProduction EntryStage = "production"

	// EntryArchived — модель вытеснена более новой production-версией.
	EntryArchived EntryStage = "archived"
)

// HealthStatus — наблюдаемое состояние здоровья сервиса.
type HealthStatus string

const (
	// HealthHealthy — все реплики готовы.
	HealthHealthy HealthStatus = "HEALTHY"

	// HealthDegraded — готова только часть реплик.
	HealthDegraded HealthStatus = "DEGRADED"

	// HealthUnavailable — ни одна реплика не готова.
	HealthUnavailable HealthStatus = "UNAVAILABLE"
)
