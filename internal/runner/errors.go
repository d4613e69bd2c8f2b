package runner

import "errors"

// Ошибки выполнения стадий.
var (
	// ErrHandlerNotFound — тип обработчика не найден в реестре.
	// Фатальная ошибка: retry бессмыслен.
	ErrHandlerNotFound = errors.New("handler type not found")

	// ErrInvalidConfig — невалидная конфигурация обработчика.
	ErrInvalidConfig = errors.New("invalid handler config")

	// ErrStageTimeout — стадия превысила таймаут. Retryable.
	ErrStageTimeout = errors.New("stage execution timeout")

	// ErrMissingInput — входной артефакт стадии не найден в хранилище.
	ErrMissingInput = errors.New("stage input artifact missing")

	// ErrMissingOutput — обработчик не произвёл объявленный output-слот.
	// Контрактная ошибка обработчика, фатальная.
	ErrMissingOutput = errors.New("declared output not produced")
)

// classified — ошибка с явной классификацией retryable/fatal.
type classified struct {
	err       error
	retryable bool
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Transient помечает ошибку как retryable (временный сбой:
// сеть, занятый ресурс, недоступный сервис).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, retryable: true}
}

// Fatal помечает ошибку как фатальную (неверный вход, контрактная
// ошибка): повторная попытка даст тот же результат.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, retryable: false}
}

// IsRetryable возвращает классификацию ошибки.
// Неклассифицированные ошибки считаются фатальными: retry по умолчанию
// не назначается, обработчик должен явно заявить временность сбоя.
func IsRetryable(err error) bool {
	var c *classified
	if errors.As(err, &c) {
		return c.retryable
	}
	return errors.Is(err, ErrStageTimeout)
}
