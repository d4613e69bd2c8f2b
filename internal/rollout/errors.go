package rollout

import "errors"

var (
	// ErrUnknownService — для сервиса нет активной выкатки.
	ErrUnknownService = errors.New("unknown service")

	// ErrInvalidSpec — некорректные параметры выкатки.
	ErrInvalidSpec = errors.New("invalid deployment spec")

	// ErrRolloutTimeout — сервис не достиг нужной доли здоровых реплик
	// за отведённое время. Ошибка retryable: деградация часто временная.
	ErrRolloutTimeout = errors.New("rollout health timeout")
)
