package registry

import "errors"

var (
	// ErrModelNotFound — модель с таким именем не зарегистрирована.
	ErrModelNotFound = errors.New("model not found")

	// ErrVersionNotFound — версия модели не существует.
	ErrVersionNotFound = errors.New("model version not found")

	// ErrAlreadyProduction — запись уже находится в production.
	ErrAlreadyProduction = errors.New("model version already in production")

	// ErrNoProduction — для модели нет production-записи.
	ErrNoProduction = errors.New("model has no production version")
)
