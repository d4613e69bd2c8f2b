// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (репозитории, publisher, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - pipeline_handler.go — обработчики для /pipelines
//   - run_handler.go      — обработчики для /runs
//   - registry_handler.go — обработчики для /models (реестр моделей)
//   - schedule_handler.go — обработчики для /schedules
//
// API предоставляет REST endpoints для управления pipelines, runs,
// schedules и для чтения реестра моделей.
package api
