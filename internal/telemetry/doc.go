// Package telemetry — наблюдаемость сервисов Modelflow.
//
// SetupLogger настраивает единый structured logging (slog, JSON),
// metrics.go объявляет Prometheus-метрики runs, стадий, gate и HTTP.
// Каждый сервис экспортирует их на своём /metrics endpoint.
package telemetry
