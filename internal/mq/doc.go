// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - run.pending       — новый run ожидает выполнения
//   - stage.transition  — стадия сменила статус
//   - run.finished      — run достиг финального статуса
//
// Exchanges:
//   - modelflow.runs    — подача runs оркестратору
//   - modelflow.events  — события выполнения для внешних подписчиков
//   - modelflow.dlq     — dead letter queue
package mq
