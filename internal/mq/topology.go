package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeRuns   Exchange = "modelflow.runs"
	ExchangeEvents Exchange = "modelflow.events"
	ExchangeDLQ    Exchange = "modelflow.dlq"
)

// Queues — имена очередей.
const (
	QueueRunsPending      Queue = "runs.pending"
	QueueRunsCancel       Queue = "runs.cancel"
	QueueStageTransitions Queue = "events.stages"
	QueueRunsFinished     Queue = "events.runs"
	QueueDLQRuns          Queue = "dlq.runs"
)

// Routing keys.
const (
	RoutingKeyPending  RoutingKey = "pending"
	RoutingKeyCancel   RoutingKey = "cancel"
	RoutingKeyStage    RoutingKey = "stage"
	RoutingKeyFinished RoutingKey = "finished"
	RoutingKeyDLQRuns  RoutingKey = "runs"
)

// SetupTopology объявляет exchanges, queues и bindings.
// Идемпотентна: повторный вызов на существующей топологии безопасен.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		if err := bindQueues(ch); err != nil {
			return err
		}

		return nil
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeRuns, "direct"},
		{ExchangeEvents, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Аргументы для очередей с DLQ
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQRuns),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// runs.* — с DLQ (битые run-сообщения уходят в DLQ)
		{QueueRunsPending, dlqArgs},
		{QueueRunsCancel, dlqArgs},

		// events.* — без DLQ (уведомления, потеря не критична)
		{QueueStageTransitions, nil},
		{QueueRunsFinished, nil},

		// dlq.runs — сама DLQ очередь
		{QueueDLQRuns, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueRunsPending, RoutingKeyPending, ExchangeRuns},
		{QueueRunsCancel, RoutingKeyCancel, ExchangeRuns},
		{QueueStageTransitions, RoutingKeyStage, ExchangeEvents},
		{QueueRunsFinished, RoutingKeyFinished, ExchangeEvents},
		{QueueDLQRuns, RoutingKeyDLQRuns, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Modelflow RabbitMQ Topology:

    modelflow.runs (direct)
    ├── runs.pending [routing: pending]
    │       Consumer: Orchestrator
    │       DLQ: dlq.runs
    └── runs.cancel [routing: cancel]
            Consumer: Orchestrator
            DLQ: dlq.runs

    modelflow.events (direct)
    ├── events.stages [routing: stage]
    │       Consumer: внешние подписчики (уведомления, аудит)
    └── events.runs [routing: finished]
            Consumer: внешние подписчики (уведомления, аудит)

    modelflow.dlq (direct)
    └── dlq.runs [routing: runs]
            Manual processing
  `
}
