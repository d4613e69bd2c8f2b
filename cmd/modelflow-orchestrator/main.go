// Modelflow Orchestrator — управляет выполнением runs.
//
// Orchestrator:
//   - Получает новые runs из RabbitMQ (и подхватывает pending runs из БД)
//   - Парсит pipeline spec и строит DAG
//   - Выполняет стадии горутинами с учётом ресурсных бюджетов
//   - Применяет gate, реестр моделей и контроллер выкаток
//   - Финализирует runs
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Modelflow/internal/mq"
	"github.com/shaiso/Modelflow/internal/orchestrator"
	"github.com/shaiso/Modelflow/internal/registry"
	"github.com/shaiso/Modelflow/internal/repo"
	"github.com/shaiso/Modelflow/internal/rollout"
	"github.com/shaiso/Modelflow/internal/runner"
	"github.com/shaiso/Modelflow/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting modelflow-orchestrator")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Создаём репозитории
	runRepo := repo.NewRunRepo(pool)
	pipelineRepo := repo.NewPipelineRepo(pool)
	registryRepo := repo.NewRegistryRepo(pool)

	// RabbitMQ
	var publisher *mq.Publisher
	var mqConn *mq.Connection
	mqConn, err = mq.NewConnection(mq.DefaultURL(), logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		// Создаём топологию
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Реестр моделей: персистентность через registryRepo,
	// in-memory состояние восстанавливаем из БД
	modelRegistry := registry.New(registry.Config{
		Store:  registryRepo,
		Logger: logger,
	})

	entries, err := registryRepo.ListAll(ctx)
	if err != nil {
		logger.Error("failed to load registry entries", "error", err)
		os.Exit(1)
	}
	for i := range entries {
		modelRegistry.Restore(&entries[i])
	}
	logger.Info("model registry restored", "entries", len(entries))

	// Контроллер выкаток (локальный режим: выкатка сходится сразу)
	prober := rollout.NewLocalProber()
	controller := rollout.New(rollout.Config{
		Prober: prober,
		Logger: logger,
	})
	prober.Bind(controller)

	// Реестр обработчиков стадий
	handlers := runner.NewRegistry()
	handlers.Register(runner.NewNoopHandler())
	handlers.Register(runner.NewPublishHandler(modelRegistry))
	handlers.Register(runner.NewDeployHandler(modelRegistry, controller, 0))

	// Создаём orchestrator
	orch := orchestrator.New(orchestrator.Config{
		RunRepo:      runRepo,
		PipelineRepo: pipelineRepo,
		Publisher:    publisher,
		Conn:         mqConn,
		Runner:       runner.New(handlers, logger),
		Logger:       logger,
	})

	// Запускаем orchestrator
	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8083"
	if v := os.Getenv("ORCH_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем orchestrator
	orch.Stop()
	logger.Info("modelflow-orchestrator stopped")
}
