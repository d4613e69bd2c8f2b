package api

import (
	"log/slog"

	"github.com/shaiso/Modelflow/internal/mq"
	"github.com/shaiso/Modelflow/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	pipelineRepo *repo.PipelineRepo
	runRepo      *repo.RunRepo
	registryRepo *repo.RegistryRepo
	scheduleRepo *repo.ScheduleRepo
	publisher    *mq.Publisher
	logger       *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	PipelineRepo *repo.PipelineRepo
	RunRepo      *repo.RunRepo
	RegistryRepo *repo.RegistryRepo
	ScheduleRepo *repo.ScheduleRepo
	Publisher    *mq.Publisher
	Logger       *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		pipelineRepo: cfg.PipelineRepo,
		runRepo:      cfg.RunRepo,
		registryRepo: cfg.RegistryRepo,
		scheduleRepo: cfg.ScheduleRepo,
		publisher:    cfg.Publisher,
		logger:       logger,
	}
}
