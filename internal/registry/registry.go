// Package registry содержит реестр версий моделей.
//
// Реестр — единственный источник истины о том, какая версия модели
// находится в production. Все мутации проходят через один мьютекс:
// конкурентные Register/Promote не могут увидеть промежуточное
// состояние promote (две production-записи или ни одной).
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Modelflow/internal/domain"
)

// Store — необязательная персистентность записей реестра.
// Реализуется repo.RegistryRepo; nil — работа только в памяти (тесты).
type Store interface {
	SaveEntry(ctx context.Context, entry *domain.RegistryEntry) error
}

// Registry — in-memory реестр моделей с опциональной персистентностью.
type Registry struct {
	mu      sync.Mutex
	entries map[string][]*domain.RegistryEntry // имя модели → версии по возрастанию

	store  Store
	logger *slog.Logger
}

// Config — параметры создания Registry.
type Config struct {
	// Store — персистентность записей (опционально).
	Store Store

	// Logger — логгер (опционально).
	Logger *slog.Logger
}

// New создаёт реестр.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string][]*domain.RegistryEntry),
		store:   cfg.Store,
		logger:  logger,
	}
}

// Register создаёт новую версию модели в стадии staging.
// Номер версии монотонно растёт в рамках имени модели.
func (r *Registry) Register(ctx context.Context, model string, artifact domain.ArtifactRef, metrics domain.Metrics, runID uuid.UUID) (*domain.RegistryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	entry := &domain.RegistryEntry{
		ID:        uuid.New(),
		Model:     model,
		Version:   r.nextVersionLocked(model),
		Artifact:  artifact,
		Metrics:   metrics.Clone(),
		Stage:     domain.EntryStaging,
		RunID:     runID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Персистим до мутации памяти: упавший save не должен оставить
	// версию занятой в памяти при пустой БД — retry обязан сработать.
	if err := r.saveLocked(ctx, entry); err != nil {
		return nil, err
	}

	r.entries[model] = append(r.entries[model], entry)

	r.logger.Info("model version registered",
		"model", model,
		"version", entry.Version,
		"run_id", runID,
	)

	return entry, nil
}

// Promote атомарно переводит версию в production.
// Предыдущая production-запись того же имени архивируется в той же
// критической секции: наблюдатели никогда не видят ни две
// production-записи, ни окно без production при его наличии ранее.
//
// Promote уже находящейся в production версии — ошибка ErrAlreadyProduction.
func (r *Registry) Promote(ctx context.Context, model string, version int) (*domain.RegistryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := r.findLocked(model, version)
	if target == nil {
		return nil, fmt.Errorf("%w: %s v%d", ErrVersionNotFound, model, version)
	}
	if target.Stage == domain.EntryProduction {
		return nil, fmt.Errorf("%w: %s v%d", ErrAlreadyProduction, model, version)
	}

	now := time.Now()

	var demoted *domain.RegistryEntry
	for _, e := range r.entries[model] {
		if e.Stage == domain.EntryProduction {
			demoted = e
			break
		}
	}

	// Персистим новые стадии на копиях до мутации памяти: упавший save
	// не должен оставить память продвинутой при старой БД, иначе retry
	// упрётся в ErrAlreadyProduction. Сначала архивируем предыдущую
	// production-запись — в БД не бывает двух production-строк.
	if demoted != nil {
		archived := *demoted
		archived.Stage = domain.EntryArchived
		archived.UpdatedAt = now
		if err := r.saveLocked(ctx, &archived); err != nil {
			return nil, err
		}
	}

	promoted := *target
	promoted.Stage = domain.EntryProduction
	promoted.UpdatedAt = now
	if err := r.saveLocked(ctx, &promoted); err != nil {
		return nil, err
	}

	if demoted != nil {
		demoted.Stage = domain.EntryArchived
		demoted.UpdatedAt = now
	}
	target.Stage = domain.EntryProduction
	target.UpdatedAt = now

	r.logger.Info("model version promoted",
		"model", model,
		"version", version,
		"demoted_version", demotedVersion(demoted),
	)

	return target, nil
}

// CurrentProduction возвращает production-запись модели.
func (r *Registry) CurrentProduction(model string) (*domain.RegistryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions, exists := r.entries[model]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, model)
	}
	for _, e := range versions {
		if e.Stage == domain.EntryProduction {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoProduction, model)
}

// Entry возвращает конкретную версию модели.
func (r *Registry) Entry(model string, version int) (*domain.RegistryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.findLocked(model, version)
	if entry == nil {
		return nil, fmt.Errorf("%w: %s v%d", ErrVersionNotFound, model, version)
	}
	return entry, nil
}

// Entries возвращает все версии модели по возрастанию номера.
func (r *Registry) Entries(model string) ([]*domain.RegistryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions, exists := r.entries[model]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, model)
	}
	out := make([]*domain.RegistryEntry, len(versions))
	copy(out, versions)
	return out, nil
}

// Restore загружает запись в память без персистентности.
// Используется при восстановлении состояния из БД на старте.
func (r *Registry) Restore(entry *domain.RegistryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.Model] = append(r.entries[entry.Model], entry)
}

func (r *Registry) nextVersionLocked(model string) int {
	versions := r.entries[model]
	if len(versions) == 0 {
		return 1
	}
	return versions[len(versions)-1].Version + 1
}

func (r *Registry) findLocked(model string, version int) *domain.RegistryEntry {
	for _, e := range r.entries[model] {
		if e.Version == version {
			return e
		}
	}
	return nil
}

// saveLocked персистит запись, если store задан.
func (r *Registry) saveLocked(ctx context.Context, entry *domain.RegistryEntry) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveEntry(ctx, entry); err != nil {
		return fmt.Errorf("save registry entry %s v%d: %w", entry.Model, entry.Version, err)
	}
	return nil
}

func demotedVersion(e *domain.RegistryEntry) int {
	if e == nil {
		return 0
	}
	return e.Version
}
