package domain

import (
	"time"

	"github.com/google/uuid"
)

// RegistryEntry — версия модели в реестре.
//
// Версии монотонно растут в рамках имени модели. Новая запись создаётся
// в стадии staging; promote атомарно переводит её в production и
// архивирует предыдущую production-запись того же имени.
type RegistryEntry struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// Model — имя модели (например, "house-price").
	Model string `json:"model"`

	// Version — номер версии (1, 2, 3, ...), автоинкремент по имени модели.
	Version int `json:"version"`

	// Artifact — ссылка на артефакт модели.
	Artifact ArtifactRef `json:"artifact"`

	// Metrics — снимок метрик качества на момент регистрации.
	Metrics Metrics `json:"metrics,omitempty"`

	// Stage — текущая стадия жизненного цикла.
	Stage EntryStage `json:"stage"`

	// RunID — run, который зарегистрировал эту версию.
	RunID uuid.UUID `json:"run_id,omitempty"`

	// CreatedAt — время регистрации.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последней смены стадии.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsProduction возвращает true, если запись обслуживает трафик.
func (e *RegistryEntry) IsProduction() bool {
	return e.Stage == EntryProduction
}
