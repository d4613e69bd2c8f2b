package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Modelflow/internal/domain"
)

// RegistryRepo — репозиторий для записей реестра моделей.
//
// Реализует registry.Store: in-memory реестр остаётся источником истины
// во время работы процесса, а БД хранит записи для аудита и восстановления
// после рестарта.
type RegistryRepo struct {
	pool *pgxpool.Pool
}

// NewRegistryRepo создаёт новый RegistryRepo.
func NewRegistryRepo(pool *pgxpool.Pool) *RegistryRepo {
	return &RegistryRepo{pool: pool}
}

// SaveEntry сохраняет запись реестра (insert или update по ID).
func (r *RegistryRepo) SaveEntry(ctx context.Context, entry *domain.RegistryEntry) error {
	artifactJSON, err := json.Marshal(entry.Artifact)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	metricsJSON, err := json.Marshal(entry.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	query := `
		INSERT INTO registry_entries (id, model, version, artifact, metrics, stage, run_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET stage = EXCLUDED.stage, updated_at = EXCLUDED.updated_at
	`
	_, err = r.pool.Exec(ctx, query,
		entry.ID,
		entry.Model,
		entry.Version,
		artifactJSON,
		metricsJSON,
		entry.Stage,
		nullUUID(&entry.RunID),
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save registry entry: %w", err)
	}
	return nil
}

// GetByModelVersion возвращает запись по имени модели и версии.
func (r *RegistryRepo) GetByModelVersion(ctx context.Context, model string, version int) (*domain.RegistryEntry, error) {
	query := `
		SELECT id, model, version, artifact, metrics, stage, run_id, created_at, updated_at
		FROM registry_entries
		WHERE model = $1 AND version = $2
	`
	return r.scanEntry(r.pool.QueryRow(ctx, query, model, version))
}

// GetProduction возвращает текущую production-запись модели.
func (r *RegistryRepo) GetProduction(ctx context.Context, model string) (*domain.RegistryEntry, error) {
	query := `
		SELECT id, model, version, artifact, metrics, stage, run_id, created_at, updated_at
		FROM registry_entries
		WHERE model = $1 AND stage = 'production'
	`
	return r.scanEntry(r.pool.QueryRow(ctx, query, model))
}

// ListByModel возвращает все записи модели, новые первыми.
func (r *RegistryRepo) ListByModel(ctx context.Context, model string) ([]domain.RegistryEntry, error) {
	query := `
		SELECT id, model, version, artifact, metrics, stage, run_id, created_at, updated_at
		FROM registry_entries
		WHERE model = $1
		ORDER BY version DESC
	`
	rows, err := r.pool.Query(ctx, query, model)
	if err != nil {
		return nil, fmt.Errorf("list registry entries: %w", err)
	}
	defer rows.Close()
	return r.collectEntries(rows)
}

// ListAll возвращает все записи реестра в порядке регистрации.
// Используется для восстановления in-memory реестра при старте.
func (r *RegistryRepo) ListAll(ctx context.Context) ([]domain.RegistryEntry, error) {
	query := `
		SELECT id, model, version, artifact, metrics, stage, run_id, created_at, updated_at
		FROM registry_entries
		ORDER BY model ASC, version ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list all registry entries: %w", err)
	}
	defer rows.Close()
	return r.collectEntries(rows)
}

// --- Helpers ---

func (r *RegistryRepo) scanEntry(row pgx.Row) (*domain.RegistryEntry, error) {
	var entry domain.RegistryEntry
	var artifactJSON, metricsJSON []byte
	var runID *uuid.UUID

	err := row.Scan(
		&entry.ID,
		&entry.Model,
		&entry.Version,
		&artifactJSON,
		&metricsJSON,
		&entry.Stage,
		&runID,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan registry entry: %w", err)
	}

	if err := unmarshalEntryJSON(&entry, artifactJSON, metricsJSON); err != nil {
		return nil, err
	}
	if runID != nil {
		entry.RunID = *runID
	}
	return &entry, nil
}

func (r *RegistryRepo) collectEntries(rows pgx.Rows) ([]domain.RegistryEntry, error) {
	var entries []domain.RegistryEntry
	for rows.Next() {
		var entry domain.RegistryEntry
		var artifactJSON, metricsJSON []byte
		var runID *uuid.UUID

		if err := rows.Scan(
			&entry.ID,
			&entry.Model,
			&entry.Version,
			&artifactJSON,
			&metricsJSON,
			&entry.Stage,
			&runID,
			&entry.CreatedAt,
			&entry.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan registry entry: %w", err)
		}

		if err := unmarshalEntryJSON(&entry, artifactJSON, metricsJSON); err != nil {
			return nil, err
		}
		if runID != nil {
			entry.RunID = *runID
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func unmarshalEntryJSON(entry *domain.RegistryEntry, artifactJSON, metricsJSON []byte) error {
	if artifactJSON != nil {
		if err := json.Unmarshal(artifactJSON, &entry.Artifact); err != nil {
			return fmt.Errorf("unmarshal artifact: %w", err)
		}
	}
	if metricsJSON != nil {
		if err := json.Unmarshal(metricsJSON, &entry.Metrics); err != nil {
			return fmt.Errorf("unmarshal metrics: %w", err)
		}
	}
	return nil
}
