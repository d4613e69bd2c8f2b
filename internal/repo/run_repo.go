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

// RunRepo — репозиторий для работы с runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create создаёт новый run.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	stagesJSON, err := json.Marshal(run.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}

	query := `
		INSERT INTO runs (id, pipeline_id, version, status, stages, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.PipelineID,
		run.Version,
		run.Status,
		stagesJSON,
		nullString(run.IdempotencyKey),
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `
		SELECT id, pipeline_id, version, status, stages, decision, started_at,
		       finished_at, error, idempotency_key, created_at
		FROM runs
		WHERE id = $1
	`
	return r.scanRun(r.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey возвращает run по ключу идемпотентности.
func (r *RunRepo) GetByIdempotencyKey(ctx context.Context, pipelineID uuid.UUID, key string) (*domain.Run, error) {
	query := `
		SELECT id, pipeline_id, version, status, stages, decision, started_at,
		       finished_at, error, idempotency_key, created_at
		FROM runs
		WHERE pipeline_id = $1 AND idempotency_key = $2
	`
	return r.scanRun(r.pool.QueryRow(ctx, query, pipelineID, key))
}

// List возвращает список runs с фильтрацией.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	query := `
		SELECT id, pipeline_id, version, status, stages, decision, started_at,
		       finished_at, error, idempotency_key, created_at
		FROM runs
		WHERE ($1::uuid IS NULL OR pipeline_id = $1)
		  AND ($2::text IS NULL OR status = $2::run_status)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullUUID(filter.PipelineID),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := r.scanRunFromRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Update обновляет run вместе с записями стадий и решением gate.
//
// Терминальная строка не перезаписывается: run, отменённый через API,
// остаётся CANCELLED, даже если orchestrator параллельно фиксирует
// прогресс стадий. В этом случае возвращается ErrRunFinished.
func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	stagesJSON, err := json.Marshal(run.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}

	var decisionJSON []byte
	if run.Decision != nil {
		decisionJSON, err = json.Marshal(run.Decision)
		if err != nil {
			return fmt.Errorf("marshal decision: %w", err)
		}
	}

	query := `
		UPDATE runs
		SET status = $2, stages = $3, decision = $4, started_at = $5,
		    finished_at = $6, error = $7
		WHERE id = $1
		  AND status NOT IN ('SUCCEEDED', 'REJECTED', 'FAILED', 'CANCELLED')
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		stagesJSON,
		decisionJSON,
		run.StartedAt,
		run.FinishedAt,
		nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		current, getErr := r.GetByID(ctx, run.ID)
		if getErr != nil {
			return getErr
		}
		if current.IsFinished() {
			return fmt.Errorf("%w: %s", ErrRunFinished, current.Status)
		}
		return ErrNotFound
	}
	return nil
}

// ListPending возвращает runs в статусе PENDING.
func (r *RunRepo) ListPending(ctx context.Context, limit int) ([]domain.Run, error) {
	query := `
		SELECT id, pipeline_id, version, status, stages, decision, started_at,
		       finished_at, error, idempotency_key, created_at
		FROM runs
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := r.scanRunFromRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// --- Helpers ---

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	PipelineID *uuid.UUID
	Status     domain.RunStatus
	Limit      int
	Offset     int
}

// scanRun сканирует одну строку в Run.
func (r *RunRepo) scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var stagesJSON, decisionJSON []byte
	var idempotencyKey *string
	var runError *string

	err := row.Scan(
		&run.ID,
		&run.PipelineID,
		&run.Version,
		&run.Status,
		&stagesJSON,
		&decisionJSON,
		&run.StartedAt,
		&run.FinishedAt,
		&runError,
		&idempotencyKey,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if err := unmarshalRunJSON(&run, stagesJSON, decisionJSON); err != nil {
		return nil, err
	}

	if idempotencyKey != nil {
		run.IdempotencyKey = *idempotencyKey
	}
	if runError != nil {
		run.Error = *runError
	}

	return &run, nil
}

// scanRunFromRows сканирует строку из rows в Run.
func (r *RunRepo) scanRunFromRows(rows pgx.Rows) (*domain.Run, error) {
	var run domain.Run
	var stagesJSON, decisionJSON []byte
	var idempotencyKey *string
	var runError *string

	err := rows.Scan(
		&run.ID,
		&run.PipelineID,
		&run.Version,
		&run.Status,
		&stagesJSON,
		&decisionJSON,
		&run.StartedAt,
		&run.FinishedAt,
		&runError,
		&idempotencyKey,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if err := unmarshalRunJSON(&run, stagesJSON, decisionJSON); err != nil {
		return nil, err
	}

	if idempotencyKey != nil {
		run.IdempotencyKey = *idempotencyKey
	}
	if runError != nil {
		run.Error = *runError
	}

	return &run, nil
}

// unmarshalRunJSON разбирает JSONB поля stages и decision.
func unmarshalRunJSON(run *domain.Run, stagesJSON, decisionJSON []byte) error {
	if stagesJSON != nil {
		if err := json.Unmarshal(stagesJSON, &run.Stages); err != nil {
			return fmt.Errorf("unmarshal stages: %w", err)
		}
	}
	if decisionJSON != nil {
		run.Decision = &domain.Decision{}
		if err := json.Unmarshal(decisionJSON, run.Decision); err != nil {
			return fmt.Errorf("unmarshal decision: %w", err)
		}
	}
	return nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}
