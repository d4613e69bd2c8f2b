package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Modelflow/internal/domain"
)

// Pipeline DTOs

// CreatePipelineRequest — запрос на создание pipeline.
type CreatePipelineRequest struct {
	Name string `json:"name"`
}

// UpdatePipelineRequest — запрос на обновление pipeline.
type UpdatePipelineRequest struct {
	Name     *string `json:"name,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// PipelineResponse — ответ с pipeline.
type PipelineResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// PipelineFromDomain конвертирует domain.Pipeline в PipelineResponse.
func PipelineFromDomain(p domain.Pipeline) PipelineResponse {
	return PipelineResponse{
		ID:        p.ID,
		Name:      p.Name,
		IsActive:  p.IsActive,
		CreatedAt: p.CreatedAt,
	}
}

// PipelineVersion DTOs

// CreatePipelineVersionRequest — запрос на создание версии pipeline.
type CreatePipelineVersionRequest struct {
	Spec domain.PipelineSpec `json:"spec"`
}

// PipelineVersionResponse — ответ с версией pipeline.
type PipelineVersionResponse struct {
	PipelineID uuid.UUID           `json:"pipeline_id"`
	Version    int                 `json:"version"`
	Spec       domain.PipelineSpec `json:"spec"`
	CreatedAt  time.Time           `json:"created_at"`
}

// PipelineVersionFromDomain конвертирует domain.PipelineVersion в PipelineVersionResponse.
func PipelineVersionFromDomain(v domain.PipelineVersion) PipelineVersionResponse {
	return PipelineVersionResponse{
		PipelineID: v.PipelineID,
		Version:    v.Version,
		Spec:       v.Spec,
		CreatedAt:  v.CreatedAt,
	}
}

// Run DTOs

// CreateRunRequest — запрос на создание run.
type CreateRunRequest struct {
	Version        *int   `json:"version,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID             uuid.UUID            `json:"id"`
	PipelineID     uuid.UUID            `json:"pipeline_id"`
	Version        int                  `json:"version"`
	Status         string               `json:"status"`
	Stages         []domain.StageRecord `json:"stages,omitempty"`
	Decision       *domain.Decision     `json:"decision,omitempty"`
	Error          string               `json:"error,omitempty"`
	IdempotencyKey string               `json:"idempotency_key,omitempty"`
	StartedAt      *time.Time           `json:"started_at,omitempty"`
	FinishedAt     *time.Time           `json:"finished_at,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	return RunResponse{
		ID:             r.ID,
		PipelineID:     r.PipelineID,
		Version:        r.Version,
		Status:         string(r.Status),
		Stages:         r.Stages,
		Decision:       r.Decision,
		Error:          r.Error,
		IdempotencyKey: r.IdempotencyKey,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		CreatedAt:      r.CreatedAt,
	}
}

// Registry DTOs

// RegistryEntryResponse — ответ с записью реестра моделей.
type RegistryEntryResponse struct {
	ID        uuid.UUID          `json:"id"`
	Model     string             `json:"model"`
	Version   int                `json:"version"`
	Artifact  domain.ArtifactRef `json:"artifact"`
	Metrics   domain.Metrics     `json:"metrics,omitempty"`
	Stage     string             `json:"stage"`
	RunID     uuid.UUID          `json:"run_id,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// RegistryEntryFromDomain конвертирует domain.RegistryEntry в RegistryEntryResponse.
func RegistryEntryFromDomain(e domain.RegistryEntry) RegistryEntryResponse {
	return RegistryEntryResponse{
		ID:        e.ID,
		Model:     e.Model,
		Version:   e.Version,
		Artifact:  e.Artifact,
		Metrics:   e.Metrics,
		Stage:     string(e.Stage),
		RunID:     e.RunID,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	Name        string `json:"name"`
	CronExpr    string `json:"cron_expr,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// UpdateScheduleRequest — запрос на обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string `json:"name,omitempty"`
	CronExpr    *string `json:"cron_expr,omitempty"`
	IntervalSec *int    `json:"interval_sec,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
}

// SetEnabledRequest — запрос на включение/выключение.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ с schedule.
type ScheduleResponse struct {
	ID          uuid.UUID  `json:"id"`
	PipelineID  uuid.UUID  `json:"pipeline_id"`
	Name        string     `json:"name"`
	CronExpr    string     `json:"cron_expr,omitempty"`
	IntervalSec int        `json:"interval_sec,omitempty"`
	Timezone    string     `json:"timezone"`
	Enabled     bool       `json:"enabled"`
	NextDueAt   *time.Time `json:"next_due_at,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	LastRunID   *uuid.UUID `json:"last_run_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		ID:          s.ID,
		PipelineID:  s.PipelineID,
		Name:        s.Name,
		CronExpr:    s.CronExpr,
		IntervalSec: s.IntervalSec,
		Timezone:    s.Timezone,
		Enabled:     s.Enabled,
		NextDueAt:   s.NextDueAt,
		LastRunAt:   s.LastRunAt,
		LastRunID:   s.LastRunID,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}
