package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/Modelflow/internal/domain"
	"github.com/shaiso/Modelflow/internal/repo"
)

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?pipeline_id=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{}

	if pipelineIDStr := r.URL.Query().Get("pipeline_id"); pipelineIDStr != "" {
		pipelineID, err := uuid.Parse(pipelineIDStr)
		if err != nil {
			BadRequest(w, "invalid pipeline_id")
			return
		}
		filter.PipelineID = &pipelineID
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.RunStatus(status)
	}

	filter.Limit = queryInt(r, "limit", 50)
	filter.Offset = queryInt(r, "offset", 0)

	runs, err := h.runRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// CreateRun создаёт новый run для pipeline.
// POST /api/v1/pipelines/{id}/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	// Проверяем, что pipeline существует
	pipeline, err := h.pipelineRepo.GetByID(r.Context(), pipelineID)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	// Определяем версию
	var version int
	if req.Version != nil {
		version = *req.Version
		// Проверяем, что версия существует
		_, err := h.pipelineRepo.GetVersion(r.Context(), pipelineID, version)
		if HandleRepoError(w, h.logger, err, "pipeline version not found") {
			return
		}
	} else {
		// Используем последнюю версию
		latestVersion, err := h.pipelineRepo.GetLatestVersion(r.Context(), pipelineID)
		if HandleRepoError(w, h.logger, err, "pipeline has no versions") {
			return
		}
		version = latestVersion.Version
	}

	// Проверяем idempotency key
	if req.IdempotencyKey != "" {
		existingRun, err := h.runRepo.GetByIdempotencyKey(r.Context(), pipelineID, req.IdempotencyKey)
		if err == nil && existingRun != nil {
			// Возвращаем существующий run
			Success(w, RunFromDomain(*existingRun))
			return
		}
	}

	run := &domain.Run{
		ID:             uuid.New(),
		PipelineID:     pipeline.ID,
		Version:        version,
		Status:         domain.RunStatusPending,
		IdempotencyKey: req.IdempotencyKey,
	}

	if err := h.runRepo.Create(r.Context(), run); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	// Публикуем событие в очередь
	if h.publisher != nil {
		if err := h.publisher.PublishRunPending(r.Context(), run.ID); err != nil {
			h.logger.Warn("failed to publish run.pending", "run_id", run.ID, "error", err)
		}
	}

	Created(w, RunFromDomain(*run))
}

// GetRun возвращает run по ID вместе с записями стадий и решением gate.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}

// CancelRun отменяет run.
//
// PENDING run отменяется фиксацией статуса в БД. Для RUNNING run
// дополнительно публикуется run.cancel: orchestrator прерывает
// выполняющиеся стадии. Без MQ отмена всё равно вступает в силу —
// финализация orchestrator'а не перезаписывает CANCELLED из БД.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	if run.IsFinished() {
		InvalidState(w, "run is already finished")
		return
	}

	wasRunning := run.Status == domain.RunStatusRunning
	run.MarkCancelled()

	if err := h.runRepo.Update(r.Context(), run); err != nil {
		// Orchestrator успел финализировать run между чтением и отменой
		if errors.Is(err, repo.ErrRunFinished) {
			InvalidState(w, "run is already finished")
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	if wasRunning && h.publisher != nil {
		if err := h.publisher.PublishRunCancel(r.Context(), run.ID); err != nil {
			h.logger.Warn("failed to publish run.cancel", "run_id", run.ID, "error", err)
		}
	}

	Success(w, RunFromDomain(*run))
}

// ListRunStages возвращает записи стадий run.
// GET /api/v1/runs/{id}/stages
func (h *Handler) ListRunStages(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	List(w, run.Stages, len(run.Stages))
}

// queryInt парсит целочисленный query-параметр с дефолтным значением.
func queryInt(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}
