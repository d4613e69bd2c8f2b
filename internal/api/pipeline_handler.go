package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/Modelflow/internal/domain"
	"github.com/shaiso/Modelflow/internal/engine"
)

// ListPipelines возвращает список всех pipelines.
// GET /api/v1/pipelines
func (h *Handler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := h.pipelineRepo.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]PipelineResponse, len(pipelines))
	for i, p := range pipelines {
		result[i] = PipelineFromDomain(p)
	}

	List(w, result, len(result))
}

// CreatePipeline создаёт новый pipeline.
// POST /api/v1/pipelines
func (h *Handler) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req CreatePipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	pipeline := &domain.Pipeline{
		ID:       uuid.New(),
		Name:     req.Name,
		IsActive: false,
	}

	if err := h.pipelineRepo.Create(r.Context(), pipeline); HandleRepoError(w, h.logger, err, "") {
		return
	}

	Created(w, PipelineFromDomain(*pipeline))
}

// GetPipeline возвращает pipeline по ID.
// GET /api/v1/pipelines/{id}
func (h *Handler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	pipeline, err := h.pipelineRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	Success(w, PipelineFromDomain(*pipeline))
}

// UpdatePipeline обновляет pipeline.
// PUT /api/v1/pipelines/{id}
func (h *Handler) UpdatePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req UpdatePipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	pipeline, err := h.pipelineRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	if req.Name != nil {
		pipeline.Name = *req.Name
	}
	if req.IsActive != nil {
		pipeline.IsActive = *req.IsActive
	}

	if err := h.pipelineRepo.Update(r.Context(), pipeline); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Success(w, PipelineFromDomain(*pipeline))
}

// DeletePipeline удаляет pipeline.
// DELETE /api/v1/pipelines/{id}
func (h *Handler) DeletePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	if err := h.pipelineRepo.Delete(r.Context(), id); err != nil {
		if HandleRepoError(w, h.logger, err, "pipeline not found") {
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	NoContent(w)
}

// ListPipelineVersions возвращает список версий pipeline.
// GET /api/v1/pipelines/{id}/versions
func (h *Handler) ListPipelineVersions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	// Проверяем, что pipeline существует
	_, err = h.pipelineRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	versions, err := h.pipelineRepo.ListVersions(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]PipelineVersionResponse, len(versions))
	for i, v := range versions {
		result[i] = PipelineVersionFromDomain(v)
	}

	List(w, result, len(result))
}

// CreatePipelineVersion создаёт новую версию pipeline.
// Спецификация валидируется до сохранения: невалидный граф
// (циклы, незакрытые input-слоты, несколько gate) отклоняется сразу.
// POST /api/v1/pipelines/{id}/versions
func (h *Handler) CreatePipelineVersion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req CreatePipelineVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	// Проверяем, что pipeline существует
	_, err = h.pipelineRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	spec := req.Spec
	engine.ApplyDefaults(&spec)
	if err := engine.Validate(&spec); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if _, err := engine.BuildGraph(&spec); err != nil {
		BadRequest(w, err.Error())
		return
	}

	version, err := h.pipelineRepo.CreateVersion(r.Context(), id, spec)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Created(w, PipelineVersionFromDomain(*version))
}

// GetPipelineVersion возвращает конкретную версию pipeline.
// GET /api/v1/pipelines/{id}/versions/{version}
func (h *Handler) GetPipelineVersion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	versionNum, err := strconv.Atoi(r.PathValue("version"))
	if err != nil {
		BadRequest(w, "invalid version number")
		return
	}

	version, err := h.pipelineRepo.GetVersion(r.Context(), id, versionNum)
	if HandleRepoError(w, h.logger, err, "pipeline version not found") {
		return
	}

	Success(w, PipelineVersionFromDomain(*version))
}
