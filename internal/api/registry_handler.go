package api

import (
	"net/http"
)

// ListModelEntries возвращает все версии модели из реестра, новые первыми.
// GET /api/v1/models/{model}/entries
func (h *Handler) ListModelEntries(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	if model == "" {
		BadRequest(w, "model name is required")
		return
	}

	entries, err := h.registryRepo.ListByModel(r.Context(), model)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	if len(entries) == 0 {
		NotFound(w, "model not found")
		return
	}

	result := make([]RegistryEntryResponse, len(entries))
	for i, e := range entries {
		result[i] = RegistryEntryFromDomain(e)
	}

	List(w, result, len(result))
}

// GetProductionEntry возвращает текущую production-версию модели.
// GET /api/v1/models/{model}/production
func (h *Handler) GetProductionEntry(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	if model == "" {
		BadRequest(w, "model name is required")
		return
	}

	entry, err := h.registryRepo.GetProduction(r.Context(), model)
	if HandleRepoError(w, h.logger, err, "model has no production version") {
		return
	}

	Success(w, RegistryEntryFromDomain(*entry))
}
