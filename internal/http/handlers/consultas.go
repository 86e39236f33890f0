package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iago/consulta-async/internal/domain"
	"github.com/iago/consulta-async/internal/repository"
)

const acceptedMessage = "Consulta encolada exitosamente"

type consultaRequest struct {
	Kind domain.QueryKind `json:"tipo_consulta"`
	Code *string          `json:"codigo"`
}

type consultaCreateResponse struct {
	ID      int64           `json:"consulta_id"`
	Status  domain.JobState `json:"status"`
	Message string          `json:"message"`
}

type consultaStatusResponse struct {
	ID          int64            `json:"consulta_id"`
	Kind        domain.QueryKind `json:"tipo_consulta"`
	SearchKey   *string          `json:"codigo_buscado"`
	Status      domain.JobState  `json:"status"`
	Result      *domain.Result   `json:"resultado"`
	CreatedAt   string           `json:"created_at"`
	ProcessedAt *string          `json:"processed_at"`
}

// CreateConsulta handles POST /consultar.
func (api *API) CreateConsulta(w http.ResponseWriter, r *http.Request) {
	var request consultaRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	code := ""
	if request.Code != nil {
		code = *request.Code
	}

	job, err := api.queries.Submit(r.Context(), request.Kind, code)
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, "invalid_request", submitErrorMessage(request.Kind))
		return
	case errors.Is(err, domain.ErrOrphanedJob):
		api.requestLogger(r).WithField("job_id", job.ID).WithError(err).Error("consulta left pending without a queued message")
		writeError(w, r, http.StatusInternalServerError, "enqueue_failed", "failed to enqueue consulta")
		return
	case err != nil:
		api.requestLogger(r).WithError(err).Error("create consulta failed")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to create consulta")
		return
	}

	writeJSON(w, http.StatusAccepted, consultaCreateResponse{
		ID:      job.ID,
		Status:  job.State,
		Message: acceptedMessage,
	})
}

// GetConsulta handles GET /consultar/{id}.
func (api *API) GetConsulta(w http.ResponseWriter, r *http.Request) {
	rawID := strings.TrimSpace(r.PathValue("id"))
	jobID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "consulta_id must be an integer")
		return
	}

	job, err := api.queries.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", fmt.Sprintf("Consulta %d no encontrada", jobID))
			return
		}
		api.requestLogger(r).WithField("job_id", jobID).WithError(err).Error("load consulta failed")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load consulta")
		return
	}

	writeJSON(w, http.StatusOK, newStatusResponse(job))
}

func newStatusResponse(job *domain.Job) consultaStatusResponse {
	response := consultaStatusResponse{
		ID:        job.ID,
		Kind:      job.Kind,
		SearchKey: job.SearchKey,
		Status:    job.State,
		Result:    job.Result,
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if job.ProcessedAt != nil {
		processed := job.ProcessedAt.UTC().Format(time.RFC3339Nano)
		response.ProcessedAt = &processed
	}
	return response
}

func submitErrorMessage(kind domain.QueryKind) string {
	if !kind.Valid() {
		return "tipo_consulta debe ser 'listar_todos' o 'buscar_codigo'"
	}
	return "El campo 'codigo' es requerido para tipo_consulta 'buscar_codigo'"
}
