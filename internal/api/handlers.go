package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/epiforge/cascade/internal/simservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *simservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *simservice.Service) *Handler {
	return &Handler{svc: svc}
}

// modelPath extracts the model path from the URL (everything after /api/models/).
// Supports encoded slashes from OpenAPI clients (e.g. models%2Fsir.yaml).
func modelPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListModels handles GET /api/models.
//
//	@Summary		List cataloged model documents
//	@Tags			models
//	@Produce		json
//	@Success		200	{object}	ModelListResponse
//	@Security		BearerAuth
//	@Router			/models [get]
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.ListModels(r.Context())
	if err != nil {
		writeError(w, "list models", err)
		return
	}
	items := make([]ModelListItem, len(rows))
	for i, m := range rows {
		items[i] = ModelListItem{
			Path:            m.Path,
			Name:            m.Name,
			Checksum:        m.Checksum,
			Valid:           m.Valid,
			Error:           m.Error,
			Compartments:    m.Compartments,
			Characteristics: m.Characteristics,
			Parameters:      m.Parameters,
			UpdatedAt:       m.UpdatedAt,
		}
	}
	writeJSON(w, http.StatusOK, ModelListResponse{Models: items, Total: len(items)})
}

// GetModel handles GET /api/models/*.
//
//	@Summary		Get a single model document by path
//	@Tags			models
//	@Produce		json
//	@Param			path	path		string	true	"Model path"
//	@Success		200		{object}	ModelDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/models/{path} [get]
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	path := modelPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	detail, err := h.svc.GetModel(r.Context(), path)
	if err != nil {
		writeError(w, "get model", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// CreateModel handles POST /api/models.
//
//	@Summary		Upload a new model document
//	@Tags			models
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateModelRequest	true	"Model to create"
//	@Success		201		{object}	ModelDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/models [post]
func (h *Handler) CreateModel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req CreateModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Path == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path and content are required"))
		return
	}
	detail, err := h.svc.CreateModel(r.Context(), req.Path, []byte(req.Content))
	if err != nil {
		writeError(w, "create model", err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

// UpdateModel handles PUT /api/models/*.
//
//	@Summary		Update a model document with optimistic concurrency
//	@Tags			models
//	@Accept			json
//	@Produce		json
//	@Param			path		path	string				true	"Model path"
//	@Param			If-Match	header	string				false	"SHA-256 checksum for optimistic concurrency"
//	@Param			body		body	UpdateModelRequest	true	"Updated content"
//	@Success		200		{object}	ModelDetail
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/models/{path} [put]
func (h *Handler) UpdateModel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	path := modelPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var req UpdateModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}

	ifMatch := r.Header.Get("If-Match")
	// Strip surrounding quotes if present (standard ETag format).
	ifMatch = strings.Trim(ifMatch, `"`)

	detail, err := h.svc.UpdateModel(r.Context(), path, []byte(req.Content), ifMatch)
	if err != nil {
		writeError(w, "update model", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// DeleteModel handles DELETE /api/models/*.
//
//	@Summary		Delete a model document
//	@Tags			models
//	@Param			path	path	string	true	"Model path"
//	@Success		204		"Model deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/models/{path} [delete]
func (h *Handler) DeleteModel(w http.ResponseWriter, r *http.Request) {
	path := modelPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.DeleteModel(r.Context(), path); err != nil {
		writeError(w, "delete model", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ValidateModel handles POST /api/models/validate.
//
//	@Summary		Validate a model document without saving it
//	@Tags			models
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ValidateModelRequest	true	"Document to validate"
//	@Success		200		{object}	ValidateModelResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/models/validate [post]
func (h *Handler) ValidateModel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req ValidateModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}
	if err := h.svc.ValidateModel(r.Context(), []byte(req.Content)); err != nil {
		writeJSON(w, http.StatusOK, ValidateModelResponse{Valid: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ValidateModelResponse{Valid: true})
}

// CreateRun handles POST /api/runs.
//
//	@Summary		Run a simulation and persist the result
//	@Tags			runs
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RunRequest	true	"Run request"
//	@Success		201		{object}	RunSummary
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs [post]
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.ModelPath == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("model_path is required"))
		return
	}
	summary, err := h.svc.RunSimulation(r.Context(), req)
	if err != nil {
		writeError(w, "run simulation", err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

// ListRuns handles GET /api/runs.
//
//	@Summary		List recent simulation runs
//	@Tags			runs
//	@Produce		json
//	@Param			limit	query		int	false	"Page size"
//	@Param			offset	query		int	false	"Page offset"
//	@Success		200		{object}	RunListResponse
//	@Security		BearerAuth
//	@Router			/runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	runs, err := h.svc.ListRuns(r.Context(), limit, offset)
	if err != nil {
		writeError(w, "list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs, Total: len(runs)})
}

// GetRun handles GET /api/runs/{id}.
//
//	@Summary		Get one run summary
//	@Tags			runs
//	@Produce		json
//	@Param			id	path		string	true	"Run ID"
//	@Success		200	{object}	RunSummary
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{id} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get run", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// DeleteRun handles DELETE /api/runs/{id}.
//
//	@Summary		Delete a run and its series
//	@Tags			runs
//	@Param			id	path	string	true	"Run ID"
//	@Success		204	"Run deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{id} [delete]
func (h *Handler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteRun(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete run", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetRunSeries handles GET /api/runs/{id}/series.
//
//	@Summary		Get one output series of a completed run
//	@Tags			runs
//	@Produce		json
//	@Param			id		path		string	true	"Run ID"
//	@Param			pop		query		string	true	"Population name"
//	@Param			name	query		string	true	"Variable name"
//	@Success		200		{object}	simservice.RunSeries
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{id}/series [get]
func (h *Handler) GetRunSeries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pop, name := q.Get("pop"), q.Get("name")
	if pop == "" || name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameters 'pop' and 'name' are required"))
		return
	}
	series, err := h.svc.GetRunSeries(r.Context(), chi.URLParam(r, "id"), pop, name)
	if err != nil {
		writeError(w, "get run series", err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

// GetCascade handles GET /api/runs/{id}/cascade.
//
//	@Summary		Evaluate a cascade of a completed run at a given year
//	@Tags			runs
//	@Produce		json
//	@Param			id		path		string	true	"Run ID"
//	@Param			name	query		string	true	"Cascade name"
//	@Param			year	query		number	true	"Query year"
//	@Param			pop		query		string	false	"Populations (comma separated, all when omitted)"
//	@Success		200		{object}	results.CascadeOutput
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{id}/cascade [get]
func (h *Handler) GetCascade(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("name")
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'name' is required"))
		return
	}
	year, err := strconv.ParseFloat(q.Get("year"), 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'year' must be a number"))
		return
	}
	var pops []string
	if raw := q.Get("pop"); raw != "" {
		pops = strings.Split(raw, ",")
	}
	out, err := h.svc.GetCascade(r.Context(), chi.URLParam(r, "id"), name, pops, year)
	if err != nil {
		writeError(w, "get cascade", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
