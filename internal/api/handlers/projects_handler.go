package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stackforge/engine/internal/api/middleware"
	"github.com/stackforge/engine/internal/api/types"
	"github.com/stackforge/engine/internal/api/validators"
	"github.com/stackforge/engine/internal/services"
)

type ProjectsHandler struct {
	svc services.ProjectService
}

func NewProjectsHandler(svc services.ProjectService) *ProjectsHandler {
	return &ProjectsHandler{svc: svc}
}

func (h *ProjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListProjects(r.Context(), userID, nil)
	if err != nil {
		writeError(w, types.StatusFromError(err), err)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	start := (page - 1) * size
	end := start + size
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}
	resp := types.APIResponse{Success: true, Data: items[start:end], Meta: &types.Meta{Page: page, PageSize: size, Total: int64(len(items))}}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ProjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req types.ProjectCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validators.New().Struct(req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.CreateProject(r.Context(), userID, &services.CreateProjectInput{
		Name:        req.Name,
		Description: req.Description,
		Environment: req.Environment,
		Location:    req.Location,
		Settings:    req.Settings,
	})
	if err != nil {
		writeError(w, types.StatusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, types.APIResponse{Success: true, Data: p})
}

func (h *ProjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.svc.GetProject(r.Context(), projectID, userID)
	if err != nil {
		writeError(w, types.StatusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: p})
}

func (h *ProjectsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req types.ProjectUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.svc.UpdateProject(r.Context(), projectID, userID, &services.UpdateProjectInput{
		Description: req.Description,
		Location:    req.Location,
		Settings:    req.Settings,
	})
	if err != nil {
		writeError(w, types.StatusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: p})
}

func (h *ProjectsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteProject(r.Context(), projectID, userID); err != nil {
		writeError(w, types.StatusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true})
}

// SaveSpec stores a new stack parameter version for the project.
func (h *ProjectsHandler) SaveSpec(w http.ResponseWriter, r *http.Request) {
	var req types.SpecSaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	spec, err := h.svc.SaveSpec(r.Context(), projectID, userID, &req.Params)
	if err != nil {
		writeError(w, types.StatusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, types.APIResponse{Success: true, Data: spec})
}

// GetSpec returns the current spec, or a specific version when the
// "version" query parameter is set.
func (h *ProjectsHandler) GetSpec(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if vs := r.URL.Query().Get("version"); vs != "" {
		version, err := strconv.Atoi(vs)
		if err != nil || version < 1 {
			writeErrorStr(w, http.StatusBadRequest, "invalid version")
			return
		}
		spec, err := h.svc.GetSpecVersion(r.Context(), projectID, userID, version)
		if err != nil {
			writeError(w, types.StatusFromError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: spec})
		return
	}
	spec, err := h.svc.GetCurrentSpec(r.Context(), projectID, userID)
	if err != nil {
		writeError(w, types.StatusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: spec})
}

func (h *ProjectsHandler) ListSpecs(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	specs, err := h.svc.ListSpecVersions(r.Context(), projectID, userID)
	if err != nil {
		writeError(w, types.StatusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: specs})
}

// Validate dry-runs a stack parameter document and reports the resource
// names a deployment would produce.
func (h *ProjectsHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req types.SpecSaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.svc.ValidateSpec(r.Context(), projectID, userID, &req.Params)
	if err != nil {
		writeError(w, types.StatusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: result})
}

// Shared handler helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, types.APIResponse{Success: false, Error: types.FromAppError(err)})
}

func writeErrorStr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.APIResponse{Success: false, Error: &types.APIError{Code: "invalid", Message: msg}})
}

func currentUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(middleware.GetUserID(r.Context()))
	if err != nil {
		writeErrorStr(w, http.StatusUnauthorized, "missing user identity")
		return uuid.Nil, false
	}
	return id, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
