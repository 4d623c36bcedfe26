package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/stackforge/engine/internal/api/types"
	"github.com/stackforge/engine/internal/api/validators"
	"github.com/stackforge/engine/internal/services"
)

type DeploymentsHandler struct {
	svc services.DeploymentService
}

func NewDeploymentsHandler(svc services.DeploymentService) *DeploymentsHandler {
	return &DeploymentsHandler{svc: svc}
}

func (h *DeploymentsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	projectID, err := uuid.Parse(r.URL.Query().Get("project_id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid project_id")
		return
	}
	items, err := h.svc.ListDeployments(r.Context(), projectID, userID, nil)
	if err != nil {
		writeError(w, types.StatusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items})
}

func (h *DeploymentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req types.DeploymentCreateRequest
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
	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid project_id")
		return
	}
	input := &services.CreateDeploymentInput{}
	if req.SpecID != "" {
		specID, err := uuid.Parse(req.SpecID)
		if err != nil {
			writeErrorStr(w, http.StatusBadRequest, "invalid spec_id")
			return
		}
		input.SpecID = specID
	}
	d, err := h.svc.CreateDeployment(r.Context(), projectID, userID, input)
	if err != nil {
		writeError(w, types.StatusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, types.APIResponse{Success: true, Data: d})
}

func (h *DeploymentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	deploymentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	d, err := h.svc.GetDeployment(r.Context(), deploymentID, userID)
	if err != nil {
		writeError(w, types.StatusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: d})
}

func (h *DeploymentsHandler) Logs(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	deploymentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	logs, err := h.svc.GetDeploymentLogs(r.Context(), deploymentID, userID)
	if err != nil {
		writeError(w, types.StatusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: logs})
}

func (h *DeploymentsHandler) Resources(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	deploymentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	resources, err := h.svc.ListDeploymentResources(r.Context(), deploymentID, userID)
	if err != nil {
		writeError(w, types.StatusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: resources})
}

func (h *DeploymentsHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	deploymentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DestroyDeployment(r.Context(), deploymentID, userID); err != nil {
		writeError(w, types.StatusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.APIResponse{Success: true})
}

func (h *DeploymentsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	deploymentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.CancelDeployment(r.Context(), deploymentID, userID); err != nil {
		writeError(w, types.StatusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true})
}
