package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/stackforge/engine/internal/models"
	"github.com/stackforge/engine/internal/provisioner"
	"github.com/stackforge/engine/internal/provisioner/compiler"
	"github.com/stackforge/engine/internal/repository"
	"github.com/stackforge/engine/internal/services"
	appErr "github.com/stackforge/engine/pkg/errors"
	"github.com/stackforge/engine/pkg/logger"
)

// ProvisionPayload is the task payload for provision/destroy tasks.
type ProvisionPayload struct {
	DeploymentID string `json:"deployment_id"`
}

// ProvisionTaskHandler handles provisioning and destroy tasks.
type ProvisionTaskHandler struct {
	provisioner provisioner.Provisioner
	deploySvc   services.DeploymentService
	projectRepo repository.ProjectRepository
	specRepo    repository.SpecRepository
	deployRepo  repository.DeploymentRepository

	// resourceGroupPrefix + "-" + project environment names the target
	// resource group for every deployment of a project.
	resourceGroupPrefix string
}

func NewProvisionTaskHandler(prov provisioner.Provisioner, deploySvc services.DeploymentService, projectRepo repository.ProjectRepository, specRepo repository.SpecRepository, deployRepo repository.DeploymentRepository, resourceGroupPrefix string) *ProvisionTaskHandler {
	return &ProvisionTaskHandler{
		provisioner:         prov,
		deploySvc:           deploySvc,
		projectRepo:         projectRepo,
		specRepo:            specRepo,
		deployRepo:          deployRepo,
		resourceGroupPrefix: resourceGroupPrefix,
	}
}

func (h *ProvisionTaskHandler) HandleProvision(ctx context.Context, t *asynq.Task) error {
	var p ProvisionPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.L().Error("invalid provision task payload", zap.Error(err))
		return err
	}
	id, err := uuid.Parse(p.DeploymentID)
	if err != nil {
		logger.L().Error("invalid deployment id in task", zap.Error(err))
		return err
	}

	logger.L().Info("handling provision task", zap.String("deployment_id", id.String()))

	// mark planning
	if err := h.deploySvc.UpdateDeploymentStatus(ctx, id, "planning"); err != nil {
		logger.L().Error("update status failed", zap.Error(err))
	}

	// load deployment, project, spec
	var d models.Deployment
	if err := h.deployRepo.GetByID(ctx, id, &d); err != nil {
		logger.L().Error("get deployment failed", zap.Error(err))
		_ = h.deploySvc.UpdateDeploymentStatus(ctx, id, "failed")
		return err
	}

	var proj models.Project
	if err := h.projectRepo.GetByID(ctx, d.ProjectID, &proj); err != nil {
		logger.L().Error("get project failed", zap.Error(err))
		_ = h.deploySvc.UpdateDeploymentStatus(ctx, id, "failed")
		return err
	}

	var spec models.StackSpec
	if err := h.specRepo.GetByID(ctx, d.SpecID, &spec); err != nil {
		logger.L().Error("get spec failed", zap.Error(err))
		_ = h.deploySvc.UpdateDeploymentStatus(ctx, id, "failed")
		return err
	}

	var params compiler.StackParams
	if err := json.Unmarshal(spec.Params, &params); err != nil {
		logger.L().Error("unmarshal spec params failed", zap.Error(err))
		_ = h.deploySvc.UpdateDeploymentStatus(ctx, id, "failed")
		return appErr.Wrap(err, appErr.CodeInternal, "unmarshal spec params failed")
	}
	if params.Location == "" {
		params.Location = proj.Location
	}
	if params.EnvironmentName == "" {
		params.EnvironmentName = proj.Environment
	}

	cfg := &provisioner.StackConfig{
		DeploymentID:  id,
		ProjectID:     proj.ID,
		SpecID:        spec.ID,
		Params:        params,
		ResourceGroup: h.resourceGroupPrefix + "-" + proj.Environment,
	}

	// apply
	if err := h.deploySvc.UpdateDeploymentStatus(ctx, id, "applying"); err != nil {
		logger.L().Warn("update status applying failed", zap.Error(err))
	}

	res, err := h.provisioner.Apply(ctx, cfg)
	if err != nil {
		logger.L().Error("provision apply failed", zap.Error(err))
		_ = h.deploySvc.AppendLog(ctx, id, services.DeploymentLog{Timestamp: time.Now(), Level: "error", Message: fmt.Sprintf("apply error: %v", err)})
		// partial state still gets persisted so a later destroy can clean up
		if res != nil && res.State != nil {
			_ = h.deploySvc.SaveStackState(ctx, id, res.State)
		}
		if res != nil && len(res.Resources) > 0 {
			_ = h.deploySvc.SaveDeploymentResources(ctx, id, res.Resources)
		}
		_ = h.deploySvc.UpdateDeploymentStatus(ctx, id, "failed")
		return err
	}

	// persist outputs, state, and the provisioned resource set
	if res != nil {
		if res.Outputs != nil {
			_ = h.deploySvc.SaveDeploymentOutputs(ctx, id, res.Outputs)
		}
		if res.State != nil {
			_ = h.deploySvc.SaveStackState(ctx, id, res.State)
		}
		if len(res.Resources) > 0 {
			_ = h.deploySvc.SaveDeploymentResources(ctx, id, res.Resources)
		}
	}

	_ = h.deploySvc.AppendLog(ctx, id, services.DeploymentLog{Timestamp: time.Now(), Level: "info", Message: "apply completed"})
	_ = h.deploySvc.UpdateDeploymentStatus(ctx, id, "applied")
	return nil
}

func (h *ProvisionTaskHandler) HandleDestroy(ctx context.Context, t *asynq.Task) error {
	var p ProvisionPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.L().Error("invalid destroy task payload", zap.Error(err))
		return err
	}
	id, err := uuid.Parse(p.DeploymentID)
	if err != nil {
		logger.L().Error("invalid deployment id in task", zap.Error(err))
		return err
	}

	logger.L().Info("handling destroy task", zap.String("deployment_id", id.String()))
	_ = h.deploySvc.UpdateDeploymentStatus(ctx, id, "destroying")

	// fetch state
	var d models.Deployment
	if err := h.deployRepo.GetByID(ctx, id, &d); err != nil {
		logger.L().Error("get deployment failed", zap.Error(err))
		_ = h.deploySvc.UpdateDeploymentStatus(ctx, id, "failed")
		return err
	}

	state := []byte(nil)
	if len(d.StackState) > 0 {
		state = []byte(d.StackState)
	}

	res, err := h.provisioner.Destroy(ctx, id, state)
	if err != nil {
		logger.L().Error("destroy failed", zap.Error(err))
		_ = h.deploySvc.AppendLog(ctx, id, services.DeploymentLog{Timestamp: time.Now(), Level: "error", Message: fmt.Sprintf("destroy error: %v", err)})
		_ = h.deploySvc.UpdateDeploymentStatus(ctx, id, "failed")
		return err
	}

	if res != nil && res.State != nil {
		_ = h.deploySvc.SaveStackState(ctx, id, res.State)
	}
	_ = h.deploySvc.SaveDeploymentResources(ctx, id, nil)
	_ = h.deploySvc.AppendLog(ctx, id, services.DeploymentLog{Timestamp: time.Now(), Level: "info", Message: "destroy completed"})
	_ = h.deploySvc.UpdateDeploymentStatus(ctx, id, "destroyed")
	return nil
}
