package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/stackforge/engine/internal/models"
	"github.com/stackforge/engine/internal/provisioner/compiler"
	"github.com/stackforge/engine/internal/repository"
	appErr "github.com/stackforge/engine/pkg/errors"
	"github.com/stackforge/engine/pkg/logger"
)

// Service interface and related DTOs
type ProjectService interface {
	// Project CRUD
	CreateProject(ctx context.Context, userID uuid.UUID, input *CreateProjectInput) (*models.Project, error)
	GetProject(ctx context.Context, projectID, userID uuid.UUID) (*models.Project, error)
	ListProjects(ctx context.Context, userID uuid.UUID, filters *ProjectFilters) ([]models.Project, error)
	UpdateProject(ctx context.Context, projectID, userID uuid.UUID, updates *UpdateProjectInput) (*models.Project, error)
	DeleteProject(ctx context.Context, projectID, userID uuid.UUID) error

	// Stack spec management
	SaveSpec(ctx context.Context, projectID, userID uuid.UUID, params *compiler.StackParams) (*models.StackSpec, error)
	GetCurrentSpec(ctx context.Context, projectID, userID uuid.UUID) (*models.StackSpec, error)
	GetSpecVersion(ctx context.Context, projectID, userID uuid.UUID, version int) (*models.StackSpec, error)
	ListSpecVersions(ctx context.Context, projectID, userID uuid.UUID) ([]models.StackSpec, error)
	ValidateSpec(ctx context.Context, projectID, userID uuid.UUID, params *compiler.StackParams) (*SpecValidation, error)
}

type CreateProjectInput struct {
	Name        string
	Description string
	Environment string
	Location    string
	Settings    map[string]interface{}
}

type UpdateProjectInput struct {
	Description *string
	Location    *string
	Settings    map[string]interface{}
}

type ProjectFilters struct {
	Archived bool
	Page     int
	PageSize int
}

// SpecValidation is the dry-run result of compiling stack parameters:
// the resource names the stack would produce, without touching Azure.
type SpecValidation struct {
	Valid         bool              `json:"valid"`
	ResourceToken string            `json:"resource_token,omitempty"`
	ResourceNames map[string]string `json:"resource_names,omitempty"`
	ApplyOrder    []string          `json:"apply_order,omitempty"`
	Error         string            `json:"error,omitempty"`
}

type projectService struct {
	db          *gorm.DB
	projectRepo repository.ProjectRepository
	specRepo    repository.SpecRepository
	compiler    *compiler.Compiler
	scopeID     string
}

// NewProjectService builds a project service. scopeID is the Azure
// subscription ID used to seed deterministic resource naming.
func NewProjectService(db *gorm.DB, projectRepo repository.ProjectRepository, specRepo repository.SpecRepository, scopeID string) ProjectService {
	return &projectService{
		db:          db,
		projectRepo: projectRepo,
		specRepo:    specRepo,
		compiler:    compiler.NewCompiler(),
		scopeID:     scopeID,
	}
}

// Ensure interfaces are satisfied at compile time
var _ ProjectService = (*projectService)(nil)

// CreateProject creates a new project for the given user.
func (s *projectService) CreateProject(ctx context.Context, userID uuid.UUID, input *CreateProjectInput) (*models.Project, error) {
	logger.L().Info("create project called", zap.String("user_id", userID.String()), zap.String("name", input.Name))

	var settings datatypes.JSON
	if input.Settings != nil {
		b, err := json.Marshal(input.Settings)
		if err != nil {
			return nil, appErr.Wrap(err, appErr.CodeInvalid, "invalid settings json")
		}
		settings = datatypes.JSON(b)
	}

	p := &models.Project{
		UserID:      userID,
		Name:        input.Name,
		Description: input.Description,
		Environment: input.Environment,
		Location:    input.Location,
		Settings:    settings,
	}

	if err := s.projectRepo.Create(ctx, p); err != nil {
		return nil, err
	}

	logger.L().Info("project created", zap.String("project_id", p.ID.String()), zap.String("user_id", userID.String()))
	return p, nil
}

func (s *projectService) GetProject(ctx context.Context, projectID, userID uuid.UUID) (*models.Project, error) {
	logger.L().Info("get project", zap.String("project_id", projectID.String()), zap.String("user_id", userID.String()))
	var p models.Project
	if err := s.projectRepo.GetByID(ctx, projectID, &p); err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, appErr.New(appErr.CodeUnauthorized, "user does not own project")
	}
	return &p, nil
}

func (s *projectService) ListProjects(ctx context.Context, userID uuid.UUID, filters *ProjectFilters) ([]models.Project, error) {
	logger.L().Info("list projects", zap.String("user_id", userID.String()))
	// repository handles user filtering
	return s.projectRepo.ListByUser(ctx, userID)
}

func (s *projectService) UpdateProject(ctx context.Context, projectID, userID uuid.UUID, updates *UpdateProjectInput) (*models.Project, error) {
	logger.L().Info("update project", zap.String("project_id", projectID.String()), zap.String("user_id", userID.String()))
	var p models.Project
	if err := s.projectRepo.GetByID(ctx, projectID, &p); err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, appErr.New(appErr.CodeUnauthorized, "user does not own project")
	}

	if updates.Description != nil {
		p.Description = *updates.Description
	}
	if updates.Location != nil {
		p.Location = *updates.Location
	}
	if updates.Settings != nil {
		b, err := json.Marshal(updates.Settings)
		if err != nil {
			return nil, appErr.Wrap(err, appErr.CodeInvalid, "invalid settings json")
		}
		p.Settings = datatypes.JSON(b)
	}

	if err := s.projectRepo.Update(ctx, &p); err != nil {
		return nil, err
	}

	logger.L().Info("project updated", zap.String("project_id", projectID.String()), zap.String("user_id", userID.String()))
	return &p, nil
}

func (s *projectService) DeleteProject(ctx context.Context, projectID, userID uuid.UUID) error {
	logger.L().Info("delete project", zap.String("project_id", projectID.String()), zap.String("user_id", userID.String()))
	var p models.Project
	if err := s.projectRepo.GetByID(ctx, projectID, &p); err != nil {
		return err
	}
	if p.UserID != userID {
		return appErr.New(appErr.CodeUnauthorized, "user does not own project")
	}
	if err := s.projectRepo.Delete(ctx, projectID); err != nil {
		return err
	}
	logger.L().Info("project deleted", zap.String("project_id", projectID.String()), zap.String("user_id", userID.String()))
	return nil
}

// Stack spec management

// SaveSpec stores a new version of the project's stack parameters and marks
// it current. Parameters are compiled first so an invalid document is
// rejected before it is ever persisted.
func (s *projectService) SaveSpec(ctx context.Context, projectID, userID uuid.UUID, params *compiler.StackParams) (*models.StackSpec, error) {
	logger.L().Info("save spec start", zap.String("project_id", projectID.String()), zap.String("user_id", userID.String()))

	// verify ownership
	var p models.Project
	if err := s.projectRepo.GetByID(ctx, projectID, &p); err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, appErr.New(appErr.CodeUnauthorized, "user does not own project")
	}

	// project-level defaults flow into the params document
	if params.Location == "" {
		params.Location = p.Location
	}
	if params.EnvironmentName == "" {
		params.EnvironmentName = p.Environment
	}

	if _, err := s.compiler.Compile(*params, s.scopeID); err != nil {
		return nil, err
	}

	paramsB, err := json.Marshal(params)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "invalid params json")
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, appErr.Wrap(tx.Error, appErr.CodeInternal, "begin transaction failed")
	}

	// compute next version
	var maxVersion int
	if err := tx.Model(&models.StackSpec{}).Where("project_id = ?", projectID).Select("COALESCE(MAX(version),0)").Scan(&maxVersion).Error; err != nil {
		tx.Rollback()
		return nil, appErr.Wrap(err, appErr.CodeInternal, "compute spec version failed")
	}
	nextVersion := maxVersion + 1

	// mark previous versions not current
	if err := tx.Model(&models.StackSpec{}).Where("project_id = ? AND is_current = true", projectID).Update("is_current", false).Error; err != nil {
		tx.Rollback()
		return nil, appErr.Wrap(err, appErr.CodeInternal, "mark previous specs failed")
	}

	spec := &models.StackSpec{
		ProjectID: projectID,
		Version:   nextVersion,
		Params:    datatypes.JSON(paramsB),
		IsCurrent: true,
	}

	if err := tx.Create(spec).Error; err != nil {
		tx.Rollback()
		return nil, appErr.Wrap(err, appErr.CodeInternal, "create spec failed")
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, appErr.Wrap(err, appErr.CodeInternal, "commit transaction failed")
	}

	logger.L().Info("spec saved", zap.String("project_id", projectID.String()), zap.Int("version", nextVersion), zap.String("user_id", userID.String()))
	return spec, nil
}

func (s *projectService) GetCurrentSpec(ctx context.Context, projectID, userID uuid.UUID) (*models.StackSpec, error) {
	logger.L().Info("get current spec", zap.String("project_id", projectID.String()), zap.String("user_id", userID.String()))
	var p models.Project
	if err := s.projectRepo.GetByID(ctx, projectID, &p); err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, appErr.New(appErr.CodeUnauthorized, "user does not own project")
	}

	var spec models.StackSpec
	if err := s.specRepo.GetCurrentByProject(ctx, projectID, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

func (s *projectService) GetSpecVersion(ctx context.Context, projectID, userID uuid.UUID, version int) (*models.StackSpec, error) {
	logger.L().Info("get spec version", zap.String("project_id", projectID.String()), zap.Int("version", version), zap.String("user_id", userID.String()))
	var p models.Project
	if err := s.projectRepo.GetByID(ctx, projectID, &p); err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, appErr.New(appErr.CodeUnauthorized, "user does not own project")
	}

	var spec models.StackSpec
	if err := s.specRepo.GetByVersion(ctx, projectID, version, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

func (s *projectService) ListSpecVersions(ctx context.Context, projectID, userID uuid.UUID) ([]models.StackSpec, error) {
	logger.L().Info("list spec versions", zap.String("project_id", projectID.String()), zap.String("user_id", userID.String()))
	var p models.Project
	if err := s.projectRepo.GetByID(ctx, projectID, &p); err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, appErr.New(appErr.CodeUnauthorized, "user does not own project")
	}

	return s.specRepo.ListByProject(ctx, projectID)
}

// ValidateSpec dry-runs parameter compilation and reports the resource names
// a deployment would produce. Compile failures are returned in the result,
// not as an error, so the handler can render them for the caller.
func (s *projectService) ValidateSpec(ctx context.Context, projectID, userID uuid.UUID, params *compiler.StackParams) (*SpecValidation, error) {
	logger.L().Info("validate spec", zap.String("project_id", projectID.String()), zap.String("user_id", userID.String()))
	var p models.Project
	if err := s.projectRepo.GetByID(ctx, projectID, &p); err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, appErr.New(appErr.CodeUnauthorized, "user does not own project")
	}

	if params.Location == "" {
		params.Location = p.Location
	}
	if params.EnvironmentName == "" {
		params.EnvironmentName = p.Environment
	}

	manifest, err := s.compiler.Compile(*params, s.scopeID)
	if err != nil {
		return &SpecValidation{Valid: false, Error: err.Error()}, nil
	}

	ordered, err := manifest.ExecutionOrder()
	if err != nil {
		return &SpecValidation{Valid: false, Error: err.Error()}, nil
	}
	order := make([]string, 0, len(ordered))
	for _, d := range ordered {
		order = append(order, string(d.Ref().Kind))
	}

	return &SpecValidation{
		Valid:         true,
		ResourceToken: manifest.Token,
		ResourceNames: map[string]string{
			string(compiler.KindPlan):        manifest.Plan.Name,
			string(compiler.KindSite):        manifest.Site.Name,
			string(compiler.KindWorkspace):   manifest.Workspace.Name,
			string(compiler.KindDiagnostics): manifest.Diagnostics.Name,
		},
		ApplyOrder: order,
	}, nil
}
