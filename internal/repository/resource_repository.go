package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stackforge/engine/internal/models"
	appErr "github.com/stackforge/engine/pkg/errors"
)

type ResourceRepository interface {
	BaseRepository[models.Resource]
	ListByDeployment(ctx context.Context, deploymentID uuid.UUID) ([]models.Resource, error)
	ReplaceForDeployment(ctx context.Context, deploymentID uuid.UUID, resources []models.Resource) error
}

type resourceRepository struct {
	BaseRepository[models.Resource]
	db *gorm.DB
}

func NewResourceRepository(db *gorm.DB) ResourceRepository {
	return &resourceRepository{BaseRepository: NewBaseRepository[models.Resource](db), db: db}
}

func (r *resourceRepository) ListByDeployment(ctx context.Context, deploymentID uuid.UUID) ([]models.Resource, error) {
	var out []models.Resource
	if err := r.db.WithContext(ctx).Where("deployment_id = ?", deploymentID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list resources failed")
	}
	return out, nil
}

// ReplaceForDeployment rewrites the recorded resource set after an apply or
// destroy. Runs in a transaction so readers never see a half-written set.
func (r *resourceRepository) ReplaceForDeployment(ctx context.Context, deploymentID uuid.UUID, resources []models.Resource) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("deployment_id = ?", deploymentID).Delete(&models.Resource{}).Error; err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "clear deployment resources failed")
		}
		for i := range resources {
			resources[i].DeploymentID = deploymentID
		}
		if len(resources) == 0 {
			return nil
		}
		if err := tx.Create(&resources).Error; err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "save deployment resources failed")
		}
		return nil
	})
}
