package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stackforge/engine/internal/models"
	appErr "github.com/stackforge/engine/pkg/errors"
)

type SpecRepository interface {
	BaseRepository[models.StackSpec]
	GetCurrentByProject(ctx context.Context, projectID uuid.UUID, dest *models.StackSpec) error
	GetByVersion(ctx context.Context, projectID uuid.UUID, version int, dest *models.StackSpec) error
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.StackSpec, error)
	SetCurrent(ctx context.Context, projectID uuid.UUID, version int) error
}

type specRepository struct {
	BaseRepository[models.StackSpec]
	db *gorm.DB
}

func NewSpecRepository(db *gorm.DB) SpecRepository {
	return &specRepository{BaseRepository: NewBaseRepository[models.StackSpec](db), db: db}
}

func (r *specRepository) GetCurrentByProject(ctx context.Context, projectID uuid.UUID, dest *models.StackSpec) error {
	err := r.db.WithContext(ctx).Where("project_id = ? AND is_current", projectID).First(dest).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeNotFound, "no current spec for project")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get current spec failed")
	}
	return nil
}

func (r *specRepository) GetByVersion(ctx context.Context, projectID uuid.UUID, version int, dest *models.StackSpec) error {
	err := r.db.WithContext(ctx).Where("project_id = ? AND version = ?", projectID, version).First(dest).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeNotFound, "spec version not found")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get spec version failed")
	}
	return nil
}

func (r *specRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.StackSpec, error) {
	var out []models.StackSpec
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("version DESC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list specs failed")
	}
	return out, nil
}

func (r *specRepository) SetCurrent(ctx context.Context, projectID uuid.UUID, version int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.StackSpec{}).Where("project_id = ?", projectID).Update("is_current", false).Error; err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "clear current spec failed")
		}
		res := tx.Model(&models.StackSpec{}).Where("project_id = ? AND version = ?", projectID, version).Update("is_current", true)
		if res.Error != nil {
			return appErr.Wrap(res.Error, appErr.CodeInternal, "set current spec failed")
		}
		if res.RowsAffected == 0 {
			return appErr.New(appErr.CodeNotFound, "spec version not found")
		}
		return nil
	})
}
