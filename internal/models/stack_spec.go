package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StackSpec stores one version of a project's stack parameter document.
// Params is the JSON encoding of compiler.StackParams.
type StackSpec struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ProjectID uuid.UUID      `gorm:"type:uuid;index;not null" json:"project_id" validate:"required"`
	Version   int            `gorm:"not null;index:idx_spec_project_version,unique" json:"version" validate:"gte=1"`
	Params    datatypes.JSON `gorm:"type:jsonb" json:"params" validate:"required"`
	IsCurrent bool           `gorm:"not null;default:false;index" json:"is_current"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
