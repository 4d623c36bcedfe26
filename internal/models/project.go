package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Project represents one hosted application stack owned by a user. Each
// project maps to one Azure resource group; its stacks are versioned
// parameter documents (StackSpec) and its executions are Deployments.
type Project struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID      uuid.UUID      `gorm:"type:uuid;index;not null" json:"user_id" validate:"required"`
	Name        string         `gorm:"not null;index:idx_projects_user_name,unique" json:"name" validate:"required"`
	Description string         `gorm:"type:text" json:"description"`
	Environment string         `gorm:"type:varchar(64);index;not null" json:"environment" validate:"required"`
	Location    string         `gorm:"type:varchar(64);not null" json:"location" validate:"required"`
	Settings    datatypes.JSON `gorm:"type:jsonb" json:"settings"`
	Archived    bool           `gorm:"not null;default:false;index" json:"archived"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}
