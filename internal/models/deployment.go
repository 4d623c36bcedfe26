package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Deployment represents one execution of a StackSpec against Azure.
type Deployment struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ProjectID  uuid.UUID      `gorm:"type:uuid;index;not null" json:"project_id" validate:"required"`
	SpecID     uuid.UUID      `gorm:"type:uuid;index;not null" json:"spec_id" validate:"required"`
	Status     string         `gorm:"type:varchar(32);index;not null" json:"status" validate:"required,oneof=pending planning applying applied failed destroying destroyed"`
	StackState datatypes.JSON `gorm:"type:jsonb" json:"stack_state"`
	Outputs    datatypes.JSON `gorm:"type:jsonb" json:"outputs"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}
