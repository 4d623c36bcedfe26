package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CloudCredential stores Azure service principal credentials for a user.
// Secret material lives in Credentials; Metadata carries the non-secret
// coordinates (tenant id, default subscription).
type CloudCredential struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID      uuid.UUID      `gorm:"type:uuid;index;not null" json:"user_id" validate:"required"`
	TenantID    string         `gorm:"type:varchar(64);not null" json:"tenant_id" validate:"required"`
	ClientID    string         `gorm:"type:varchar(64);not null" json:"client_id" validate:"required"`
	Credentials []byte         `gorm:"type:bytea;not null" json:"-"`
	Metadata    datatypes.JSON `gorm:"type:jsonb" json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}
