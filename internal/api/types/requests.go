package types

import "github.com/stackforge/engine/internal/provisioner/compiler"

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type ProjectCreateRequest struct {
	Name        string                 `json:"name" validate:"required"`
	Description string                 `json:"description"`
	Environment string                 `json:"environment" validate:"required"`
	Location    string                 `json:"location" validate:"required"`
	Settings    map[string]interface{} `json:"settings"`
}

type ProjectUpdateRequest struct {
	Description *string                `json:"description"`
	Location    *string                `json:"location"`
	Settings    map[string]interface{} `json:"settings"`
	Archived    *bool                  `json:"archived"`
}

// SpecSaveRequest carries a full stack parameter document. The same body is
// accepted by the validate endpoint for a dry run.
type SpecSaveRequest struct {
	Params compiler.StackParams `json:"params" validate:"required"`
}

type DeploymentCreateRequest struct {
	ProjectID string `json:"project_id" validate:"required,uuid4"`
	SpecID    string `json:"spec_id" validate:"omitempty,uuid4"`
}
