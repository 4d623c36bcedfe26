package provisioner

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/stackforge/engine/internal/provisioner/compiler"
)

// Common errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidState = errors.New("invalid stack state")
)

// Provisioner drives one stack deployment against a cloud resource API.
type Provisioner interface {
	// Plan compiles the stack and reports the intended upserts without
	// creating anything.
	Plan(ctx context.Context, config *StackConfig) (*Plan, error)

	// Apply compiles the stack and submits every declaration in dependency
	// order as an idempotent create-or-update.
	Apply(ctx context.Context, config *StackConfig) (*Result, error)

	// Destroy tears down the owned resources recorded in state. External
	// references are never touched.
	Destroy(ctx context.Context, deploymentID uuid.UUID, state []byte) (*Result, error)

	// GetState retrieves the persisted stack state.
	GetState(ctx context.Context, deploymentID uuid.UUID) ([]byte, error)
}

// StackConfig carries one deployment's identity and its stack parameters.
type StackConfig struct {
	DeploymentID  uuid.UUID
	ProjectID     uuid.UUID
	SpecID        uuid.UUID
	Params        compiler.StackParams
	ResourceGroup string
}

// PlannedAction is one intended resource operation.
type PlannedAction struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Operation string `json:"operation"`
}

type Plan struct {
	Token   string          `json:"token"`
	Actions []PlannedAction `json:"actions"`
}

type Result struct {
	Success      bool                   `json:"success"`
	Outputs      map[string]interface{} `json:"outputs"`
	State        []byte                 `json:"state"`
	Resources    []Resource             `json:"resources"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// Resource is one provisioned cloud resource.
type Resource struct {
	Kind       string                 `json:"kind"`
	Name       string                 `json:"name"`
	AzureID    string                 `json:"azure_id"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}
