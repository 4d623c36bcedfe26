package provisioner

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/stackforge/engine/internal/models"
	"github.com/stackforge/engine/internal/repository"
	appErr "github.com/stackforge/engine/pkg/errors"
)

// StateStore handles stack state persistence. State is the JSON snapshot of
// everything Apply created: resource IDs, outputs, and the compiled token.
type StateStore interface {
	SaveState(ctx context.Context, deploymentID uuid.UUID, state []byte) error
	GetState(ctx context.Context, deploymentID uuid.UUID) ([]byte, error)
}

type DatabaseStateStore struct {
	deploymentRepo repository.DeploymentRepository
}

func NewDatabaseStateStore(deploymentRepo repository.DeploymentRepository) *DatabaseStateStore {
	return &DatabaseStateStore{deploymentRepo: deploymentRepo}
}

func (s *DatabaseStateStore) SaveState(ctx context.Context, deploymentID uuid.UUID, state []byte) error {
	var d models.Deployment
	if err := s.deploymentRepo.GetByID(ctx, deploymentID, &d); err != nil {
		return err
	}
	if state == nil {
		d.StackState = datatypes.JSON([]byte("null"))
	} else {
		d.StackState = datatypes.JSON(state)
	}
	if err := s.deploymentRepo.Update(ctx, &d); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "save state failed")
	}
	return nil
}

func (s *DatabaseStateStore) GetState(ctx context.Context, deploymentID uuid.UUID) ([]byte, error) {
	var d models.Deployment
	if err := s.deploymentRepo.GetByID(ctx, deploymentID, &d); err != nil {
		return nil, err
	}
	if len(d.StackState) == 0 {
		return nil, nil
	}
	return []byte(d.StackState), nil
}
