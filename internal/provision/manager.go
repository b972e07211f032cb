package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ivs-moderation/internal/stack"
	"ivs-moderation/internal/state"

	"go.uber.org/zap"
)

var (
	ErrAlreadyDeployed = errors.New("stack already deployed")
	ErrNotDeployed     = errors.New("stack not deployed")
)

// Driver creates and deletes one kind of resource. Delete must treat an already
// missing resource as success.
type Driver interface {
	Create(ctx context.Context, res stack.Resource, resolver stack.Resolver) (map[string]string, error)
	Delete(ctx context.Context, record state.ResourceRecord) error
}

// retainable is implemented by specs that can survive a destroy.
type retainable interface {
	Retained() bool
}

type Manager struct {
	store   state.Store
	drivers map[stack.Kind]Driver
	logger  *zap.Logger
	now     func() time.Time
}

func NewManager(store state.Store, drivers map[stack.Kind]Driver, logger *zap.Logger) *Manager {
	return &Manager{
		store:   store,
		drivers: drivers,
		logger:  logger,
		now:     time.Now,
	}
}

// Deploy applies def in declaration order. When a resource fails, everything created
// so far is deleted in reverse order and the failed record is persisted.
func (m *Manager) Deploy(ctx context.Context, def *stack.Definition) (*state.Deployment, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	for _, r := range def.Resources {
		if _, ok := m.drivers[r.Kind()]; !ok {
			return nil, fmt.Errorf("no driver for %s (%s)", r.Name, r.Kind())
		}
	}

	existing, err := m.store.GetDeployment(ctx, def.Name)
	switch {
	case errors.Is(err, state.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to read deployment state: %w", err)
	case existing.Status != state.StatusFailed || len(existing.Resources) > 0:
		return nil, fmt.Errorf("%w: %s is %s (deployment %s)", ErrAlreadyDeployed, def.Name, existing.Status, existing.DeploymentID)
	}

	deployment := &state.Deployment{
		StackName:    def.Name,
		DeploymentID: def.DeploymentID,
		Status:       state.StatusInProgress,
		CreatedAt:    m.now(),
		UpdatedAt:    m.now(),
	}
	if err := m.save(ctx, deployment); err != nil {
		return nil, err
	}

	m.logger.Info("Deploying stack",
		zap.String("stack", def.Name),
		zap.String("deployment_id", def.DeploymentID),
		zap.Int("resources", len(def.Resources)))

	attrs := stack.Attributes{}
	for _, r := range def.Resources {
		values, err := m.drivers[r.Kind()].Create(ctx, r, attrs)
		if err != nil {
			createErr := fmt.Errorf("failed to create %s (%s): %w", r.Name, r.Kind(), err)
			m.logger.Error("Resource creation failed, rolling back",
				zap.Error(err),
				zap.String("resource", r.Name))
			return nil, m.fail(ctx, deployment, createErr)
		}
		attrs.Set(r.Name, values)

		record := state.ResourceRecord{
			Name:       r.Name,
			Kind:       string(r.Kind()),
			Attributes: values,
			CreatedAt:  m.now(),
		}
		if rt, ok := r.Spec.(retainable); ok {
			record.Retain = rt.Retained()
		}
		deployment.Resources = append(deployment.Resources, record)
		if err := m.save(ctx, deployment); err != nil {
			m.logger.Error("Failed to save deployment progress", zap.Error(err))
		}

		m.logger.Info("Created resource",
			zap.String("resource", r.Name),
			zap.String("kind", string(r.Kind())))
	}

	outputs, err := def.ResolveOutputs(attrs)
	if err != nil {
		return nil, m.fail(ctx, deployment, err)
	}
	deployment.Outputs = outputs
	deployment.Status = state.StatusComplete
	if err := m.save(ctx, deployment); err != nil {
		return nil, err
	}

	m.logger.Info("Stack deployed", zap.String("stack", def.Name))
	return deployment, nil
}

// Destroy deletes the recorded resources of stackName in reverse order. Retained
// resources are left in place.
func (m *Manager) Destroy(ctx context.Context, stackName string) error {
	deployment, err := m.store.GetDeployment(ctx, stackName)
	if errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotDeployed, stackName)
	}
	if err != nil {
		return fmt.Errorf("failed to read deployment state: %w", err)
	}

	deployment.Status = state.StatusDestroying
	if err := m.save(ctx, deployment); err != nil {
		return err
	}

	if err := m.deleteResources(ctx, deployment); err != nil {
		deployment.Status = state.StatusFailed
		deployment.ErrorMessage = err.Error()
		if saveErr := m.save(ctx, deployment); saveErr != nil {
			m.logger.Error("Failed to save deployment state", zap.Error(saveErr))
		}
		return err
	}

	if err := m.store.DeleteDeployment(ctx, stackName); err != nil {
		return fmt.Errorf("failed to remove deployment record: %w", err)
	}

	m.logger.Info("Stack destroyed", zap.String("stack", stackName))
	return nil
}

// Outputs returns the outputs of a completed deployment.
func (m *Manager) Outputs(ctx context.Context, stackName string) (map[string]string, error) {
	deployment, err := m.store.GetDeployment(ctx, stackName)
	if errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotDeployed, stackName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read deployment state: %w", err)
	}
	if deployment.Status != state.StatusComplete {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotDeployed, stackName, deployment.Status)
	}
	return deployment.Outputs, nil
}

func (m *Manager) fail(ctx context.Context, deployment *state.Deployment, cause error) error {
	// rollback has to run even when the caller's context is already cancelled
	rollbackCtx := context.WithoutCancel(ctx)

	deployment.Status = state.StatusFailed
	deployment.ErrorMessage = cause.Error()
	if err := m.deleteResources(rollbackCtx, deployment); err != nil {
		deployment.ErrorMessage = fmt.Sprintf("%s; rollback: %s", cause, err)
		cause = errors.Join(cause, fmt.Errorf("rollback failed: %w", err))
	}
	if err := m.save(rollbackCtx, deployment); err != nil {
		m.logger.Error("Failed to save deployment state", zap.Error(err))
	}
	return cause
}

// deleteResources removes records from the tail of deployment.Resources as they are
// deleted, so a partial failure leaves an accurate record behind.
func (m *Manager) deleteResources(ctx context.Context, deployment *state.Deployment) error {
	for len(deployment.Resources) > 0 {
		last := len(deployment.Resources) - 1
		record := deployment.Resources[last]

		if record.Retain {
			m.logger.Info("Retaining resource", zap.String("resource", record.Name))
		} else {
			driver, ok := m.drivers[stack.Kind(record.Kind)]
			if !ok {
				return fmt.Errorf("no driver for %s (%s)", record.Name, record.Kind)
			}
			if err := driver.Delete(ctx, record); err != nil {
				return fmt.Errorf("failed to delete %s (%s): %w", record.Name, record.Kind, err)
			}
			m.logger.Info("Deleted resource",
				zap.String("resource", record.Name),
				zap.String("kind", record.Kind))
		}

		deployment.Resources = deployment.Resources[:last]
		if err := m.save(ctx, deployment); err != nil {
			m.logger.Error("Failed to save deployment progress", zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) save(ctx context.Context, deployment *state.Deployment) error {
	deployment.UpdatedAt = m.now()
	if err := m.store.SaveDeployment(ctx, deployment); err != nil {
		return fmt.Errorf("failed to save deployment state: %w", err)
	}
	return nil
}
