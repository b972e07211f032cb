package state

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store for tests and dry runs.
type MemoryStore struct {
	mutex       sync.RWMutex
	deployments map[string]Deployment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{deployments: make(map[string]Deployment)}
}

func (s *MemoryStore) SaveDeployment(_ context.Context, deployment *Deployment) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	copied := *deployment
	copied.Resources = append([]ResourceRecord(nil), deployment.Resources...)
	s.deployments[deployment.StackName] = copied
	return nil
}

func (s *MemoryStore) GetDeployment(_ context.Context, stackName string) (*Deployment, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	deployment, ok := s.deployments[stackName]
	if !ok {
		return nil, ErrNotFound
	}
	deployment.Resources = append([]ResourceRecord(nil), deployment.Resources...)
	return &deployment, nil
}

func (s *MemoryStore) DeleteDeployment(_ context.Context, stackName string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.deployments, stackName)
	return nil
}

func (s *MemoryStore) ListDeployments(_ context.Context) ([]*Deployment, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	deployments := make([]*Deployment, 0, len(s.deployments))
	for _, d := range s.deployments {
		d := d
		deployments = append(deployments, &d)
	}
	sort.Slice(deployments, func(i, j int) bool {
		return deployments[i].StackName < deployments[j].StackName
	})
	return deployments, nil
}
