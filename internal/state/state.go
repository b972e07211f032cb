package state

import (
	"context"
	"errors"
	"time"
)

const (
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"
	StatusFailed     = "failed"
	StatusDestroying = "destroying"
)

var ErrNotFound = errors.New("deployment not found")

// ResourceRecord is one created resource and the attributes its driver reported.
type ResourceRecord struct {
	Name       string            `dynamodbav:"name" json:"name"`
	Kind       string            `dynamodbav:"kind" json:"kind"`
	Attributes map[string]string `dynamodbav:"attributes" json:"attributes"`
	Retain     bool              `dynamodbav:"retain,omitempty" json:"retain,omitempty"`
	CreatedAt  time.Time         `dynamodbav:"created_at" json:"created_at"`
}

// Deployment is the persisted record of one applied stack.
type Deployment struct {
	StackName    string            `dynamodbav:"stack_name" json:"stack_name"`
	DeploymentID string            `dynamodbav:"deployment_id" json:"deployment_id"`
	Status       string            `dynamodbav:"status" json:"status"`
	Resources    []ResourceRecord  `dynamodbav:"resources" json:"resources"`
	Outputs      map[string]string `dynamodbav:"outputs,omitempty" json:"outputs,omitempty"`
	CreatedAt    time.Time         `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `dynamodbav:"updated_at" json:"updated_at"`
	ErrorMessage string            `dynamodbav:"error_message,omitempty" json:"error_message,omitempty"`
}

type Store interface {
	SaveDeployment(ctx context.Context, deployment *Deployment) error
	GetDeployment(ctx context.Context, stackName string) (*Deployment, error)
	DeleteDeployment(ctx context.Context, stackName string) error
	ListDeployments(ctx context.Context) ([]*Deployment, error)
}
