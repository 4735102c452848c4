// Package repository declares the storage contracts the services depend on.
// Implementations live in subpackages (sqlite).
package repository

import (
	"context"

	"github.com/sakif/code-runner/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
	// Language and Status filter when non-empty.
	Language string
	Status   model.RunStatus
}

type RunRepository interface {
	Create(ctx context.Context, run *model.Run) error
	GetByID(ctx context.Context, id string) (*model.Run, error)
	List(ctx context.Context, opts ListOptions) ([]model.Run, error)
}
