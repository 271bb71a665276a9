package domain

import (
	"context"
	"errors"
)

var (
	ErrInstanceNotFound      = errors.New("instance not found")
	ErrInstanceAlreadyExists = errors.New("instance already exists")
	ErrInstanceBusy          = errors.New("instance has an operation in progress")
	ErrInstanceNotStopped    = errors.New("instance is not stopped")
	ErrInvalidName           = errors.New("invalid instance name")
	ErrInvalidConfig         = errors.New("invalid instance configuration")
	ErrConflictPending       = errors.New("name conflict awaiting resolution")
	ErrNoConflictPending     = errors.New("no conflict pending for name")
)

// InstanceRepository is the durable registry of instance configurations,
// keyed by unique name.
type InstanceRepository interface {
	Create(ctx context.Context, cfg *InstanceConfig) error
	FindByName(ctx context.Context, name string) (*InstanceConfig, error)
	Update(ctx context.Context, cfg *InstanceConfig) error
	// Delete removes the record. Deleting an absent name returns
	// ErrInstanceNotFound; cleanup paths treat that as success.
	Delete(ctx context.Context, name string) error
	FindAll(ctx context.Context) ([]*InstanceConfig, error)
}
