package state

import (
	"context"

	"github.com/iammrherb/labdabbler/pkg/types"
)

// Store persists the active lab registry and the lifecycle event log.
// Implementations must be safe for concurrent use.
type Store interface {
	// Initialize prepares the store for use
	Initialize(ctx context.Context) error

	// CreateLab records a newly launched lab
	CreateLab(ctx context.Context, lab *types.Lab) error

	// GetLab retrieves a lab by ID
	GetLab(ctx context.Context, labID string) (*types.Lab, error)

	// UpdateLab replaces an existing lab record
	UpdateLab(ctx context.Context, lab *types.Lab) error

	// DeleteLab removes a lab record
	DeleteLab(ctx context.Context, labID string) error

	// ListLabs returns all registered labs
	ListLabs(ctx context.Context) ([]*types.Lab, error)

	// RecordEvent appends a lifecycle event
	RecordEvent(ctx context.Context, event *types.Event) error

	// GetEvents returns events for a lab, newest first, up to limit
	GetEvents(ctx context.Context, labID string, limit int) ([]*types.Event, error)

	// HealthCheck verifies the store is operational
	HealthCheck(ctx context.Context) error

	// Close releases store resources
	Close() error
}
