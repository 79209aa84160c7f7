package scheduler

import (
	"context"

	"github.com/limiquantix/planner/internal/domain"
)

// NodeRepository defines the node data access needed by the scheduler.
type NodeRepository interface {
	// List returns every known node.
	List(ctx context.Context) ([]*domain.Node, error)

	// Get retrieves a node by ID.
	Get(ctx context.Context, id string) (*domain.Node, error)
}

// VMRepository defines the VM data access needed by the scheduler.
type VMRepository interface {
	// List returns every known VM.
	List(ctx context.Context) ([]*domain.VirtualMachine, error)

	// ListByNodeID returns all VMs placed on a specific node.
	ListByNodeID(ctx context.Context, nodeID string) ([]*domain.VirtualMachine, error)
}
