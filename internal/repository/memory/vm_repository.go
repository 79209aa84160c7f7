package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/scheduler"
)

// Ensure VMRepository implements scheduler.VMRepository
var _ scheduler.VMRepository = (*VMRepository)(nil)

// VMRepository is an in-memory implementation of the VM repository.
// It's useful for development and testing without requiring a database.
type VMRepository struct {
	mu   sync.RWMutex
	data map[string]*domain.VirtualMachine
}

// NewVMRepository creates a new in-memory VM repository.
func NewVMRepository() *VMRepository {
	return &VMRepository{
		data: make(map[string]*domain.VirtualMachine),
	}
}

// Create stores a new virtual machine.
func (r *VMRepository) Create(ctx context.Context, vm *domain.VirtualMachine) (*domain.VirtualMachine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Generate ID if not set
	if vm.ID == "" {
		vm.ID = uuid.New().String()
	}
	if _, ok := r.data[vm.ID]; ok {
		return nil, domain.ErrAlreadyExists
	}

	// Set timestamps
	now := time.Now()
	if vm.CreatedAt.IsZero() {
		vm.CreatedAt = now
	}
	vm.UpdatedAt = now

	// Clone to avoid external mutations
	stored := vm.Clone()
	r.data[stored.ID] = stored

	return stored.Clone(), nil
}

// Get retrieves a virtual machine by ID.
func (r *VMRepository) Get(ctx context.Context, id string) (*domain.VirtualMachine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vm, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return vm.Clone(), nil
}

// List returns all virtual machines, oldest first.
func (r *VMRepository) List(ctx context.Context) ([]*domain.VirtualMachine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.VirtualMachine, 0, len(r.data))
	for _, vm := range r.data {
		result = append(result, vm.Clone())
	}
	sortVMsByCreatedAt(result)

	return result, nil
}

// ListByNodeID returns the virtual machines placed on a node.
func (r *VMRepository) ListByNodeID(ctx context.Context, nodeID string) ([]*domain.VirtualMachine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.VirtualMachine
	for _, vm := range r.data {
		if vm.Status.NodeID == nodeID {
			result = append(result, vm.Clone())
		}
	}
	sortVMsByCreatedAt(result)

	return result, nil
}

// Update replaces a virtual machine.
func (r *VMRepository) Update(ctx context.Context, vm *domain.VirtualMachine) (*domain.VirtualMachine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[vm.ID]; !ok {
		return nil, domain.ErrNotFound
	}
	stored := vm.Clone()
	stored.UpdatedAt = time.Now()
	r.data[stored.ID] = stored

	return stored.Clone(), nil
}

// UpdateStatus updates the observed state of a virtual machine.
func (r *VMRepository) UpdateStatus(ctx context.Context, id string, status domain.VMStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	vm, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	vm.Status = status
	vm.UpdatedAt = time.Now()

	return nil
}

// Delete removes a virtual machine.
func (r *VMRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.data, id)

	return nil
}

func sortVMsByCreatedAt(vms []*domain.VirtualMachine) {
	sort.SliceStable(vms, func(i, j int) bool {
		if !vms[i].CreatedAt.Equal(vms[j].CreatedAt) {
			return vms[i].CreatedAt.Before(vms[j].CreatedAt)
		}
		return vms[i].ID < vms[j].ID
	})
}
