package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/scheduler"
)

// Ensure VMRepository implements scheduler.VMRepository
var _ scheduler.VMRepository = (*VMRepository)(nil)

// VMRepository stores the VM inventory in PostgreSQL.
type VMRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewVMRepository creates a new PostgreSQL VM repository.
func NewVMRepository(db *DB, logger *zap.Logger) *VMRepository {
	return &VMRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "vm")),
	}
}

const vmColumns = `id, name, description, labels, attributes, spec, state, node_id,
	created_at, updated_at`

// Create stores a new virtual machine.
func (r *VMRepository) Create(ctx context.Context, vm *domain.VirtualMachine) (*domain.VirtualMachine, error) {
	if vm.ID == "" {
		vm.ID = uuid.New().String()
	}

	labelsJSON, err := json.Marshal(vm.Labels)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal labels: %w", err)
	}
	attributesJSON, err := json.Marshal(vm.Attributes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}
	specJSON, err := json.Marshal(vm.Spec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal spec: %w", err)
	}

	query := `
		INSERT INTO virtual_machines (id, name, description, labels, attributes, spec, state, node_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err = r.db.pool.QueryRow(ctx, query,
		vm.ID,
		vm.Name,
		vm.Description,
		labelsJSON,
		attributesJSON,
		specJSON,
		string(vm.Status.State),
		nullString(vm.Status.NodeID),
	).Scan(&vm.CreatedAt, &vm.UpdatedAt)

	if err != nil {
		r.logger.Error("Failed to create VM", zap.Error(err), zap.String("vm_id", vm.ID))
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert VM: %w", err)
	}

	r.logger.Info("Created VM", zap.String("vm_id", vm.ID), zap.String("name", vm.Name))
	return vm, nil
}

// Get retrieves a virtual machine by ID.
func (r *VMRepository) Get(ctx context.Context, id string) (*domain.VirtualMachine, error) {
	query := `SELECT ` + vmColumns + ` FROM virtual_machines WHERE id = $1`

	vm, err := scanVM(r.db.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get VM: %w", err)
	}
	return vm, nil
}

// List returns all virtual machines, oldest first.
func (r *VMRepository) List(ctx context.Context) ([]*domain.VirtualMachine, error) {
	query := `SELECT ` + vmColumns + ` FROM virtual_machines ORDER BY created_at, id`
	return r.query(ctx, query)
}

// ListByNodeID returns the virtual machines placed on a node.
func (r *VMRepository) ListByNodeID(ctx context.Context, nodeID string) ([]*domain.VirtualMachine, error) {
	query := `SELECT ` + vmColumns + ` FROM virtual_machines WHERE node_id = $1 ORDER BY created_at, id`
	return r.query(ctx, query, nodeID)
}

func (r *VMRepository) query(ctx context.Context, query string, args ...interface{}) ([]*domain.VirtualMachine, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list VMs: %w", err)
	}
	defer rows.Close()

	var vms []*domain.VirtualMachine
	for rows.Next() {
		vm, err := scanVM(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan VM: %w", err)
		}
		vms = append(vms, vm)
	}
	return vms, rows.Err()
}

// UpdateStatus updates the observed state of a virtual machine.
func (r *VMRepository) UpdateStatus(ctx context.Context, id string, status domain.VMStatus) error {
	query := `UPDATE virtual_machines SET state = $2, node_id = $3, updated_at = NOW() WHERE id = $1`

	result, err := r.db.pool.Exec(ctx, query, id, string(status.State), nullString(status.NodeID))
	if err != nil {
		return fmt.Errorf("failed to update VM status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	r.logger.Debug("Updated VM status",
		zap.String("vm_id", id),
		zap.String("state", string(status.State)),
		zap.String("node_id", status.NodeID),
	)
	return nil
}

// Delete removes a virtual machine.
func (r *VMRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM virtual_machines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete VM: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	r.logger.Info("Deleted VM", zap.String("vm_id", id))
	return nil
}

func scanVM(row pgx.Row) (*domain.VirtualMachine, error) {
	vm := &domain.VirtualMachine{}
	var labelsJSON, attributesJSON, specJSON []byte
	var state string
	var nodeID *string

	err := row.Scan(
		&vm.ID,
		&vm.Name,
		&vm.Description,
		&labelsJSON,
		&attributesJSON,
		&specJSON,
		&state,
		&nodeID,
		&vm.CreatedAt,
		&vm.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	vm.Status.State = domain.VMState(state)
	if nodeID != nil {
		vm.Status.NodeID = *nodeID
	}
	if err := unmarshalJSON(labelsJSON, &vm.Labels); err != nil {
		return nil, fmt.Errorf("vm %s labels: %w", vm.ID, err)
	}
	if err := unmarshalJSON(attributesJSON, &vm.Attributes); err != nil {
		return nil, fmt.Errorf("vm %s attributes: %w", vm.ID, err)
	}
	if err := unmarshalJSON(specJSON, &vm.Spec); err != nil {
		return nil, fmt.Errorf("vm %s spec: %w", vm.ID, err)
	}
	return vm, nil
}
