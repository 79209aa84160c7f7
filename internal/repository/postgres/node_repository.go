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

// Ensure NodeRepository implements scheduler.NodeRepository
var _ scheduler.NodeRepository = (*NodeRepository)(nil)

// NodeRepository stores the node inventory in PostgreSQL.
type NodeRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewNodeRepository creates a new PostgreSQL Node repository.
func NewNodeRepository(db *DB, logger *zap.Logger) *NodeRepository {
	return &NodeRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "node")),
	}
}

const nodeColumns = `id, hostname, management_ip, labels, attributes, spec, state,
	created_at, updated_at, last_heartbeat`

// Create stores a new node.
func (r *NodeRepository) Create(ctx context.Context, n *domain.Node) (*domain.Node, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}

	labelsJSON, err := json.Marshal(n.Labels)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal labels: %w", err)
	}
	attributesJSON, err := json.Marshal(n.Attributes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}
	specJSON, err := json.Marshal(n.Spec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal spec: %w", err)
	}

	query := `
		INSERT INTO nodes (id, hostname, management_ip, labels, attributes, spec, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err = r.db.pool.QueryRow(ctx, query,
		n.ID,
		n.Hostname,
		nullString(n.ManagementIP),
		labelsJSON,
		attributesJSON,
		specJSON,
		string(n.Status.State),
	).Scan(&n.CreatedAt, &n.UpdatedAt)

	if err != nil {
		r.logger.Error("Failed to create node", zap.Error(err), zap.String("hostname", n.Hostname))
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert node: %w", err)
	}

	r.logger.Info("Created node", zap.String("id", n.ID), zap.String("hostname", n.Hostname))
	return n, nil
}

// Get retrieves a node by ID.
func (r *NodeRepository) Get(ctx context.Context, id string) (*domain.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE id = $1`

	n, err := scanNode(r.db.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return n, nil
}

// List returns all nodes, sorted by hostname.
func (r *NodeRepository) List(ctx context.Context) ([]*domain.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes ORDER BY hostname`

	rows, err := r.db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*domain.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// UpdateStatus updates the power state of a node.
func (r *NodeRepository) UpdateStatus(ctx context.Context, id string, status domain.NodeStatus) error {
	query := `UPDATE nodes SET state = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.pool.Exec(ctx, query, id, string(status.State))
	if err != nil {
		return fmt.Errorf("failed to update node status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a node.
func (r *NodeRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM nodes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	r.logger.Info("Deleted node", zap.String("id", id))
	return nil
}

// scanNode scans a single node row.
func scanNode(row pgx.Row) (*domain.Node, error) {
	n := &domain.Node{}
	var labelsJSON, attributesJSON, specJSON []byte
	var managementIP *string
	var state string

	err := row.Scan(
		&n.ID,
		&n.Hostname,
		&managementIP,
		&labelsJSON,
		&attributesJSON,
		&specJSON,
		&state,
		&n.CreatedAt,
		&n.UpdatedAt,
		&n.LastHeartbeat,
	)
	if err != nil {
		return nil, err
	}

	if managementIP != nil {
		n.ManagementIP = *managementIP
	}
	n.Status.State = domain.NodeState(state)

	// Unmarshal JSON fields
	if err := unmarshalJSON(labelsJSON, &n.Labels); err != nil {
		return nil, fmt.Errorf("node %s labels: %w", n.ID, err)
	}
	if err := unmarshalJSON(attributesJSON, &n.Attributes); err != nil {
		return nil, fmt.Errorf("node %s attributes: %w", n.ID, err)
	}
	if err := unmarshalJSON(specJSON, &n.Spec); err != nil {
		return nil, fmt.Errorf("node %s spec: %w", n.ID, err)
	}

	return n, nil
}
