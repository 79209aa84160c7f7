package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/limiquantix/planner/internal/domain"
)

// PlanRepository is an in-memory store of plan records.
type PlanRepository struct {
	mu   sync.RWMutex
	data map[string]*domain.PlanRecord
}

// NewPlanRepository creates a new in-memory plan repository.
func NewPlanRepository() *PlanRepository {
	return &PlanRepository{
		data: make(map[string]*domain.PlanRecord),
	}
}

// Create stores a new plan record.
func (r *PlanRepository) Create(ctx context.Context, rec *domain.PlanRecord) (*domain.PlanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, ok := r.data[rec.ID]; ok {
		return nil, domain.ErrAlreadyExists
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	r.data[rec.ID] = rec.Clone()

	return rec.Clone(), nil
}

// Get retrieves a plan record by ID.
func (r *PlanRepository) Get(ctx context.Context, id string) (*domain.PlanRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec.Clone(), nil
}

// List returns the records with the given status, newest first. An empty status matches
// every record and a non-positive limit returns them all.
func (r *PlanRepository) List(ctx context.Context, status domain.PlanStatus, limit int) ([]*domain.PlanRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.PlanRecord
	for _, rec := range r.data {
		if status != "" && rec.Status != status {
			continue
		}
		result = append(result, rec.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Update replaces a plan record.
func (r *PlanRepository) Update(ctx context.Context, rec *domain.PlanRecord) (*domain.PlanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[rec.ID]; !ok {
		return nil, domain.ErrNotFound
	}
	r.data[rec.ID] = rec.Clone()
	return rec.Clone(), nil
}

// Delete removes a plan record.
func (r *PlanRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.data, id)
	return nil
}

// DeleteOld removes the processed records created before olderThan. Pending and approved
// records are kept.
func (r *PlanRepository) DeleteOld(ctx context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for id, rec := range r.data {
		if !rec.CreatedAt.Before(olderThan) {
			continue
		}
		if rec.Status == domain.PlanStatusApplied || rec.Status == domain.PlanStatusRejected {
			delete(r.data, id)
			deleted++
		}
	}
	return deleted, nil
}
