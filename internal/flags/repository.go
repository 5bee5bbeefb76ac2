package flags

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for flag storage.
type Repository interface {
	Create(ctx context.Context, req *CreateFlagRequest) (*Flag, error)
	GetByID(ctx context.Context, id string) (*Flag, error)

	// List returns flags ordered by priority (urgent first), then newest.
	List(ctx context.Context, filter ListFilter) ([]*Flag, error)

	// ListOpen returns every open flag, the nurse dashboard's worklist.
	ListOpen(ctx context.Context) ([]*Flag, error)

	Update(ctx context.Context, id string, req *UpdateFlagRequest) (*Flag, error)
	Resolve(ctx context.Context, id, resolvedBy, notes string) (*Flag, error)
	Dismiss(ctx context.Context, id, reason string) (*Flag, error)

	// CountOpen feeds the dashboard's unread-alerts counter.
	CountOpen(ctx context.Context) (int, error)
}

// InMemoryRepository is an in-memory Repository used in tests and local dev.
type InMemoryRepository struct {
	mu    sync.RWMutex
	flags map[string]*Flag
	now   func() time.Time
}

// NewInMemoryRepository creates a new in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		flags: make(map[string]*Flag),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create creates a new open flag.
func (r *InMemoryRepository) Create(ctx context.Context, req *CreateFlagRequest) (*Flag, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	priority := req.Priority
	if priority == "" {
		priority = PriorityMedium
	}

	now := r.now()
	flag := &Flag{
		ID:          uuid.New().String(),
		ReferralID:  req.ReferralID,
		PatientName: req.PatientName,
		Title:       req.Title,
		Description: req.Description,
		Priority:    priority,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	r.mu.Lock()
	r.flags[flag.ID] = flag
	r.mu.Unlock()

	return flag, nil
}

// GetByID retrieves a flag by ID.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Flag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	flag, ok := r.flags[id]
	if !ok {
		return nil, ErrFlagNotFound
	}
	return flag, nil
}

// List returns flags matching the filter, priority first then newest.
func (r *InMemoryRepository) List(ctx context.Context, filter ListFilter) ([]*Flag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Flag
	for _, flag := range r.flags {
		if filter.Status != "" && flag.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && flag.Priority != filter.Priority {
			continue
		}
		if filter.PatientName != "" && flag.PatientName != filter.PatientName {
			continue
		}
		out = append(out, flag)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.rank() != out[j].Priority.rank() {
			return out[i].Priority.rank() < out[j].Priority.rank()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListOpen returns every open flag.
func (r *InMemoryRepository) ListOpen(ctx context.Context) ([]*Flag, error) {
	return r.List(ctx, ListFilter{Status: StatusOpen})
}

// Update applies a partial update.
func (r *InMemoryRepository) Update(ctx context.Context, id string, req *UpdateFlagRequest) (*Flag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	flag, ok := r.flags[id]
	if !ok {
		return nil, ErrFlagNotFound
	}

	if req.Title != nil {
		flag.Title = *req.Title
	}
	if req.Description != nil {
		flag.Description = *req.Description
	}
	if req.Priority != nil {
		flag.Priority = *req.Priority
	}
	if req.Status != nil {
		flag.Status = *req.Status
	}
	if req.ResolutionNotes != nil {
		flag.ResolutionNotes = *req.ResolutionNotes
	}
	flag.UpdatedAt = r.now()
	return flag, nil
}

// Resolve marks a flag resolved by a nurse.
func (r *InMemoryRepository) Resolve(ctx context.Context, id, resolvedBy, notes string) (*Flag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	flag, ok := r.flags[id]
	if !ok {
		return nil, ErrFlagNotFound
	}

	now := r.now()
	flag.Status = StatusResolved
	flag.ResolvedBy = resolvedBy
	flag.ResolvedAt = &now
	flag.ResolutionNotes = notes
	flag.UpdatedAt = now
	return flag, nil
}

// Dismiss closes a flag without resolving it.
func (r *InMemoryRepository) Dismiss(ctx context.Context, id, reason string) (*Flag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	flag, ok := r.flags[id]
	if !ok {
		return nil, ErrFlagNotFound
	}

	flag.Status = StatusDismissed
	flag.ResolutionNotes = reason
	flag.UpdatedAt = r.now()
	return flag, nil
}

// CountOpen returns the number of open flags.
func (r *InMemoryRepository) CountOpen(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, flag := range r.flags {
		if flag.Status == StatusOpen {
			count++
		}
	}
	return count, nil
}
