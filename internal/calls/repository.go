package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for durable call log storage.
type Repository interface {
	Create(ctx context.Context, log *CallLog) (*CallLog, error)
	GetByID(ctx context.Context, id string) (*CallLog, error)

	// GetByProviderSID looks up a call by the telephony provider's call SID.
	// The bridge and the post-call webhook only know the call by that SID.
	GetByProviderSID(ctx context.Context, providerSID string) (*CallLog, error)

	UpdateStatus(ctx context.Context, providerSID string, status Status) error

	// RecordOutcome writes the terminal state of a call in one update. A
	// zero durationSeconds means unknown and leaves the stored value alone.
	RecordOutcome(ctx context.Context, providerSID string, status Status, outcome Outcome, durationSeconds int) error

	SetSummary(ctx context.Context, providerSID, summary string) error
	ListByReferral(ctx context.Context, referralID string) ([]*CallLog, error)
	ListRecent(ctx context.Context, limit int) ([]*CallLog, error)
}

// InMemoryRepository is an in-memory Repository used in tests and local dev.
type InMemoryRepository struct {
	mu   sync.RWMutex
	logs map[string]*CallLog
	now  func() time.Time
}

// NewInMemoryRepository creates a new in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		logs: make(map[string]*CallLog),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new call log, filling in id, defaults, and timestamps.
func (r *InMemoryRepository) Create(ctx context.Context, log *CallLog) (*CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	stored := *log
	stored.ID = uuid.New().String()
	if stored.Direction == "" {
		stored.Direction = DirectionOutbound
	}
	if stored.Status == "" {
		stored.Status = StatusPending
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.logs[stored.ID] = &stored

	result := stored
	return &result, nil
}

// GetByID returns the call log with the given id.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*CallLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	log, ok := r.logs[id]
	if !ok {
		return nil, ErrCallNotFound
	}
	result := *log
	return &result, nil
}

// GetByProviderSID returns the most recent call log with the given provider SID.
func (r *InMemoryRepository) GetByProviderSID(ctx context.Context, providerSID string) (*CallLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	log := r.findBySIDLocked(providerSID)
	if log == nil {
		return nil, ErrCallNotFound
	}
	result := *log
	return &result, nil
}

// UpdateStatus moves a call to the given status. Entering in_progress stamps
// started_at if it is not already set.
func (r *InMemoryRepository) UpdateStatus(ctx context.Context, providerSID string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.findBySIDLocked(providerSID)
	if log == nil {
		return ErrCallNotFound
	}
	now := r.now()
	log.Status = status
	if status == StatusInProgress && log.StartedAt == nil {
		log.StartedAt = &now
	}
	log.UpdatedAt = now
	return nil
}

// RecordOutcome writes the terminal status, outcome, and end timestamp.
func (r *InMemoryRepository) RecordOutcome(ctx context.Context, providerSID string, status Status, outcome Outcome, durationSeconds int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.findBySIDLocked(providerSID)
	if log == nil {
		return ErrCallNotFound
	}
	now := r.now()
	log.Status = status
	log.Outcome = outcome
	if log.EndedAt == nil {
		log.EndedAt = &now
	}
	if durationSeconds > 0 {
		log.DurationSeconds = durationSeconds
	}
	log.UpdatedAt = now
	return nil
}

// SetSummary attaches the post-call summary to the log.
func (r *InMemoryRepository) SetSummary(ctx context.Context, providerSID, summary string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.findBySIDLocked(providerSID)
	if log == nil {
		return ErrCallNotFound
	}
	log.Summary = summary
	log.UpdatedAt = r.now()
	return nil
}

// ListByReferral returns the call history for one referral, newest first.
func (r *InMemoryRepository) ListByReferral(ctx context.Context, referralID string) ([]*CallLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*CallLog
	for _, log := range r.logs {
		if log.ReferralID == referralID {
			copied := *log
			result = append(result, &copied)
		}
	}
	sortByCreatedDesc(result)
	return result, nil
}

// ListRecent returns the newest call logs up to limit.
func (r *InMemoryRepository) ListRecent(ctx context.Context, limit int) ([]*CallLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*CallLog, 0, len(r.logs))
	for _, log := range r.logs {
		copied := *log
		result = append(result, &copied)
	}
	sortByCreatedDesc(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *InMemoryRepository) findBySIDLocked(providerSID string) *CallLog {
	if providerSID == "" {
		return nil
	}
	var newest *CallLog
	for _, log := range r.logs {
		if log.ProviderCallSID != providerSID {
			continue
		}
		if newest == nil || log.CreatedAt.After(newest.CreatedAt) {
			newest = log
		}
	}
	return newest
}

func sortByCreatedDesc(logs []*CallLog) {
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].CreatedAt.After(logs[j].CreatedAt)
	})
}
