package grant

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/veropath/grantflow/model"
)

// MemoryGrantStore is an in-memory GrantStore for testing and
// single-instance deployments.
type MemoryGrantStore struct {
	mu        sync.RWMutex
	grants    map[string]model.AccessGrant // key: grant ID
	byRequest map[string]string            // request ID -> grant ID
}

// NewMemoryGrantStore creates a new in-memory grant store.
func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{
		grants:    make(map[string]model.AccessGrant),
		byRequest: make(map[string]string),
	}
}

// Create persists a new grant, enforcing one grant per originating request.
func (s *MemoryGrantStore) Create(_ context.Context, grant model.AccessGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.grants[grant.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("grant %q already exists", grant.ID),
		)
	}
	if grant.GrantedFromRequestID != "" {
		if _, exists := s.byRequest[grant.GrantedFromRequestID]; exists {
			return model.NewDuplicateGrantError(
				fmt.Sprintf("request %q already produced a grant", grant.GrantedFromRequestID),
			)
		}
	}

	s.grants[grant.ID] = grant
	if grant.GrantedFromRequestID != "" {
		s.byRequest[grant.GrantedFromRequestID] = grant.ID
	}
	return nil
}

// Get retrieves a grant by ID.
func (s *MemoryGrantStore) Get(_ context.Context, grantID string) (model.AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grant, exists := s.grants[grantID]
	if !exists {
		return model.AccessGrant{}, model.NewNotFoundError(
			fmt.Sprintf("grant %q not found", grantID),
		)
	}
	return grant, nil
}

// GetByRequestID retrieves the grant created from the given request.
func (s *MemoryGrantStore) GetByRequestID(_ context.Context, requestID string) (model.AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grantID, exists := s.byRequest[requestID]
	if !exists {
		return model.AccessGrant{}, model.NewNotFoundError(
			fmt.Sprintf("no grant originated from request %q", requestID),
		)
	}
	return s.grants[grantID], nil
}

// Update persists grant state with optimistic locking.
func (s *MemoryGrantStore) Update(_ context.Context, grant model.AccessGrant) (model.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.grants[grant.ID]
	if !exists {
		return model.AccessGrant{}, model.NewNotFoundError(
			fmt.Sprintf("grant %q not found", grant.ID),
		)
	}
	if existing.Version != grant.Version {
		return model.AccessGrant{}, model.NewConflictError(
			fmt.Sprintf("grant %q version conflict (expected %d, got %d)", grant.ID, grant.Version, existing.Version),
		)
	}

	grant.Version++
	grant.UpdatedAt = time.Now().UTC()
	s.grants[grant.ID] = grant
	return grant, nil
}

// FindExpiring returns non-permanent active grants past their effective
// window at the cutoff.
func (s *MemoryGrantStore) FindExpiring(_ context.Context, cutoff time.Time) ([]model.AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.AccessGrant
	for _, grant := range s.grants {
		if grant.Status != model.GrantStatusActive {
			continue
		}
		if grant.ExpiresBy(cutoff) {
			result = append(result, grant)
		}
	}
	sortNewestFirst(result)
	return result, nil
}

// FindScheduledForRevocation returns grants whose scheduled revocation date
// has arrived at the cutoff.
func (s *MemoryGrantStore) FindScheduledForRevocation(_ context.Context, cutoff time.Time) ([]model.AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.AccessGrant
	for _, grant := range s.grants {
		if grant.Status != model.GrantStatusScheduledForRevocation {
			continue
		}
		if grant.ScheduledRevocationDate != nil && !cutoff.Before(*grant.ScheduledRevocationDate) {
			result = append(result, grant)
		}
	}
	sortNewestFirst(result)
	return result, nil
}

// Find returns grants matching the filters, newest first.
func (s *MemoryGrantStore) Find(_ context.Context, filters GrantFilters) ([]model.AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make(map[string]bool, len(filters.Statuses))
	for _, st := range filters.Statuses {
		statuses[st] = true
	}

	var result []model.AccessGrant
	for _, grant := range s.grants {
		if filters.UserID != "" && grant.UserID != filters.UserID {
			continue
		}
		if filters.SystemID != "" && grant.SystemID != filters.SystemID {
			continue
		}
		if len(statuses) > 0 && !statuses[grant.Status] {
			continue
		}
		result = append(result, grant)
	}
	sortNewestFirst(result)

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []model.AccessGrant{}, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}
	return result, nil
}

func sortNewestFirst(grants []model.AccessGrant) {
	sort.Slice(grants, func(i, j int) bool {
		return grants[i].GrantedAt.After(grants[j].GrantedAt)
	})
}

// Len returns the total number of grants. For testing.
func (s *MemoryGrantStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.grants)
}
