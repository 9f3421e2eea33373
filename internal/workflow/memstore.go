package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/veropath/grantflow/model"
)

// MemoryRequestStore is an in-memory RequestStore for testing and
// single-instance deployments.
type MemoryRequestStore struct {
	mu       sync.RWMutex
	requests map[string]model.Request // key: request ID
}

// NewMemoryRequestStore creates a new in-memory request store.
func NewMemoryRequestStore() *MemoryRequestStore {
	return &MemoryRequestStore{
		requests: make(map[string]model.Request),
	}
}

// clone returns a deep copy so callers never alias the stored audit slice.
func clone(req model.Request) model.Request {
	out := req
	out.StageAudit = make([]model.StageAuditEntry, len(req.StageAudit))
	copy(out.StageAudit, req.StageAudit)
	if req.Payload != nil {
		out.Payload = make(map[string]any, len(req.Payload))
		for k, v := range req.Payload {
			out.Payload[k] = v
		}
	}
	return out
}

// Create persists a new request.
func (s *MemoryRequestStore) Create(_ context.Context, req model.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("request %q already exists", req.ID),
		)
	}

	s.requests[req.ID] = clone(req)
	return nil
}

// Get retrieves a request by ID.
func (s *MemoryRequestStore) Get(_ context.Context, requestID string) (model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, exists := s.requests[requestID]
	if !exists {
		return model.Request{}, model.NewNotFoundError(
			fmt.Sprintf("request %q not found", requestID),
		)
	}
	return clone(req), nil
}

// ApplyTransition persists a status change and its audit entry atomically
// with optimistic locking.
func (s *MemoryRequestStore) ApplyTransition(_ context.Context, req model.Request, entry model.StageAuditEntry) (model.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.requests[req.ID]
	if !exists {
		return model.Request{}, model.NewNotFoundError(
			fmt.Sprintf("request %q not found", req.ID),
		)
	}

	// Optimistic lock check.
	if existing.Version != req.Version {
		return model.Request{}, model.NewConflictError(
			fmt.Sprintf("request %q version conflict (expected %d, got %d)", req.ID, req.Version, existing.Version),
		)
	}

	updated := clone(existing)
	updated.Status = req.Status
	updated.StageAudit = append(updated.StageAudit, entry)
	updated.Version++
	updated.UpdatedAt = time.Now().UTC()

	s.requests[req.ID] = updated
	return clone(updated), nil
}

// Find returns requests matching the filters, newest first.
func (s *MemoryRequestStore) Find(_ context.Context, filters RequestFilters) ([]model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make(map[string]bool, len(filters.Statuses))
	for _, st := range filters.Statuses {
		statuses[st] = true
	}

	var result []model.Request
	for _, req := range s.requests {
		if filters.Kind != "" && req.Kind != filters.Kind {
			continue
		}
		if filters.RequesterID != "" && req.RequesterID != filters.RequesterID {
			continue
		}
		if len(statuses) > 0 && !statuses[req.Status] {
			continue
		}
		result = append(result, clone(req))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []model.Request{}, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}

	return result, nil
}

// Len returns the total number of requests. For testing.
func (s *MemoryRequestStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.requests)
}
