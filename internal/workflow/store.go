package workflow

import (
	"context"

	"github.com/veropath/grantflow/model"
)

// RequestStore persists workflow requests and their stage audit trails.
type RequestStore interface {
	// Create persists a new request in its initial stage.
	Create(ctx context.Context, req model.Request) error

	// Get retrieves a request by ID, including its stage audit trail.
	// Returns NOT_FOUND if the request doesn't exist.
	Get(ctx context.Context, requestID string) (model.Request, error)

	// ApplyTransition persists a status change together with its audit
	// entry as one atomic unit, with optimistic locking: the version on req
	// must match the stored version or CONFLICT is returned and nothing is
	// written. A partially applied transition (status without audit, or the
	// reverse) is never observable.
	ApplyTransition(ctx context.Context, req model.Request, entry model.StageAuditEntry) (model.Request, error)

	// Find returns requests matching the given filters.
	Find(ctx context.Context, filters RequestFilters) ([]model.Request, error)
}

// RequestFilters are optional filters for listing requests.
type RequestFilters struct {
	Kind        string
	Statuses    []string
	RequesterID string
	Limit       int
	Offset      int
}
