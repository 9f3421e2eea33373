// Package grant manages the lifecycle of access grants produced by approved
// system-access requests: creation, expiry, revocation, and scheduled
// revocation.
package grant

import (
	"context"
	"time"

	"github.com/veropath/grantflow/model"
)

// GrantStore persists access grants. Grants are append-then-update records;
// no implementation supports deletion.
type GrantStore interface {
	// Create persists a new grant. Returns DUPLICATE_GRANT if a grant for
	// the same originating request already exists.
	Create(ctx context.Context, grant model.AccessGrant) error

	// Get retrieves a grant by ID. Returns NOT_FOUND if absent.
	Get(ctx context.Context, grantID string) (model.AccessGrant, error)

	// GetByRequestID retrieves the grant created from the given request, if
	// any. Returns NOT_FOUND if no grant originated from that request.
	GetByRequestID(ctx context.Context, requestID string) (model.AccessGrant, error)

	// Update persists grant state with optimistic locking: the version on
	// grant must match the stored version or CONFLICT is returned and
	// nothing is written.
	Update(ctx context.Context, grant model.AccessGrant) (model.AccessGrant, error)

	// FindExpiring returns non-permanent active grants whose effective
	// window lapses at or before the cutoff.
	FindExpiring(ctx context.Context, cutoff time.Time) ([]model.AccessGrant, error)

	// FindScheduledForRevocation returns grants whose scheduled revocation
	// date has arrived at or before the cutoff.
	FindScheduledForRevocation(ctx context.Context, cutoff time.Time) ([]model.AccessGrant, error)

	// Find returns grants matching the given filters, newest first.
	Find(ctx context.Context, filters GrantFilters) ([]model.AccessGrant, error)
}

// GrantFilters are optional filters for listing grants.
type GrantFilters struct {
	UserID   string
	SystemID string
	Statuses []string
	Limit    int
	Offset   int
}
