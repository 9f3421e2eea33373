package grant

import (
	"context"
	"testing"
	"time"

	"github.com/veropath/grantflow/model"
)

func testGrant(id, requestID string, until *time.Time) model.AccessGrant {
	now := time.Now().UTC()
	g := model.AccessGrant{
		ID:                   id,
		UserID:               "user-alice",
		SystemID:             "erp",
		GrantedFromRequestID: requestID,
		GrantedBy:            "user-it_support",
		Status:               model.GrantStatusActive,
		EffectiveFrom:        now.Add(-time.Hour),
		EffectiveUntil:       until,
		IsPermanent:          until == nil,
		GrantedAt:            now,
		UpdatedAt:            now,
		Version:              1,
	}
	if until != nil {
		g.ScheduledRevocationDate = until
	}
	return g
}

func TestMemoryGrantStore_CreateAndGet(t *testing.T) {
	store := NewMemoryGrantStore()
	ctx := context.Background()
	until := time.Now().UTC().Add(24 * time.Hour)

	grant := testGrant("g-1", "req-1", &until)
	if err := store.Create(ctx, grant); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := store.Get(ctx, "g-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "user-alice" || got.Status != model.GrantStatusActive {
		t.Errorf("Get() = %+v", got)
	}

	byReq, err := store.GetByRequestID(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetByRequestID() error = %v", err)
	}
	if byReq.ID != "g-1" {
		t.Errorf("GetByRequestID() ID = %q, want g-1", byReq.ID)
	}
}

func TestMemoryGrantStore_DuplicateRequest(t *testing.T) {
	store := NewMemoryGrantStore()
	ctx := context.Background()

	if err := store.Create(ctx, testGrant("g-1", "req-1", nil)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := store.Create(ctx, testGrant("g-2", "req-1", nil))
	if model.ErrorCode(err) != model.ErrDuplicateGrant {
		t.Errorf("Create(same request) error = %v, want DUPLICATE_GRANT", err)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestMemoryGrantStore_GetNotFound(t *testing.T) {
	store := NewMemoryGrantStore()

	if _, err := store.Get(context.Background(), "ghost"); model.ErrorCode(err) != model.ErrNotFound {
		t.Errorf("Get(missing) error = %v, want NOT_FOUND", err)
	}
	if _, err := store.GetByRequestID(context.Background(), "ghost"); model.ErrorCode(err) != model.ErrNotFound {
		t.Errorf("GetByRequestID(missing) error = %v, want NOT_FOUND", err)
	}
}

func TestMemoryGrantStore_Update_versionConflict(t *testing.T) {
	store := NewMemoryGrantStore()
	ctx := context.Background()

	if err := store.Create(ctx, testGrant("g-1", "req-1", nil)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	grant, _ := store.Get(ctx, "g-1")
	grant.Status = model.GrantStatusRevoked
	updated, err := store.Update(ctx, grant)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("Version = %d, want 2", updated.Version)
	}

	// The stale copy loses.
	stale := grant
	stale.Status = model.GrantStatusExpired
	if _, err := store.Update(ctx, stale); model.ErrorCode(err) != model.ErrConflict {
		t.Fatalf("Update(stale) error = %v, want CONFLICT", err)
	}

	got, _ := store.Get(ctx, "g-1")
	if got.Status != model.GrantStatusRevoked {
		t.Errorf("Status = %q, want revoked (first write wins)", got.Status)
	}
}

func TestMemoryGrantStore_FindExpiring(t *testing.T) {
	store := NewMemoryGrantStore()
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	if err := store.Create(ctx, testGrant("g-past", "req-1", &past)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Create(ctx, testGrant("g-future", "req-2", &future)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Create(ctx, testGrant("g-permanent", "req-3", nil)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	expiring, err := store.FindExpiring(ctx, now)
	if err != nil {
		t.Fatalf("FindExpiring() error = %v", err)
	}
	if len(expiring) != 1 || expiring[0].ID != "g-past" {
		t.Errorf("FindExpiring() = %v, want [g-past]", expiring)
	}

	// Boundary: a grant expiring exactly at the cutoff is due.
	boundary, err := store.FindExpiring(ctx, future)
	if err != nil {
		t.Fatalf("FindExpiring() error = %v", err)
	}
	if len(boundary) != 2 {
		t.Errorf("FindExpiring(at boundary) = %d grants, want 2", len(boundary))
	}
}

func TestMemoryGrantStore_FindScheduledForRevocation(t *testing.T) {
	store := NewMemoryGrantStore()
	ctx := context.Background()
	now := time.Now().UTC()
	due := now.Add(-time.Minute)
	notDue := now.Add(time.Hour)

	scheduled := testGrant("g-due", "req-1", nil)
	scheduled.Status = model.GrantStatusScheduledForRevocation
	scheduled.ScheduledRevocationDate = &due
	if err := store.Create(ctx, scheduled); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	later := testGrant("g-later", "req-2", nil)
	later.Status = model.GrantStatusScheduledForRevocation
	later.ScheduledRevocationDate = &notDue
	if err := store.Create(ctx, later); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Active grants with a schedule date are not picked up by this query.
	active := testGrant("g-active", "req-3", nil)
	active.ScheduledRevocationDate = &due
	if err := store.Create(ctx, active); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	found, err := store.FindScheduledForRevocation(ctx, now)
	if err != nil {
		t.Fatalf("FindScheduledForRevocation() error = %v", err)
	}
	if len(found) != 1 || found[0].ID != "g-due" {
		t.Errorf("FindScheduledForRevocation() = %v, want [g-due]", found)
	}
}

func TestMemoryGrantStore_Find(t *testing.T) {
	store := NewMemoryGrantStore()
	ctx := context.Background()

	a := testGrant("g-1", "req-1", nil)
	b := testGrant("g-2", "req-2", nil)
	b.UserID = "user-bob"
	b.SystemID = "crm"
	c := testGrant("g-3", "req-3", nil)
	c.Status = model.GrantStatusRevoked

	for _, g := range []model.AccessGrant{a, b, c} {
		if err := store.Create(ctx, g); err != nil {
			t.Fatalf("Create(%s) error = %v", g.ID, err)
		}
	}

	tests := []struct {
		name    string
		filters GrantFilters
		wantIDs map[string]bool
	}{
		{"all", GrantFilters{}, map[string]bool{"g-1": true, "g-2": true, "g-3": true}},
		{"by user", GrantFilters{UserID: "user-bob"}, map[string]bool{"g-2": true}},
		{"by system", GrantFilters{SystemID: "erp"}, map[string]bool{"g-1": true, "g-3": true}},
		{"by status", GrantFilters{Statuses: []string{model.GrantStatusRevoked}}, map[string]bool{"g-3": true}},
		{"no match", GrantFilters{UserID: "user-nobody"}, map[string]bool{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Find(ctx, tt.filters)
			if err != nil {
				t.Fatalf("Find() error = %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("Find() returned %d grants, want %d", len(got), len(tt.wantIDs))
			}
			for _, g := range got {
				if !tt.wantIDs[g.ID] {
					t.Errorf("Find() returned unexpected grant %q", g.ID)
				}
			}
		})
	}
}

func TestMemoryGrantStore_Find_pagination(t *testing.T) {
	store := NewMemoryGrantStore()
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"g-1", "g-2", "g-3"} {
		g := testGrant(id, "req-"+id, nil)
		g.GrantedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.Create(ctx, g); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	page, err := store.Find(ctx, GrantFilters{Limit: 2})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(page) != 2 || page[0].ID != "g-3" || page[1].ID != "g-2" {
		t.Errorf("Find(limit 2) = %v, want [g-3 g-2]", page)
	}

	rest, err := store.Find(ctx, GrantFilters{Offset: 2})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(rest) != 1 || rest[0].ID != "g-1" {
		t.Errorf("Find(offset 2) = %v, want [g-1]", rest)
	}

	empty, err := store.Find(ctx, GrantFilters{Offset: 10})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Find(offset past end) = %v, want empty", empty)
	}
}
