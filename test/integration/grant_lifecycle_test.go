package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/veropath/grantflow/internal/scheduler"
	"github.com/veropath/grantflow/model"
)

func (h *TestHarness) seedGrant(t *testing.T, id string, mutate func(*model.AccessGrant)) model.AccessGrant {
	t.Helper()
	now := time.Now().UTC()
	until := now.Add(30 * 24 * time.Hour)
	g := model.AccessGrant{
		ID:                   id,
		UserID:               RequesterClaims().SubjectID,
		SystemID:             "sys-erp",
		GrantedFromRequestID: "req-" + id,
		GrantedBy:            ITSupportClaims().SubjectID,
		Status:               model.GrantStatusActive,
		EffectiveFrom:        now,
		EffectiveUntil:       &until,
		GrantedAt:            now,
		UpdatedAt:            now,
		Version:              1,
	}
	if mutate != nil {
		mutate(&g)
	}
	if err := h.GrantStore.Create(context.Background(), g); err != nil {
		t.Fatalf("seed grant: %v", err)
	}
	return g
}

func TestGrantRevocation(t *testing.T) {
	h := NewTestHarness(t)
	h.seedGrant(t, "grant-1", nil)
	admin := h.GenerateToken(AdminClaims())

	resp := h.POST("/api/grants/grant-1/revoke",
		map[string]any{"reason": "employee left"}, admin)
	h.AssertStatus(t, resp, http.StatusOK)

	var g model.AccessGrant
	h.ParseJSON(resp, &g)
	if g.Status != model.GrantStatusRevoked {
		t.Fatalf("status = %q, want revoked", g.Status)
	}
	if g.RevokedBy != AdminClaims().SubjectID || g.RevocationReason != "employee left" {
		t.Errorf("revocation metadata = %+v", g)
	}

	// A second revocation is a no-op that preserves the original metadata.
	resp = h.POST("/api/grants/grant-1/revoke",
		map[string]any{"reason": "changed my mind"}, admin)
	h.AssertStatus(t, resp, http.StatusOK)
	h.ParseJSON(resp, &g)
	if g.RevocationReason != "employee left" {
		t.Errorf("reason = %q, original must stand", g.RevocationReason)
	}
}

func TestSweep_expiresAndRevokes(t *testing.T) {
	h := NewTestHarness(t)
	h.seedGrant(t, "grant-lapsed", func(g *model.AccessGrant) {
		past := time.Now().Add(-time.Hour).UTC()
		g.EffectiveUntil = &past
	})
	h.seedGrant(t, "grant-due", func(g *model.AccessGrant) {
		past := time.Now().Add(-time.Minute).UTC()
		g.Status = model.GrantStatusScheduledForRevocation
		g.ScheduledRevocationDate = &past
	})
	h.seedGrant(t, "grant-current", nil)

	admin := h.GenerateToken(AdminClaims())
	resp := h.POST("/api/admin/sweep", nil, admin)
	h.AssertStatus(t, resp, http.StatusOK)

	var report scheduler.SweepReport
	h.ParseJSON(resp, &report)
	if len(report.Expired) != 1 || report.Expired[0] != "grant-lapsed" {
		t.Errorf("expired = %v", report.Expired)
	}
	if len(report.Revoked) != 1 || report.Revoked[0] != "grant-due" {
		t.Errorf("revoked = %v", report.Revoked)
	}

	// Terminal states are in place.
	lapsed, err := h.GrantStore.Get(context.Background(), "grant-lapsed")
	if err != nil {
		t.Fatalf("get lapsed: %v", err)
	}
	if lapsed.Status != model.GrantStatusExpired {
		t.Errorf("lapsed status = %q, want expired", lapsed.Status)
	}

	due, err := h.GrantStore.Get(context.Background(), "grant-due")
	if err != nil {
		t.Fatalf("get due: %v", err)
	}
	if due.Status != model.GrantStatusRevoked {
		t.Errorf("due status = %q, want revoked", due.Status)
	}
	if due.RevocationReason != scheduler.ScheduledRevocationReason {
		t.Errorf("reason = %q, want %q", due.RevocationReason, scheduler.ScheduledRevocationReason)
	}

	// A second sweep finds nothing left to do.
	resp = h.POST("/api/admin/sweep", nil, admin)
	h.AssertStatus(t, resp, http.StatusOK)
	h.ParseJSON(resp, &report)
	if len(report.Expired) != 0 || len(report.Revoked) != 0 {
		t.Errorf("second sweep report = %+v, want empty", report)
	}
}

func TestSweep_requiresAdminRole(t *testing.T) {
	h := NewTestHarness(t)

	lm := h.GenerateToken(LineManagerClaims())
	resp := h.POST("/api/admin/sweep", nil, lm)
	h.AssertStatus(t, resp, http.StatusForbidden)
}

func TestScheduleRevocation_thenSweep(t *testing.T) {
	h := NewTestHarness(t)
	h.seedGrant(t, "grant-1", nil)
	admin := h.GenerateToken(AdminClaims())

	at := time.Now().Add(-time.Second).UTC().Truncate(time.Second)
	resp := h.POST("/api/grants/grant-1/schedule-revocation",
		map[string]any{"scheduled_revocation_date": at.Format(time.RFC3339)}, admin)
	h.AssertStatus(t, resp, http.StatusOK)

	var g model.AccessGrant
	h.ParseJSON(resp, &g)
	if g.Status != model.GrantStatusScheduledForRevocation {
		t.Fatalf("status = %q, want scheduled_for_revocation", g.Status)
	}

	resp = h.POST("/api/admin/sweep", nil, admin)
	h.AssertStatus(t, resp, http.StatusOK)
	var report scheduler.SweepReport
	h.ParseJSON(resp, &report)
	if len(report.Revoked) != 1 || report.Revoked[0] != "grant-1" {
		t.Fatalf("revoked = %v, want [grant-1]", report.Revoked)
	}
}

func TestConcurrentApprovals_oneWins(t *testing.T) {
	h := NewTestHarness(t)

	requester := h.GenerateToken(RequesterClaims())
	resp := h.POST("/api/requests", systemAccessBody(), requester)
	h.AssertStatus(t, resp, http.StatusCreated)
	var req model.Request
	h.ParseJSON(resp, &req)

	lm := h.GenerateToken(LineManagerClaims())
	body := map[string]any{"action": "approve"}

	results := make(chan int, 2)
	for i := 0; i < 2; i++ {
		go func() {
			r := h.POST("/api/requests/"+req.ID+"/actions", body, lm)
			r.Body.Close()
			results <- r.StatusCode
		}()
	}

	codes := []int{<-results, <-results}
	ok := 0
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			ok++
		case http.StatusConflict, http.StatusForbidden:
			// The loser either hit the version check or found the request
			// already advanced past its stage.
		default:
			t.Errorf("unexpected status %d", code)
		}
	}
	if ok != 1 {
		t.Errorf("successful approvals = %d, want exactly 1 (codes %v)", ok, codes)
	}

	final, err := h.RequestStore.Get(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if final.Status != "hod_pending" {
		t.Errorf("status = %q, want hod_pending", final.Status)
	}
	if len(final.StageAudit) != 1 {
		t.Errorf("audit entries = %d, want 1", len(final.StageAudit))
	}
}
