package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/veropath/grantflow/internal/chain"
	"github.com/veropath/grantflow/internal/notify"
	"github.com/veropath/grantflow/model"
)

// --- Test helpers ---

func financeRequester() *model.Actor {
	return &model.Actor{ID: "user-alice", Role: "employee", Department: "Finance"}
}

func actorFor(role, department string) *model.Actor {
	return &model.Actor{ID: "user-" + role, Role: role, Department: department}
}

// mockGrantCreator counts completion hook invocations.
type mockGrantCreator struct {
	calls []model.Request
	err   error
}

func (m *mockGrantCreator) CreateFromRequest(_ context.Context, req model.Request) (model.AccessGrant, error) {
	m.calls = append(m.calls, req)
	if m.err != nil {
		return model.AccessGrant{}, m.err
	}
	return model.AccessGrant{ID: "grant-1", GrantedFromRequestID: req.ID}, nil
}

func newTestEngine(t *testing.T) (*Engine, *MemoryRequestStore, *mockGrantCreator, *notify.Recorder) {
	t.Helper()
	store := NewMemoryRequestStore()
	grants := &mockGrantCreator{}
	recorder := notify.NewRecorder()
	registry := chain.NewRegistry(chain.DefaultChains())
	engine := NewEngine(registry, store, grants, recorder, nil)
	return engine, store, grants, recorder
}

func submitAccessRequest(t *testing.T, engine *Engine) model.Request {
	t.Helper()
	end := time.Now().UTC().Add(30 * 24 * time.Hour)
	req, err := engine.Submit(context.Background(), financeRequester(), SubmitInput{
		Kind:     model.KindSystemAccess,
		SystemID: "erp",
		EndDate:  &end,
		Payload:  map[string]any{"justification": "quarter-end reporting"},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return req
}

// --- Submit ---

func TestEngine_Submit_initialStage(t *testing.T) {
	engine, _, _, recorder := newTestEngine(t)
	req := submitAccessRequest(t, engine)

	if req.Status != "request_pending" {
		t.Errorf("Status = %q, want request_pending", req.Status)
	}
	if req.Department != "Finance" {
		t.Errorf("Department = %q, want Finance", req.Department)
	}
	if req.Version != 1 {
		t.Errorf("Version = %d, want 1", req.Version)
	}

	// The first stage's role holders are notified.
	sent := recorder.SentTo(notify.RoleRecipient("line_manager"))
	if len(sent) != 1 || sent[0].Type != notify.EventRequestSubmitted {
		t.Errorf("notifications to line_manager = %v, want one request_submitted", sent)
	}
}

func TestEngine_Submit_validation(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	end := time.Now().UTC().Add(time.Hour)
	start := end.Add(time.Hour) // after end

	tests := []struct {
		name  string
		input SubmitInput
	}{
		{"missing kind", SubmitInput{}},
		{"unknown kind", SubmitInput{Kind: "vacation"}},
		{"access without system", SubmitInput{Kind: model.KindSystemAccess, EndDate: &end}},
		{"non-permanent without end date", SubmitInput{Kind: model.KindSystemAccess, SystemID: "erp"}},
		{"permanent with end date", SubmitInput{Kind: model.KindSystemAccess, SystemID: "erp", IsPermanent: true, EndDate: &end}},
		{"end before start", SubmitInput{Kind: model.KindSystemAccess, SystemID: "erp", StartDate: &start, EndDate: &end}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Submit(ctx, financeRequester(), tt.input)
			if err == nil {
				t.Fatal("Submit() error = nil, want validation error")
			}
			code := model.ErrorCode(err)
			if code != model.ErrValidationError && code != model.ErrBadRequest {
				t.Errorf("Submit() error code = %q, want validation failure", code)
			}
		})
	}
}

func TestEngine_Submit_permanentAccess(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	req, err := engine.Submit(context.Background(), financeRequester(), SubmitInput{
		Kind:        model.KindSystemAccess,
		SystemID:    "erp",
		IsPermanent: true,
	})
	if err != nil {
		t.Fatalf("Submit(permanent) error = %v", err)
	}
	if !req.IsPermanent || req.EndDate != nil {
		t.Errorf("permanent request = %+v, want IsPermanent without EndDate", req)
	}
}

// --- Act: the full approval chain ---

func TestEngine_Act_fullChainToGrant(t *testing.T) {
	engine, _, grants, recorder := newTestEngine(t)
	ctx := context.Background()
	req := submitAccessRequest(t, engine)

	steps := []struct {
		actor      *model.Actor
		wantStatus string
	}{
		{actorFor("line_manager", "Finance"), "hod_pending"},
		{actorFor("hod", "Finance"), "it_manager_pending"},
		{actorFor("it_manager", "IT"), "it_support_review"},
		{actorFor("it_support", "IT"), model.StatusGranted},
	}

	for _, step := range steps {
		updated, err := engine.Act(ctx, step.actor, req.ID, ActInput{Action: model.ActionApprove})
		if err != nil {
			t.Fatalf("Act(%s) error = %v", step.actor.Role, err)
		}
		if updated.Status != step.wantStatus {
			t.Fatalf("Act(%s) status = %q, want %q", step.actor.Role, updated.Status, step.wantStatus)
		}
	}

	final, err := engine.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(final.StageAudit) != 4 {
		t.Errorf("StageAudit length = %d, want 4", len(final.StageAudit))
	}
	completed := final.CompletedStages()
	seen := make(map[string]bool)
	for _, stage := range completed {
		if seen[stage] {
			t.Errorf("stage %q completed twice", stage)
		}
		seen[stage] = true
	}

	if len(grants.calls) != 1 {
		t.Fatalf("grant hook invoked %d times, want exactly once", len(grants.calls))
	}
	if grants.calls[0].ID != req.ID {
		t.Errorf("grant hook request = %q, want %q", grants.calls[0].ID, req.ID)
	}

	// The requester learns of the terminal outcome.
	toRequester := recorder.SentTo("user-alice")
	if len(toRequester) == 0 {
		t.Error("no terminal notification sent to requester")
	}
}

func TestEngine_Act_reject_stopsChain(t *testing.T) {
	engine, _, grants, recorder := newTestEngine(t)
	ctx := context.Background()
	req := submitAccessRequest(t, engine)

	if _, err := engine.Act(ctx, actorFor("line_manager", "Finance"), req.ID, ActInput{Action: model.ActionApprove}); err != nil {
		t.Fatalf("approve error = %v", err)
	}
	updated, err := engine.Act(ctx, actorFor("hod", "Finance"), req.ID, ActInput{Action: model.ActionReject, Comment: "no budget"})
	if err != nil {
		t.Fatalf("reject error = %v", err)
	}
	if updated.Status != model.StatusRejected {
		t.Errorf("Status = %q, want rejected", updated.Status)
	}

	// No further action is possible.
	_, err = engine.Act(ctx, actorFor("it_manager", "IT"), req.ID, ActInput{Action: model.ActionApprove})
	if model.ErrorCode(err) != model.ErrNotActionable {
		t.Errorf("Act(after reject) error = %v, want NOT_ACTIONABLE", err)
	}

	if len(grants.calls) != 0 {
		t.Errorf("grant hook invoked %d times after reject, want 0", len(grants.calls))
	}
	rejections := recorder.SentTo("user-alice")
	if len(rejections) != 1 || rejections[0].Type != notify.EventRequestRejected {
		t.Errorf("requester notifications = %v, want one request_rejected", rejections)
	}
}

func TestEngine_Act_unauthorized_leavesRequestUnchanged(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	req := submitAccessRequest(t, engine)

	tests := []struct {
		name  string
		actor *model.Actor
	}{
		{"wrong role", actorFor("hod", "Finance")},
		{"right role, wrong department", actorFor("line_manager", "Sales")},
		{"requester themselves", financeRequester()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Act(ctx, tt.actor, req.ID, ActInput{Action: model.ActionApprove})
			if model.ErrorCode(err) != model.ErrUnauthorizedStage {
				t.Fatalf("Act() error = %v, want UNAUTHORIZED_STAGE", err)
			}

			fresh, gerr := engine.Get(ctx, req.ID)
			if gerr != nil {
				t.Fatalf("Get() error = %v", gerr)
			}
			if fresh.Status != "request_pending" {
				t.Errorf("Status = %q, want request_pending (unchanged)", fresh.Status)
			}
			if len(fresh.StageAudit) != 0 {
				t.Errorf("StageAudit = %v, want empty (unchanged)", fresh.StageAudit)
			}
		})
	}
}

func TestEngine_Act_escalate_doesNotAdvance(t *testing.T) {
	engine, _, _, recorder := newTestEngine(t)
	ctx := context.Background()
	req := submitAccessRequest(t, engine)

	updated, err := engine.Act(ctx, actorFor("line_manager", "Finance"), req.ID, ActInput{
		Action:     model.ActionEscalate,
		EscalateTo: "user-senior-lm",
		Comment:    "on leave this week",
	})
	if err != nil {
		t.Fatalf("escalate error = %v", err)
	}
	if updated.Status != "request_pending" {
		t.Errorf("Status after escalate = %q, want request_pending", updated.Status)
	}
	if len(updated.StageAudit) != 1 {
		t.Fatalf("StageAudit length = %d, want 1 (escalation recorded)", len(updated.StageAudit))
	}
	if updated.StageAudit[0].EscalatedTo != "user-senior-lm" {
		t.Errorf("EscalatedTo = %q, want user-senior-lm", updated.StageAudit[0].EscalatedTo)
	}

	// Escalation must not skip the stage: the stage still needs completion.
	after, err := engine.Act(ctx, actorFor("line_manager", "Finance"), req.ID, ActInput{Action: model.ActionApprove})
	if err != nil {
		t.Fatalf("approve after escalate error = %v", err)
	}
	if after.Status != "hod_pending" {
		t.Errorf("Status = %q, want hod_pending", after.Status)
	}

	if sent := recorder.SentTo("user-senior-lm"); len(sent) != 1 {
		t.Errorf("escalation target notifications = %v, want 1", sent)
	}
}

func TestEngine_Act_skipAndAssign_advance(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	req := submitAccessRequest(t, engine)

	updated, err := engine.Act(ctx, actorFor("line_manager", "Finance"), req.ID, ActInput{Action: model.ActionSkip})
	if err != nil {
		t.Fatalf("skip error = %v", err)
	}
	if updated.Status != "hod_pending" {
		t.Errorf("Status after skip = %q, want hod_pending", updated.Status)
	}

	updated, err = engine.Act(ctx, actorFor("hod", "Finance"), req.ID, ActInput{Action: model.ActionAssign})
	if err != nil {
		t.Fatalf("assign error = %v", err)
	}
	if updated.Status != "it_manager_pending" {
		t.Errorf("Status after assign = %q, want it_manager_pending", updated.Status)
	}
}

func TestEngine_Act_invalidAction(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	req := submitAccessRequest(t, engine)

	_, err := engine.Act(context.Background(), actorFor("line_manager", "Finance"), req.ID, ActInput{Action: "defer"})
	if model.ErrorCode(err) != model.ErrBadRequest {
		t.Errorf("Act(defer) error = %v, want BAD_REQUEST", err)
	}
}

func TestEngine_Act_notFound(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	_, err := engine.Act(context.Background(), actorFor("line_manager", "Finance"), "ghost", ActInput{Action: model.ActionApprove})
	if model.ErrorCode(err) != model.ErrNotFound {
		t.Errorf("Act(missing) error = %v, want NOT_FOUND", err)
	}
}

// staleStore wraps a RequestStore and serves one stale read, simulating a
// concurrent writer sneaking in between load and commit.
type staleStore struct {
	RequestStore
	stale  model.Request
	served bool
}

func (s *staleStore) Get(ctx context.Context, requestID string) (model.Request, error) {
	if !s.served {
		s.served = true
		return s.stale, nil
	}
	return s.RequestStore.Get(ctx, requestID)
}

func TestEngine_Act_concurrentConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRequestStore()
	registry := chain.NewRegistry(chain.DefaultChains())
	engine := NewEngine(registry, store, nil, nil, nil)

	req := submitViaStore(t, store)

	// Writer A advances the request.
	if _, err := engine.Act(ctx, actorFor("line_manager", "Finance"), req.ID, ActInput{Action: model.ActionApprove}); err != nil {
		t.Fatalf("first Act() error = %v", err)
	}

	// Writer B read the same version before A committed.
	stale := NewEngine(registry, &staleStore{RequestStore: store, stale: req}, nil, nil, nil)
	_, err := stale.Act(ctx, actorFor("line_manager", "Finance"), req.ID, ActInput{Action: model.ActionReject})
	if model.ErrorCode(err) != model.ErrConflict {
		t.Fatalf("stale Act() error = %v, want CONFLICT", err)
	}

	// A's transition stands.
	got, _ := store.Get(ctx, req.ID)
	if got.Status != "hod_pending" {
		t.Errorf("Status = %q, want hod_pending", got.Status)
	}
}

func submitViaStore(t *testing.T, store RequestStore) model.Request {
	t.Helper()
	end := time.Now().UTC().Add(24 * time.Hour)
	now := time.Now().UTC()
	req := model.Request{
		ID:          "req-race",
		Kind:        model.KindSystemAccess,
		RequesterID: "user-alice",
		Department:  "Finance",
		Status:      "request_pending",
		SystemID:    "erp",
		EndDate:     &end,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.Create(context.Background(), req); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return req
}

// --- ListActionable ---

func TestEngine_ListActionable(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	reqFinance := submitAccessRequest(t, engine)

	// A second request from Sales sits at the same stage.
	end := time.Now().UTC().Add(24 * time.Hour)
	reqSales, err := engine.Submit(ctx, &model.Actor{ID: "user-carol", Role: "employee", Department: "Sales"}, SubmitInput{
		Kind:     model.KindSystemAccess,
		SystemID: "crm",
		EndDate:  &end,
	})
	if err != nil {
		t.Fatalf("Submit(sales) error = %v", err)
	}

	// A Finance line manager sees only the Finance request.
	actionable, err := engine.ListActionable(ctx, actorFor("line_manager", "Finance"))
	if err != nil {
		t.Fatalf("ListActionable() error = %v", err)
	}
	if len(actionable) != 1 || actionable[0].ID != reqFinance.ID {
		t.Errorf("ListActionable(finance LM) = %v, want [%s]", actionable, reqFinance.ID)
	}

	// An HOD has nothing until the request advances.
	actionable, err = engine.ListActionable(ctx, actorFor("hod", "Finance"))
	if err != nil {
		t.Fatalf("ListActionable() error = %v", err)
	}
	if len(actionable) != 0 {
		t.Errorf("ListActionable(hod before advance) = %v, want empty", actionable)
	}

	if _, err := engine.Act(ctx, actorFor("line_manager", "Finance"), reqFinance.ID, ActInput{Action: model.ActionApprove}); err != nil {
		t.Fatalf("Act() error = %v", err)
	}
	actionable, err = engine.ListActionable(ctx, actorFor("hod", "Finance"))
	if err != nil {
		t.Fatalf("ListActionable() error = %v", err)
	}
	if len(actionable) != 1 || actionable[0].ID != reqFinance.ID {
		t.Errorf("ListActionable(hod after advance) = %v, want [%s]", actionable, reqFinance.ID)
	}

	// The Sales line manager sees only the Sales request.
	actionable, err = engine.ListActionable(ctx, actorFor("line_manager", "Sales"))
	if err != nil {
		t.Fatalf("ListActionable() error = %v", err)
	}
	if len(actionable) != 1 || actionable[0].ID != reqSales.ID {
		t.Errorf("ListActionable(sales LM) = %v, want [%s]", actionable, reqSales.ID)
	}
}

func TestEngine_ListActionable_fixedDepartmentSeesAllOrigins(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	req := submitAccessRequest(t, engine)
	if _, err := engine.Act(ctx, actorFor("line_manager", "Finance"), req.ID, ActInput{Action: model.ActionApprove}); err != nil {
		t.Fatalf("Act() error = %v", err)
	}
	if _, err := engine.Act(ctx, actorFor("hod", "Finance"), req.ID, ActInput{Action: model.ActionApprove}); err != nil {
		t.Fatalf("Act() error = %v", err)
	}

	// IT manager reviews requests from any origin department.
	actionable, err := engine.ListActionable(ctx, actorFor("it_manager", "IT"))
	if err != nil {
		t.Fatalf("ListActionable() error = %v", err)
	}
	if len(actionable) != 1 || actionable[0].ID != req.ID {
		t.Errorf("ListActionable(it_manager) = %v, want [%s]", actionable, req.ID)
	}
}
