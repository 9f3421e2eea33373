package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veropath/grantflow/internal/chain"
	"github.com/veropath/grantflow/internal/notify"
	"github.com/veropath/grantflow/model"
)

// GrantCreator is the completion hook invoked when a system-access request
// reaches its terminal granted stage. Implementations must be idempotent per
// originating request: invoking the hook twice yields the same single grant.
type GrantCreator interface {
	CreateFromRequest(ctx context.Context, req model.Request) (model.AccessGrant, error)
}

// SubmitInput carries the requester-supplied fields of a new request.
type SubmitInput struct {
	Kind        string
	Payload     map[string]any
	SystemID    string
	IsPermanent bool
	StartDate   *time.Time
	EndDate     *time.Time
}

// ActInput carries one workflow action against a request's current stage.
type ActInput struct {
	Action     string
	Comment    string
	EscalateTo string
}

// Engine advances requests through their kind's approval chain. All status
// mutations flow through here; stage order and authorization rules come from
// the chain registry.
type Engine struct {
	registry *chain.Registry
	store    RequestStore
	grants   GrantCreator
	notifier notify.Notifier
	logger   *zap.Logger
}

// NewEngine creates a workflow engine.
func NewEngine(registry *chain.Registry, store RequestStore, grants GrantCreator, notifier notify.Notifier, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry: registry,
		store:    store,
		grants:   grants,
		notifier: notifier,
		logger:   logger,
	}
}

// Submit creates a new request in the initial stage of its kind's chain and
// notifies the first stage's role holders.
func (e *Engine) Submit(ctx context.Context, actor *model.Actor, input SubmitInput) (model.Request, error) {
	if verrs := validateSubmit(e.registry, input); len(verrs) > 0 {
		return model.Request{}, model.NewValidationError(verrs)
	}

	initial, ok := e.registry.InitialStage(input.Kind)
	if !ok {
		return model.Request{}, model.NewBadRequestError(
			fmt.Sprintf("unknown request kind %q", input.Kind),
		)
	}

	now := time.Now().UTC()
	req := model.Request{
		ID:          uuid.New().String(),
		Kind:        input.Kind,
		RequesterID: actor.ID,
		Department:  actor.Department,
		Status:      initial,
		Payload:     input.Payload,
		SystemID:    input.SystemID,
		IsPermanent: input.IsPermanent,
		StartDate:   input.StartDate,
		EndDate:     input.EndDate,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := e.store.Create(ctx, req); err != nil {
		return model.Request{}, err
	}

	stage, _ := e.registry.StageFor(req.Kind, initial)
	e.notifyRoles(ctx, stage.Roles, notify.Notification{
		Type:      notify.EventRequestSubmitted,
		Title:     "Request awaiting action",
		Message:   fmt.Sprintf("A %s request is awaiting action at stage %s", req.Kind, initial),
		RelatedID: req.ID,
	})

	return req, nil
}

// Act applies one workflow action to a request's current stage on behalf of
// the actor. The status change and its audit entry commit atomically; the
// notification side effect follows a successful commit and never fails the
// transition.
func (e *Engine) Act(ctx context.Context, actor *model.Actor, requestID string, input ActInput) (model.Request, error) {
	if !model.ValidAction(input.Action) {
		return model.Request{}, model.NewBadRequestError(
			fmt.Sprintf("unknown action %q", input.Action),
		)
	}

	req, err := e.store.Get(ctx, requestID)
	if err != nil {
		return model.Request{}, err
	}

	if e.registry.IsTerminal(req.Kind, req.Status) {
		return model.Request{}, model.NewNotActionableError(
			fmt.Sprintf("request %q is already %s", requestID, req.Status),
		)
	}

	stage, ok := e.registry.StageFor(req.Kind, req.Status)
	if !ok {
		return model.Request{}, model.NewInternalError()
	}

	if !stage.AllowsActor(actor, req.Department) {
		return model.Request{}, model.NewUnauthorizedStageError(
			fmt.Sprintf("role %q in department %q may not act on stage %q", actor.Role, actor.Department, req.Status),
		)
	}

	entry := model.StageAuditEntry{
		Stage:   req.Status,
		ActorID: actor.ID,
		Action:  input.Action,
		Comment: input.Comment,
		ActedAt: time.Now().UTC(),
	}

	currentStage := req.Status
	switch input.Action {
	case model.ActionReject:
		req.Status = model.StatusRejected

	case model.ActionEscalate:
		// Re-addresses the stage to a higher authority without advancing.
		entry.EscalatedTo = input.EscalateTo

	default: // approve, assign, skip
		next, ok := e.registry.NextStatus(req.Kind, currentStage)
		if !ok {
			return model.Request{}, model.NewInternalError()
		}
		req.Status = next
	}

	updated, err := e.store.ApplyTransition(ctx, req, entry)
	if err != nil {
		return model.Request{}, err
	}

	if updated.Status == model.StatusGranted && updated.Kind == model.KindSystemAccess && e.grants != nil {
		if _, err := e.grants.CreateFromRequest(ctx, updated); err != nil {
			// The transition is already committed; the hook is idempotent
			// and a failure here is an infrastructure problem, not a
			// workflow one.
			e.logger.Error("grant creation failed after terminal transition",
				zap.String("request_id", updated.ID),
				zap.Error(err),
			)
		}
	}

	e.notifyTransition(ctx, updated, input, currentStage)

	return updated, nil
}

// Get retrieves a request with its stage audit trail.
func (e *Engine) Get(ctx context.Context, requestID string) (model.Request, error) {
	return e.store.Get(ctx, requestID)
}

// ListActionable returns all non-terminal requests whose current stage the
// actor is authorized to act on.
func (e *Engine) ListActionable(ctx context.Context, actor *model.Actor) ([]model.RequestSummary, error) {
	stagesByKind := e.registry.StagesForRole(actor.Role)

	var summaries []model.RequestSummary
	for kind, stages := range stagesByKind {
		requests, err := e.store.Find(ctx, RequestFilters{Kind: kind, Statuses: stages})
		if err != nil {
			return nil, err
		}
		for _, req := range requests {
			stage, ok := e.registry.StageFor(req.Kind, req.Status)
			if !ok || !stage.AllowsActor(actor, req.Department) {
				continue
			}
			summaries = append(summaries, req.Summary())
		}
	}
	return summaries, nil
}

// notifyTransition emits the post-commit notification for a completed
// action.
func (e *Engine) notifyTransition(ctx context.Context, req model.Request, input ActInput, fromStage string) {
	switch {
	case input.Action == model.ActionEscalate:
		n := notify.Notification{
			Type:      notify.EventRequestEscalated,
			Title:     "Request escalated",
			Message:   fmt.Sprintf("Stage %s of a %s request was escalated", fromStage, req.Kind),
			RelatedID: req.ID,
		}
		if input.EscalateTo != "" {
			n.Recipient = input.EscalateTo
			e.notify(ctx, n)
			return
		}
		stage, _ := e.registry.StageFor(req.Kind, fromStage)
		e.notifyRoles(ctx, stage.Roles, n)

	case req.Status == model.StatusRejected:
		e.notify(ctx, notify.Notification{
			Recipient: req.RequesterID,
			Type:      notify.EventRequestRejected,
			Title:     "Request rejected",
			Message:   fmt.Sprintf("Your %s request was rejected at stage %s", req.Kind, fromStage),
			RelatedID: req.ID,
		})

	case e.registry.IsTerminal(req.Kind, req.Status):
		e.notify(ctx, notify.Notification{
			Recipient: req.RequesterID,
			Type:      notify.EventStageAdvanced,
			Title:     "Request completed",
			Message:   fmt.Sprintf("Your %s request is now %s", req.Kind, req.Status),
			RelatedID: req.ID,
		})

	default:
		next, _ := e.registry.StageFor(req.Kind, req.Status)
		e.notifyRoles(ctx, next.Roles, notify.Notification{
			Type:      notify.EventStageAdvanced,
			Title:     "Request awaiting action",
			Message:   fmt.Sprintf("A %s request is awaiting action at stage %s", req.Kind, req.Status),
			RelatedID: req.ID,
		})
	}
}

func (e *Engine) notifyRoles(ctx context.Context, roles []string, n notify.Notification) {
	for _, role := range roles {
		n.Recipient = notify.RoleRecipient(role)
		e.notify(ctx, n)
	}
}

func (e *Engine) notify(ctx context.Context, n notify.Notification) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Warn("notification delivery failed",
			zap.String("recipient", n.Recipient),
			zap.String("type", n.Type),
			zap.Error(err),
		)
	}
}

// validateSubmit checks the kind-specific field requirements.
func validateSubmit(registry *chain.Registry, input SubmitInput) []model.FieldError {
	var errs []model.FieldError

	if input.Kind == "" {
		errs = append(errs, model.FieldError{Field: "kind", Code: "REQUIRED", Message: "kind is required"})
		return errs
	}
	if _, ok := registry.ChainFor(input.Kind); !ok {
		errs = append(errs, model.FieldError{Field: "kind", Code: "UNKNOWN", Message: fmt.Sprintf("unknown kind %q", input.Kind)})
		return errs
	}

	if input.Kind != model.KindSystemAccess {
		return errs
	}

	if input.SystemID == "" {
		errs = append(errs, model.FieldError{Field: "system_id", Code: "REQUIRED", Message: "system_id is required for system access requests"})
	}
	if input.IsPermanent {
		if input.EndDate != nil {
			errs = append(errs, model.FieldError{Field: "end_date", Code: "CONFLICT", Message: "a permanent request cannot carry an end date"})
		}
	} else {
		if input.EndDate == nil {
			errs = append(errs, model.FieldError{Field: "end_date", Code: "REQUIRED", Message: "end_date is required unless the request is permanent"})
		}
	}
	if input.StartDate != nil && input.EndDate != nil && input.EndDate.Before(*input.StartDate) {
		errs = append(errs, model.FieldError{Field: "end_date", Code: "INVALID", Message: "end_date precedes start_date"})
	}

	return errs
}
