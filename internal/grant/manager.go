package grant

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veropath/grantflow/internal/notify"
	"github.com/veropath/grantflow/model"
)

// Manager owns the access grant lifecycle. Creation happens once per
// approved request; revocation and expiry are mutually exclusive terminal
// outcomes, whichever commits first wins and the other becomes a no-op.
type Manager struct {
	store    GrantStore
	notifier notify.Notifier
	logger   *zap.Logger
}

// NewManager creates a grant lifecycle manager.
func NewManager(store GrantStore, notifier notify.Notifier, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, notifier: notifier, logger: logger}
}

// CreateFromRequest turns an approved system-access request into an active
// grant. Called when the request reaches its terminal granted stage; safe to
// call again for the same request, the existing grant is returned.
func (m *Manager) CreateFromRequest(ctx context.Context, req model.Request) (model.AccessGrant, error) {
	now := time.Now().UTC()

	effectiveFrom := now
	if req.StartDate != nil {
		effectiveFrom = *req.StartDate
	}

	grant := model.AccessGrant{
		ID:                   uuid.New().String(),
		UserID:               req.RequesterID,
		SystemID:             req.SystemID,
		GrantedFromRequestID: req.ID,
		GrantedBy:            finalApprover(req),
		Status:               model.GrantStatusActive,
		EffectiveFrom:        effectiveFrom,
		EffectiveUntil:       req.EndDate,
		IsPermanent:          req.IsPermanent,
		GrantedAt:            now,
		UpdatedAt:            now,
		Version:              1,
	}
	if !grant.IsPermanent {
		grant.ScheduledRevocationDate = req.EndDate
	}

	if err := m.store.Create(ctx, grant); err != nil {
		if model.ErrorCode(err) == model.ErrDuplicateGrant {
			existing, gerr := m.store.GetByRequestID(ctx, req.ID)
			if gerr != nil {
				return model.AccessGrant{}, gerr
			}
			m.logger.Debug("grant already exists for request",
				zap.String("request_id", req.ID),
				zap.String("grant_id", existing.ID),
			)
			return existing, nil
		}
		return model.AccessGrant{}, err
	}

	m.notify(ctx, notify.Notification{
		Recipient: grant.UserID,
		Type:      notify.EventGrantCreated,
		Title:     "Access granted",
		Message:   fmt.Sprintf("You have been granted access to %s", grant.SystemID),
		RelatedID: grant.ID,
	})

	return grant, nil
}

// Revoke applies a deliberate administrative revocation. Revoking an
// already revoked or expired grant is a no-op: the existing grant is
// returned alongside the typed error so callers can treat it as success
// without losing the distinction. Original revocation metadata is never
// overwritten.
func (m *Manager) Revoke(ctx context.Context, actorID, grantID, reason string) (model.AccessGrant, error) {
	grant, err := m.store.Get(ctx, grantID)
	if err != nil {
		return model.AccessGrant{}, err
	}

	switch grant.Status {
	case model.GrantStatusRevoked:
		return grant, model.NewAlreadyRevokedError(
			fmt.Sprintf("grant %q was already revoked", grantID),
		)
	case model.GrantStatusExpired:
		return grant, model.NewAlreadyExpiredError(
			fmt.Sprintf("grant %q already expired", grantID),
		)
	}

	now := time.Now().UTC()
	notifySent := grant.RevocationNotificationSent

	grant.Status = model.GrantStatusRevoked
	grant.RevokedAt = &now
	grant.RevokedBy = actorID
	grant.RevocationReason = reason
	grant.RevocationNotificationSent = true

	updated, err := m.store.Update(ctx, grant)
	if err != nil {
		return model.AccessGrant{}, err
	}

	if !notifySent {
		m.notify(ctx, notify.Notification{
			Recipient: updated.UserID,
			Type:      notify.EventGrantRevoked,
			Title:     "Access revoked",
			Message:   fmt.Sprintf("Your access to %s has been revoked: %s", updated.SystemID, reason),
			RelatedID: updated.ID,
		})
	}

	return updated, nil
}

// Expire applies automatic lapse to an active non-permanent grant whose
// effective window has passed. System-triggered; no actor. Expiring a grant
// that already reached a terminal state is a no-op.
func (m *Manager) Expire(ctx context.Context, grantID string, now time.Time) (model.AccessGrant, error) {
	grant, err := m.store.Get(ctx, grantID)
	if err != nil {
		return model.AccessGrant{}, err
	}

	switch grant.Status {
	case model.GrantStatusExpired:
		return grant, model.NewAlreadyExpiredError(
			fmt.Sprintf("grant %q already expired", grantID),
		)
	case model.GrantStatusRevoked:
		return grant, model.NewAlreadyRevokedError(
			fmt.Sprintf("grant %q was already revoked", grantID),
		)
	}

	if !grant.ExpiresBy(now) {
		return model.AccessGrant{}, model.NewConflictError(
			fmt.Sprintf("grant %q is not past its effective window", grantID),
		)
	}

	notifySent := grant.RevocationNotificationSent
	grant.Status = model.GrantStatusExpired
	grant.RevocationNotificationSent = true

	updated, err := m.store.Update(ctx, grant)
	if err != nil {
		return model.AccessGrant{}, err
	}

	if !notifySent {
		m.notify(ctx, notify.Notification{
			Recipient: updated.UserID,
			Type:      notify.EventGrantExpired,
			Title:     "Access expired",
			Message:   fmt.Sprintf("Your access to %s has expired", updated.SystemID),
			RelatedID: updated.ID,
		})
	}

	return updated, nil
}

// ScheduleRevocation marks an active grant for revocation by a future
// sweep instead of revoking it immediately.
func (m *Manager) ScheduleRevocation(ctx context.Context, actorID, grantID string, at time.Time) (model.AccessGrant, error) {
	grant, err := m.store.Get(ctx, grantID)
	if err != nil {
		return model.AccessGrant{}, err
	}

	switch grant.Status {
	case model.GrantStatusRevoked:
		return grant, model.NewAlreadyRevokedError(
			fmt.Sprintf("grant %q was already revoked", grantID),
		)
	case model.GrantStatusExpired:
		return grant, model.NewAlreadyExpiredError(
			fmt.Sprintf("grant %q already expired", grantID),
		)
	}

	at = at.UTC()
	grant.Status = model.GrantStatusScheduledForRevocation
	grant.ScheduledRevocationDate = &at

	updated, err := m.store.Update(ctx, grant)
	if err != nil {
		return model.AccessGrant{}, err
	}

	m.notify(ctx, notify.Notification{
		Recipient: updated.UserID,
		Type:      notify.EventRevocationSchedule,
		Title:     "Access revocation scheduled",
		Message:   fmt.Sprintf("Your access to %s will be revoked on %s", updated.SystemID, at.Format(time.RFC3339)),
		RelatedID: updated.ID,
	})

	m.logger.Info("revocation scheduled",
		zap.String("grant_id", updated.ID),
		zap.String("actor_id", actorID),
		zap.Time("at", at),
	)

	return updated, nil
}

// Get retrieves a grant by ID.
func (m *Manager) Get(ctx context.Context, grantID string) (model.AccessGrant, error) {
	return m.store.Get(ctx, grantID)
}

// List returns grants matching the filters.
func (m *Manager) List(ctx context.Context, filters GrantFilters) ([]model.AccessGrant, error) {
	return m.store.Find(ctx, filters)
}

// finalApprover returns the actor who completed the last approval stage.
func finalApprover(req model.Request) string {
	for i := len(req.StageAudit) - 1; i >= 0; i-- {
		if req.StageAudit[i].Action != model.ActionEscalate {
			return req.StageAudit[i].ActorID
		}
	}
	return model.SystemActor.ID
}

func (m *Manager) notify(ctx context.Context, n notify.Notification) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, n); err != nil {
		m.logger.Warn("notification delivery failed",
			zap.String("type", n.Type),
			zap.String("recipient", n.Recipient),
			zap.Error(err),
		)
	}
}
