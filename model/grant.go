package model

import "time"

// Access grant statuses. Transitions only move forward:
// active -> (expired | revoked | scheduled_for_revocation) -> revoked.
const (
	GrantStatusActive                 = "active"
	GrantStatusRevoked                = "revoked"
	GrantStatusExpired                = "expired"
	GrantStatusScheduledForRevocation = "scheduled_for_revocation"
)

// AccessGrant is a time-bounded or permanent authorization created when a
// system-access request reaches its terminal granted stage. Grants are never
// deleted; revoked and expired grants remain as the audit trail.
type AccessGrant struct {
	ID                   string `json:"id"`
	UserID               string `json:"user_id"`
	SystemID             string `json:"system_id"`
	GrantedFromRequestID string `json:"granted_from_request_id"`
	GrantedBy            string `json:"granted_by"`

	Status string `json:"status"`

	EffectiveFrom  time.Time  `json:"effective_from"`
	EffectiveUntil *time.Time `json:"effective_until,omitempty"`
	IsPermanent    bool       `json:"is_permanent"`

	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevokedBy        string     `json:"revoked_by,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty"`

	ScheduledRevocationDate    *time.Time `json:"scheduled_revocation_date,omitempty"`
	RevocationNotificationSent bool       `json:"revocation_notification_sent"`

	GrantedAt time.Time `json:"granted_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// Terminal reports whether the grant has reached a state no operation may
// change: revoked or expired.
func (g *AccessGrant) Terminal() bool {
	return g.Status == GrantStatusRevoked || g.Status == GrantStatusExpired
}

// Revocable reports whether a revoke may still be applied.
func (g *AccessGrant) Revocable() bool {
	return g.Status == GrantStatusActive || g.Status == GrantStatusScheduledForRevocation
}

// ExpiresBy reports whether a non-permanent grant's effective window has
// lapsed at the given instant.
func (g *AccessGrant) ExpiresBy(now time.Time) bool {
	if g.IsPermanent || g.EffectiveUntil == nil {
		return false
	}
	return !now.Before(*g.EffectiveUntil)
}
