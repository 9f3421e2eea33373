package model

import "time"

// Request kinds.
const (
	KindTicket       = "ticket"
	KindRequisition  = "requisition"
	KindSystemAccess = "system_access"
)

// Terminal request statuses. While a request is in flight its status is the
// name of the stage currently awaiting action.
const (
	StatusGranted  = "granted"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusClosed   = "closed"
)

// Workflow actions.
const (
	ActionApprove  = "approve"
	ActionReject   = "reject"
	ActionAssign   = "assign"
	ActionSkip     = "skip"
	ActionEscalate = "escalate"
)

// IsTerminalStatus reports whether status is one of the terminal tokens
// shared by all request kinds.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusGranted, StatusApproved, StatusRejected, StatusClosed:
		return true
	}
	return false
}

// ValidAction reports whether action is one of the recognized workflow
// actions.
func ValidAction(action string) bool {
	switch action {
	case ActionApprove, ActionReject, ActionAssign, ActionSkip, ActionEscalate:
		return true
	}
	return false
}

// Request is a routed work item: an IT ticket, an equipment requisition, or
// a system-access request. All three kinds share this shape; the stage chain
// differs per kind.
type Request struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	RequesterID string         `json:"requester_id"`
	Department  string         `json:"department"`
	Status      string         `json:"status"`
	Payload     map[string]any `json:"payload,omitempty"`

	// System-access fields. Zero for other kinds.
	SystemID    string     `json:"system_id,omitempty"`
	IsPermanent bool       `json:"is_permanent,omitempty"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`

	StageAudit []StageAuditEntry `json:"stage_audit"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// StageAuditEntry records one action taken against a stage. Completion
// entries (approve, assign, skip, reject) appear at most once per stage;
// escalations may repeat without advancing the request.
type StageAuditEntry struct {
	Stage       string    `json:"stage"`
	ActorID     string    `json:"actor_id"`
	Action      string    `json:"action"`
	Comment     string    `json:"comment,omitempty"`
	EscalatedTo string    `json:"escalated_to,omitempty"`
	ActedAt     time.Time `json:"acted_at"`
}

// CompletedStages returns the stage names with a completion entry recorded,
// in audit order.
func (r *Request) CompletedStages() []string {
	var stages []string
	for _, e := range r.StageAudit {
		if e.Action == ActionEscalate {
			continue
		}
		stages = append(stages, e.Stage)
	}
	return stages
}

// AuditEntryFor returns the completion audit entry for the given stage, or
// nil if the stage has not been completed.
func (r *Request) AuditEntryFor(stage string) *StageAuditEntry {
	for i := range r.StageAudit {
		if r.StageAudit[i].Stage == stage && r.StageAudit[i].Action != ActionEscalate {
			return &r.StageAudit[i]
		}
	}
	return nil
}

// RequestSummary is a lightweight representation of a request used in list
// views.
type RequestSummary struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	RequesterID string    `json:"requester_id"`
	Department  string    `json:"department"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Summary converts a Request to its list-view form.
func (r *Request) Summary() RequestSummary {
	return RequestSummary{
		ID:          r.ID,
		Kind:        r.Kind,
		RequesterID: r.RequesterID,
		Department:  r.Department,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}
