package model

import "time"

// DraftStatus is the lifecycle state of a Draft.
type DraftStatus string

const (
	DraftStatusDraft    DraftStatus = "draft"
	DraftStatusPending  DraftStatus = "pending"
	DraftStatusDeployed DraftStatus = "deployed"
	DraftStatusRejected DraftStatus = "rejected"
)

// String returns the string representation of the status.
func (s DraftStatus) String() string {
	return string(s)
}

// IsValid checks whether the status is a known value.
func (s DraftStatus) IsValid() bool {
	switch s {
	case DraftStatusDraft, DraftStatusPending, DraftStatusDeployed, DraftStatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s DraftStatus) IsTerminal() bool {
	return s == DraftStatusDeployed || s == DraftStatusRejected
}

// CanTransition reports whether a draft may move from s to next.
func (s DraftStatus) CanTransition(next DraftStatus) bool {
	switch s {
	case DraftStatusDraft:
		return next == DraftStatusPending
	case DraftStatusPending:
		return next == DraftStatusDeployed || next == DraftStatusRejected
	}
	return false
}

// Draft is a staged, not-yet-live proposal for the full state of one config.
type Draft struct {
	ID          string       `json:"id"`
	ConfigID    string       `json:"config_id"`
	Title       string       `json:"title,omitempty"`
	Status      DraftStatus  `json:"status"`
	Proposed    *ConfigState `json:"proposed"`
	BaseVersion int64        `json:"base_version"`

	CreatedAt   time.Time  `json:"created_at"`
	CreatedBy   string     `json:"created_by,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	SubmittedBy string     `json:"submitted_by,omitempty"`
	DeployedAt  *time.Time `json:"deployed_at,omitempty"`
	DeployedBy  string     `json:"deployed_by,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
	RejectedBy  string     `json:"rejected_by,omitempty"`

	RejectionReason string `json:"rejection_reason,omitempty"`
}

// Transition moves the draft to next, stamping the actor and time. It
// returns a *TransitionError when the move is not allowed.
func (d *Draft) Transition(next DraftStatus, actor string, now time.Time) error {
	if !d.Status.CanTransition(next) {
		return &TransitionError{DraftID: d.ID, From: d.Status, To: next}
	}
	d.Status = next
	d.UpdatedAt = now
	switch next {
	case DraftStatusPending:
		d.SubmittedAt, d.SubmittedBy = &now, actor
	case DraftStatusDeployed:
		d.DeployedAt, d.DeployedBy = &now, actor
	case DraftStatusRejected:
		d.RejectedAt, d.RejectedBy = &now, actor
	}
	return nil
}
