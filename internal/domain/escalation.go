package domain

import "time"

// EscalationTargetType identifies how an escalation step's target is
// resolved into a recipient.
type EscalationTargetType string

// Escalation target types.
const (
	TargetOnCall EscalationTargetType = "ON_CALL"
	TargetTeam   EscalationTargetType = "TEAM"
	TargetUser   EscalationTargetType = "USER"
	TargetEmail  EscalationTargetType = "EMAIL"
)

// IsValid checks if the target type is known.
func (t EscalationTargetType) IsValid() bool {
	switch t {
	case TargetOnCall, TargetTeam, TargetUser, TargetEmail:
		return true
	}
	return false
}

// EscalationStep is one rung of an escalation policy. DelayMinutes is
// measured from incident creation, not from the previous step.
type EscalationStep struct {
	Order        int                  `json:"order" koanf:"order"`
	DelayMinutes int                  `json:"delay_minutes" koanf:"delay_minutes"`
	Channel      ChannelType          `json:"channel" koanf:"channel"`
	TargetType   EscalationTargetType `json:"target_type" koanf:"target_type"`

	// TargetRef holds the address for USER/EMAIL targets; unused for
	// ON_CALL and TEAM which resolve through the directory.
	TargetRef string `json:"target_ref,omitempty" koanf:"target_ref"`
}

// EscalationPolicy is an ordered chain of escalation steps belonging to
// a team, optionally filtered by severity. Policies are configuration:
// read-only to the engine.
type EscalationPolicy struct {
	ID     string `json:"id" koanf:"id"`
	TeamID string `json:"team_id" koanf:"team_id"`

	// SeverityFilter restricts the policy to one severity; empty
	// matches any.
	SeverityFilter IncidentSeverity `json:"severity_filter,omitempty" koanf:"severity_filter"`
	IsDefault      bool             `json:"is_default" koanf:"is_default"`

	Steps []EscalationStep `json:"steps" koanf:"steps"`
}

// IncidentEscalation records one fired (incident, step) pair. Its
// existence is the idempotency guard: a step never fires twice.
// Rows are created by the escalation engine and never mutated.
type IncidentEscalation struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	PolicyID   string    `json:"policy_id"`
	StepOrder  int       `json:"step_order"`
	FiredAt    time.Time `json:"fired_at"`

	// Delivered is false when the step fired but every send failed.
	// The row is still written so the step is never retried.
	Delivered bool   `json:"delivered"`
	Note      string `json:"note,omitempty"`
}
