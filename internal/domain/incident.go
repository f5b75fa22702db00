package domain

import (
	"strings"
	"time"
)

// IncidentStatus represents the lifecycle state of an incident.
type IncidentStatus string

// Incident lifecycle states, in forward order.
const (
	IncidentStatusTriggered    IncidentStatus = "TRIGGERED"
	IncidentStatusAcknowledged IncidentStatus = "ACKNOWLEDGED"
	IncidentStatusMitigated    IncidentStatus = "MITIGATED"
	IncidentStatusResolved     IncidentStatus = "RESOLVED"
)

// IsValid checks if the status is a known lifecycle state.
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentStatusTriggered, IncidentStatusAcknowledged,
		IncidentStatusMitigated, IncidentStatusResolved:
		return true
	}
	return false
}

// IsOpen reports whether the status still blocks new incidents for the
// same service. Mitigated incidents are considered handled and do not
// absorb further alerts.
func (s IncidentStatus) IsOpen() bool {
	return s == IncidentStatusTriggered || s == IncidentStatusAcknowledged
}

// rank orders statuses for forward-only transition checks.
func (s IncidentStatus) rank() int {
	switch s {
	case IncidentStatusTriggered:
		return 0
	case IncidentStatusAcknowledged:
		return 1
	case IncidentStatusMitigated:
		return 2
	case IncidentStatusResolved:
		return 3
	}
	return -1
}

// CanTransitionTo checks whether moving from s to next is a legal
// lifecycle transition. Backward moves are never allowed. RESOLVED is
// reachable from any non-terminal state; MITIGATED only from
// ACKNOWLEDGED.
func (s IncidentStatus) CanTransitionTo(next IncidentStatus) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	if s == IncidentStatusResolved {
		return false
	}
	if next.rank() <= s.rank() {
		return false
	}
	if next == IncidentStatusMitigated {
		return s == IncidentStatusAcknowledged
	}
	// ACKNOWLEDGED only follows TRIGGERED; RESOLVED follows anything open.
	if next == IncidentStatusAcknowledged {
		return s == IncidentStatusTriggered
	}
	return true
}

// IncidentSeverity represents the severity level of an incident.
type IncidentSeverity string

// Severity levels.
const (
	SeverityCritical IncidentSeverity = "CRITICAL"
	SeverityHigh     IncidentSeverity = "HIGH"
	SeverityMedium   IncidentSeverity = "MEDIUM"
	SeverityLow      IncidentSeverity = "LOW"
)

// IsValid checks if the severity is a known level.
func (s IncidentSeverity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// NeedsWarRoom reports whether the severity warrants a dedicated war
// room channel.
func (s IncidentSeverity) NeedsWarRoom() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// Incident is the unit of work: one detected failure driven from
// TRIGGERED to RESOLVED.
type Incident struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	ServiceID   string           `json:"service_id"`
	Severity    IncidentSeverity `json:"severity"`
	Status      IncidentStatus   `json:"status"`

	// Lead is the responsible person once acknowledged.
	Lead *string `json:"lead,omitempty"`

	ImpactedScopeIDs []string `json:"impacted_scope_ids"`

	// Automation outputs, each write-once after the coordinator's
	// corresponding sub-step succeeds.
	DocumentLink *string `json:"document_link,omitempty"`
	WarRoomLink  *string `json:"war_room_link,omitempty"`
	WarRoomID    *string `json:"war_room_id,omitempty"`

	DetectedAt     time.Time  `json:"detected_at"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// ShortID returns the human-readable incident identifier, e.g.
// "INC-A1B2C3D4".
func (i *Incident) ShortID() string {
	id := strings.ReplaceAll(i.ID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return "INC-" + strings.ToUpper(id)
}

// MTTD is the time between external detection and incident creation.
func (i *Incident) MTTD() *time.Duration {
	if i.DetectedAt.IsZero() || i.CreatedAt.IsZero() {
		return nil
	}
	d := i.CreatedAt.Sub(i.DetectedAt)
	return &d
}

// MTTA is the time between creation and first human acknowledgement.
// Nil until acknowledged.
func (i *Incident) MTTA() *time.Duration {
	if i.AcknowledgedAt == nil {
		return nil
	}
	d := i.AcknowledgedAt.Sub(i.CreatedAt)
	return &d
}

// MTTR is the time between creation and resolution. Nil until resolved.
func (i *Incident) MTTR() *time.Duration {
	if i.ResolvedAt == nil {
		return nil
	}
	d := i.ResolvedAt.Sub(i.CreatedAt)
	return &d
}
