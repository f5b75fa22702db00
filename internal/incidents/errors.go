package incidents

import (
	"fmt"

	"github.com/bissquit/incident-warden/internal/domain"
)

// Store errors.
var (
	ErrIncidentNotFound = fmt.Errorf("incident not found")
	// ErrEscalationExists marks a duplicate (incident, step) firing.
	// The escalation engine treats it as already-done, not as a failure.
	ErrEscalationExists = fmt.Errorf("escalation step already recorded")
	// ErrLinkAlreadySet guards write-once automation fields.
	ErrLinkAlreadySet = fmt.Errorf("automation link already set")
	// ErrOpenIncidentExists is returned by manual creation when the
	// service already has an open incident.
	ErrOpenIncidentExists = fmt.Errorf("service already has an open incident")
)

// Lifecycle errors.
var (
	ErrResolutionNoteRequired = fmt.Errorf("resolution note is required")
	ErrInvalidTransition      = fmt.Errorf("invalid status transition")
)

// InvalidTransitionError rejects an illegal lifecycle move. The
// incident is left unchanged. It matches ErrInvalidTransition under
// errors.Is.
type InvalidTransitionError struct {
	From domain.IncidentStatus
	To   domain.IncidentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}
