package incidents

import (
	"fmt"
	"time"

	"github.com/bissquit/incident-warden/internal/domain"
)

// ApplyTransition mutates inc in place for a legal lifecycle move and
// returns the timeline message describing it. Store implementations
// call it under their own write lock or transaction so the state check
// and the write cannot interleave with a concurrent transition.
func ApplyTransition(inc *domain.Incident, next domain.IncidentStatus, actor, note string, now time.Time) (string, error) {
	if !inc.Status.CanTransitionTo(next) {
		return "", &InvalidTransitionError{From: inc.Status, To: next}
	}
	if next == domain.IncidentStatusResolved && note == "" {
		return "", ErrResolutionNoteRequired
	}

	prev := inc.Status
	inc.Status = next

	switch next {
	case domain.IncidentStatusAcknowledged:
		t := now
		inc.AcknowledgedAt = &t
		if actor != "" {
			a := actor
			inc.Lead = &a
		}
	case domain.IncidentStatusResolved:
		t := now
		inc.ResolvedAt = &t
	}

	msg := fmt.Sprintf("status changed: %s -> %s", prev, next)
	if note != "" {
		msg += ": " + note
	}
	return msg, nil
}
