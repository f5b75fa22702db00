package incidents

import (
	"context"
	"time"

	"github.com/bissquit/incident-warden/internal/domain"
)

// AdmitInput carries everything needed to open an incident from an
// admitted alert or a manual creation request.
type AdmitInput struct {
	Title            string
	Description      string
	ServiceID        string
	Severity         domain.IncidentSeverity
	ImpactedScopeIDs []string
	DetectedAt       time.Time
	Actor            string

	// AlertNote becomes the ALERT_RECEIVED timeline entry: the opening
	// entry when a new incident is created, or the duplicate-alert entry
	// appended to the existing incident on dedup.
	AlertNote string
}

// ListFilter narrows ListIncidents. Zero values mean no filtering.
type ListFilter struct {
	Status    domain.IncidentStatus
	Severity  domain.IncidentSeverity
	ServiceID string
	Limit     int
	Offset    int
}

// Store persists incidents, their timelines and fired escalation steps.
// Implementations must be safe for concurrent use.
//
// AdmitOrCreate is the only method with cross-row semantics: it must
// atomically either return the service's existing open incident or
// create a new one, never both.
type Store interface {
	// AdmitOrCreate returns (incident, true, nil) when a new incident was
	// created, or (existing, false, nil) when the service already had an
	// open one. The ALERT_RECEIVED timeline entry is appended inside the
	// same critical section in both cases.
	AdmitOrCreate(ctx context.Context, in AdmitInput) (*domain.Incident, bool, error)

	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	ListIncidents(ctx context.Context, f ListFilter) ([]domain.Incident, error)
	// ListOpenIncidents returns incidents in TRIGGERED or ACKNOWLEDGED
	// state, oldest first. The escalation engine sweeps over this set.
	ListOpenIncidents(ctx context.Context) ([]domain.Incident, error)

	// UpdateStatus applies a lifecycle transition atomically, appending
	// the STATUS_CHANGE timeline entry in the same critical section.
	UpdateStatus(ctx context.Context, id string, next domain.IncidentStatus, actor, note string) (*domain.Incident, error)

	// SetDocumentLink records the collaboration document URL, write-once.
	SetDocumentLink(ctx context.Context, id, link string) error
	// SetWarRoom records the war room link and channel id, write-once.
	SetWarRoom(ctx context.Context, id, link, roomID string) error

	AppendEvent(ctx context.Context, ev *domain.IncidentEvent) error
	ListEvents(ctx context.Context, incidentID string) ([]domain.IncidentEvent, error)
	// LatestEventTime returns the creation time of the newest event of
	// the given type for the incident, or nil when none exists.
	LatestEventTime(ctx context.Context, incidentID string, t domain.IncidentEventType) (*time.Time, error)

	// RecordEscalation inserts a fired step row. Returns
	// ErrEscalationExists when the (incident, policy, step) combination
	// was already recorded.
	RecordEscalation(ctx context.Context, esc *domain.IncidentEscalation) error
	ListEscalations(ctx context.Context, incidentID string) ([]domain.IncidentEscalation, error)
}
