package incidents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/incident-warden/internal/directory"
	"github.com/bissquit/incident-warden/internal/domain"
)

// AlertInput is a raw alert from a monitoring source, addressed by
// service name.
type AlertInput struct {
	ServiceName string
	Title       string
	Description string
	Severity    domain.IncidentSeverity
	DetectedAt  time.Time
	Source      string
	ScopeIDs    []string
}

// CreateInput is a manual incident creation request, addressed by
// service id.
type CreateInput struct {
	ServiceID   string
	Title       string
	Description string
	Severity    domain.IncidentSeverity
	ScopeIDs    []string
}

// KPIReport exposes per-incident response timings. Fields are nil until
// the corresponding milestone is reached.
type KPIReport struct {
	IncidentID  string   `json:"incident_id"`
	ShortID     string   `json:"short_id"`
	MTTDSeconds *float64 `json:"mttd_seconds,omitempty"`
	MTTASeconds *float64 `json:"mtta_seconds,omitempty"`
	MTTRSeconds *float64 `json:"mttr_seconds,omitempty"`
}

// Service provides incident admission and lifecycle business logic.
type Service struct {
	store Store
	dir   directory.Directory

	// fallbackService absorbs alerts for unknown services; empty means
	// such alerts are rejected.
	fallbackService string

	// onCreated is invoked after a new incident is persisted. The
	// orchestration coordinator hangs off this hook; it must not block.
	onCreated func(inc *domain.Incident)

	admitLocks *keyedMutex
}

// NewService creates a new incidents service.
func NewService(store Store, dir directory.Directory, fallbackService string) *Service {
	return &Service{
		store:           store,
		dir:             dir,
		fallbackService: fallbackService,
		admitLocks:      newKeyedMutex(),
	}
}

// OnCreated registers the post-creation hook. Must be called before the
// service starts receiving traffic.
func (s *Service) OnCreated(fn func(inc *domain.Incident)) {
	s.onCreated = fn
}

// AdmitAlert runs an alert through deduplication: it either opens a new
// incident for the alert's service or folds the alert into the
// service's existing open incident. The bool result is true when a new
// incident was created.
func (s *Service) AdmitAlert(ctx context.Context, in AlertInput) (*domain.Incident, bool, error) {
	svc, err := s.dir.ServiceByName(in.ServiceName)
	if err != nil {
		if s.fallbackService == "" {
			return nil, false, err
		}
		svc, err = s.dir.ServiceByName(s.fallbackService)
		if err != nil {
			return nil, false, fmt.Errorf("resolve fallback service: %w", err)
		}
		slog.Warn("alert for unknown service routed to fallback",
			"service", in.ServiceName,
			"fallback", s.fallbackService,
		)
	}

	if !in.Severity.IsValid() {
		return nil, false, fmt.Errorf("invalid severity: %q", in.Severity)
	}

	detectedAt := in.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now().UTC()
	}

	source := in.Source
	if source == "" {
		source = "monitoring"
	}

	unlock := s.admitLocks.lock(svc.ID)
	defer unlock()

	inc, created, err := s.store.AdmitOrCreate(ctx, AdmitInput{
		Title:            in.Title,
		Description:      in.Description,
		ServiceID:        svc.ID,
		Severity:         in.Severity,
		ImpactedScopeIDs: in.ScopeIDs,
		DetectedAt:       detectedAt,
		Actor:            source,
		AlertNote:        fmt.Sprintf("alert received from %s: [%s] %s", source, in.Severity, in.Title),
	})
	if err != nil {
		return nil, false, err
	}

	recordAlertAdmitted(created)
	if created {
		recordIncidentCreated(string(inc.Severity))
		slog.Info("incident created",
			"incident_id", inc.ID,
			"short_id", inc.ShortID(),
			"service_id", inc.ServiceID,
			"severity", inc.Severity,
		)
		s.dispatchCreated(inc)
	} else {
		slog.Info("alert deduplicated into open incident",
			"incident_id", inc.ID,
			"service_id", inc.ServiceID,
		)
	}

	return inc, created, nil
}

// CreateIncident opens an incident manually. Unlike alert admission it
// does not fold into an existing open incident: the caller gets
// ErrOpenIncidentExists instead.
func (s *Service) CreateIncident(ctx context.Context, in CreateInput, actor string) (*domain.Incident, error) {
	svc, err := s.dir.ServiceByID(in.ServiceID)
	if err != nil {
		return nil, err
	}
	if !in.Severity.IsValid() {
		return nil, fmt.Errorf("invalid severity: %q", in.Severity)
	}

	now := time.Now().UTC()

	unlock := s.admitLocks.lock(svc.ID)
	defer unlock()

	inc, created, err := s.store.AdmitOrCreate(ctx, AdmitInput{
		Title:            in.Title,
		Description:      in.Description,
		ServiceID:        svc.ID,
		Severity:         in.Severity,
		ImpactedScopeIDs: in.ScopeIDs,
		DetectedAt:       now,
		Actor:            actor,
		AlertNote:        fmt.Sprintf("incident opened manually by %s", actor),
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, fmt.Errorf("%w: %s", ErrOpenIncidentExists, inc.ID)
	}

	recordIncidentCreated(string(inc.Severity))
	slog.Info("incident created manually",
		"incident_id", inc.ID,
		"short_id", inc.ShortID(),
		"actor", actor,
	)
	s.dispatchCreated(inc)

	return inc, nil
}

func (s *Service) dispatchCreated(inc *domain.Incident) {
	if s.onCreated != nil {
		s.onCreated(inc)
	}
}

// Acknowledge moves a triggered incident to ACKNOWLEDGED and records
// the actor as incident lead.
func (s *Service) Acknowledge(ctx context.Context, id, actor string) (*domain.Incident, error) {
	inc, err := s.store.UpdateStatus(ctx, id, domain.IncidentStatusAcknowledged, actor, "")
	if err != nil {
		return nil, err
	}
	recordTransition(string(domain.IncidentStatusAcknowledged))
	if d := inc.MTTA(); d != nil {
		timeToAcknowledge.Observe(d.Seconds())
	}
	slog.Info("incident acknowledged", "incident_id", inc.ID, "actor", actor)
	return inc, nil
}

// Mitigate marks an acknowledged incident as mitigated: impact is
// contained but the incident is not yet closed out.
func (s *Service) Mitigate(ctx context.Context, id, actor, note string) (*domain.Incident, error) {
	inc, err := s.store.UpdateStatus(ctx, id, domain.IncidentStatusMitigated, actor, note)
	if err != nil {
		return nil, err
	}
	recordTransition(string(domain.IncidentStatusMitigated))
	slog.Info("incident mitigated", "incident_id", inc.ID, "actor", actor)
	return inc, nil
}

// Resolve closes an incident. A non-empty resolution note is required.
func (s *Service) Resolve(ctx context.Context, id, actor, note string) (*domain.Incident, error) {
	if note == "" {
		return nil, ErrResolutionNoteRequired
	}
	inc, err := s.store.UpdateStatus(ctx, id, domain.IncidentStatusResolved, actor, note)
	if err != nil {
		return nil, err
	}
	recordTransition(string(domain.IncidentStatusResolved))
	if d := inc.MTTR(); d != nil {
		timeToResolve.Observe(d.Seconds())
	}
	slog.Info("incident resolved", "incident_id", inc.ID, "actor", actor)
	return inc, nil
}

// GetIncident returns one incident by id.
func (s *Service) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	return s.store.GetIncident(ctx, id)
}

// ListIncidents returns incidents matching the filter.
func (s *Service) ListIncidents(ctx context.Context, f ListFilter) ([]domain.Incident, error) {
	return s.store.ListIncidents(ctx, f)
}

// ListEvents returns the incident's timeline, oldest first.
func (s *Service) ListEvents(ctx context.Context, incidentID string) ([]domain.IncidentEvent, error) {
	if _, err := s.store.GetIncident(ctx, incidentID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, incidentID)
}

// ListEscalations returns the incident's fired escalation steps.
func (s *Service) ListEscalations(ctx context.Context, incidentID string) ([]domain.IncidentEscalation, error) {
	if _, err := s.store.GetIncident(ctx, incidentID); err != nil {
		return nil, err
	}
	return s.store.ListEscalations(ctx, incidentID)
}

// IncidentMetrics computes the response timing KPIs for one incident.
func (s *Service) IncidentMetrics(ctx context.Context, id string) (*KPIReport, error) {
	inc, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	r := &KPIReport{IncidentID: inc.ID, ShortID: inc.ShortID()}
	if d := inc.MTTD(); d != nil {
		v := d.Seconds()
		r.MTTDSeconds = &v
	}
	if d := inc.MTTA(); d != nil {
		v := d.Seconds()
		r.MTTASeconds = &v
	}
	if d := inc.MTTR(); d != nil {
		v := d.Seconds()
		r.MTTRSeconds = &v
	}
	return r, nil
}
