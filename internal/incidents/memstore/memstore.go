// Package memstore provides an in-memory incidents.Store used when no
// database is configured, and by tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bissquit/incident-warden/internal/domain"
	"github.com/bissquit/incident-warden/internal/incidents"
)

// Store keeps all state behind one RWMutex. Values are copied on the
// way in and out so callers can never alias internal state.
type Store struct {
	mu          sync.RWMutex
	incidents   map[string]*domain.Incident
	events      map[string][]domain.IncidentEvent       // by incident id, append order
	escalations map[string][]domain.IncidentEscalation  // by incident id
	escKeys     map[string]bool                         // incident|policy|step uniqueness
	createOrder []string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		incidents:   make(map[string]*domain.Incident),
		events:      make(map[string][]domain.IncidentEvent),
		escalations: make(map[string][]domain.IncidentEscalation),
		escKeys:     make(map[string]bool),
	}
}

func cloneIncident(in *domain.Incident) *domain.Incident {
	out := *in
	out.ImpactedScopeIDs = append([]string(nil), in.ImpactedScopeIDs...)
	return &out
}

// AdmitOrCreate returns the service's open incident or creates a new
// one, atomically under the store lock.
func (s *Store) AdmitOrCreate(ctx context.Context, in incidents.AdmitInput) (*domain.Incident, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.createOrder {
		inc := s.incidents[id]
		if inc.ServiceID == in.ServiceID && inc.Status.IsOpen() {
			s.appendEventLocked(&domain.IncidentEvent{
				IncidentID: inc.ID,
				Type:       domain.EventTypeAlertReceived,
				Message:    in.AlertNote,
				Actor:      in.Actor,
			})
			return cloneIncident(inc), false, nil
		}
	}

	now := time.Now().UTC()
	inc := &domain.Incident{
		ID:               uuid.NewString(),
		Title:            in.Title,
		Description:      in.Description,
		ServiceID:        in.ServiceID,
		Severity:         in.Severity,
		Status:           domain.IncidentStatusTriggered,
		ImpactedScopeIDs: append([]string(nil), in.ImpactedScopeIDs...),
		DetectedAt:       in.DetectedAt,
		CreatedAt:        now,
	}
	s.incidents[inc.ID] = inc
	s.createOrder = append(s.createOrder, inc.ID)
	s.appendEventLocked(&domain.IncidentEvent{
		IncidentID: inc.ID,
		Type:       domain.EventTypeAlertReceived,
		Message:    in.AlertNote,
		Actor:      in.Actor,
	})

	return cloneIncident(inc), true, nil
}

// GetIncident returns one incident by id.
func (s *Store) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inc, ok := s.incidents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", incidents.ErrIncidentNotFound, id)
	}
	return cloneIncident(inc), nil
}

// ListIncidents returns incidents matching the filter, newest first.
func (s *Store) ListIncidents(ctx context.Context, f incidents.ListFilter) ([]domain.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Incident, 0, len(s.incidents))
	for i := len(s.createOrder) - 1; i >= 0; i-- {
		inc := s.incidents[s.createOrder[i]]
		if f.Status != "" && inc.Status != f.Status {
			continue
		}
		if f.Severity != "" && inc.Severity != f.Severity {
			continue
		}
		if f.ServiceID != "" && inc.ServiceID != f.ServiceID {
			continue
		}
		out = append(out, *cloneIncident(inc))
	}

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []domain.Incident{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

// ListOpenIncidents returns TRIGGERED and ACKNOWLEDGED incidents,
// oldest first.
func (s *Store) ListOpenIncidents(ctx context.Context) ([]domain.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Incident
	for _, id := range s.createOrder {
		inc := s.incidents[id]
		if inc.Status.IsOpen() {
			out = append(out, *cloneIncident(inc))
		}
	}
	return out, nil
}

// UpdateStatus applies a lifecycle transition under the store lock.
func (s *Store) UpdateStatus(ctx context.Context, id string, next domain.IncidentStatus, actor, note string) (*domain.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", incidents.ErrIncidentNotFound, id)
	}

	msg, err := incidents.ApplyTransition(inc, next, actor, note, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.appendEventLocked(&domain.IncidentEvent{
		IncidentID: inc.ID,
		Type:       domain.EventTypeStatusChange,
		Message:    msg,
		Actor:      actor,
	})

	return cloneIncident(inc), nil
}

// SetDocumentLink records the collaboration document URL, write-once.
func (s *Store) SetDocumentLink(ctx context.Context, id, link string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[id]
	if !ok {
		return fmt.Errorf("%w: %s", incidents.ErrIncidentNotFound, id)
	}
	if inc.DocumentLink != nil {
		return incidents.ErrLinkAlreadySet
	}
	inc.DocumentLink = &link
	return nil
}

// SetWarRoom records the war room link and channel id, write-once.
func (s *Store) SetWarRoom(ctx context.Context, id, link, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[id]
	if !ok {
		return fmt.Errorf("%w: %s", incidents.ErrIncidentNotFound, id)
	}
	if inc.WarRoomLink != nil {
		return incidents.ErrLinkAlreadySet
	}
	inc.WarRoomLink = &link
	inc.WarRoomID = &roomID
	return nil
}

// AppendEvent appends a timeline entry.
func (s *Store) AppendEvent(ctx context.Context, ev *domain.IncidentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.incidents[ev.IncidentID]; !ok {
		return fmt.Errorf("%w: %s", incidents.ErrIncidentNotFound, ev.IncidentID)
	}
	s.appendEventLocked(ev)
	return nil
}

// appendEventLocked fills generated fields and stores the entry. Caller
// must hold the write lock.
func (s *Store) appendEventLocked(ev *domain.IncidentEvent) {
	stored := *ev
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.events[stored.IncidentID] = append(s.events[stored.IncidentID], stored)
	ev.ID = stored.ID
	ev.CreatedAt = stored.CreatedAt
}

// ListEvents returns the incident's timeline in append order.
func (s *Store) ListEvents(ctx context.Context, incidentID string) ([]domain.IncidentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evs := s.events[incidentID]
	out := make([]domain.IncidentEvent, len(evs))
	copy(out, evs)
	return out, nil
}

// LatestEventTime returns when the newest event of the given type was
// appended, or nil.
func (s *Store) LatestEventTime(ctx context.Context, incidentID string, t domain.IncidentEventType) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evs := s.events[incidentID]
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Type == t {
			ts := evs[i].CreatedAt
			return &ts, nil
		}
	}
	return nil, nil
}

func escKey(incidentID, policyID string, stepOrder int) string {
	return fmt.Sprintf("%s|%s|%d", incidentID, policyID, stepOrder)
}

// RecordEscalation inserts a fired step row, enforcing per-step
// uniqueness.
func (s *Store) RecordEscalation(ctx context.Context, esc *domain.IncidentEscalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.incidents[esc.IncidentID]; !ok {
		return fmt.Errorf("%w: %s", incidents.ErrIncidentNotFound, esc.IncidentID)
	}

	key := escKey(esc.IncidentID, esc.PolicyID, esc.StepOrder)
	if s.escKeys[key] {
		return incidents.ErrEscalationExists
	}
	s.escKeys[key] = true

	stored := *esc
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.FiredAt.IsZero() {
		stored.FiredAt = time.Now().UTC()
	}
	s.escalations[stored.IncidentID] = append(s.escalations[stored.IncidentID], stored)
	esc.ID = stored.ID
	return nil
}

// ListEscalations returns fired steps for an incident, by step order.
func (s *Store) ListEscalations(ctx context.Context, incidentID string) ([]domain.IncidentEscalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	escs := s.escalations[incidentID]
	out := make([]domain.IncidentEscalation, len(escs))
	copy(out, escs)
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out, nil
}
