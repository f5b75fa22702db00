// Package postgres provides the PostgreSQL implementation of the
// incidents store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/incident-warden/internal/domain"
	"github.com/bissquit/incident-warden/internal/incidents"
)

// querier is an interface for database operations that both *pgxpool.Pool and pgx.Tx implement.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const incidentColumns = `
	id, title, description, service_id, severity, status, lead,
	impacted_scope_ids, document_link, war_room_link, war_room_id,
	detected_at, created_at, acknowledged_at, resolved_at
`

// Store implements incidents.Store using PostgreSQL. A partial unique
// index on (service_id) over open statuses backs the one-open-incident
// invariant even if callers race past the service-level lock.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a new PostgreSQL store.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var inc domain.Incident
	err := row.Scan(
		&inc.ID,
		&inc.Title,
		&inc.Description,
		&inc.ServiceID,
		&inc.Severity,
		&inc.Status,
		&inc.Lead,
		&inc.ImpactedScopeIDs,
		&inc.DocumentLink,
		&inc.WarRoomLink,
		&inc.WarRoomID,
		&inc.DetectedAt,
		&inc.CreatedAt,
		&inc.AcknowledgedAt,
		&inc.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// AdmitOrCreate returns the service's open incident or creates a new
// one. The open-incident lookup and the insert run in one transaction
// with the existing row locked, so two concurrent alerts cannot both
// create.
func (s *Store) AdmitOrCreate(ctx context.Context, in incidents.AdmitInput) (*domain.Incident, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin admit tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	openQuery := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE service_id = $1 AND status IN ('TRIGGERED', 'ACKNOWLEDGED')
		FOR UPDATE
	`
	inc, err := scanIncident(tx.QueryRow(ctx, openQuery, in.ServiceID))
	switch {
	case err == nil:
		if err := appendEvent(ctx, tx, &domain.IncidentEvent{
			IncidentID: inc.ID,
			Type:       domain.EventTypeAlertReceived,
			Message:    in.AlertNote,
			Actor:      in.Actor,
		}); err != nil {
			return nil, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("commit admit tx: %w", err)
		}
		return inc, false, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, false, fmt.Errorf("find open incident: %w", err)
	}

	insertQuery := `
		INSERT INTO incidents (
			title, description, service_id, severity, status,
			impacted_scope_ids, detected_at
		) VALUES ($1, $2, $3, $4, 'TRIGGERED', $5, $6)
		ON CONFLICT DO NOTHING
		RETURNING ` + incidentColumns
	inc, err = scanIncident(tx.QueryRow(ctx, insertQuery,
		in.Title,
		in.Description,
		in.ServiceID,
		in.Severity,
		in.ImpactedScopeIDs,
		in.DetectedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race against a concurrent admit on another
			// connection. Re-read the winner's row.
			inc, err = scanIncident(tx.QueryRow(ctx, openQuery, in.ServiceID))
			if err != nil {
				return nil, false, fmt.Errorf("re-read open incident: %w", err)
			}
			if err := appendEvent(ctx, tx, &domain.IncidentEvent{
				IncidentID: inc.ID,
				Type:       domain.EventTypeAlertReceived,
				Message:    in.AlertNote,
				Actor:      in.Actor,
			}); err != nil {
				return nil, false, err
			}
			if err := tx.Commit(ctx); err != nil {
				return nil, false, fmt.Errorf("commit admit tx: %w", err)
			}
			return inc, false, nil
		}
		return nil, false, fmt.Errorf("create incident: %w", err)
	}

	if err := appendEvent(ctx, tx, &domain.IncidentEvent{
		IncidentID: inc.ID,
		Type:       domain.EventTypeAlertReceived,
		Message:    in.AlertNote,
		Actor:      in.Actor,
	}); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit admit tx: %w", err)
	}
	return inc, true, nil
}

// GetIncident retrieves one incident by id.
func (s *Store) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	inc, err := scanIncident(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", incidents.ErrIncidentNotFound, id)
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// ListIncidents retrieves incidents with optional filters, newest first.
func (s *Store) ListIncidents(ctx context.Context, f incidents.ListFilter) ([]domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	args := []any{}
	argNum := 1

	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, f.Status)
		argNum++
	}
	if f.Severity != "" {
		query += fmt.Sprintf(" AND severity = $%d", argNum)
		args = append(args, f.Severity)
		argNum++
	}
	if f.ServiceID != "" {
		query += fmt.Sprintf(" AND service_id = $%d", argNum)
		args = append(args, f.ServiceID)
		argNum++
	}

	query += " ORDER BY created_at DESC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, f.Limit)
		argNum++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, f.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	return collectIncidents(rows)
}

// ListOpenIncidents returns TRIGGERED and ACKNOWLEDGED incidents,
// oldest first.
func (s *Store) ListOpenIncidents(ctx context.Context) ([]domain.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE status IN ('TRIGGERED', 'ACKNOWLEDGED')
		ORDER BY created_at ASC
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list open incidents: %w", err)
	}
	defer rows.Close()

	return collectIncidents(rows)
}

func collectIncidents(rows pgx.Rows) ([]domain.Incident, error) {
	out := make([]domain.Incident, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, *inc)
	}
	return out, rows.Err()
}

// UpdateStatus applies a lifecycle transition with the row locked.
func (s *Store) UpdateStatus(ctx context.Context, id string, next domain.IncidentStatus, actor, note string) (*domain.Incident, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin status tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1 FOR UPDATE`
	inc, err := scanIncident(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", incidents.ErrIncidentNotFound, id)
		}
		return nil, fmt.Errorf("lock incident: %w", err)
	}

	msg, err := incidents.ApplyTransition(inc, next, actor, note, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	updateQuery := `
		UPDATE incidents
		SET status = $2, lead = $3, acknowledged_at = $4, resolved_at = $5
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, updateQuery,
		inc.ID, inc.Status, inc.Lead, inc.AcknowledgedAt, inc.ResolvedAt,
	); err != nil {
		return nil, fmt.Errorf("update incident status: %w", err)
	}

	if err := appendEvent(ctx, tx, &domain.IncidentEvent{
		IncidentID: inc.ID,
		Type:       domain.EventTypeStatusChange,
		Message:    msg,
		Actor:      actor,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit status tx: %w", err)
	}
	return inc, nil
}

// SetDocumentLink records the collaboration document URL, write-once.
func (s *Store) SetDocumentLink(ctx context.Context, id, link string) error {
	query := `UPDATE incidents SET document_link = $2 WHERE id = $1 AND document_link IS NULL`
	return s.setWriteOnce(ctx, id, query, id, link)
}

// SetWarRoom records the war room link and channel id, write-once.
func (s *Store) SetWarRoom(ctx context.Context, id, link, roomID string) error {
	query := `
		UPDATE incidents
		SET war_room_link = $2, war_room_id = $3
		WHERE id = $1 AND war_room_link IS NULL
	`
	return s.setWriteOnce(ctx, id, query, id, link, roomID)
}

func (s *Store) setWriteOnce(ctx context.Context, id, query string, args ...any) error {
	result, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set automation link: %w", err)
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM incidents WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check incident exists: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", incidents.ErrIncidentNotFound, id)
		}
		return incidents.ErrLinkAlreadySet
	}
	return nil
}

// AppendEvent appends a timeline entry.
func (s *Store) AppendEvent(ctx context.Context, ev *domain.IncidentEvent) error {
	return appendEvent(ctx, s.db, ev)
}

// appendEvent is a helper that works with both pool and transaction.
func appendEvent(ctx context.Context, q querier, ev *domain.IncidentEvent) error {
	query := `
		INSERT INTO incident_events (incident_id, type, message, actor)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := q.QueryRow(ctx, query,
		ev.IncidentID, ev.Type, ev.Message, ev.Actor,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append incident event: %w", err)
	}
	return nil
}

// ListEvents returns the incident's timeline in append order.
func (s *Store) ListEvents(ctx context.Context, incidentID string) ([]domain.IncidentEvent, error) {
	query := `
		SELECT id, incident_id, type, message, actor, created_at
		FROM incident_events
		WHERE incident_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list incident events: %w", err)
	}
	defer rows.Close()

	out := make([]domain.IncidentEvent, 0)
	for rows.Next() {
		var ev domain.IncidentEvent
		if err := rows.Scan(
			&ev.ID, &ev.IncidentID, &ev.Type, &ev.Message, &ev.Actor, &ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan incident event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// LatestEventTime returns when the newest event of the given type was
// appended, or nil.
func (s *Store) LatestEventTime(ctx context.Context, incidentID string, t domain.IncidentEventType) (*time.Time, error) {
	query := `
		SELECT created_at
		FROM incident_events
		WHERE incident_id = $1 AND type = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	var ts time.Time
	err := s.db.QueryRow(ctx, query, incidentID, t).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest event time: %w", err)
	}
	return &ts, nil
}

// RecordEscalation inserts a fired step row. The unique constraint on
// (incident_id, policy_id, step_order) makes each step fire at most
// once across engine restarts and replicas.
func (s *Store) RecordEscalation(ctx context.Context, esc *domain.IncidentEscalation) error {
	query := `
		INSERT INTO incident_escalations (incident_id, policy_id, step_order, fired_at, delivered, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (incident_id, policy_id, step_order) DO NOTHING
		RETURNING id
	`
	firedAt := esc.FiredAt
	if firedAt.IsZero() {
		firedAt = time.Now().UTC()
	}
	err := s.db.QueryRow(ctx, query,
		esc.IncidentID, esc.PolicyID, esc.StepOrder, firedAt, esc.Delivered, esc.Note,
	).Scan(&esc.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return incidents.ErrEscalationExists
		}
		return fmt.Errorf("record escalation: %w", err)
	}
	esc.FiredAt = firedAt
	return nil
}

// ListEscalations returns fired steps for an incident, by step order.
func (s *Store) ListEscalations(ctx context.Context, incidentID string) ([]domain.IncidentEscalation, error) {
	query := `
		SELECT id, incident_id, policy_id, step_order, fired_at, delivered, note
		FROM incident_escalations
		WHERE incident_id = $1
		ORDER BY step_order ASC
	`
	rows, err := s.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()

	out := make([]domain.IncidentEscalation, 0)
	for rows.Next() {
		var esc domain.IncidentEscalation
		if err := rows.Scan(
			&esc.ID, &esc.IncidentID, &esc.PolicyID, &esc.StepOrder,
			&esc.FiredAt, &esc.Delivered, &esc.Note,
		); err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		out = append(out, esc)
	}
	return out, rows.Err()
}
