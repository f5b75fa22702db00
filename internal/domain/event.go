package domain

import "time"

// IncidentEventType represents the type of a timeline entry.
type IncidentEventType string

// Timeline entry types.
const (
	EventTypeStatusChange       IncidentEventType = "STATUS_CHANGE"
	EventTypeAlertReceived      IncidentEventType = "ALERT_RECEIVED"
	EventTypeNotificationSent   IncidentEventType = "NOTIFICATION_SENT"
	EventTypeNotificationFailed IncidentEventType = "NOTIFICATION_FAILED"
	EventTypeEscalationFired    IncidentEventType = "ESCALATION_FIRED"
	EventTypeDocumentCreated    IncidentEventType = "DOCUMENT_CREATED"
	EventTypeWarRoomCreated     IncidentEventType = "WAR_ROOM_CREATED"
	EventTypeReminder           IncidentEventType = "REMINDER"
	EventTypeNote               IncidentEventType = "NOTE"
)

// IncidentEvent is an append-only timeline entry owned by its incident.
// Entries are never mutated or deleted; ordering within an incident is
// the append order.
type IncidentEvent struct {
	ID         string            `json:"id"`
	IncidentID string            `json:"incident_id"`
	Type       IncidentEventType `json:"type"`
	Message    string            `json:"message"`
	Actor      string            `json:"actor,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
