package incidents

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bissquit/incident-warden/internal/directory"
	"github.com/bissquit/incident-warden/internal/domain"
	"github.com/bissquit/incident-warden/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrIncidentNotFound, Status: http.StatusNotFound, Message: "incident not found"},
	{Error: directory.ErrServiceNotFound, Status: http.StatusBadRequest, Message: "unknown service"},
	{Error: ErrOpenIncidentExists, Status: http.StatusConflict, Message: "service already has an open incident"},
	{Error: ErrInvalidTransition, Status: http.StatusConflict},
	{Error: ErrResolutionNoteRequired, Status: http.StatusBadRequest, Message: "resolution note is required"},
}

// Handler handles HTTP requests for the incidents module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new incidents handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers alert intake and incident lifecycle routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/alerts", h.AdmitAlert)

	r.Route("/incidents", func(r chi.Router) {
		r.Post("/", h.CreateIncident)
		r.Get("/", h.ListIncidents)
		r.Get("/{id}", h.GetIncident)
		r.Post("/{id}/acknowledge", h.Acknowledge)
		r.Post("/{id}/mitigate", h.Mitigate)
		r.Post("/{id}/resolve", h.Resolve)
		r.Get("/{id}/events", h.ListEvents)
		r.Get("/{id}/escalations", h.ListEscalations)
		r.Get("/{id}/metrics", h.IncidentMetrics)
	})
}

// AdmitAlertRequest represents an alert from a monitoring source.
type AdmitAlertRequest struct {
	Service     string     `json:"service" validate:"required"`
	Title       string     `json:"title" validate:"required,max=500"`
	Description string     `json:"description"`
	Severity    string     `json:"severity" validate:"required,oneof=CRITICAL HIGH MEDIUM LOW"`
	DetectedAt  *time.Time `json:"detected_at"`
	Source      string     `json:"source"`
	ScopeIDs    []string   `json:"scope_ids"`
}

// CreateIncidentRequest represents a manual incident creation request.
type CreateIncidentRequest struct {
	ServiceID   string   `json:"service_id" validate:"required"`
	Title       string   `json:"title" validate:"required,max=500"`
	Description string   `json:"description"`
	Severity    string   `json:"severity" validate:"required,oneof=CRITICAL HIGH MEDIUM LOW"`
	ScopeIDs    []string `json:"scope_ids"`
	Actor       string   `json:"actor" validate:"required"`
}

// ActorRequest carries the acting user for lifecycle transitions.
type ActorRequest struct {
	Actor string `json:"actor" validate:"required"`
	Note  string `json:"note"`
}

// admitAlertResponse wraps the incident with the dedup outcome.
type admitAlertResponse struct {
	Incident     *domain.Incident `json:"incident"`
	Deduplicated bool             `json:"deduplicated"`
}

// AdmitAlert handles POST /alerts.
func (h *Handler) AdmitAlert(w http.ResponseWriter, r *http.Request) {
	var req AdmitAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	in := AlertInput{
		ServiceName: req.Service,
		Title:       req.Title,
		Description: req.Description,
		Severity:    domain.IncidentSeverity(req.Severity),
		Source:      req.Source,
		ScopeIDs:    req.ScopeIDs,
	}
	if req.DetectedAt != nil {
		in.DetectedAt = *req.DetectedAt
	}

	inc, created, err := h.service.AdmitAlert(r.Context(), in)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	httputil.Success(w, status, admitAlertResponse{Incident: inc, Deduplicated: !created})
}

// CreateIncident handles POST /incidents.
func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	inc, err := h.service.CreateIncident(r.Context(), CreateInput{
		ServiceID:   req.ServiceID,
		Title:       req.Title,
		Description: req.Description,
		Severity:    domain.IncidentSeverity(req.Severity),
		ScopeIDs:    req.ScopeIDs,
	}, req.Actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, inc)
}

// ListIncidents handles GET /incidents.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	f := ListFilter{
		Status:    domain.IncidentStatus(r.URL.Query().Get("status")),
		Severity:  domain.IncidentSeverity(r.URL.Query().Get("severity")),
		ServiceID: r.URL.Query().Get("service_id"),
	}
	if f.Status != "" && !f.Status.IsValid() {
		httputil.Error(w, http.StatusBadRequest, "invalid status filter")
		return
	}
	if f.Severity != "" && !f.Severity.IsValid() {
		httputil.Error(w, http.StatusBadRequest, "invalid severity filter")
		return
	}

	list, err := h.service.ListIncidents(r.Context(), f)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, list)
}

// GetIncident handles GET /incidents/{id}.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.service.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, inc)
}

func (h *Handler) decodeActor(w http.ResponseWriter, r *http.Request) (*ActorRequest, bool) {
	var req ActorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return nil, false
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return nil, false
	}
	return &req, true
}

// Acknowledge handles POST /incidents/{id}/acknowledge.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeActor(w, r)
	if !ok {
		return
	}

	inc, err := h.service.Acknowledge(r.Context(), chi.URLParam(r, "id"), req.Actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, inc)
}

// Mitigate handles POST /incidents/{id}/mitigate.
func (h *Handler) Mitigate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeActor(w, r)
	if !ok {
		return
	}

	inc, err := h.service.Mitigate(r.Context(), chi.URLParam(r, "id"), req.Actor, req.Note)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, inc)
}

// Resolve handles POST /incidents/{id}/resolve.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeActor(w, r)
	if !ok {
		return
	}

	inc, err := h.service.Resolve(r.Context(), chi.URLParam(r, "id"), req.Actor, req.Note)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, inc)
}

// ListEvents handles GET /incidents/{id}/events.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.ListEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, events)
}

// ListEscalations handles GET /incidents/{id}/escalations.
func (h *Handler) ListEscalations(w http.ResponseWriter, r *http.Request) {
	escs, err := h.service.ListEscalations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, escs)
}

// IncidentMetrics handles GET /incidents/{id}/metrics.
func (h *Handler) IncidentMetrics(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.IncidentMetrics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, report)
}
