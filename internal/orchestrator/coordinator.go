// Package orchestrator runs the automated response to a freshly
// created incident: collaboration document, war room for severe
// incidents, and the initial notification broadcast. Steps are
// failure-isolated; losing one never blocks the others.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bissquit/incident-warden/internal/directory"
	"github.com/bissquit/incident-warden/internal/domain"
	"github.com/bissquit/incident-warden/internal/incidents"
	"github.com/bissquit/incident-warden/internal/notify"
)

// DocumentCreator provisions a collaboration document for an incident.
type DocumentCreator interface {
	CreateDocument(ctx context.Context, inc *domain.Incident, svc *domain.Service) (link string, err error)
}

// WarRoomCreator provisions a dedicated chat channel for an incident.
type WarRoomCreator interface {
	CreateWarRoom(ctx context.Context, inc *domain.Incident, name string, invitees []string) (link, roomID string, err error)
}

// Config contains coordinator configuration.
type Config struct {
	// StepTimeout bounds each orchestration step independently.
	StepTimeout time.Duration
	// RunTimeout bounds the whole orchestration run.
	RunTimeout time.Duration
}

// DefaultConfig returns default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		StepTimeout: 15 * time.Second,
		RunTimeout:  2 * time.Minute,
	}
}

// Coordinator executes the response steps for new incidents. Document
// and war room creators are optional; a nil creator skips its step.
type Coordinator struct {
	config Config
	store  incidents.Store
	dir    directory.Directory
	router *notify.Router
	docs   DocumentCreator
	rooms  WarRoomCreator

	wg sync.WaitGroup
}

// NewCoordinator creates a new coordinator.
func NewCoordinator(config Config, store incidents.Store, dir directory.Directory, router *notify.Router, docs DocumentCreator, rooms WarRoomCreator) *Coordinator {
	return &Coordinator{
		config: config,
		store:  store,
		dir:    dir,
		router: router,
		docs:   docs,
		rooms:  rooms,
	}
}

// Dispatch starts the orchestration run in the background. Intended to
// hang off the incident service's creation hook, so the admitting HTTP
// request never waits on external collaboration tools.
func (c *Coordinator) Dispatch(inc *domain.Incident) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.config.RunTimeout)
		defer cancel()
		c.Run(ctx, inc)
	}()
}

// Wait blocks until all in-flight orchestration runs finish. Called on
// shutdown.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Run executes all orchestration steps for one incident synchronously.
func (c *Coordinator) Run(ctx context.Context, inc *domain.Incident) {
	start := time.Now()
	log := slog.With("incident_id", inc.ID, "short_id", inc.ShortID())
	log.Info("orchestration started", "severity", inc.Severity)

	svc, err := c.dir.ServiceByID(inc.ServiceID)
	if err != nil {
		log.Error("orchestration aborted: unresolvable service", "error", err)
		recordRun("aborted")
		return
	}

	var failed []string

	if err := c.createDocument(ctx, inc, svc); err != nil {
		log.Error("document step failed", "error", err)
		recordStepFailure("document")
		failed = append(failed, "document")
		c.appendEvent(ctx, inc.ID, domain.EventTypeDocumentCreated,
			fmt.Sprintf("incident document creation failed: %v", err))
	}

	if err := c.createWarRoom(ctx, inc, svc); err != nil {
		log.Error("war room step failed", "error", err)
		recordStepFailure("war_room")
		failed = append(failed, "war_room")
		c.appendEvent(ctx, inc.ID, domain.EventTypeWarRoomCreated,
			fmt.Sprintf("war room creation failed: %v", err))
	}

	if err := c.broadcast(ctx, inc); err != nil {
		log.Error("broadcast step failed", "error", err)
		recordStepFailure("broadcast")
		failed = append(failed, "broadcast")
		c.appendEvent(ctx, inc.ID, domain.EventTypeNotificationFailed,
			fmt.Sprintf("notification broadcast failed: %v", err))
	}

	msg := "incident response orchestration completed"
	if len(failed) > 0 {
		msg = fmt.Sprintf("incident response orchestration completed, failed steps: %s", strings.Join(failed, ", "))
	}
	c.appendEvent(ctx, inc.ID, domain.EventTypeNote, msg)

	outcome := "ok"
	if len(failed) > 0 {
		outcome = "partial"
	}
	recordRun(outcome)
	recordRunDuration(time.Since(start))
	log.Info("orchestration finished", "failed_steps", len(failed))
}

// createDocument provisions the incident document and records its
// link, refreshing the in-memory incident so later steps can embed it.
func (c *Coordinator) createDocument(ctx context.Context, inc *domain.Incident, svc *domain.Service) error {
	if c.docs == nil {
		return nil
	}

	stepCtx, cancel := context.WithTimeout(ctx, c.config.StepTimeout)
	defer cancel()

	link, err := c.docs.CreateDocument(stepCtx, inc, svc)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}

	if err := c.store.SetDocumentLink(ctx, inc.ID, link); err != nil {
		if errors.Is(err, incidents.ErrLinkAlreadySet) {
			slog.Debug("document link already set", "incident_id", inc.ID)
			return nil
		}
		return fmt.Errorf("persist document link: %w", err)
	}
	inc.DocumentLink = &link

	c.appendEvent(ctx, inc.ID, domain.EventTypeDocumentCreated, "incident document created: "+link)
	return nil
}

// createWarRoom provisions a chat channel for critical and high
// severity incidents and invites the initial responders.
func (c *Coordinator) createWarRoom(ctx context.Context, inc *domain.Incident, svc *domain.Service) error {
	if c.rooms == nil || !inc.Severity.NeedsWarRoom() {
		return nil
	}

	stepCtx, cancel := context.WithTimeout(ctx, c.config.StepTimeout)
	defer cancel()

	name := strings.ToLower(inc.ShortID())
	link, roomID, err := c.rooms.CreateWarRoom(stepCtx, inc, name, c.warRoomInvitees(inc, svc))
	if err != nil {
		return fmt.Errorf("create war room: %w", err)
	}

	if err := c.store.SetWarRoom(ctx, inc.ID, link, roomID); err != nil {
		if errors.Is(err, incidents.ErrLinkAlreadySet) {
			slog.Debug("war room already set", "incident_id", inc.ID)
			return nil
		}
		return fmt.Errorf("persist war room: %w", err)
	}
	inc.WarRoomLink = &link
	inc.WarRoomID = &roomID

	c.appendEvent(ctx, inc.ID, domain.EventTypeWarRoomCreated, "war room created: "+link)
	return nil
}

// warRoomInvitees collects the initial responder set: the incident
// lead if any, the team on-call, and mandatory scope contacts.
func (c *Coordinator) warRoomInvitees(inc *domain.Incident, svc *domain.Service) []string {
	seen := make(map[string]bool)
	var invitees []string
	add := func(addr string) {
		if addr == "" || seen[addr] {
			return
		}
		seen[addr] = true
		invitees = append(invitees, addr)
	}

	if inc.Lead != nil {
		add(*inc.Lead)
	}
	if team, err := c.dir.TeamOf(svc); err == nil {
		if oc := c.dir.OnCallOf(team, domain.ChannelTypeEmail); oc != nil {
			add(oc.Address)
		}
	}
	for _, scope := range c.dir.ScopesByIDs(inc.ImpactedScopeIDs) {
		if scope.Active {
			add(scope.MandatoryNotifyEmail)
		}
	}
	return invitees
}

// broadcast sends the initial notification fan-out and records the
// outcome on the timeline.
func (c *Coordinator) broadcast(ctx context.Context, inc *domain.Incident) error {
	report, err := c.router.Broadcast(ctx, inc)
	if err != nil {
		return err
	}

	if len(report.Sent) > 0 {
		c.appendEvent(ctx, inc.ID, domain.EventTypeNotificationSent,
			fmt.Sprintf("notified %d recipients", len(report.Sent)))
	}
	for _, f := range report.Failed {
		c.appendEvent(ctx, inc.ID, domain.EventTypeNotificationFailed,
			fmt.Sprintf("delivery to %s (%s) failed: %v", f.Target.Label, f.Target.Channel, f.Err))
	}
	return nil
}

func (c *Coordinator) appendEvent(ctx context.Context, incidentID string, t domain.IncidentEventType, msg string) {
	ev := &domain.IncidentEvent{
		IncidentID: incidentID,
		Type:       t,
		Message:    msg,
		Actor:      "coordinator",
	}
	if err := c.store.AppendEvent(ctx, ev); err != nil {
		slog.Error("append orchestration event",
			"incident_id", incidentID,
			"type", t,
			"error", err,
		)
	}
}
