// Package escalation drives timed escalation chains over open
// incidents. The engine is a polling worker: each sweep compares every
// open incident's age against its escalation policy and fires the steps
// that have come due, each step at most once.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/incident-warden/internal/directory"
	"github.com/bissquit/incident-warden/internal/domain"
	"github.com/bissquit/incident-warden/internal/incidents"
	"github.com/bissquit/incident-warden/internal/notify"
)

// Config contains engine configuration.
type Config struct {
	SweepInterval time.Duration
	// HaltOnAcknowledged stops the escalation chain once a human has
	// acknowledged the incident. Reminders always stop.
	HaltOnAcknowledged bool
	// ReminderAfter is how long an incident may sit in TRIGGERED before
	// unacknowledged reminders start.
	ReminderAfter time.Duration
	// ReminderEvery is the minimum gap between consecutive reminders.
	ReminderEvery time.Duration
	// IncidentTimeout bounds the processing of a single incident so one
	// slow send cannot stall the whole sweep.
	IncidentTimeout time.Duration
}

// DefaultConfig returns default engine configuration.
func DefaultConfig() Config {
	return Config{
		SweepInterval:      30 * time.Second,
		HaltOnAcknowledged: true,
		ReminderAfter:      10 * time.Minute,
		ReminderEvery:      15 * time.Minute,
		IncidentTimeout:    30 * time.Second,
	}
}

// Engine sweeps open incidents and fires due escalation steps.
type Engine struct {
	config     Config
	store      incidents.Store
	dir        directory.Directory
	dispatcher *notify.Dispatcher

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine creates a new escalation engine.
func NewEngine(config Config, store incidents.Store, dir directory.Directory, dispatcher *notify.Dispatcher) *Engine {
	return &Engine{
		config:     config,
		store:      store,
		dir:        dir,
		dispatcher: dispatcher,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (e *Engine) Start(ctx context.Context) {
	slog.Info("starting escalation engine",
		"sweep_interval", e.config.SweepInterval,
		"halt_on_acknowledged", e.config.HaltOnAcknowledged,
	)

	e.wg.Add(1)
	go e.run(ctx)
}

// Stop gracefully stops the engine.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	slog.Info("escalation engine stopped")
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.SweepOnce(ctx, time.Now().UTC())
		}
	}
}

// SweepOnce runs one full pass over all open incidents. now is the
// reference time steps are measured against.
func (e *Engine) SweepOnce(ctx context.Context, now time.Time) {
	start := time.Now()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	open, err := e.store.ListOpenIncidents(ctx)
	if err != nil {
		slog.Error("escalation sweep: list open incidents", "error", err)
		return
	}

	for i := range open {
		inc := &open[i]
		incCtx, cancel := context.WithTimeout(ctx, e.config.IncidentTimeout)
		e.processIncident(incCtx, inc, now)
		cancel()
	}
}

// processIncident fires due steps and reminders for one incident.
// Failures are logged, never propagated: one broken incident must not
// stop the sweep.
func (e *Engine) processIncident(ctx context.Context, inc *domain.Incident, now time.Time) {
	if e.shouldEscalate(inc) {
		if err := e.escalate(ctx, inc, now); err != nil {
			slog.Error("escalation failed", "incident_id", inc.ID, "error", err)
		}
	}

	if inc.Status == domain.IncidentStatusTriggered {
		if err := e.remind(ctx, inc, now); err != nil {
			slog.Error("reminder failed", "incident_id", inc.ID, "error", err)
		}
	}
}

func (e *Engine) shouldEscalate(inc *domain.Incident) bool {
	switch inc.Status {
	case domain.IncidentStatusTriggered:
		return true
	case domain.IncidentStatusAcknowledged:
		return !e.config.HaltOnAcknowledged
	}
	return false
}

func (e *Engine) escalate(ctx context.Context, inc *domain.Incident, now time.Time) error {
	svc, err := e.dir.ServiceByID(inc.ServiceID)
	if err != nil {
		return err
	}
	policy := e.dir.PolicyFor(svc.TeamID, inc.Severity)
	if policy == nil {
		return nil
	}

	fired, err := e.firedSteps(ctx, inc.ID, policy.ID)
	if err != nil {
		return err
	}

	steps := append([]domain.EscalationStep(nil), policy.Steps...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	elapsed := now.Sub(inc.CreatedAt)
	for _, step := range steps {
		if fired[step.Order] {
			continue
		}
		if elapsed < time.Duration(step.DelayMinutes)*time.Minute {
			continue
		}
		e.fireStep(ctx, inc, svc, policy, step)
	}
	return nil
}

func (e *Engine) firedSteps(ctx context.Context, incidentID, policyID string) (map[int]bool, error) {
	escs, err := e.store.ListEscalations(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list fired steps: %w", err)
	}
	fired := make(map[int]bool, len(escs))
	for _, esc := range escs {
		if esc.PolicyID == policyID {
			fired[esc.StepOrder] = true
		}
	}
	return fired, nil
}

// fireStep sends a step's notification and records the firing. The
// record is written whether or not delivery succeeded so a broken
// target does not page again on every sweep; the unique step
// constraint in the store absorbs races with other engine instances.
func (e *Engine) fireStep(ctx context.Context, inc *domain.Incident, svc *domain.Service, policy *domain.EscalationPolicy, step domain.EscalationStep) {
	targets := e.resolveTargets(svc, step)

	var delivered bool
	var note string
	var report *notify.DispatchReport
	if len(targets) == 0 {
		note = "no resolvable targets"
		slog.Warn("escalation step has no targets",
			"incident_id", inc.ID,
			"policy_id", policy.ID,
			"step", step.Order,
		)
	} else {
		subject, body := notify.BuildMessage(inc, svc)
		report = e.dispatcher.Broadcast(ctx, targets, "[ESCALATION] "+subject, body)
		delivered = len(report.Sent) > 0
		note = fmt.Sprintf("delivered to %d of %d targets", len(report.Sent), len(targets))
	}

	err := e.store.RecordEscalation(ctx, &domain.IncidentEscalation{
		IncidentID: inc.ID,
		PolicyID:   policy.ID,
		StepOrder:  step.Order,
		Delivered:  delivered,
		Note:       note,
	})
	if err != nil {
		if errors.Is(err, incidents.ErrEscalationExists) {
			slog.Debug("escalation step already recorded",
				"incident_id", inc.ID,
				"step", step.Order,
			)
			return
		}
		slog.Error("record escalation", "incident_id", inc.ID, "error", err)
		return
	}

	recordStepFired(delivered)

	e.appendEvent(ctx, inc.ID, domain.EventTypeEscalationFired,
		fmt.Sprintf("escalation step %d fired: %s", step.Order, note))

	// Delivery outcomes go on the timeline only after this instance won
	// the escalation record, so a lost race never duplicates them.
	if report != nil {
		if len(report.Sent) > 0 {
			e.appendEvent(ctx, inc.ID, domain.EventTypeNotificationSent,
				fmt.Sprintf("escalation step %d notified %d recipients", step.Order, len(report.Sent)))
		}
		for _, f := range report.Failed {
			e.appendEvent(ctx, inc.ID, domain.EventTypeNotificationFailed,
				fmt.Sprintf("escalation delivery to %s (%s) failed: %v", f.Target.Label, f.Target.Channel, f.Err))
		}
	}

	slog.Info("escalation step fired",
		"incident_id", inc.ID,
		"policy_id", policy.ID,
		"step", step.Order,
		"delivered", delivered,
	)
}

func (e *Engine) appendEvent(ctx context.Context, incidentID string, t domain.IncidentEventType, msg string) {
	ev := &domain.IncidentEvent{
		IncidentID: incidentID,
		Type:       t,
		Message:    msg,
		Actor:      "escalation-engine",
	}
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		slog.Error("append escalation event",
			"incident_id", incidentID,
			"type", t,
			"error", err,
		)
	}
}

// resolveTargets turns a step's target spec into concrete recipients.
func (e *Engine) resolveTargets(svc *domain.Service, step domain.EscalationStep) []domain.RecipientTarget {
	team, err := e.dir.TeamOf(svc)
	if err != nil {
		return nil
	}

	switch step.TargetType {
	case domain.TargetOnCall:
		if oc := e.dir.OnCallOf(team, step.Channel); oc != nil {
			return []domain.RecipientTarget{*oc}
		}
		return nil

	case domain.TargetTeam:
		if step.Channel == domain.ChannelTypeEmail {
			targets := make([]domain.RecipientTarget, 0, len(team.MemberEmails))
			for _, addr := range team.MemberEmails {
				targets = append(targets, domain.RecipientTarget{
					Channel: domain.ChannelTypeEmail,
					Address: addr,
					Label:   team.Name,
				})
			}
			return targets
		}
		if team.ChannelTarget != "" && team.ChannelType == step.Channel {
			return []domain.RecipientTarget{{
				Channel: team.ChannelType,
				Address: team.ChannelTarget,
				Label:   team.Name,
			}}
		}
		return nil

	case domain.TargetUser, domain.TargetEmail:
		if step.TargetRef == "" {
			return nil
		}
		return []domain.RecipientTarget{{
			Channel: step.Channel,
			Address: step.TargetRef,
		}}
	}
	return nil
}

// remind nags the on-call about incidents nobody has acknowledged.
func (e *Engine) remind(ctx context.Context, inc *domain.Incident, now time.Time) error {
	if e.config.ReminderAfter <= 0 {
		return nil
	}
	if now.Sub(inc.CreatedAt) < e.config.ReminderAfter {
		return nil
	}

	last, err := e.store.LatestEventTime(ctx, inc.ID, domain.EventTypeReminder)
	if err != nil {
		return err
	}
	if last != nil && now.Sub(*last) < e.config.ReminderEvery {
		return nil
	}

	svc, err := e.dir.ServiceByID(inc.ServiceID)
	if err != nil {
		return err
	}
	team, err := e.dir.TeamOf(svc)
	if err != nil {
		return err
	}

	var targets []domain.RecipientTarget
	if oc := e.dir.OnCallOf(team, domain.ChannelTypeEmail); oc != nil {
		targets = append(targets, *oc)
	}
	if team.ChannelTarget != "" {
		targets = append(targets, domain.RecipientTarget{
			Channel: team.ChannelType,
			Address: team.ChannelTarget,
			Label:   team.Name,
		})
	}
	if len(targets) == 0 {
		return nil
	}

	subject, body := notify.BuildMessage(inc, svc)
	e.dispatcher.Broadcast(ctx, targets, "[REMINDER] unacknowledged: "+subject, body)

	ev := &domain.IncidentEvent{
		IncidentID: inc.ID,
		Type:       domain.EventTypeReminder,
		Message:    fmt.Sprintf("unacknowledged for %s, reminder sent", now.Sub(inc.CreatedAt).Round(time.Minute)),
		Actor:      "escalation-engine",
	}
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("append reminder event: %w", err)
	}

	remindersSent.Inc()
	slog.Info("unacknowledged reminder sent", "incident_id", inc.ID)
	return nil
}
