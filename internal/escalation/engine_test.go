package escalation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/incident-warden/internal/directory"
	"github.com/bissquit/incident-warden/internal/domain"
	"github.com/bissquit/incident-warden/internal/incidents"
	"github.com/bissquit/incident-warden/internal/incidents/memstore"
	"github.com/bissquit/incident-warden/internal/notify"
)

type capturingSender struct {
	channel domain.ChannelType
	sent    []notify.Notification
	err     error
}

func (c *capturingSender) Send(_ context.Context, n notify.Notification) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, n)
	return nil
}

func (c *capturingSender) Type() domain.ChannelType { return c.channel }

func (c *capturingSender) subjects() []string {
	out := make([]string, 0, len(c.sent))
	for _, n := range c.sent {
		out = append(out, n.Subject)
	}
	return out
}

func engineFixture(t *testing.T, cfg Config) (*Engine, *memstore.Store, *capturingSender) {
	t.Helper()

	dir := directory.New(
		[]domain.Service{{ID: "svc-1", Name: "checkout", TeamID: "team-1"}},
		[]domain.Team{{
			ID:           "team-1",
			Name:         "Payments",
			OnCallName:   "Dana",
			OnCallEmail:  "dana@example.com",
			MemberEmails: []string{"payments-team@example.com"},
		}},
		nil,
		[]domain.EscalationPolicy{{
			ID:     "p-default",
			TeamID: "team-1",
			Steps: []domain.EscalationStep{
				{Order: 1, DelayMinutes: 5, Channel: domain.ChannelTypeEmail, TargetType: domain.TargetOnCall},
				{Order: 2, DelayMinutes: 15, Channel: domain.ChannelTypeEmail, TargetType: domain.TargetTeam},
			},
		}},
	)

	store := memstore.New()
	email := &capturingSender{channel: domain.ChannelTypeEmail}
	engine := NewEngine(cfg, store, dir, notify.NewDispatcher(email))
	return engine, store, email
}

func openIncident(t *testing.T, store *memstore.Store, severity domain.IncidentSeverity) *domain.Incident {
	t.Helper()
	inc, created, err := store.AdmitOrCreate(context.Background(), incidents.AdmitInput{
		Title:      "checkout down",
		ServiceID:  "svc-1",
		Severity:   severity,
		DetectedAt: time.Now().UTC(),
		Actor:      "monitoring",
		AlertNote:  "alert received",
	})
	require.NoError(t, err)
	require.True(t, created)
	return inc
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReminderAfter = 10 * time.Minute
	cfg.ReminderEvery = 15 * time.Minute
	return cfg
}

func TestEngine_SweepOnce_FiresDueSteps(t *testing.T) {
	engine, store, email := engineFixture(t, testConfig())
	ctx := context.Background()
	inc := openIncident(t, store, domain.SeverityHigh)

	// Before any step is due nothing fires.
	engine.SweepOnce(ctx, inc.CreatedAt.Add(2*time.Minute))
	escs, err := store.ListEscalations(ctx, inc.ID)
	require.NoError(t, err)
	assert.Empty(t, escs)

	// Step 1 (5m) is due, step 2 (15m) is not.
	engine.SweepOnce(ctx, inc.CreatedAt.Add(6*time.Minute))
	escs, err = store.ListEscalations(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, escs, 1)
	assert.Equal(t, 1, escs[0].StepOrder)
	assert.True(t, escs[0].Delivered)
	assert.Equal(t, "delivered to 1 of 1 targets", escs[0].Note)

	require.Len(t, email.sent, 1)
	assert.Equal(t, "dana@example.com", email.sent[0].To)
	assert.True(t, strings.HasPrefix(email.sent[0].Subject, "[ESCALATION] "))

	// Re-sweeping the same instant must not fire step 1 again.
	engine.SweepOnce(ctx, inc.CreatedAt.Add(6*time.Minute))
	escs, err = store.ListEscalations(ctx, inc.ID)
	require.NoError(t, err)
	assert.Len(t, escs, 1)

	// Both steps are due now; only step 2 is new.
	engine.SweepOnce(ctx, inc.CreatedAt.Add(16*time.Minute))
	escs, err = store.ListEscalations(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, escs, 2)
	assert.Equal(t, 2, escs[1].StepOrder)

	// Step 2 went to the team members.
	found := false
	for _, n := range email.sent {
		if n.To == "payments-team@example.com" {
			found = true
		}
	}
	assert.True(t, found)

	// Each firing left an escalation event plus a delivery event.
	events, err := store.ListEvents(ctx, inc.ID)
	require.NoError(t, err)
	var fired, delivered int
	for _, ev := range events {
		switch ev.Type {
		case domain.EventTypeEscalationFired:
			fired++
			assert.Equal(t, "escalation-engine", ev.Actor)
		case domain.EventTypeNotificationSent:
			delivered++
		}
	}
	assert.Equal(t, 2, fired)
	assert.Equal(t, 2, delivered)
}

func TestEngine_SweepOnce_FailedSendsLeaveFailureEvents(t *testing.T) {
	engine, store, email := engineFixture(t, testConfig())
	email.err = errors.New("smtp down")
	ctx := context.Background()
	inc := openIncident(t, store, domain.SeverityHigh)

	engine.SweepOnce(ctx, inc.CreatedAt.Add(6*time.Minute))

	// The step is still recorded so it never retries, but undelivered.
	escs, err := store.ListEscalations(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, escs, 1)
	assert.False(t, escs[0].Delivered)
	assert.Equal(t, "delivered to 0 of 1 targets", escs[0].Note)

	events, err := store.ListEvents(ctx, inc.ID)
	require.NoError(t, err)
	var fired, failures, sent int
	for _, ev := range events {
		switch ev.Type {
		case domain.EventTypeEscalationFired:
			fired++
		case domain.EventTypeNotificationFailed:
			failures++
			assert.Contains(t, ev.Message, "smtp down")
			assert.Contains(t, ev.Message, "Dana")
			assert.Equal(t, "escalation-engine", ev.Actor)
		case domain.EventTypeNotificationSent:
			sent++
		}
	}
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, failures)
	assert.Zero(t, sent)

	// A re-sweep neither resends nor duplicates the failure event.
	engine.SweepOnce(ctx, inc.CreatedAt.Add(7*time.Minute))
	events, err = store.ListEvents(ctx, inc.ID)
	require.NoError(t, err)
	failures = 0
	for _, ev := range events {
		if ev.Type == domain.EventTypeNotificationFailed {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestEngine_SweepOnce_HaltOnAcknowledged(t *testing.T) {
	ctx := context.Background()

	t.Run("acknowledged halts the chain", func(t *testing.T) {
		engine, store, _ := engineFixture(t, testConfig())
		inc := openIncident(t, store, domain.SeverityHigh)

		_, err := store.UpdateStatus(ctx, inc.ID, domain.IncidentStatusAcknowledged, "alice", "")
		require.NoError(t, err)

		engine.SweepOnce(ctx, inc.CreatedAt.Add(20*time.Minute))
		escs, err := store.ListEscalations(ctx, inc.ID)
		require.NoError(t, err)
		assert.Empty(t, escs)
	})

	t.Run("chain continues when halt is off", func(t *testing.T) {
		cfg := testConfig()
		cfg.HaltOnAcknowledged = false
		engine, store, _ := engineFixture(t, cfg)
		inc := openIncident(t, store, domain.SeverityHigh)

		_, err := store.UpdateStatus(ctx, inc.ID, domain.IncidentStatusAcknowledged, "alice", "")
		require.NoError(t, err)

		engine.SweepOnce(ctx, inc.CreatedAt.Add(20*time.Minute))
		escs, err := store.ListEscalations(ctx, inc.ID)
		require.NoError(t, err)
		assert.Len(t, escs, 2)
	})

	t.Run("resolved incidents are not swept", func(t *testing.T) {
		engine, store, email := engineFixture(t, testConfig())
		inc := openIncident(t, store, domain.SeverityHigh)

		_, err := store.UpdateStatus(ctx, inc.ID, domain.IncidentStatusResolved, "alice", "fixed")
		require.NoError(t, err)

		engine.SweepOnce(ctx, inc.CreatedAt.Add(time.Hour))
		assert.Empty(t, email.sent)
	})
}

func TestEngine_SweepOnce_Reminders(t *testing.T) {
	engine, store, email := engineFixture(t, testConfig())
	ctx := context.Background()
	inc := openIncident(t, store, domain.SeverityLow)

	// Too fresh for a reminder (and no escalation due either at 2m).
	engine.SweepOnce(ctx, inc.CreatedAt.Add(2*time.Minute))
	for _, subj := range email.subjects() {
		assert.False(t, strings.HasPrefix(subj, "[REMINDER]"))
	}

	// Past ReminderAfter a reminder goes to the on-call.
	engine.SweepOnce(ctx, inc.CreatedAt.Add(11*time.Minute))
	reminders := 0
	for _, subj := range email.subjects() {
		if strings.HasPrefix(subj, "[REMINDER] unacknowledged: ") {
			reminders++
		}
	}
	assert.Equal(t, 1, reminders)

	last, err := store.LatestEventTime(ctx, inc.ID, domain.EventTypeReminder)
	require.NoError(t, err)
	require.NotNil(t, last)

	// Within ReminderEvery of the last one, no re-nag. The gate compares
	// against the stored event time, which is wall clock, so sweep close
	// to real now.
	before := len(email.sent)
	engine.SweepOnce(ctx, time.Now().UTC().Add(time.Minute))
	afterNear := 0
	for _, subj := range email.subjects()[before:] {
		if strings.HasPrefix(subj, "[REMINDER]") {
			afterNear++
		}
	}
	assert.Zero(t, afterNear)

	// Past the cadence another reminder fires.
	before = len(email.sent)
	engine.SweepOnce(ctx, time.Now().UTC().Add(16*time.Minute))
	again := 0
	for _, subj := range email.subjects()[before:] {
		if strings.HasPrefix(subj, "[REMINDER]") {
			again++
		}
	}
	assert.Equal(t, 1, again)
}

func TestEngine_SweepOnce_NoResolvableTargets(t *testing.T) {
	dir := directory.New(
		[]domain.Service{{ID: "svc-1", Name: "checkout", TeamID: "team-1"}},
		// Team with no on-call contact at all.
		[]domain.Team{{ID: "team-1", Name: "Payments"}},
		nil,
		[]domain.EscalationPolicy{{
			ID:     "p-default",
			TeamID: "team-1",
			Steps: []domain.EscalationStep{
				{Order: 1, DelayMinutes: 5, Channel: domain.ChannelTypeEmail, TargetType: domain.TargetOnCall},
			},
		}},
	)
	store := memstore.New()
	engine := NewEngine(testConfig(), store, dir, notify.NewDispatcher())
	ctx := context.Background()
	inc := openIncident(t, store, domain.SeverityHigh)

	engine.SweepOnce(ctx, inc.CreatedAt.Add(6*time.Minute))

	// The step is still recorded so it never retries, but undelivered.
	escs, err := store.ListEscalations(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, escs, 1)
	assert.False(t, escs[0].Delivered)
	assert.Equal(t, "no resolvable targets", escs[0].Note)
}

func TestEngine_ResolveTargets(t *testing.T) {
	engine, _, _ := engineFixture(t, testConfig())
	svc := &domain.Service{ID: "svc-1", Name: "checkout", TeamID: "team-1"}

	t.Run("explicit email target", func(t *testing.T) {
		targets := engine.resolveTargets(svc, domain.EscalationStep{
			Channel:    domain.ChannelTypeEmail,
			TargetType: domain.TargetEmail,
			TargetRef:  "leadership@example.com",
		})
		require.Len(t, targets, 1)
		assert.Equal(t, "leadership@example.com", targets[0].Address)
	})

	t.Run("email target without ref resolves to nothing", func(t *testing.T) {
		targets := engine.resolveTargets(svc, domain.EscalationStep{
			Channel:    domain.ChannelTypeEmail,
			TargetType: domain.TargetEmail,
		})
		assert.Empty(t, targets)
	})

	t.Run("unknown team resolves to nothing", func(t *testing.T) {
		targets := engine.resolveTargets(&domain.Service{TeamID: "ghost"}, domain.EscalationStep{
			Channel:    domain.ChannelTypeEmail,
			TargetType: domain.TargetOnCall,
		})
		assert.Empty(t, targets)
	})
}

func TestEngine_StartStop(t *testing.T) {
	engine, _, _ := engineFixture(t, Config{
		SweepInterval:   10 * time.Millisecond,
		IncidentTimeout: time.Second,
	})

	engine.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	engine.Stop()
}
