package directory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/incident-warden/internal/domain"
)

func testDirectory() *Static {
	return New(
		[]domain.Service{
			{ID: "svc-1", Name: "checkout", TeamID: "team-1"},
			{ID: "svc-2", Name: "search", TeamID: "team-2"},
		},
		[]domain.Team{
			{
				ID:            "team-1",
				Name:          "Payments",
				ChannelType:   domain.ChannelTypeWebhook,
				ChannelTarget: "https://chat.example.com/hooks/payments",
				OnCallName:    "Dana",
				OnCallEmail:   "dana@example.com",
				OnCallPhone:   "+15550100",
			},
			{ID: "team-2", Name: "Search"},
		},
		[]domain.ImpactScope{
			{ID: "scope-legal", Name: "Legal", MandatoryNotifyEmail: "legal@example.com", Active: true},
		},
		[]domain.EscalationPolicy{
			{ID: "p-critical", TeamID: "team-1", SeverityFilter: domain.SeverityCritical},
			{ID: "p-default", TeamID: "team-1", IsDefault: true},
			{ID: "p-other", TeamID: "team-2"},
		},
	)
}

func TestStatic_ServiceLookups(t *testing.T) {
	dir := testDirectory()

	svc, err := dir.ServiceByName("checkout")
	require.NoError(t, err)
	assert.Equal(t, "svc-1", svc.ID)

	svc, err = dir.ServiceByID("svc-2")
	require.NoError(t, err)
	assert.Equal(t, "search", svc.Name)

	_, err = dir.ServiceByName("nope")
	assert.ErrorIs(t, err, ErrServiceNotFound)

	_, err = dir.ServiceByID("nope")
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestStatic_TeamOf(t *testing.T) {
	dir := testDirectory()

	svc, err := dir.ServiceByName("checkout")
	require.NoError(t, err)

	team, err := dir.TeamOf(svc)
	require.NoError(t, err)
	assert.Equal(t, "Payments", team.Name)

	_, err = dir.TeamOf(&domain.Service{TeamID: "ghost"})
	assert.ErrorIs(t, err, ErrTeamNotFound)
}

func TestStatic_OnCallOf(t *testing.T) {
	dir := testDirectory()
	team, err := dir.TeamOf(&domain.Service{TeamID: "team-1"})
	require.NoError(t, err)

	email := dir.OnCallOf(team, domain.ChannelTypeEmail)
	require.NotNil(t, email)
	assert.Equal(t, "dana@example.com", email.Address)
	assert.Equal(t, domain.ChannelTypeEmail, email.Channel)

	sms := dir.OnCallOf(team, domain.ChannelTypeSMS)
	require.NotNil(t, sms)
	assert.Equal(t, "+15550100", sms.Address)

	// Team without on-call contacts resolves to nothing.
	bare, err := dir.TeamOf(&domain.Service{TeamID: "team-2"})
	require.NoError(t, err)
	assert.Nil(t, dir.OnCallOf(bare, domain.ChannelTypeEmail))
	assert.Nil(t, dir.OnCallOf(bare, domain.ChannelTypeSMS))

	// Webhook is a team channel, not an on-call channel.
	assert.Nil(t, dir.OnCallOf(team, domain.ChannelTypeWebhook))
	assert.Nil(t, dir.OnCallOf(nil, domain.ChannelTypeEmail))
}

func TestStatic_PolicyFor(t *testing.T) {
	dir := testDirectory()

	t.Run("severity match wins over default", func(t *testing.T) {
		p := dir.PolicyFor("team-1", domain.SeverityCritical)
		require.NotNil(t, p)
		assert.Equal(t, "p-critical", p.ID)
	})

	t.Run("falls back to team default", func(t *testing.T) {
		p := dir.PolicyFor("team-1", domain.SeverityLow)
		require.NotNil(t, p)
		assert.Equal(t, "p-default", p.ID)
	})

	t.Run("unfiltered policy serves any severity", func(t *testing.T) {
		p := dir.PolicyFor("team-2", domain.SeverityHigh)
		require.NotNil(t, p)
		assert.Equal(t, "p-other", p.ID)
	})

	t.Run("unknown team has no policy", func(t *testing.T) {
		assert.Nil(t, dir.PolicyFor("ghost", domain.SeverityCritical))
	})
}

func TestStatic_ScopesByIDs(t *testing.T) {
	dir := testDirectory()

	scopes := dir.ScopesByIDs([]string{"scope-legal", "scope-ghost"})
	require.Len(t, scopes, 1)
	assert.Equal(t, "Legal", scopes[0].Name)

	assert.Empty(t, dir.ScopesByIDs(nil))
}

const validDirectoryYAML = `
teams:
  - id: "team-1"
    name: "Payments"
    channel_type: "webhook"
    channel_target: "https://chat.example.com/hooks/payments"
    on_call_email: "dana@example.com"

services:
  - id: "svc-1"
    name: "checkout"
    team_id: "team-1"

scopes:
  - id: "scope-legal"
    name: "Legal"
    mandatory_notify_email: "legal@example.com"
    active: true

policies:
  - id: "p-default"
    team_id: "team-1"
    is_default: true
    steps:
      - order: 1
        delay_minutes: 10
        channel: "email"
        target_type: "ON_CALL"
`

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	dir, err := Load(writeTempFile(t, validDirectoryYAML))
	require.NoError(t, err)

	svc, err := dir.ServiceByName("checkout")
	require.NoError(t, err)
	assert.Equal(t, "svc-1", svc.ID)

	team, err := dir.TeamOf(svc)
	require.NoError(t, err)
	assert.Equal(t, "Payments", team.Name)

	p := dir.PolicyFor("team-1", domain.SeverityMedium)
	require.NotNil(t, p)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, 10, p.Steps[0].DelayMinutes)
	assert.Equal(t, domain.TargetOnCall, p.Steps[0].TargetType)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "service references unknown team",
			yaml: `
services:
  - id: "svc-1"
    name: "checkout"
    team_id: "ghost"
`,
		},
		{
			name: "policy references unknown team",
			yaml: `
policies:
  - id: "p-1"
    team_id: "ghost"
`,
		},
		{
			name: "policy step has invalid channel",
			yaml: `
teams:
  - id: "team-1"
    name: "Payments"
policies:
  - id: "p-1"
    team_id: "team-1"
    steps:
      - order: 1
        channel: "pager"
        target_type: "ON_CALL"
`,
		},
		{
			name: "policy step has invalid target type",
			yaml: `
teams:
  - id: "team-1"
    name: "Payments"
policies:
  - id: "p-1"
    team_id: "team-1"
    steps:
      - order: 1
        channel: "email"
        target_type: "PAGER"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTempFile(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
