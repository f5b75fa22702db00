// Package directory provides read-only lookups for services, teams,
// impact scopes and escalation policies. The directory is external
// configuration to the incident core: it is loaded once and never
// written through this package.
package directory

import (
	"errors"
	"fmt"

	"github.com/bissquit/incident-warden/internal/domain"
)

// Lookup errors.
var (
	ErrServiceNotFound = errors.New("service not found in directory")
	ErrTeamNotFound    = errors.New("team not found in directory")
)

// Directory resolves service/team/scope references and escalation
// policies. Implementations must be safe for concurrent use.
type Directory interface {
	// ServiceByName resolves a service by its unique name.
	ServiceByName(name string) (*domain.Service, error)
	// ServiceByID resolves a service by id.
	ServiceByID(id string) (*domain.Service, error)
	// TeamOf returns the team owning the given service.
	TeamOf(svc *domain.Service) (*domain.Team, error)
	// OnCallOf returns the team's current on-call as a recipient
	// target for the given channel class, or nil when no on-call is
	// configured.
	OnCallOf(team *domain.Team, channel domain.ChannelType) *domain.RecipientTarget
	// ScopesByIDs resolves impact scopes, silently skipping unknown ids.
	ScopesByIDs(ids []string) []domain.ImpactScope
	// PolicyFor returns the escalation policy for a team and severity:
	// an exact severity match wins over the team default; nil when the
	// team has no applicable policy.
	PolicyFor(teamID string, severity domain.IncidentSeverity) *domain.EscalationPolicy
}

// Static is an immutable in-memory Directory. Production deployments
// load it from a YAML file (see Load); tests construct it directly.
type Static struct {
	services map[string]domain.Service // by name
	byID     map[string]domain.Service
	teams    map[string]domain.Team // by id
	scopes   map[string]domain.ImpactScope
	policies []domain.EscalationPolicy
}

// New builds a Static directory from already-parsed entries.
func New(services []domain.Service, teams []domain.Team, scopes []domain.ImpactScope, policies []domain.EscalationPolicy) *Static {
	d := &Static{
		services: make(map[string]domain.Service, len(services)),
		byID:     make(map[string]domain.Service, len(services)),
		teams:    make(map[string]domain.Team, len(teams)),
		scopes:   make(map[string]domain.ImpactScope, len(scopes)),
		policies: policies,
	}
	for _, s := range services {
		d.services[s.Name] = s
		d.byID[s.ID] = s
	}
	for _, t := range teams {
		d.teams[t.ID] = t
	}
	for _, sc := range scopes {
		d.scopes[sc.ID] = sc
	}
	return d
}

// ServiceByName resolves a service by its unique name.
func (d *Static) ServiceByName(name string) (*domain.Service, error) {
	s, ok := d.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return &s, nil
}

// ServiceByID resolves a service by id.
func (d *Static) ServiceByID(id string) (*domain.Service, error) {
	s, ok := d.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, id)
	}
	return &s, nil
}

// TeamOf returns the team owning the given service.
func (d *Static) TeamOf(svc *domain.Service) (*domain.Team, error) {
	t, ok := d.teams[svc.TeamID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTeamNotFound, svc.TeamID)
	}
	return &t, nil
}

// OnCallOf returns the current on-call for the team on the requested
// channel class, or nil when the team has no usable on-call address.
func (d *Static) OnCallOf(team *domain.Team, channel domain.ChannelType) *domain.RecipientTarget {
	if team == nil {
		return nil
	}
	switch channel {
	case domain.ChannelTypeSMS:
		if team.OnCallPhone == "" {
			return nil
		}
		return &domain.RecipientTarget{
			Channel: domain.ChannelTypeSMS,
			Address: team.OnCallPhone,
			Label:   team.OnCallName,
		}
	case domain.ChannelTypeEmail:
		if team.OnCallEmail == "" {
			return nil
		}
		return &domain.RecipientTarget{
			Channel: domain.ChannelTypeEmail,
			Address: team.OnCallEmail,
			Label:   team.OnCallName,
		}
	default:
		return nil
	}
}

// ScopesByIDs resolves impact scopes, skipping unknown ids.
func (d *Static) ScopesByIDs(ids []string) []domain.ImpactScope {
	out := make([]domain.ImpactScope, 0, len(ids))
	for _, id := range ids {
		if sc, ok := d.scopes[id]; ok {
			out = append(out, sc)
		}
	}
	return out
}

// PolicyFor returns the applicable escalation policy for a team and
// severity. Severity-specific policies win over the team default.
func (d *Static) PolicyFor(teamID string, severity domain.IncidentSeverity) *domain.EscalationPolicy {
	var fallback *domain.EscalationPolicy
	for i := range d.policies {
		p := &d.policies[i]
		if p.TeamID != teamID {
			continue
		}
		if p.SeverityFilter == severity {
			return p
		}
		if p.SeverityFilter == "" && (p.IsDefault || fallback == nil) {
			fallback = p
		}
	}
	return fallback
}
