package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bissquit/incident-warden/internal/directory"
	"github.com/bissquit/incident-warden/internal/domain"
)

// Router computes who must hear about an incident and broadcasts to
// them.
type Router struct {
	dir        directory.Directory
	dispatcher *Dispatcher
}

// NewRouter creates a router over the directory and dispatcher.
func NewRouter(dir directory.Directory, dispatcher *Dispatcher) *Router {
	return &Router{dir: dir, dispatcher: dispatcher}
}

// Dispatcher exposes the underlying dispatcher for targeted sends.
func (r *Router) Dispatcher() *Dispatcher {
	return r.dispatcher
}

// ComputeRecipients resolves the full recipient set for an incident:
// the owning team's channel, the team's on-call (plus an urgent SMS
// target for critical incidents), and the mandatory contacts of every
// active impacted scope. Duplicate (channel, address) pairs collapse,
// first occurrence wins.
func (r *Router) ComputeRecipients(inc *domain.Incident) ([]domain.RecipientTarget, error) {
	svc, err := r.dir.ServiceByID(inc.ServiceID)
	if err != nil {
		return nil, err
	}
	team, err := r.dir.TeamOf(svc)
	if err != nil {
		return nil, err
	}

	var targets []domain.RecipientTarget

	if team.ChannelTarget != "" {
		targets = append(targets, domain.RecipientTarget{
			Channel: team.ChannelType,
			Address: team.ChannelTarget,
			Label:   team.Name,
		})
	}

	if oc := r.dir.OnCallOf(team, domain.ChannelTypeEmail); oc != nil {
		targets = append(targets, *oc)
	}
	if inc.Severity == domain.SeverityCritical {
		if oc := r.dir.OnCallOf(team, domain.ChannelTypeSMS); oc != nil {
			oc.Urgent = true
			targets = append(targets, *oc)
		}
	}

	for _, scope := range r.dir.ScopesByIDs(inc.ImpactedScopeIDs) {
		if !scope.Active || scope.MandatoryNotifyEmail == "" {
			continue
		}
		targets = append(targets, domain.RecipientTarget{
			Channel: domain.ChannelTypeEmail,
			Address: scope.MandatoryNotifyEmail,
			Label:   scope.Name,
		})
	}

	return dedupeTargets(targets), nil
}

func dedupeTargets(in []domain.RecipientTarget) []domain.RecipientTarget {
	seen := make(map[string]bool, len(in))
	out := make([]domain.RecipientTarget, 0, len(in))
	for _, t := range in {
		key := fmt.Sprintf("%s|%s", t.Channel, t.Address)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

// Broadcast sends the incident notification to all computed recipients.
// Per-target failures are collected in the report, never returned as an
// error: reaching some recipients beats reaching none.
func (r *Router) Broadcast(ctx context.Context, inc *domain.Incident) (*DispatchReport, error) {
	svc, err := r.dir.ServiceByID(inc.ServiceID)
	if err != nil {
		return nil, err
	}
	targets, err := r.ComputeRecipients(inc)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		slog.Warn("incident has no notification recipients",
			"incident_id", inc.ID,
			"service_id", inc.ServiceID,
		)
		return &DispatchReport{}, nil
	}

	subject, body := BuildMessage(inc, svc)
	report := r.dispatcher.Broadcast(ctx, targets, subject, body)

	slog.Info("incident broadcast finished",
		"incident_id", inc.ID,
		"sent", len(report.Sent),
		"failed", len(report.Failed),
	)
	return report, nil
}
