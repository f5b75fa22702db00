package directory

import (
	"fmt"
	"log/slog"

	"github.com/bissquit/incident-warden/internal/domain"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// fileModel mirrors the directory YAML layout.
type fileModel struct {
	Services []domain.Service          `koanf:"services"`
	Teams    []domain.Team             `koanf:"teams"`
	Scopes   []domain.ImpactScope      `koanf:"scopes"`
	Policies []domain.EscalationPolicy `koanf:"policies"`
}

// Load reads a directory definition from a YAML file.
func Load(path string) (*Static, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load directory file: %w", err)
	}

	var m fileModel
	if err := k.Unmarshal("", &m); err != nil {
		return nil, fmt.Errorf("parse directory file: %w", err)
	}

	if err := validate(&m); err != nil {
		return nil, err
	}

	slog.Info("directory loaded",
		"path", path,
		"services", len(m.Services),
		"teams", len(m.Teams),
		"scopes", len(m.Scopes),
		"policies", len(m.Policies),
	)

	return New(m.Services, m.Teams, m.Scopes, m.Policies), nil
}

func validate(m *fileModel) error {
	teams := make(map[string]bool, len(m.Teams))
	for _, t := range m.Teams {
		if t.ID == "" {
			return fmt.Errorf("directory: team %q has no id", t.Name)
		}
		if t.ChannelTarget != "" && !t.ChannelType.IsValid() {
			return fmt.Errorf("directory: team %q has invalid channel type %q", t.Name, t.ChannelType)
		}
		teams[t.ID] = true
	}
	for _, s := range m.Services {
		if s.Name == "" {
			return fmt.Errorf("directory: service %q has no name", s.ID)
		}
		if !teams[s.TeamID] {
			return fmt.Errorf("directory: service %q references unknown team %q", s.Name, s.TeamID)
		}
	}
	for _, p := range m.Policies {
		if !teams[p.TeamID] {
			return fmt.Errorf("directory: policy %q references unknown team %q", p.ID, p.TeamID)
		}
		if p.SeverityFilter != "" && !p.SeverityFilter.IsValid() {
			return fmt.Errorf("directory: policy %q has invalid severity filter %q", p.ID, p.SeverityFilter)
		}
		for _, st := range p.Steps {
			if !st.TargetType.IsValid() {
				return fmt.Errorf("directory: policy %q step %d has invalid target type %q", p.ID, st.Order, st.TargetType)
			}
			if !st.Channel.IsValid() {
				return fmt.Errorf("directory: policy %q step %d has invalid channel %q", p.ID, st.Order, st.Channel)
			}
		}
	}
	return nil
}
