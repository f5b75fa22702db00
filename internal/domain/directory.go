package domain

// ChannelType represents a notification delivery channel.
type ChannelType string

// Notification channel types.
const (
	ChannelTypeWebhook ChannelType = "webhook"
	ChannelTypeEmail   ChannelType = "email"
	ChannelTypeSMS     ChannelType = "sms"
)

// IsValid checks if the channel type is known.
func (c ChannelType) IsValid() bool {
	return c == ChannelTypeWebhook || c == ChannelTypeEmail || c == ChannelTypeSMS
}

// RecipientTarget is one (channel, address) delivery destination
// produced by the notification router.
type RecipientTarget struct {
	Channel ChannelType `json:"channel"`
	Address string      `json:"address"`
	Label   string      `json:"label,omitempty"`

	// Urgent marks SMS-class targets added for critical incidents.
	Urgent bool `json:"urgent,omitempty"`
}

// Service is a monitored service owned by a team. Directory entries are
// external read-only configuration.
type Service struct {
	ID         string `json:"id" koanf:"id"`
	Name       string `json:"name" koanf:"name"`
	TeamID     string `json:"team_id" koanf:"team_id"`
	RunbookURL string `json:"runbook_url,omitempty" koanf:"runbook_url"`
}

// Team owns services and receives their incident notifications.
type Team struct {
	ID   string `json:"id" koanf:"id"`
	Name string `json:"name" koanf:"name"`

	// Default notification channel for the whole team.
	ChannelType   ChannelType `json:"channel_type" koanf:"channel_type"`
	ChannelTarget string      `json:"channel_target" koanf:"channel_target"`

	// Current first-line on-call contact. Richer rotation models plug
	// in behind the directory's OnCallOf lookup without changing this
	// shape.
	OnCallName  string `json:"on_call_name,omitempty" koanf:"on_call_name"`
	OnCallEmail string `json:"on_call_email,omitempty" koanf:"on_call_email"`
	OnCallPhone string `json:"on_call_phone,omitempty" koanf:"on_call_phone"`

	// Addresses used by TEAM escalation targets.
	MemberEmails []string `json:"member_emails,omitempty" koanf:"member_emails"`
}

// ImpactScope is a functional domain (legal, security, PR, ...) that
// may require mandatory notification when impacted.
type ImpactScope struct {
	ID                   string `json:"id" koanf:"id"`
	Name                 string `json:"name" koanf:"name"`
	MandatoryNotifyEmail string `json:"mandatory_notify_email,omitempty" koanf:"mandatory_notify_email"`
	Active               bool   `json:"active" koanf:"active"`
}
