package notify

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/bissquit/incident-warden/internal/domain"
)

var titleCaser = cases.Title(language.English)

// humanize turns enum values like "CRITICAL" into "Critical".
func humanize(s string) string {
	return titleCaser.String(strings.ToLower(s))
}

// BuildMessage renders the plain-text notification for an incident.
// Link lines are omitted entirely while the corresponding automation
// step has not produced a link yet.
func BuildMessage(inc *domain.Incident, svc *domain.Service) (subject, body string) {
	subject = fmt.Sprintf("[%s] %s: %s", inc.ShortID(), humanize(string(inc.Severity)), inc.Title)

	var b strings.Builder
	fmt.Fprintf(&b, "Incident %s\n", inc.ShortID())
	fmt.Fprintf(&b, "Service: %s\n", svc.Name)
	fmt.Fprintf(&b, "Severity: %s\n", humanize(string(inc.Severity)))
	fmt.Fprintf(&b, "Status: %s\n", humanize(string(inc.Status)))
	fmt.Fprintf(&b, "Detected: %s\n", inc.DetectedAt.UTC().Format(time.RFC3339))

	if inc.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", inc.Description)
	}

	var links []string
	if inc.DocumentLink != nil && *inc.DocumentLink != "" {
		links = append(links, "Document: "+*inc.DocumentLink)
	}
	if inc.WarRoomLink != nil && *inc.WarRoomLink != "" {
		links = append(links, "War room: "+*inc.WarRoomLink)
	}
	if svc.RunbookURL != "" {
		links = append(links, "Runbook: "+svc.RunbookURL)
	}
	if len(links) > 0 {
		b.WriteString("\n")
		for _, l := range links {
			b.WriteString(l + "\n")
		}
	}

	return subject, b.String()
}
