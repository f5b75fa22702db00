//go:build integration

package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bissquit/incident-warden/internal/testutil"
)

// incidentData mirrors the incident fields the tests assert on.
type incidentData struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	ServiceID      string     `json:"service_id"`
	Severity       string     `json:"severity"`
	Status         string     `json:"status"`
	Lead           string     `json:"lead"`
	DocumentLink   string     `json:"document_link"`
	WarRoomLink    string     `json:"war_room_link"`
	DetectedAt     time.Time  `json:"detected_at"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at"`
	ResolvedAt     *time.Time `json:"resolved_at"`
}

type eventData struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

// admitAlert posts an alert and returns the incident plus the dedup flag.
func admitAlert(t *testing.T, service, title, severity string) (incidentData, bool, int) {
	t.Helper()

	resp, err := testClient.POST("/api/v1/alerts", map[string]interface{}{
		"service":  service,
		"title":    title,
		"severity": severity,
		"source":   "prometheus",
	})
	require.NoError(t, err)

	var result struct {
		Data struct {
			Incident     incidentData `json:"incident"`
			Deduplicated bool         `json:"deduplicated"`
		} `json:"data"`
	}
	status := resp.StatusCode
	testutil.DecodeJSON(t, resp, &result)
	return result.Data.Incident, result.Data.Deduplicated, status
}

// resolveIncident closes an incident so its service is free for the next
// test. Safe to call on an already resolved incident's service.
func resolveIncident(t *testing.T, id string) {
	t.Helper()

	resp, err := testClient.POST("/api/v1/incidents/"+id+"/resolve", map[string]string{
		"actor": "cleanup",
		"note":  "test cleanup",
	})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// listEvents fetches the incident timeline.
func listEvents(t *testing.T, id string) []eventData {
	t.Helper()

	resp, err := testClient.GET("/api/v1/incidents/" + id + "/events")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []eventData `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

// eventsOfType filters a timeline by entry type. The coordinator appends
// notification entries asynchronously, so tests assert on the entry types
// they own rather than on total counts.
func eventsOfType(events []eventData, typ string) []eventData {
	var out []eventData
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
