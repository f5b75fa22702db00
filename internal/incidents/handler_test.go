package incidents_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/incident-warden/internal/incidents"
)

func newTestRouter(t *testing.T) (*chi.Mux, *incidents.Service) {
	t.Helper()
	svc, _ := newService(t, "")
	r := chi.NewRouter()
	incidents.NewHandler(svc).RegisterRoutes(r)
	return r, svc
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	data, ok := envelope["data"]
	require.True(t, ok, "response has no data envelope: %s", w.Body.String())
	m, ok := data.(map[string]any)
	require.True(t, ok)
	return m
}

func TestHandler_AdmitAlert(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/alerts", map[string]any{
		"service":  "checkout",
		"title":    "checkout 5xx spike",
		"severity": "CRITICAL",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := decodeData(t, w)
	assert.Equal(t, false, data["deduplicated"])
	incident := data["incident"].(map[string]any)
	assert.Equal(t, "TRIGGERED", incident["status"])

	// Repeat alert returns 200 with the dedup flag set.
	w = doJSON(t, r, http.MethodPost, "/alerts", map[string]any{
		"service":  "checkout",
		"title":    "still failing",
		"severity": "CRITICAL",
	})
	require.Equal(t, http.StatusOK, w.Code)
	data = decodeData(t, w)
	assert.Equal(t, true, data["deduplicated"])
}

func TestHandler_AdmitAlert_Validation(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing service", map[string]any{"title": "x", "severity": "LOW"}},
		{"missing title", map[string]any{"service": "checkout", "severity": "LOW"}},
		{"bad severity", map[string]any{"service": "checkout", "title": "x", "severity": "URGENT"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/alerts", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/alerts", bytes.NewBufferString("{"))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown service", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, "/alerts", map[string]any{
			"service": "ghost", "title": "x", "severity": "LOW",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "unknown service")
	})
}

func TestHandler_CreateIncident(t *testing.T) {
	r, _ := newTestRouter(t)

	body := map[string]any{
		"service_id": "svc-checkout",
		"title":      "payments degraded",
		"severity":   "HIGH",
		"actor":      "alice",
	}
	w := doJSON(t, r, http.MethodPost, "/incidents", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Second manual creation for the same service conflicts.
	w = doJSON(t, r, http.MethodPost, "/incidents", body)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandler_Lifecycle(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/alerts", map[string]any{
		"service": "checkout", "title": "down", "severity": "HIGH",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	incident := decodeData(t, w)["incident"].(map[string]any)
	id := incident["id"].(string)

	t.Run("mitigate before acknowledge conflicts", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, fmt.Sprintf("/incidents/%s/mitigate", id), map[string]any{"actor": "alice"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("acknowledge", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, fmt.Sprintf("/incidents/%s/acknowledge", id), map[string]any{"actor": "alice"})
		require.Equal(t, http.StatusOK, w.Code)
		data := decodeData(t, w)
		assert.Equal(t, "ACKNOWLEDGED", data["status"])
		assert.Equal(t, "alice", data["lead"])
	})

	t.Run("resolve requires note", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, fmt.Sprintf("/incidents/%s/resolve", id), map[string]any{"actor": "alice"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "resolution note")
	})

	t.Run("resolve", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, fmt.Sprintf("/incidents/%s/resolve", id), map[string]any{
			"actor": "alice", "note": "rolled back deploy",
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "RESOLVED", decodeData(t, w)["status"])
	})

	t.Run("timeline recorded", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/incidents/%s/events", id), nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var envelope struct {
			Data []map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
		require.Len(t, envelope.Data, 3)
		assert.Equal(t, "ALERT_RECEIVED", envelope.Data[0]["type"])
		assert.Equal(t, "STATUS_CHANGE", envelope.Data[1]["type"])
		assert.Equal(t, "STATUS_CHANGE", envelope.Data[2]["type"])
	})

	t.Run("kpi report", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/incidents/%s/metrics", id), nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		data := decodeData(t, w)
		assert.NotNil(t, data["mtta_seconds"])
		assert.NotNil(t, data["mttr_seconds"])
	})
}

func TestHandler_GetIncident_NotFound(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/incidents/ghost", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_ListIncidents(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/alerts", map[string]any{
		"service": "checkout", "title": "down", "severity": "HIGH",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	t.Run("list all", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/incidents", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var envelope struct {
			Data []map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
		assert.Len(t, envelope.Data, 1)
	})

	t.Run("invalid status filter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/incidents?status=CLOSED", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid severity filter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/incidents?severity=URGENT", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
