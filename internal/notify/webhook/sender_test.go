package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/incident-warden/internal/domain"
	"github.com/bissquit/incident-warden/internal/notify"
)

func TestNewSender_Defaults(t *testing.T) {
	sender := NewSender(Config{})

	assert.Equal(t, defaultUsername, sender.config.DefaultUsername)
	assert.Equal(t, defaultTimeout, sender.config.Timeout)
	assert.NotNil(t, sender.httpClient)
}

func TestSender_Type(t *testing.T) {
	assert.Equal(t, domain.ChannelTypeWebhook, NewSender(Config{}).Type())
}

func TestSender_Send_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload webhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "### [INC-A1B2C3D4] Critical: checkout down\n\ndetails", payload.Text)
		assert.Equal(t, "Incident Warden", payload.Username)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewSender(Config{})
	err := sender.Send(context.Background(), notify.Notification{
		To:      server.URL,
		Subject: "[INC-A1B2C3D4] Critical: checkout down",
		Body:    "details",
	})

	assert.NoError(t, err)
}

func TestSender_Send_BodyOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload webhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "plain body", payload.Text)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := NewSender(Config{})
	err := sender.Send(context.Background(), notify.Notification{
		To:   server.URL,
		Body: "plain body",
	})

	assert.NoError(t, err)
}

func TestSender_Send_EmptyWebhook(t *testing.T) {
	sender := NewSender(Config{})
	err := sender.Send(context.Background(), notify.Notification{Body: "x"})

	require.Error(t, err)
	var permErr *PermanentError
	require.ErrorAs(t, err, &permErr)
	assert.False(t, permErr.IsRetryable())
	assert.False(t, notify.IsRetryable(err))
}

func TestSender_Send_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"bad request is permanent", http.StatusBadRequest, false},
		{"unauthorized is permanent", http.StatusUnauthorized, false},
		{"forbidden is permanent", http.StatusForbidden, false},
		{"not found is permanent", http.StatusNotFound, false},
		{"rate limit is retryable", http.StatusTooManyRequests, true},
		{"server error is retryable", http.StatusInternalServerError, true},
		{"service unavailable is retryable", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			sender := NewSender(Config{})
			err := sender.Send(context.Background(), notify.Notification{
				To:   server.URL,
				Body: "x",
			})

			require.Error(t, err)
			assert.Equal(t, tt.retryable, notify.IsRetryable(err))
		})
	}
}

func TestSender_Send_UnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("nope"))
	}))
	defer server.Close()

	sender := NewSender(Config{})
	err := sender.Send(context.Background(), notify.Notification{To: server.URL, Body: "x"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 418")
}

func TestSender_Send_NetworkError(t *testing.T) {
	sender := NewSender(Config{Timeout: 100 * time.Millisecond})

	err := sender.Send(context.Background(), notify.Notification{
		To:   "http://localhost:59999",
		Body: "x",
	})

	require.Error(t, err)
	var retryErr *RetryableError
	require.ErrorAs(t, err, &retryErr)
	assert.True(t, retryErr.IsRetryable())
}

func TestMaskWebhookURL(t *testing.T) {
	short := "http://example.com/hook"
	assert.Equal(t, short, maskWebhookURL(short))

	long := "https://chat.example.com/hooks/abc123def456ghi789jkl012mno345pqr678stu901vwx234"
	masked := maskWebhookURL(long)
	assert.NotEqual(t, long, masked)
	assert.Contains(t, masked, "...")
}
