package mattermost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldlink/reputation-engine/internal/config"
	"github.com/fieldlink/reputation-engine/internal/models"
	"github.com/fieldlink/reputation-engine/pkg/logger"
)

func newTestServer(t *testing.T, status int) (*httptest.Server, *[]Message) {
	t.Helper()
	var (
		mu       sync.Mutex
		received []Message
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err == nil {
			mu.Lock()
			received = append(received, msg)
			mu.Unlock()
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &received
}

func TestClient_DisabledSkipsSend(t *testing.T) {
	srv, received := newTestServer(t, http.StatusOK)
	client := NewClient(&config.MattermostConfig{WebhookURL: srv.URL, Enabled: false}, logger.Nop())

	require.NoError(t, client.SendMessage(context.Background(), &Message{Text: "hello"}))
	assert.Empty(t, *received)
}

func TestClient_NotifyRuleChanged(t *testing.T) {
	srv, received := newTestServer(t, http.StatusOK)
	client := NewClient(&config.MattermostConfig{WebhookURL: srv.URL, Channel: "economy", Enabled: true}, logger.Nop())

	limit := 3
	rule := &models.EarningRule{Name: "review_submitted", CreditAmount: 2, Currency: models.CurrencyEarned, DailyLimit: &limit}
	require.NoError(t, client.NotifyRuleChanged(context.Background(), rule, "admin-1", true))

	require.Len(t, *received, 1)
	msg := (*received)[0]
	assert.Equal(t, "economy", msg.Channel)
	assert.Equal(t, botUsername, msg.Username)
	assert.Contains(t, msg.Text, "review_submitted")
	assert.Contains(t, msg.Text, "created by admin-1")
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "3", msg.Attachments[0].Fields[3].Value)
	assert.Equal(t, "-", msg.Attachments[0].Fields[2].Value)
}

func TestClient_NotifyBadgeChanged(t *testing.T) {
	srv, received := newTestServer(t, http.StatusOK)
	client := NewClient(&config.MattermostConfig{WebhookURL: srv.URL, Enabled: true}, logger.Nop())

	userID := uuid.New()
	require.NoError(t, client.NotifyBadgeChanged(context.Background(), userID, models.RoleFieldRep, models.BadgeTrusted, models.BadgeStandard, 70))

	require.Len(t, *received, 1)
	att := (*received)[0].Attachments[0]
	assert.Equal(t, "#d9534f", att.Color)
	assert.Equal(t, userID.String(), att.Fields[0].Value)
}

func TestClient_ErrorStatus(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusInternalServerError)
	client := NewClient(&config.MattermostConfig{WebhookURL: srv.URL, Enabled: true}, logger.Nop())

	err := client.SendMessage(context.Background(), &Message{Text: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
