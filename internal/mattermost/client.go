// Package mattermost provides webhook client for sending notifications to Mattermost.
package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fieldlink/reputation-engine/internal/config"
	"github.com/fieldlink/reputation-engine/internal/models"
	"github.com/fieldlink/reputation-engine/pkg/logger"
)

const botUsername = "Reputation Engine"

// Client handles Mattermost webhook notifications.
type Client struct {
	webhookURL string
	channel    string
	enabled    bool
	httpClient *http.Client
	log        *logger.Logger
}

// NewClient creates a new Mattermost client.
func NewClient(cfg *config.MattermostConfig, log *logger.Logger) *Client {
	return &Client{
		webhookURL: cfg.WebhookURL,
		channel:    cfg.Channel,
		enabled:    cfg.Enabled,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

// Message represents a Mattermost message payload.
type Message struct {
	Channel     string       `json:"channel,omitempty"`
	Username    string       `json:"username,omitempty"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment represents a message attachment.
type Attachment struct {
	Fallback string  `json:"fallback,omitempty"`
	Color    string  `json:"color,omitempty"`
	Title    string  `json:"title,omitempty"`
	Text     string  `json:"text,omitempty"`
	Fields   []Field `json:"fields,omitempty"`
	Footer   string  `json:"footer,omitempty"`
}

// Field represents a message field.
type Field struct {
	Short bool   `json:"short"`
	Title string `json:"title"`
	Value string `json:"value"`
}

// SendMessage sends a message to Mattermost.
func (c *Client) SendMessage(ctx context.Context, msg *Message) error {
	if !c.enabled {
		c.log.Debug().Msg("Mattermost is disabled, skipping message")
		return nil
	}

	if msg.Channel == "" {
		msg.Channel = c.channel
	}
	if msg.Username == "" {
		msg.Username = botUsername
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message to Mattermost: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mattermost returned status %d", resp.StatusCode)
	}

	c.log.Debug().
		Str("channel", msg.Channel).
		Msg("Sent message to Mattermost")

	return nil
}

// NotifyRuleChanged announces an earning rule change.
func (c *Client) NotifyRuleChanged(ctx context.Context, rule *models.EarningRule, actor string, created bool) error {
	verb := "updated"
	if created {
		verb = "created"
	}

	status := "enabled"
	color := "#2eb886"
	if !rule.IsEnabled {
		status = "disabled"
		color = "#a0a0a0"
	}

	return c.SendMessage(ctx, &Message{
		Text: fmt.Sprintf("Earning rule **%s** %s by %s", rule.Name, verb, actor),
		Attachments: []Attachment{{
			Fallback: fmt.Sprintf("%s %s", rule.Name, verb),
			Color:    color,
			Fields: []Field{
				{Short: true, Title: "Amount", Value: fmt.Sprintf("%d %s", rule.CreditAmount, rule.Currency)},
				{Short: true, Title: "Status", Value: status},
				{Short: true, Title: "Cooldown (h)", Value: optionalInt(rule.CooldownHours)},
				{Short: true, Title: "Daily limit", Value: optionalInt(rule.DailyLimit)},
				{Short: true, Title: "Per target", Value: optionalInt(rule.MaxPerTarget)},
				{Short: true, Title: "Verification", Value: fmt.Sprintf("%t", rule.RequiresVerification)},
			},
		}},
	})
}

// NotifyBadgeChanged announces a trust badge change.
func (c *Client) NotifyBadgeChanged(ctx context.Context, userID uuid.UUID, role, from, to string, score float64) error {
	color := "#2eb886"
	if models.BadgeRank(to) < models.BadgeRank(from) {
		color = "#d9534f"
	}

	return c.SendMessage(ctx, &Message{
		Attachments: []Attachment{{
			Fallback: fmt.Sprintf("%s badge %s -> %s", userID, from, to),
			Color:    color,
			Title:    "Trust badge changed",
			Fields: []Field{
				{Short: true, Title: "User", Value: userID.String()},
				{Short: true, Title: "Role", Value: role},
				{Short: true, Title: "Badge", Value: fmt.Sprintf("%s → %s", from, to)},
				{Short: true, Title: "Score", Value: fmt.Sprintf("%.2f", score)},
			},
		}},
	})
}

// NotifyReconcileMismatch reports an account whose projection disagrees with its transactions.
func (c *Client) NotifyReconcileMismatch(ctx context.Context, report models.ReconcileReport) error {
	return c.SendMessage(ctx, &Message{
		Text: fmt.Sprintf(
			"⚠️ Ledger mismatch for %s: projection earned=%d paid=%d reputation=%d, ledger earned=%d paid=%d reputation=%d",
			report.UserID,
			report.Projection.EarnedCredits, report.Projection.PaidCredits, report.Projection.ReputationPoints,
			report.LedgerEarned, report.LedgerPaid, report.LedgerReputation,
		),
	})
}

func optionalInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}
