package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SlackAdapter posts events to a Slack incoming webhook.
type SlackAdapter struct {
	webhookURL string
	channel    string
	username   string
	client     *http.Client
}

// SlackConfig configures the Slack adapter.
type SlackConfig struct {
	// WebhookURL is the Slack incoming webhook URL
	WebhookURL string

	// Channel overrides the default channel (optional)
	Channel string

	// Username is the bot name shown in Slack
	Username string

	// Timeout bounds one webhook call
	Timeout time.Duration
}

// NewSlackAdapter creates a Slack adapter.
func NewSlackAdapter(cfg SlackConfig) (*SlackAdapter, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	if cfg.Username == "" {
		cfg.Username = "renewal"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &SlackAdapter{
		webhookURL: cfg.WebhookURL,
		channel:    cfg.Channel,
		username:   cfg.Username,
		client:     &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name returns the adapter name.
func (s *SlackAdapter) Name() string {
	return "slack"
}

// Notify posts event to the webhook.
func (s *SlackAdapter) Notify(ctx context.Context, event Event) error {
	var color string
	switch event.Type {
	case EventSuccess:
		color = "#2EB67D"
	case EventError:
		color = "#E01E5A"
	default:
		color = "#ECB22E"
	}

	payload := map[string]interface{}{
		"username": s.username,
		"attachments": []map[string]interface{}{
			{
				"color":     color,
				"title":     emoji(event) + " " + event.Title(),
				"text":      slackText(event),
				"footer":    event.RenewalID,
				"ts":        event.Timestamp.Unix(),
				"mrkdwn_in": []string{"text"},
			},
		},
	}
	if s.channel != "" {
		payload["channel"] = s.channel
	}

	return s.sendWebhook(ctx, payload)
}

func emoji(e Event) string {
	switch e.Type {
	case EventSuccess:
		return ":white_check_mark:"
	case EventError:
		switch e.Category {
		case "insufficient_balance":
			return ":money_with_wings:"
		case "subscriber_not_found":
			return ":mag:"
		}
		return ":x:"
	default:
		return ":gear:"
	}
}

func slackText(e Event) string {
	var b strings.Builder
	b.WriteString("```\n")
	fmt.Fprintf(&b, "Decoder:   %s\n", e.SubscriberID)
	if e.Stage != "" {
		fmt.Fprintf(&b, "Stage:     %s\n", e.Stage)
	}
	if e.Offer != "" {
		fmt.Fprintf(&b, "Offer:     %s %s\n", e.Offer, e.Duration)
	}
	if e.Option != "" {
		fmt.Fprintf(&b, "Option:    %s\n", e.Option)
	}
	if e.Amount != nil {
		fmt.Fprintf(&b, "Amount:    %d GNF\n", *e.Amount)
	}
	if e.Reference != "" {
		fmt.Fprintf(&b, "Reference: %s\n", e.Reference)
	}
	if e.Category != "" {
		fmt.Fprintf(&b, "Category:  %s\n", e.Category)
	}
	fmt.Fprintf(&b, "Details:   %s\n", e.Message)
	fmt.Fprintf(&b, "Time:      %s\n", e.Timestamp.Format("02/01/2006 15:04:05"))
	b.WriteString("```")
	return b.String()
}

func (s *SlackAdapter) sendWebhook(ctx context.Context, payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack webhook error: %s: %s", resp.Status, string(body))
	}

	return nil
}

// Close closes the adapter.
func (s *SlackAdapter) Close() error {
	return nil
}
