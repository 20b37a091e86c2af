// Package slack announces new escalations to Slack via incoming
// webhooks. Payloads carry identifiers, priority, and counts only;
// patient message content never leaves the system through this path.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/carelink/internal/escalation"
)

const httpTimeout = 10 * time.Second

// Notifier sends escalation notifications to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty,
// EscalationCreated is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// EscalationCreated posts the new escalation to the configured Slack
// webhook. If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) EscalationCreated(ctx context.Context, e *escalation.Escalation) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(e))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(e *escalation.Escalation) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(e),
			{"type": "divider"},
			fieldsBlock(e),
			{"type": "divider"},
			contextBlock(e),
		},
	}
}

func headerBlock(e *escalation.Escalation) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s New escalation for clinic %s", priorityEmoji(e.Priority), e.ClinicID),
		},
	}
}

func fieldsBlock(e *escalation.Escalation) map[string]any {
	snapshotItems := 0
	if e.Snapshot != nil {
		snapshotItems = len(e.Snapshot.Items)
	}

	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Priority:* %s", e.Priority),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Status:* %s", e.Status),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Conversation:* %s", e.ConversationID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Snapshot items:* %d", snapshotItems),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func contextBlock(e *escalation.Escalation) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("carelink • escalation %s • %s", e.ID, e.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func priorityEmoji(p escalation.Priority) string {
	switch p {
	case escalation.PriorityUrgent, escalation.PriorityHigh:
		return "\U0001f534" // red circle
	case escalation.PriorityMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}
