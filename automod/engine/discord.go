package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"unicode/utf8"
)

// Discord's message content limit
const discordMaxContent = 2000

type DiscordNotifier struct {
	WebhookURL string
	// shown as the message author; optional
	Username string
	// defaults to http.DefaultClient
	Client *http.Client
}

type DiscordWebhookBody struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

func (n *DiscordNotifier) SendDecision(ctx context.Context, note Notification) error {
	msg := notificationBody(note, func(label, url string) string {
		return fmt.Sprintf("[%s](<%s>)", label, url)
	})
	if utf8.RuneCountInString(msg) > discordMaxContent {
		msg = string([]rune(msg)[:discordMaxContent-3]) + "..."
	}

	body, err := json.Marshal(DiscordWebhookBody{Content: msg, Username: n.Username})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 204 unless the webhook URL asks to wait for the created message
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed discord webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}
