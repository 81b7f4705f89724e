// Package slack posts deployment events to a Slack incoming webhook.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/gitdeploy/internal/notify"
)

// Sink posts one attachment per event.
type Sink struct {
	url    string
	client *http.Client
}

// New returns a Sink for the given webhook URL. A nil client uses
// http.DefaultClient.
func New(webhookURL string, client *http.Client) *Sink {
	if client == nil {
		client = http.DefaultClient
	}
	return &Sink{url: webhookURL, client: client}
}

// Notify posts evt to the webhook.
func (s *Sink) Notify(ctx context.Context, evt notify.Event) error {
	msg := &slackapi.WebhookMessage{
		Text:        evt.Title(),
		Attachments: []slackapi.Attachment{eventToAttachment(evt)},
	}
	if err := slackapi.PostWebhookCustomHTTPContext(ctx, s.url, s.client, msg); err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	return nil
}

// eventToAttachment converts an Event to a Slack Attachment.
func eventToAttachment(evt notify.Event) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    evt.Title(),
		Text:     evt.Body(),
		Color:    evt.Color(),
		Fallback: evt.Title(),
	}
	if !evt.At.IsZero() {
		att.Ts = json.Number(strconv.FormatInt(evt.At.Unix(), 10))
	}

	for _, f := range evt.Fields() {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}

	return att
}
