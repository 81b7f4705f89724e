// Package discord posts deployment events to a Discord webhook.
package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/gitdeploy/internal/notify"
)

// webhookExecutor is the subset of *discordgo.Session used here.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Sink executes a webhook with one embed per event.
type Sink struct {
	id      string
	token   string
	session webhookExecutor
}

// New returns a Sink for the given webhook credentials.
func New(webhookID, webhookToken string) (*Sink, error) {
	if webhookID == "" || webhookToken == "" {
		return nil, fmt.Errorf("discord: webhook id and token are required")
	}
	s, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return &Sink{id: webhookID, token: webhookToken, session: s}, nil
}

// Notify executes the webhook.
func (s *Sink) Notify(ctx context.Context, evt notify.Event) error {
	params := &discordgo.WebhookParams{
		Username: "gitdeploy",
		Embeds:   []*discordgo.MessageEmbed{eventToEmbed(evt)},
	}
	if _, err := s.session.WebhookExecute(s.id, s.token, false, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: execute webhook: %w", err)
	}
	return nil
}

// eventToEmbed converts an Event to a Discord Embed.
func eventToEmbed(evt notify.Event) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       evt.Title(),
		Description: evt.Body(),
		Color:       parseHexColor(evt.Color()),
	}
	if !evt.At.IsZero() {
		embed.Timestamp = evt.At.UTC().Format(time.RFC3339)
	}

	for _, f := range evt.Fields() {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}

	return embed
}

// parseHexColor converts a hex color string (e.g. "#36a64f") to an int.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	var color int
	for _, c := range hex {
		color <<= 4
		switch {
		case c >= '0' && c <= '9':
			color |= int(c - '0')
		case c >= 'a' && c <= 'f':
			color |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			color |= int(c-'A') + 10
		}
	}
	return color
}
