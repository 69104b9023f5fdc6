package monitor

import (
	"context"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/webhook"
	"go.uber.org/zap"
)

// DiscordAlerter posts stream resyncs to a Discord webhook.
type DiscordAlerter struct {
	WebhookUrl string
	Timeout    time.Duration
}

func NewDiscordAlerter(webhookUrl string) *DiscordAlerter {
	return &DiscordAlerter{WebhookUrl: webhookUrl, Timeout: 10 * time.Second}
}

// AlertResync is a marketdata.ResyncHandler. It does nothing without a
// webhook URL.
func (alerter *DiscordAlerter) AlertResync(exchange, pair string, reason error) {
	if alerter.WebhookUrl == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), alerter.Timeout)
	defer cancel()

	client, err := webhook.NewWithURL(alerter.WebhookUrl)
	if err != nil {
		Logger.Error("Failed to create discord session", zap.Error(err))
		return
	}
	defer client.Close(ctx)

	if _, err := client.CreateEmbeds([]discord.Embed{resyncEmbed(exchange, pair, reason)}); err != nil {
		Logger.Error("Failed to send message to discord", zap.Error(err))
	}
}

func resyncEmbed(exchange, pair string, reason error) discord.Embed {
	cause := "unknown"
	if reason != nil {
		cause = reason.Error()
	}
	return discord.NewEmbedBuilder().
		SetTitle("Order book resync").
		SetColor(0xff9900).
		AddField("Exchange", exchange, true).
		AddField("Pair", pair, true).
		AddField("\u200B", "\u200B", false).
		AddField("Reason", cause, false).
		Build()
}
