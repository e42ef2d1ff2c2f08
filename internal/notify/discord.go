package notify

import (
	"context"
	"fmt"

	"github.com/arasmith/signalbox/internal/models"
	"github.com/bwmarrin/discordgo"
)

// discordSession abstracts the discordgo methods we use, enabling test mocks.
type discordSession interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts run outcomes to a Discord channel over the REST API.
type DiscordNotifier struct {
	session   discordSession
	channelID string
}

// NewDiscordNotifier builds a notifier for the given bot token and channel.
func NewDiscordNotifier(token, channelID string) (*DiscordNotifier, error) {
	if token == "" || channelID == "" {
		return nil, fmt.Errorf("notify: discord token and channel_id are required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("notify: discord session: %w", err)
	}
	return &DiscordNotifier{session: session, channelID: channelID}, nil
}

func (n *DiscordNotifier) RunFinished(ctx context.Context, run *models.Run, repo *models.Repo) error {
	_, err := n.session.ChannelMessageSend(n.channelID, FormatRun(run, repo),
		discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("notify: discord send: %w", err)
	}
	return nil
}
