package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

const discordMaxLen = 2000

type discordSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts alerts to a channel over the REST API. No gateway session
// is opened.
type Discord struct {
	channelID string
	session   discordSender
}

func NewDiscord(token, channelID string) (*Discord, error) {
	if token == "" {
		return nil, fmt.Errorf("discord: bot token not set")
	}
	if channelID == "" {
		return nil, fmt.Errorf("discord: channel id not set")
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: creating session: %w", err)
	}
	return &Discord{channelID: channelID, session: dg}, nil
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Notify(ctx context.Context, a Alert) error {
	for _, chunk := range SplitMessage(a.Text(), discordMaxLen) {
		if _, err := d.session.ChannelMessageSend(d.channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord: sending message: %w", err)
		}
	}
	return nil
}
