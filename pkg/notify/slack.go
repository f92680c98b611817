package notify

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"
)

const slackMaxLen = 4000

type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

type Slack struct {
	channelID string
	client    slackPoster
}

func NewSlack(token, channelID string) (*Slack, error) {
	if token == "" {
		return nil, fmt.Errorf("slack: bot token not set")
	}
	if channelID == "" {
		return nil, fmt.Errorf("slack: channel id not set")
	}
	return &Slack{channelID: channelID, client: slackapi.New(token)}, nil
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Notify(ctx context.Context, a Alert) error {
	for _, chunk := range SplitMessage(a.Text(), slackMaxLen) {
		_, _, err := s.client.PostMessageContext(ctx, s.channelID,
			slackapi.MsgOptionText(chunk, false),
		)
		if err != nil {
			return fmt.Errorf("slack: posting message: %w", err)
		}
	}
	return nil
}
