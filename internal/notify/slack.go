package notify

import (
	"context"
	"fmt"

	"github.com/arasmith/signalbox/internal/models"
	"github.com/slack-go/slack"
)

// slackAPI abstracts the slack client methods we use, enabling test mocks.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts run outcomes to a Slack channel.
type SlackNotifier struct {
	api     slackAPI
	channel string
}

// NewSlackNotifier builds a notifier for the given bot token and channel.
func NewSlackNotifier(token, channel string) (*SlackNotifier, error) {
	if token == "" || channel == "" {
		return nil, fmt.Errorf("notify: slack token and channel are required")
	}
	return &SlackNotifier{api: slack.New(token), channel: channel}, nil
}

func (n *SlackNotifier) RunFinished(ctx context.Context, run *models.Run, repo *models.Repo) error {
	_, _, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(FormatRun(run, repo), false))
	if err != nil {
		return fmt.Errorf("notify: slack post: %w", err)
	}
	return nil
}
