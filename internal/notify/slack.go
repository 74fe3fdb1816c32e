package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackNotifier posts the report to a channel.
type SlackNotifier struct {
	api     *slack.Client
	channel string
}

// NewSlack creates a SlackNotifier. apiURL overrides the Slack API base
// URL and must end in a slash; empty uses the public API.
func NewSlack(token, channel, apiURL string) *SlackNotifier {
	var opts []slack.Option
	if apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &SlackNotifier{api: slack.New(token, opts...), channel: channel}
}

// Name implements Notifier.
func (n *SlackNotifier) Name() string { return "slack" }

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, ev Event) error {
	header := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, "*"+ev.Message.Subject+"*", false, false),
		nil, nil)
	body := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, "```"+ev.Message.Body+"```", false, false),
		nil, nil)
	footer := slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("chain `%s` · %s", ev.Report.ChainID, ev.Kind), false, false))

	_, _, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(ev.Message.Subject, false),
		slack.MsgOptionBlocks(header, body, slack.NewDividerBlock(), footer),
	)
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	return nil
}
