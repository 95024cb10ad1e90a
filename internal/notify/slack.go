package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/slack-go/slack"

	"github.com/projectpulse/internal/models"
)

type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type SlackNotifier struct {
	client  slackPoster
	channel string
}

const slackHTTPTimeout = 10 * time.Second

func NewSlackNotifier(token, channel string) *SlackNotifier {
	client := slack.New(token, slack.OptionHTTPClient(&http.Client{Timeout: slackHTTPTimeout}))
	return &SlackNotifier{client: client, channel: channel}
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Notify(ctx context.Context, e models.AlertEvent) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionAttachments(slackAttachment(e)))
	if err != nil {
		return fmt.Errorf("failed to post slack message: %w", err)
	}
	return nil
}

func slackAttachment(e models.AlertEvent) slack.Attachment {
	a := slack.Attachment{
		Color: severityColor(e.Severity),
		Title: title(e),
		Fields: []slack.AttachmentField{
			{Title: "Project", Value: e.ProjectID, Short: true},
			{Title: "Rule", Value: e.RuleID, Short: true},
			{Title: "Severity", Value: string(e.Severity), Short: true},
			{Title: "Status", Value: string(e.Status), Short: true},
		},
		Footer: "Project Pulse",
		Ts:     json.Number(strconv.FormatInt(e.At.Unix(), 10)),
	}
	if e.Recommendation != nil {
		a.Text = e.Recommendation.Text
	}
	return a
}
