package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/slack-go/slack"

	"github.com/ShayCichocki/courier/internal/config"
)

// messagePoster is the subset of *slack.Client the reporter uses.
type messagePoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackReporter posts updates to a channel.
type SlackReporter struct {
	channel string
	client  messagePoster
}

// NewSlackReporter creates a reporter for cfg.Channel. opts are passed to
// slack.New, for example slack.OptionAPIURL in tests.
func NewSlackReporter(cfg config.SlackConfig, opts ...slack.Option) *SlackReporter {
	return &SlackReporter{
		channel: cfg.Channel,
		client:  slack.New(cfg.Token, opts...),
	}
}

// Name implements Reporter.
func (s *SlackReporter) Name() string { return "slack" }

// Report implements Reporter. Rate limiting is retried by the dispatcher;
// API-level rejections such as an unknown channel are not.
func (s *SlackReporter) Report(ctx context.Context, u Update) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(FormatText(u), false))
	if err == nil {
		return nil
	}
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) {
		return fmt.Errorf("post to %s: %w", s.channel, err)
	}
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) {
		return backoff.Permanent(fmt.Errorf("post to %s: %w", s.channel, err))
	}
	return fmt.Errorf("post to %s: %w", s.channel, err)
}
