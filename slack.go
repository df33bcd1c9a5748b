package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// slackAPI is the slice of slack.Client the fetcher needs; tests substitute
// a fake.
type slackAPI interface {
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type SlackClient struct {
	api         slackAPI
	maxAttempts int
	sleep       func(time.Duration)
}

func NewSlackClient(cfg Config) (*SlackClient, error) {
	if cfg.SlackBotToken == "" {
		return nil, errors.New("slack_bot_token is not configured")
	}
	return &SlackClient{
		api:         slack.New(cfg.SlackBotToken),
		maxAttempts: cfg.RetryMaxAttempts,
		sleep:       time.Sleep,
	}, nil
}

// callWithRetry runs fn, sleeping out Slack's rate-limit responses up to the
// attempt bound. slack-go surfaces the Retry-After header as RetryAfter.
func (c *SlackClient) callWithRetry(fn func() error) error {
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var rateErr *slack.RateLimitedError
		if !errors.As(err, &rateErr) {
			return fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		log.Printf("slack retry attempt=%d delay=%s", attempt+1, rateErr.RetryAfter)
		c.sleep(rateErr.RetryAfter)
	}
	return fmt.Errorf("%w: %d attempts exhausted", ErrRateLimited, c.maxAttempts)
}

// ChannelID resolves a channel name (with or without the leading #) to its ID.
func (c *SlackClient) ChannelID(ctx context.Context, name string) (string, error) {
	name = strings.TrimPrefix(name, "#")
	var found string

	err := fetchPages(func(cursor string) (string, bool, error) {
		var channels []slack.Channel
		var next string
		err := c.callWithRetry(func() error {
			var apiErr error
			channels, next, apiErr = c.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
				Cursor:          cursor,
				Limit:           200,
				ExcludeArchived: true,
			})
			return apiErr
		})
		if err != nil {
			return "", false, err
		}
		for _, ch := range channels {
			if ch.Name == name {
				found = ch.ID
				return "", false, nil
			}
		}
		return next, next != "", nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("channel %q not found", name)
	}
	return found, nil
}

// Channel IDs are "C" followed by at least 8 uppercase alphanumerics. A bare
// prefix check would swallow channel names like "ci-alerts".
var channelIDRe = regexp.MustCompile(`^C[A-Z0-9]{8,}$`)

func isChannelID(s string) bool { return channelIDRe.MatchString(s) }

// MessagesBetween fetches a channel's messages within the window, walking
// cursor pages until has_more is false. channel may be a name or an ID.
func (c *SlackClient) MessagesBetween(ctx context.Context, channel string, window TimeWindow) ([]SlackMessage, error) {
	channelID := channel
	if !isChannelID(channel) {
		var err error
		if channelID, err = c.ChannelID(ctx, channel); err != nil {
			return nil, err
		}
	}

	var messages []SlackMessage
	err := fetchPages(func(cursor string) (string, bool, error) {
		var resp *slack.GetConversationHistoryResponse
		err := c.callWithRetry(func() error {
			var apiErr error
			resp, apiErr = c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
				ChannelID: channelID,
				Oldest:    formatSlackTimestamp(window.Start),
				Latest:    formatSlackTimestamp(window.End),
				Inclusive: true, // oldest/latest are exclusive by default
				Limit:     100,
				Cursor:    cursor,
			})
			return apiErr
		})
		if err != nil {
			return "", false, err
		}
		if resp == nil {
			return "", false, fmt.Errorf("%w: empty history response", ErrPagination)
		}

		for _, msg := range resp.Messages {
			parsed, ok := parseSlackMessage(msg)
			if !ok {
				continue
			}
			// The API bounds by oldest/latest; the guard keeps the contract.
			if !window.Contains(parsed.Timestamp) {
				continue
			}
			messages = append(messages, parsed)
		}
		if !resp.HasMore {
			return "", false, nil
		}
		return resp.ResponseMetaData.NextCursor, resp.ResponseMetaData.NextCursor != "", nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("slack fetch done channel=%s messages=%d window=%s", channelID, len(messages), window)
	return messages, nil
}

// PostMessage posts text to a channel, optionally threading under threadTS.
func (c *SlackClient) PostMessage(ctx context.Context, channelID, text, threadTS string) error {
	options := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		options = append(options, slack.MsgOptionTS(threadTS))
	}
	return c.callWithRetry(func() error {
		_, _, err := c.api.PostMessageContext(ctx, channelID, options...)
		return err
	})
}

func parseSlackMessage(msg slack.Message) (SlackMessage, bool) {
	ts, err := parseSlackTimestamp(msg.Timestamp)
	if err != nil {
		return SlackMessage{}, false
	}
	return SlackMessage{
		Timestamp:  ts,
		User:       msg.User,
		Text:       msg.Text,
		ThreadTS:   msg.ThreadTimestamp,
		ReplyCount: msg.ReplyCount,
	}, true
}

// parseSlackTimestamp converts Slack's "seconds.micros" string to UTC time.
func parseSlackTimestamp(ts string) (time.Time, error) {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slack timestamp %q: %w", ts, err)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

func formatSlackTimestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}
