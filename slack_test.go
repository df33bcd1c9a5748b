package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/slack-go/slack"
)

type fakeSlackAPI struct {
	channels          []slack.Channel
	history           map[string]*slack.GetConversationHistoryResponse // keyed by cursor
	rateLimits        int // 429s to serve before succeeding
	historyCalls      int
	lastHistoryParams *slack.GetConversationHistoryParameters
	posted            []string
}

func (f *fakeSlackAPI) GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
	return f.channels, "", nil
}

func (f *fakeSlackAPI) GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	f.historyCalls++
	f.lastHistoryParams = params
	if f.rateLimits > 0 {
		f.rateLimits--
		return nil, &slack.RateLimitedError{RetryAfter: time.Millisecond}
	}
	resp, ok := f.history[params.Cursor]
	if !ok {
		return &slack.GetConversationHistoryResponse{}, nil
	}
	return resp, nil
}

func (f *fakeSlackAPI) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.posted = append(f.posted, channelID)
	return channelID, "123.456", nil
}

func newFakeSlackClient(api *fakeSlackAPI) *SlackClient {
	return &SlackClient{api: api, maxAttempts: 3, sleep: func(time.Duration) {}}
}

func historyMessage(ts, text string) slack.Message {
	msg := slack.Message{}
	msg.Timestamp = ts
	msg.Text = text
	msg.User = "U123"
	return msg
}

func TestMessagesBetweenPaginatesAndFilters(t *testing.T) {
	window := TimeWindow{
		Start: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 9, 23, 59, 59, 0, time.UTC),
	}
	inWindow := formatSlackTimestamp(time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC))
	inWindow2 := formatSlackTimestamp(time.Date(2025, 3, 6, 9, 0, 0, 0, time.UTC))
	outside := formatSlackTimestamp(time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC))

	page1 := &slack.GetConversationHistoryResponse{
		HasMore:  true,
		Messages: []slack.Message{historyMessage(inWindow, "first"), historyMessage(outside, "stale")},
	}
	page1.ResponseMetaData.NextCursor = "page2"
	page2 := &slack.GetConversationHistoryResponse{
		Messages: []slack.Message{historyMessage(inWindow2, "second")},
	}
	api := &fakeSlackAPI{
		history: map[string]*slack.GetConversationHistoryResponse{"": page1, "page2": page2},
	}

	messages, err := newFakeSlackClient(api).MessagesBetween(context.Background(), "C042ABCDEF", window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("messages = %d, want 2 (out-of-window message filtered)", len(messages))
	}
	if messages[0].Text != "first" || messages[1].Text != "second" {
		t.Errorf("unexpected messages: %+v", messages)
	}
}

func TestMessagesBetweenRetriesRateLimit(t *testing.T) {
	ts := formatSlackTimestamp(time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC))
	api := &fakeSlackAPI{
		rateLimits: 2,
		history: map[string]*slack.GetConversationHistoryResponse{
			"": {Messages: []slack.Message{historyMessage(ts, "hello")}},
		},
	}
	window := TimeWindow{
		Start: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 9, 23, 59, 59, 0, time.UTC),
	}
	messages, err := newFakeSlackClient(api).MessagesBetween(context.Background(), "C042ABCDEF", window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(messages))
	}
	if api.historyCalls != 3 {
		t.Errorf("history calls = %d, want 3 (two rate limits then success)", api.historyCalls)
	}
}

func TestMessagesBetweenRateLimitExhaustion(t *testing.T) {
	api := &fakeSlackAPI{rateLimits: 10}
	_, err := newFakeSlackClient(api).MessagesBetween(context.Background(), "C042ABCDEF", TimeWindow{})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
}

func TestIsChannelID(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"C042ABCDEF", true},
		{"C024BE91L7", true},
		{"ci-alerts", false}, // a name, despite the leading C
		{"C042", false},      // too short for an ID
		{"c042abcdef", false},
		{"#C042ABCDEF", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := isChannelID(tc.in); got != tc.want {
			t.Errorf("isChannelID(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestMessagesBetweenResolvesChannelNameWithCPrefix(t *testing.T) {
	ch := slack.Channel{}
	ch.ID = "C042ABCDEF"
	ch.Name = "ci-alerts"
	ts := formatSlackTimestamp(time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC))
	api := &fakeSlackAPI{
		channels: []slack.Channel{ch},
		history: map[string]*slack.GetConversationHistoryResponse{
			"": {Messages: []slack.Message{historyMessage(ts, "build red")}},
		},
	}
	window := TimeWindow{
		Start: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 9, 23, 59, 59, 0, time.UTC),
	}

	messages, err := newFakeSlackClient(api).MessagesBetween(context.Background(), "ci-alerts", window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(messages))
	}
	if api.lastHistoryParams.ChannelID != "C042ABCDEF" {
		t.Errorf("history fetched for %q, want the resolved ID", api.lastHistoryParams.ChannelID)
	}
}

func TestMessagesBetweenIncludesWindowBoundaries(t *testing.T) {
	window := TimeWindow{
		Start: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 9, 23, 59, 59, 0, time.UTC),
	}
	atStart := formatSlackTimestamp(window.Start)
	api := &fakeSlackAPI{
		history: map[string]*slack.GetConversationHistoryResponse{
			"": {Messages: []slack.Message{historyMessage(atStart, "boundary")}},
		},
	}

	messages, err := newFakeSlackClient(api).MessagesBetween(context.Background(), "C042ABCDEF", window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messages) != 1 || messages[0].Text != "boundary" {
		t.Fatalf("boundary message dropped: %+v", messages)
	}
	// oldest/latest are exclusive unless inclusive is requested.
	if !api.lastHistoryParams.Inclusive {
		t.Error("history request should set inclusive")
	}
}

func TestChannelIDResolvesName(t *testing.T) {
	ch := slack.Channel{}
	ch.ID = "C999"
	ch.Name = "team-help"
	api := &fakeSlackAPI{channels: []slack.Channel{ch}}

	id, err := newFakeSlackClient(api).ChannelID(context.Background(), "#team-help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "C999" {
		t.Errorf("id = %q, want C999", id)
	}

	if _, err := newFakeSlackClient(api).ChannelID(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown channel")
	}
}

func TestParseSlackTimestampRoundTrip(t *testing.T) {
	want := time.Date(2025, 3, 5, 12, 30, 45, 0, time.UTC)
	got, err := parseSlackTimestamp(formatSlackTimestamp(want))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("round trip = %v, want %v", got, want)
	}

	if _, err := parseSlackTimestamp("garbage"); err == nil {
		t.Error("expected error for malformed timestamp")
	}
}
