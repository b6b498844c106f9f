package bot

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bowerhall/kindred/internal/llm"
	"github.com/bowerhall/kindred/internal/persona"
)

type fakeResponder struct {
	requests []persona.Request
	resp     *persona.Response
	err      error
}

func (f *fakeResponder) Respond(ctx context.Context, req persona.Request) (*persona.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestNewRequiresOwner(t *testing.T) {
	_, err := New(Config{Provider: "telegram"}, &fakeResponder{})
	assert.Error(t, err)

	_, err = New(Config{Provider: "irc", OwnerID: "owner-1"}, &fakeResponder{})
	assert.ErrorContains(t, err, "unknown bot provider")
}

func TestHandleBuildsRequest(t *testing.T) {
	f := &fakeResponder{resp: &persona.Response{Text: "Hello dear", Audio: []byte("mp3")}}
	c := newChat(Config{OwnerID: "owner-1", Voice: true}, f)

	out := c.handle(context.Background(), incoming{
		ChatKey:         telegramChatKey(42),
		CounterpartID:   "telegram:7",
		CounterpartName: "Sam",
		Text:            "Hi grandma",
	})

	assert.Equal(t, "Hello dear", out.Text)
	assert.Equal(t, []byte("mp3"), out.Audio)

	require.Len(t, f.requests, 1)
	req := f.requests[0]
	assert.Equal(t, "owner-1", req.OwnerID)
	assert.Equal(t, "telegram-42", req.ConversationID)
	assert.Equal(t, "Sam", req.CounterpartName)
	assert.True(t, req.WantAudio)
}

func TestResetStartsNewConversation(t *testing.T) {
	f := &fakeResponder{resp: &persona.Response{Text: "ok"}}
	c := newChat(Config{OwnerID: "owner-1"}, f)
	key := discordChatKey("123")

	out := c.handle(context.Background(), incoming{ChatKey: key, Text: " /NEW "})
	assert.Equal(t, "Let's start fresh.", out.Text)
	assert.Empty(t, f.requests)

	c.handle(context.Background(), incoming{ChatKey: key, Text: "hello"})
	require.Len(t, f.requests, 1)
	id := f.requests[0].ConversationID
	assert.True(t, strings.HasPrefix(id, "discord-123-"), id)
	assert.Equal(t, id, c.conversationID(key))

	assert.Equal(t, "discord-999", c.conversationID(discordChatKey("999")))
}

func TestErrorReplies(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{persona.ErrPersonaNotReady, "not ready"},
		{fmt.Errorf("chat: %w", llm.ErrRateLimited), "rest"},
		{llm.ErrQuotaExceeded, "rest"},
		{llm.ErrTimeout, "train of thought"},
		{fmt.Errorf("boom"), "Something went wrong."},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			f := &fakeResponder{err: tt.err}
			c := newChat(Config{OwnerID: "owner-1"}, f)

			out := c.handle(context.Background(), incoming{ChatKey: "telegram-1", Text: "hi"})
			assert.Contains(t, out.Text, tt.want)
			assert.Nil(t, out.Audio)
		})
	}
}

func TestOversizedAudioDropped(t *testing.T) {
	f := &fakeResponder{resp: &persona.Response{Text: "long", Audio: make([]byte, maxMediaSize+1)}}
	c := newChat(Config{OwnerID: "owner-1", Voice: true}, f)

	out := c.handle(context.Background(), incoming{ChatKey: "telegram-1", Text: "hi"})
	assert.Equal(t, "long", out.Text)
	assert.Nil(t, out.Audio)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
