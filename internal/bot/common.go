package bot

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/bowerhall/kindred/internal/llm"
	"github.com/bowerhall/kindred/internal/logger"
	"github.com/bowerhall/kindred/internal/persona"
)

// maxMediaSize is the largest audio attachment either platform accepts from us.
const maxMediaSize = 20 * 1024 * 1024

// resetWords start a fresh conversation in the same chat.
var resetWords = []string{"/new", "/reset", "/start"}

func isResetCommand(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, word := range resetWords {
		if lower == word {
			return true
		}
	}
	return false
}

// chat is the platform-independent half of a bot: it tracks which
// conversation each chat is in and turns persona errors into replies.
type chat struct {
	responder Responder
	ownerID   string
	voice     bool

	mu       sync.Mutex
	sessions map[string]string
}

func newChat(cfg Config, responder Responder) *chat {
	return &chat{
		responder: responder,
		ownerID:   cfg.OwnerID,
		voice:     cfg.Voice,
		sessions:  make(map[string]string),
	}
}

// conversationID returns the conversation a chat is currently in. Until the
// chat is reset the id is the chat key itself, so restarts resume history.
func (c *chat) conversationID(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.sessions[key]; ok {
		return id
	}
	return key
}

func (c *chat) reset(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := key + "-" + uuid.NewString()[:8]
	c.sessions[key] = id
	return id
}

type incoming struct {
	ChatKey         string
	CounterpartID   string
	CounterpartName string
	Text            string
}

type outgoing struct {
	Text  string
	Audio []byte
}

// handle runs one message through the persona. It always yields something to
// send back; errors become short in-character notices.
func (c *chat) handle(ctx context.Context, in incoming) outgoing {
	if isResetCommand(in.Text) {
		id := c.reset(in.ChatKey)
		logger.Info("conversation reset", "chat", in.ChatKey, "conversation", id)
		return outgoing{Text: "Let's start fresh."}
	}

	resp, err := c.responder.Respond(ctx, persona.Request{
		OwnerID:         c.ownerID,
		Message:         in.Text,
		ConversationID:  c.conversationID(in.ChatKey),
		CounterpartID:   in.CounterpartID,
		CounterpartName: in.CounterpartName,
		WantAudio:       c.voice,
	})
	if err != nil {
		logger.Error("persona reply failed", "chat", in.ChatKey, "error", err)
		return outgoing{Text: errorReply(err)}
	}

	out := outgoing{Text: resp.Text}
	if len(resp.Audio) > 0 && len(resp.Audio) <= maxMediaSize {
		out.Audio = resp.Audio
	}
	return out
}

func errorReply(err error) string {
	switch {
	case errors.Is(err, persona.ErrPersonaNotReady):
		return "I'm not ready to talk yet. There aren't enough reflections to go on."
	case errors.Is(err, persona.ErrEmptyMessage):
		return "I didn't catch that."
	case errors.Is(err, llm.ErrRateLimited), errors.Is(err, llm.ErrQuotaExceeded):
		return "I need a little rest. Try me again later."
	case errors.Is(err, llm.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "I lost my train of thought. Could you say that again?"
	default:
		return "Something went wrong."
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
