package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bowerhall/kindred/internal/logger"
)

type telegram struct {
	api  *tgbotapi.BotAPI
	chat *chat
}

func newTelegram(token string, c *chat) (Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	return &telegram{api: api, chat: c}, nil
}

func (t *telegram) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.api.GetUpdatesChan(u)
	defer t.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-updates:
			if update.Message == nil || update.Message.From == nil {
				continue
			}

			go t.handleMessage(ctx, update.Message)
		}
	}
}

func telegramChatKey(chatID int64) string {
	return fmt.Sprintf("telegram-%d", chatID)
}

func telegramName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

func (t *telegram) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	key := telegramChatKey(msg.Chat.ID)
	logger.Info("message received", "chat", key, "from", msg.From.UserName, "text", truncate(text, 50))

	typing := tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping)
	if _, err := t.api.Request(typing); err != nil {
		logger.Debug("typing indicator failed", "error", err)
	}

	out := t.chat.handle(ctx, incoming{
		ChatKey:         key,
		CounterpartID:   fmt.Sprintf("telegram:%d", msg.From.ID),
		CounterpartName: telegramName(msg.From),
		Text:            text,
	})

	reply := tgbotapi.NewMessage(msg.Chat.ID, out.Text)
	reply.ReplyToMessageID = msg.MessageID
	if _, err := t.api.Send(reply); err != nil {
		logger.Error("send failed", "error", err)
		return
	}
	logger.Info("reply sent", "chat", key, "chars", len(out.Text))

	if len(out.Audio) > 0 {
		audio := tgbotapi.NewAudio(msg.Chat.ID, tgbotapi.FileBytes{Name: "reply.mp3", Bytes: out.Audio})
		if _, err := t.api.Send(audio); err != nil {
			logger.Error("send audio failed", "error", err, "chat", key)
		}
	}
}
